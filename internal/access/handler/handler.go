package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"custody/internal/access/models"
	"custody/pkg/domain"
	dErrors "custody/pkg/domain-errors"
	"custody/pkg/platform/httputil"
	"custody/pkg/requestcontext"
)

// Service is the directory surface the handler needs.
type Service interface {
	HasRole(ctx context.Context, role models.Role, principal common.Address) (bool, error)
	Members(ctx context.Context, role models.Role) ([]common.Address, error)
	Grant(ctx context.Context, actor common.Address, role models.Role, principal common.Address) error
	Revoke(ctx context.Context, actor common.Address, role models.Role, principal common.Address) error
	Renounce(ctx context.Context, caller common.Address, role models.Role) error
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the role endpoints under /roles.
func (h *Handler) Register(r chi.Router) {
	r.Route("/roles", func(r chi.Router) {
		r.Post("/grant", h.HandleGrant)
		r.Post("/revoke", h.HandleRevoke)
		r.Post("/renounce", h.HandleRenounce)
		r.Get("/{role}", h.HandleMembers)
		r.Get("/{role}/{principal}", h.HandleHasRole)
	})
}

func (h *Handler) HandleGrant(w http.ResponseWriter, r *http.Request) {
	h.change(w, r, "granted", h.service.Grant)
}

func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	h.change(w, r, "revoked", h.service.Revoke)
}

func (h *Handler) change(w http.ResponseWriter, r *http.Request, verb string,
	op func(ctx context.Context, actor common.Address, role models.Role, principal common.Address) error,
) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	caller, ok := requireCaller(w, ctx)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[RoleChangeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if err := op(ctx, caller, req.role, req.principal); err != nil {
		h.logger.WarnContext(ctx, "role change failed",
			"request_id", requestID,
			"role", req.role,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "role "+verb,
		"request_id", requestID,
		"role", req.role,
		"principal", req.principal.Hex(),
	)
	httputil.WriteJSON(w, http.StatusOK, MembershipResponse{
		Role:      string(req.role),
		Principal: req.principal.Hex(),
		HasRole:   verb == "granted",
	})
}

func (h *Handler) HandleRenounce(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := requireCaller(w, ctx)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[RenounceRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if err := h.service.Renounce(ctx, caller, req.role); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleMembers(w http.ResponseWriter, r *http.Request) {
	role, err := parseRole(chi.URLParam(r, "role"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	members, err := h.service.Members(r.Context(), role)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	resp := MembersResponse{Role: string(role), Members: make([]string, len(members))}
	for i, m := range members {
		resp.Members[i] = m.Hex()
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleHasRole(w http.ResponseWriter, r *http.Request) {
	role, err := parseRole(chi.URLParam(r, "role"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	principal, err := domain.ParseAddress(chi.URLParam(r, "principal"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	ok, err := h.service.HasRole(r.Context(), role, principal)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, MembershipResponse{Role: string(role), Principal: principal.Hex(), HasRole: ok})
}

func requireCaller(w http.ResponseWriter, ctx context.Context) (common.Address, bool) {
	caller := requestcontext.Caller(ctx)
	if caller == (common.Address{}) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return caller, false
	}
	return caller, true
}
