package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"custody/internal/eligibility/models"
	"custody/internal/eligibility/service"
	"custody/pkg/domain"
	dErrors "custody/pkg/domain-errors"
	"custody/pkg/platform/httputil"
	"custody/pkg/requestcontext"
)

// Service is the registry surface the handler drives.
type Service interface {
	RegisterIdentity(ctx context.Context, caller common.Address, req service.RegisterIdentityRequest) error
	RegisterIdentities(ctx context.Context, caller common.Address, reqs []service.RegisterIdentityRequest) error
	DeleteIdentity(ctx context.Context, caller common.Address, hash domain.IdentityHash) error
	AddWallets(ctx context.Context, caller common.Address, hash domain.IdentityHash, wallets []common.Address) error
	RemoveWallets(ctx context.Context, caller common.Address, hash domain.IdentityHash, wallets []common.Address) error
	UpdateExpiryDate(ctx context.Context, caller common.Address, hash domain.IdentityHash, expiresAt time.Time) error
	UpdateCountry(ctx context.Context, caller common.Address, hash domain.IdentityHash, country domain.Country) error
	UpdateData(ctx context.Context, caller common.Address, hash domain.IdentityHash, data string) error
	GetIdentity(ctx context.Context, hash domain.IdentityHash) (*models.Identity, error)
}

// Checker returns the policy-aware verdict for one wallet or a batch.
type Checker interface {
	Check(ctx context.Context, wallet common.Address) (models.Verification, error)
	CheckBatch(ctx context.Context, wallets []common.Address) ([]models.Verification, error)
}

type Handler struct {
	service Service
	checker Checker
	logger  *slog.Logger
}

func New(service Service, checker Checker, logger *slog.Logger) *Handler {
	return &Handler{service: service, checker: checker, logger: logger}
}

// Register mounts the identity endpoints under /identities.
func (h *Handler) Register(r chi.Router) {
	r.Route("/identities", func(r chi.Router) {
		r.Post("/", h.HandleRegister)
		r.Post("/batch", h.HandleRegisterBatch)
		r.Get("/verify/{wallet}", h.HandleVerify)
		r.Post("/verify", h.HandleVerifyBatch)
		r.Get("/{hash}", h.HandleGet)
		r.Delete("/{hash}", h.HandleDelete)
		r.Patch("/{hash}", h.HandleUpdate)
		r.Post("/{hash}/wallets", h.HandleAddWallets)
		r.Delete("/{hash}/wallets", h.HandleRemoveWallets)
	})
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := requireCaller(w, ctx)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[RegisterIdentityRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if err := h.service.RegisterIdentity(ctx, caller, req.parsed); err != nil {
		h.fail(w, ctx, "register identity", err)
		return
	}
	identity, err := h.service.GetIdentity(ctx, req.parsed.Hash)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toIdentityResponse(identity))
}

func (h *Handler) HandleRegisterBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := requireCaller(w, ctx)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[RegisterBatchRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if err := h.service.RegisterIdentities(ctx, caller, req.requests()); err != nil {
		h.fail(w, ctx, "register identities", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]int{"registered": len(req.Identities)})
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	hash, err := domain.ParseIdentityHash(chi.URLParam(r, "hash"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	identity, err := h.service.GetIdentity(r.Context(), hash)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toIdentityResponse(identity))
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := requireCaller(w, ctx)
	if !ok {
		return
	}
	hash, err := domain.ParseIdentityHash(chi.URLParam(r, "hash"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.service.DeleteIdentity(ctx, caller, hash); err != nil {
		h.fail(w, ctx, "delete identity", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleUpdate applies each provided field in turn. Fields are independent
// updates; a failure stops at that field.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := requireCaller(w, ctx)
	if !ok {
		return
	}
	hash, err := domain.ParseIdentityHash(chi.URLParam(r, "hash"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[UpdateIdentityRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if req.ExpiresAt != nil {
		err = h.service.UpdateExpiryDate(ctx, caller, hash, *req.ExpiresAt)
	}
	if err == nil && req.Country != nil {
		err = h.service.UpdateCountry(ctx, caller, hash, domain.Country(*req.Country))
	}
	if err == nil && req.Data != nil {
		err = h.service.UpdateData(ctx, caller, hash, *req.Data)
	}
	if err != nil {
		h.fail(w, ctx, "update identity", err)
		return
	}
	h.writeIdentity(w, ctx, hash)
}

func (h *Handler) HandleAddWallets(w http.ResponseWriter, r *http.Request) {
	h.changeWallets(w, r, "add wallets", h.service.AddWallets)
}

func (h *Handler) HandleRemoveWallets(w http.ResponseWriter, r *http.Request) {
	h.changeWallets(w, r, "remove wallets", h.service.RemoveWallets)
}

func (h *Handler) changeWallets(w http.ResponseWriter, r *http.Request, op string,
	fn func(ctx context.Context, caller common.Address, hash domain.IdentityHash, wallets []common.Address) error,
) {
	ctx := r.Context()
	caller, ok := requireCaller(w, ctx)
	if !ok {
		return
	}
	hash, err := domain.ParseIdentityHash(chi.URLParam(r, "hash"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[WalletsRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if err := fn(ctx, caller, hash, req.wallets); err != nil {
		h.fail(w, ctx, op, err)
		return
	}
	h.writeIdentity(w, ctx, hash)
}

func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	wallet, err := domain.ParseAddress(chi.URLParam(r, "wallet"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	v, err := h.checker.Check(r.Context(), wallet)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, v)
}

func (h *Handler) HandleVerifyBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[VerifyBatchRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	out, err := h.checker.CheckBatch(ctx, req.wallets)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"verifications": out})
}

func (h *Handler) writeIdentity(w http.ResponseWriter, ctx context.Context, hash domain.IdentityHash) {
	identity, err := h.service.GetIdentity(ctx, hash)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toIdentityResponse(identity))
}

func (h *Handler) fail(w http.ResponseWriter, ctx context.Context, op string, err error) {
	h.logger.WarnContext(ctx, op+" failed",
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}

func requireCaller(w http.ResponseWriter, ctx context.Context) (common.Address, bool) {
	caller := requestcontext.Caller(ctx)
	if caller == (common.Address{}) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return caller, false
	}
	return caller, true
}
