package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"custody/internal/custody/models"
	"custody/internal/custody/service"
	"custody/pkg/domain"
	dErrors "custody/pkg/domain-errors"
	"custody/pkg/platform/httputil"
	"custody/pkg/requestcontext"
)

// Service is the ledger surface the handler drives.
type Service interface {
	Stake(ctx context.Context, caller common.Address, req service.StakeRequest) error
	Unstake(ctx context.Context, caller common.Address, req service.UnstakeRequest) (domain.RequestID, error)
	ApproveUnstake(ctx context.Context, caller common.Address, id domain.RequestID) error
	RejectUnstake(ctx context.Context, caller common.Address, id domain.RequestID) error
	GetUnstake(ctx context.Context, id domain.RequestID) (*models.Unstake, error)
	ListUnstakes(ctx context.Context, filter models.UnstakeFilter) ([]*models.Unstake, error)
	GetBalance(ctx context.Context, asset, lender, borrower common.Address) (models.Balance, error)
	Tokens(ctx context.Context) ([]common.Address, error)
	RegisterToken(ctx context.Context, caller, asset common.Address) error
	UnregisterToken(ctx context.Context, caller, asset common.Address) error
	AddLender(ctx context.Context, caller, lender common.Address) error
	DeleteLender(ctx context.Context, caller, lender common.Address) error
	AddAdmin(ctx context.Context, caller, admin common.Address) error
	DeleteAdmin(ctx context.Context, caller, admin common.Address) error
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the custody endpoints under /custody.
func (h *Handler) Register(r chi.Router) {
	r.Route("/custody", func(r chi.Router) {
		r.Post("/stake", h.HandleStake)
		r.Post("/unstake", h.HandleUnstake)
		r.Get("/unstake", h.HandleListUnstakes)
		r.Get("/unstake/{id}", h.HandleGetUnstake)
		r.Post("/unstake/{id}/approve", h.HandleApprove)
		r.Post("/unstake/{id}/reject", h.HandleReject)
		r.Get("/balances", h.HandleBalance)
		r.Get("/tokens", h.HandleTokens)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/tokens", h.adminAdd("register token", h.service.RegisterToken))
			r.Delete("/tokens/{addr}", h.adminRemove("unregister token", h.service.UnregisterToken))
			r.Post("/lenders", h.adminAdd("add lender", h.service.AddLender))
			r.Delete("/lenders/{addr}", h.adminRemove("delete lender", h.service.DeleteLender))
			r.Post("/admins", h.adminAdd("add admin", h.service.AddAdmin))
			r.Delete("/admins/{addr}", h.adminRemove("delete admin", h.service.DeleteAdmin))
		})
	})
}

func (h *Handler) HandleStake(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := requireCaller(w, ctx)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[StakeRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if err := h.service.Stake(ctx, caller, req.parsed); err != nil {
		h.fail(w, ctx, "stake", err)
		return
	}
	balance, err := h.service.GetBalance(ctx, req.parsed.Asset, req.parsed.Lender, caller)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toBalanceResponse(balance))
}

func (h *Handler) HandleUnstake(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := requireCaller(w, ctx)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[UnstakeRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	id, err := h.service.Unstake(ctx, caller, req.parsed)
	if err != nil {
		h.fail(w, ctx, "unstake", err)
		return
	}
	h.writeUnstake(w, ctx, http.StatusCreated, id)
}

func (h *Handler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	h.finalize(w, r, "approve unstake", h.service.ApproveUnstake)
}

func (h *Handler) HandleReject(w http.ResponseWriter, r *http.Request) {
	h.finalize(w, r, "reject unstake", h.service.RejectUnstake)
}

func (h *Handler) finalize(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, common.Address, domain.RequestID) error) {
	ctx := r.Context()
	caller, ok := requireCaller(w, ctx)
	if !ok {
		return
	}
	id, err := domain.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := fn(ctx, caller, id); err != nil {
		h.fail(w, ctx, op, err)
		return
	}
	h.writeUnstake(w, ctx, http.StatusOK, id)
}

func (h *Handler) HandleGetUnstake(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.writeUnstake(w, r.Context(), http.StatusOK, id)
}

// HandleListUnstakes filters by the lender, borrower, asset and status query
// parameters. Absent parameters match everything.
func (h *Handler) HandleListUnstakes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter models.UnstakeFilter
	for param, dst := range map[string]*common.Address{
		"lender":   &filter.Lender,
		"borrower": &filter.Borrower,
		"asset":    &filter.Asset,
	} {
		if v := q.Get(param); v != "" {
			addr, err := domain.ParseAddress(v)
			if err != nil {
				httputil.WriteError(w, err)
				return
			}
			*dst = addr
		}
	}
	if v := q.Get("status"); v != "" {
		filter.Status = models.UnstakeStatus(v)
		if !filter.Status.IsValid() {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "unknown status"))
			return
		}
	}

	list, err := h.service.ListUnstakes(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]UnstakeResponse, len(list))
	for i, u := range list {
		out[i] = toUnstakeResponse(u)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"requests": out})
}

func (h *Handler) HandleBalance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var triple [3]common.Address
	for i, param := range []string{"asset", "lender", "borrower"} {
		addr, err := domain.ParseAddress(q.Get(param))
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, param+" must be a non-zero address"))
			return
		}
		triple[i] = addr
	}
	balance, err := h.service.GetBalance(r.Context(), triple[0], triple[1], triple[2])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toBalanceResponse(balance))
}

func (h *Handler) HandleTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.service.Tokens(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Hex()
	}
	httputil.WriteJSON(w, http.StatusOK, map[string][]string{"tokens": out})
}

type adminFunc func(ctx context.Context, caller, subject common.Address) error

func (h *Handler) adminAdd(op string, fn adminFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		caller, ok := requireCaller(w, ctx)
		if !ok {
			return
		}
		req, ok := httputil.DecodeAndPrepare[AddressRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
		if !ok {
			return
		}
		if err := fn(ctx, caller, req.address); err != nil {
			h.fail(w, ctx, op, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) adminRemove(op string, fn adminFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		caller, ok := requireCaller(w, ctx)
		if !ok {
			return
		}
		addr, err := domain.ParseAddress(chi.URLParam(r, "addr"))
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		if err := fn(ctx, caller, addr); err != nil {
			h.fail(w, ctx, op, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) writeUnstake(w http.ResponseWriter, ctx context.Context, status int, id domain.RequestID) {
	u, err := h.service.GetUnstake(ctx, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, status, toUnstakeResponse(u))
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
