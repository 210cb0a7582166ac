package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	eligibilitymodels "custody/internal/eligibility/models"
	"custody/internal/issuance/models"
	"custody/pkg/domain"
	dErrors "custody/pkg/domain-errors"
	"custody/pkg/platform/httputil"
	"custody/pkg/requestcontext"
)

// Service is the issuance surface the handler drives.
type Service interface {
	MintRequest(ctx context.Context, caller, to common.Address, amount *big.Int) (domain.RequestID, error)
	BurnRequest(ctx context.Context, caller common.Address, amount *big.Int) (domain.RequestID, error)
	ApproveRequest(ctx context.Context, caller common.Address, id domain.RequestID) error
	RejectRequest(ctx context.Context, caller common.Address, id domain.RequestID) error
	GetRequest(ctx context.Context, id domain.RequestID) (*models.TokenRequest, error)
	ListRequests(ctx context.Context, filter models.RequestFilter) ([]*models.TokenRequest, error)
	TemporaryBalance(ctx context.Context, account common.Address) (*big.Int, error)

	Transfer(ctx context.Context, caller, to common.Address, amount *big.Int) error
	TransferFrom(ctx context.Context, caller, from, to common.Address, amount *big.Int) error
	Approve(ctx context.Context, caller, spender common.Address, amount *big.Int) error
	BalanceOf(ctx context.Context, account common.Address) (*big.Int, error)
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
	TotalSupply(ctx context.Context) *big.Int
	TokenAddress() common.Address

	FreezeAccount(ctx context.Context, caller, account common.Address) error
	UnfreezeAccount(ctx context.Context, caller, account common.Address) error
	IsFrozen(ctx context.Context, account common.Address) (bool, error)
	FrozenAccounts(ctx context.Context) ([]common.Address, error)
	AddCountries(ctx context.Context, caller common.Address, countries []domain.Country) error
	RemoveCountries(ctx context.Context, caller common.Address, countries []domain.Country) error
	Countries(ctx context.Context) ([]domain.Country, error)
	SetListMode(ctx context.Context, caller common.Address, mode eligibilitymodels.ListMode) error
	ListMode(ctx context.Context) (eligibilitymodels.ListMode, error)
	SetIdentityRegistry(ctx context.Context, caller, addr common.Address) error
	IdentityRegistry() common.Address
	ForcedTransfer(ctx context.Context, caller, from, to common.Address, amount *big.Int) error
	RecoverTokens(ctx context.Context, caller, asset, to common.Address, amount *big.Int) error
	RecoverNative(ctx context.Context, caller, to common.Address, amount *big.Int) error
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the issuance endpoints under /issuance.
func (h *Handler) Register(r chi.Router) {
	r.Route("/issuance", func(r chi.Router) {
		r.Post("/mint", h.HandleMint)
		r.Post("/burn", h.HandleBurn)
		r.Get("/requests", h.HandleListRequests)
		r.Get("/requests/{id}", h.HandleGetRequest)
		r.Post("/requests/{id}/approve", h.HandleApprove)
		r.Post("/requests/{id}/reject", h.HandleReject)

		r.Post("/transfer", h.HandleTransfer)
		r.Post("/transfer-from", h.HandleTransferFrom)
		r.Post("/allowances", h.HandleApproveSpender)
		r.Get("/allowances", h.HandleAllowance)
		r.Get("/balances/{addr}", h.HandleBalance)
		r.Get("/supply", h.HandleSupply)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/frozen", h.HandleFrozen)
			r.Post("/frozen", h.freeze("freeze account", h.service.FreezeAccount))
			r.Delete("/frozen/{addr}", h.unfreeze)
			r.Get("/countries", h.HandleCountries)
			r.Post("/countries", h.countries("add countries", h.service.AddCountries))
			r.Post("/countries/remove", h.countries("remove countries", h.service.RemoveCountries))
			r.Put("/mode", h.HandleSetListMode)
			r.Get("/registry", h.HandleRegistry)
			r.Put("/registry", h.HandleSetRegistry)
			r.Post("/forced-transfer", h.HandleForcedTransfer)
			r.Post("/recover", h.HandleRecover)
			r.Post("/recover-native", h.HandleRecoverNative)
		})
	})
}

func (h *Handler) HandleMint(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := requireCaller(w, ctx)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[MintRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	id, err := h.service.MintRequest(ctx, caller, req.to, req.amount)
	if err != nil {
		h.fail(w, ctx, "mint request", err)
		return
	}
	h.writeRequest(w, ctx, http.StatusCreated, id)
}

func (h *Handler) HandleBurn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := requireCaller(w, ctx)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[AmountRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	id, err := h.service.BurnRequest(ctx, caller, req.amount)
	if err != nil {
		h.fail(w, ctx, "burn request", err)
		return
	}
	h.writeRequest(w, ctx, http.StatusCreated, id)
}

func (h *Handler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	h.finalize(w, r, "approve request", h.service.ApproveRequest)
}

func (h *Handler) HandleReject(w http.ResponseWriter, r *http.Request) {
	h.finalize(w, r, "reject request", h.service.RejectRequest)
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
	h.writeRequest(w, ctx, http.StatusOK, id)
}

func (h *Handler) HandleGetRequest(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.writeRequest(w, r.Context(), http.StatusOK, id)
}

// HandleListRequests filters by the type, status and requester query
// parameters.
func (h *Handler) HandleListRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter models.RequestFilter
	if v := q.Get("type"); v != "" {
		filter.Type = models.RequestType(v)
		if !filter.Type.IsValid() {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "unknown request type"))
			return
		}
	}
	if v := q.Get("status"); v != "" {
		filter.Status = models.RequestStatus(v)
		if !filter.Status.IsValid() {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "unknown status"))
			return
		}
	}
	if v := q.Get("requester"); v != "" {
		addr, err := domain.ParseAddress(v)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		filter.Requester = addr
	}

	list, err := h.service.ListRequests(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]TokenRequestResponse, len(list))
	for i, req := range list {
		out[i] = toTokenRequestResponse(req)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"requests": out})
}

func (h *Handler) HandleTransfer(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, "transfer", func(ctx context.Context, caller common.Address, req *MoveRequest) error {
		return h.service.Transfer(ctx, caller, req.to, req.amount)
	})
}

func (h *Handler) HandleTransferFrom(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, "transfer from", func(ctx context.Context, caller common.Address, req *MoveRequest) error {
		return h.service.TransferFrom(ctx, caller, req.from, req.to, req.amount)
	})
}

func (h *Handler) HandleForcedTransfer(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, "forced transfer", func(ctx context.Context, caller common.Address, req *MoveRequest) error {
		return h.service.ForcedTransfer(ctx, caller, req.from, req.to, req.amount)
	})
}

func (h *Handler) move(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, common.Address, *MoveRequest) error) {
	ctx := r.Context()
	caller, ok := requireCaller(w, ctx)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[MoveRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if err := fn(ctx, caller, req); err != nil {
		h.fail(w, ctx, op, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleApproveSpender(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := requireCaller(w, ctx)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[AllowanceRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if err := h.service.Approve(ctx, caller, req.spender, req.amount); err != nil {
		h.fail(w, ctx, "approve spender", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleAllowance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	owner, err := domain.ParseAddress(q.Get("owner"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "owner must be a non-zero address"))
		return
	}
	spender, err := domain.ParseAddress(q.Get("spender"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "spender must be a non-zero address"))
		return
	}
	allowance, err := h.service.Allowance(r.Context(), owner, spender)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"owner":     owner.Hex(),
		"spender":   spender.Hex(),
		"allowance": allowance.String(),
	})
}

func (h *Handler) HandleBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account, err := domain.ParseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	balance, err := h.service.BalanceOf(ctx, account)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	temporary, err := h.service.TemporaryBalance(ctx, account)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	frozen, err := h.service.IsFrozen(ctx, account)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, AccountResponse{
		Account:   account.Hex(),
		Balance:   balance.String(),
		Temporary: temporary.String(),
		Frozen:    frozen,
	})
}

func (h *Handler) HandleSupply(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"token":        h.service.TokenAddress().Hex(),
		"total_supply": h.service.TotalSupply(r.Context()).String(),
	})
}

func (h *Handler) HandleFrozen(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.FrozenAccounts(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]string, len(list))
	for i, a := range list {
		out[i] = a.Hex()
	}
	httputil.WriteJSON(w, http.StatusOK, map[string][]string{"accounts": out})
}

func (h *Handler) freeze(op string, fn func(ctx context.Context, caller, account common.Address) error) http.HandlerFunc {
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

func (h *Handler) unfreeze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := requireCaller(w, ctx)
	if !ok {
		return
	}
	account, err := domain.ParseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.service.UnfreezeAccount(ctx, caller, account); err != nil {
		h.fail(w, ctx, "unfreeze account", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleCountries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	mode, err := h.service.ListMode(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	list, err := h.service.Countries(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	codes := make([]uint16, len(list))
	for i, c := range list {
		codes[i] = uint16(c)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"mode": string(mode), "countries": codes})
}

func (h *Handler) countries(op string, fn func(context.Context, common.Address, []domain.Country) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		caller, ok := requireCaller(w, ctx)
		if !ok {
			return
		}
		req, ok := httputil.DecodeAndPrepare[CountriesRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
		if !ok {
			return
		}
		if err := fn(ctx, caller, req.countries); err != nil {
			h.fail(w, ctx, op, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) HandleSetListMode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := requireCaller(w, ctx)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[ListModeRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if err := h.service.SetListMode(ctx, caller, eligibilitymodels.ListMode(req.Mode)); err != nil {
		h.fail(w, ctx, "set list mode", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleRegistry(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"registry": h.service.IdentityRegistry().Hex()})
}

func (h *Handler) HandleSetRegistry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := requireCaller(w, ctx)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[RegistryRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if err := h.service.SetIdentityRegistry(ctx, caller, req.address); err != nil {
		h.fail(w, ctx, "set identity registry", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleRecover(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := requireCaller(w, ctx)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[RecoverRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if err := h.service.RecoverTokens(ctx, caller, req.asset, req.to, req.amount); err != nil {
		h.fail(w, ctx, "recover tokens", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleRecoverNative(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, "recover native", func(ctx context.Context, caller common.Address, req *MoveRequest) error {
		return h.service.RecoverNative(ctx, caller, req.to, req.amount)
	})
}

func (h *Handler) writeRequest(w http.ResponseWriter, ctx context.Context, status int, id domain.RequestID) {
	req, err := h.service.GetRequest(ctx, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, status, toTokenRequestResponse(req))
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
