package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	accesshandler "custody/internal/access/handler"
	accessmetrics "custody/internal/access/metrics"
	accessmodels "custody/internal/access/models"
	access "custody/internal/access/service"
	custodyhandler "custody/internal/custody/handler"
	custodymetrics "custody/internal/custody/metrics"
	custody "custody/internal/custody/service"
	"custody/internal/eligibility"
	eligibilityhandler "custody/internal/eligibility/handler"
	eligibilitymetrics "custody/internal/eligibility/metrics"
	registry "custody/internal/eligibility/service"
	"custody/internal/issuance"
	issuancehandler "custody/internal/issuance/handler"
	issuancemetrics "custody/internal/issuance/metrics"
	issuanceservice "custody/internal/issuance/service"
	"custody/internal/platform/config"
	"custody/internal/platform/httpserver"
	"custody/internal/platform/logger"
	"custody/internal/platform/metrics"
	"custody/pkg/platform/middleware/auth"
	"custody/pkg/platform/middleware/metadata"
	"custody/pkg/platform/middleware/request"
	"custody/pkg/platform/middleware/requesttime"
	"custody/pkg/platform/sequence"
	"custody/pkg/requestcontext"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Server.LogLevel, cfg.Server.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

// run wires the services onto the configured backends and serves until ctx
// is cancelled.
func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	backends, err := openInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer backends.Close()
	if backends.redis != nil {
		backends.redis.RegisterPoolMetrics(reg)
	}

	st, err := openStores(ctx, backends, log)
	if err != nil {
		return err
	}
	emitter, closeAudit := newAuditSink(backends, reg, log)
	defer closeAudit()
	relay, err := newAuditRelay(ctx, backends, cfg.Kafka, log)
	if err != nil {
		return err
	}

	directory := access.New(st.roles,
		access.WithLogger(log),
		access.WithAuditPublisher(emitter),
		access.WithMetrics(accessmetrics.New(reg)),
	)
	if err := bootstrapRoles(requestcontext.WithTime(ctx, time.Now()), directory, cfg.Custody, log); err != nil {
		return err
	}

	identities := registry.New(st.identities, directory,
		registry.WithLogger(log),
		registry.WithAuditPublisher(emitter),
		registry.WithMetrics(eligibilitymetrics.New(reg)),
		registry.WithMaxWallets(cfg.Custody.MaxWalletsPerIdentity),
	)
	policy := eligibility.NewPolicy(st.countries)
	gate := eligibility.NewGate(policy, identities)
	catalog := eligibility.NewCatalog()
	catalog.Register(cfg.Custody.IdentityRegistry, identities)

	issuanceMetrics := issuancemetrics.New(reg)
	ledgers, err := newAssetLedgers(ctx, cfg.Custody,
		issuance.NewHook(cfg.Custody.EscrowAccount, st.frozen, gate, issuanceMetrics), log)
	if err != nil {
		return err
	}
	issued, assets := ledgers.issued, ledgers.directory

	ledger := custody.New(st.custody, directory, assets, cfg.Custody.CustodyAccount,
		sequence.New(cfg.Custody.IDSalt+":custody"),
		custody.WithLogger(log),
		custody.WithAuditPublisher(emitter),
		custody.WithMetrics(custodymetrics.New(reg)),
	)
	workflow := issuanceservice.New(issuanceservice.Deps{
		Store:      st.issuance,
		Frozen:     st.frozen,
		Token:      issued,
		Escrow:     cfg.Custody.EscrowAccount,
		Gate:       gate,
		Policy:     policy,
		Registries: catalog,
		Authz:      directory,
		Assets:     assets,
		Native:     ledgers.native,
		IDs:        sequence.New(cfg.Custody.IDSalt + ":issuance"),
	},
		issuanceservice.WithLogger(log),
		issuanceservice.WithAuditPublisher(emitter),
		issuanceservice.WithMetrics(issuanceMetrics),
		issuanceservice.WithRegistry(cfg.Custody.IdentityRegistry),
	)

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(metrics.New(reg).Middleware)

	r.Get("/healthz", healthHandler(backends))
	r.Handle("/metrics", metrics.Handler(reg))
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(auth.NewValidator(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer), log))
		r.Use(newRateLimiter(backends, cfg.RateLimit, reg, log).Limit)
		custodyhandler.New(ledger, log).Register(r)
		eligibilityhandler.New(identities, gate, log).Register(r)
		issuancehandler.New(workflow, log).Register(r)
		accesshandler.New(directory, log).Register(r)
	})

	srv := httpserver.New(cfg.Server.Addr, r, log)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting custody server", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if relay != nil {
		g.Go(func() error {
			if err := relay.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// bootstrapRoles seeds the configured admin on an empty directory and
// optionally a first fund manager.
func bootstrapRoles(ctx context.Context, dir *access.Directory, cfg config.Custody, log *slog.Logger) error {
	if cfg.DefaultAdmin == (common.Address{}) {
		log.WarnContext(ctx, "no DEFAULT_ADMIN configured; role directory is not seeded")
		return nil
	}
	if _, err := dir.Bootstrap(ctx, cfg.DefaultAdmin); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	if cfg.DefaultFundManager == (common.Address{}) {
		return nil
	}
	err := dir.Grant(ctx, cfg.DefaultAdmin, accessmodels.RoleFundManager, cfg.DefaultFundManager)
	if err != nil && !errors.Is(err, access.ErrRoleAlreadyGranted) {
		log.WarnContext(ctx, "failed to seed fund manager",
			"fund_manager", cfg.DefaultFundManager.Hex(),
			"error", err,
		)
	}
	return nil
}

func healthHandler(in *infra) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status, code := "ok", http.StatusOK
		if err := in.Health(ctx); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = fmt.Fprintf(w, `{"status":%q}`, status)
	}
}
