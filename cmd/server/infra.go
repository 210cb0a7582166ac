package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kgo"

	access "custody/internal/access/service"
	accessstore "custody/internal/access/store"
	custodyports "custody/internal/custody/ports"
	custodystore "custody/internal/custody/store"
	"custody/internal/eligibility"
	registry "custody/internal/eligibility/service"
	eligibilitystore "custody/internal/eligibility/store"
	issuanceports "custody/internal/issuance/ports"
	issuancestore "custody/internal/issuance/store"
	"custody/internal/platform/config"
	"custody/internal/platform/kafka"
	"custody/internal/platform/postgres"
	"custody/internal/platform/redis"
	ratelimitmetrics "custody/internal/ratelimit/metrics"
	ratelimit "custody/internal/ratelimit/middleware"
	ratelimitmodels "custody/internal/ratelimit/models"
	ratelimitstore "custody/internal/ratelimit/store"
	"custody/pkg/platform/audit"
	"custody/pkg/platform/audit/publisher"
	"custody/pkg/platform/audit/publishers/compliance"
	"custody/pkg/platform/audit/publishers/stream"
	auditmemory "custody/pkg/platform/audit/store/memory"
	auditpostgres "custody/pkg/platform/audit/store/postgres"
	"custody/pkg/platform/audit/worker"
)

// infra holds the optional backends. A nil handle means the matching stores
// stay in memory.
type infra struct {
	pool  *pgxpool.Pool
	db    *sql.DB
	redis *redis.Client
	kafka *kgo.Client
}

func openInfra(ctx context.Context, cfg config.Config, log *slog.Logger) (*infra, error) {
	in := &infra{}
	var err error
	if in.pool, err = postgres.NewPool(ctx, cfg.Database); err != nil {
		return nil, err
	}
	if in.db, err = postgres.Open(ctx, cfg.Database); err != nil {
		in.Close()
		return nil, err
	}
	if in.redis, err = redis.New(ctx, cfg.Redis); err != nil {
		in.Close()
		return nil, err
	}
	if in.kafka, err = kafka.NewClient(ctx, cfg.Kafka); err != nil {
		in.Close()
		return nil, err
	}
	log.InfoContext(ctx, "backends configured",
		"postgres", in.db != nil,
		"redis", in.redis != nil,
		"kafka", in.kafka != nil,
	)
	return in, nil
}

func (in *infra) Health(ctx context.Context) error {
	var errs []error
	if in.pool != nil {
		errs = append(errs, in.pool.Ping(ctx))
	}
	if in.db != nil {
		errs = append(errs, in.db.PingContext(ctx))
	}
	if in.redis != nil {
		errs = append(errs, in.redis.Health(ctx))
	}
	if in.kafka != nil {
		errs = append(errs, in.kafka.Ping(ctx))
	}
	return errors.Join(errs...)
}

func (in *infra) Close() {
	if in.kafka != nil {
		in.kafka.Close()
	}
	if in.redis != nil {
		_ = in.redis.Close()
	}
	if in.db != nil {
		_ = in.db.Close()
	}
	if in.pool != nil {
		in.pool.Close()
	}
}

type stores struct {
	roles      access.Store
	identities registry.Store
	countries  eligibility.CountryStore
	custody    custodyports.Store
	issuance   issuanceports.Store
	frozen     issuanceports.FrozenSet
}

func openStores(ctx context.Context, in *infra, log *slog.Logger) (*stores, error) {
	s := &stores{
		roles:      accessstore.NewInMemory(),
		identities: eligibilitystore.NewInMemory(),
		countries:  eligibilitystore.NewInMemoryCountries(),
		custody:    custodystore.NewInMemory(),
		issuance:   issuancestore.NewInMemory(),
		frozen:     issuancestore.NewInMemoryFrozen(),
	}

	if in.pool != nil {
		pg := custodystore.NewPostgres(in.pool)
		if err := pg.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate custody store: %w", err)
		}
		s.custody = pg
	}
	if in.db != nil {
		roles := accessstore.NewPostgres(in.db)
		if err := roles.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate role store: %w", err)
		}
		requests := issuancestore.NewPostgres(in.db)
		if err := requests.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate issuance store: %w", err)
		}
		if err := auditpostgres.Migrate(ctx, in.db); err != nil {
			return nil, fmt.Errorf("migrate audit outbox: %w", err)
		}
		s.roles, s.issuance = roles, requests
	}
	if in.redis != nil {
		s.identities = eligibilitystore.NewRedis(in.redis.Client)
		s.countries = eligibilitystore.NewRedisCountries(in.redis.Client)
		s.frozen = issuancestore.NewRedisFrozen(in.redis.Client)
	}
	if in.pool == nil || in.db == nil || in.redis == nil {
		log.WarnContext(ctx, "some stores are in memory; state is lost on restart")
	}
	return s, nil
}

// newAuditSink returns the emitter services publish to. With a database the
// sink is the fail-closed outbox; otherwise events buffer in memory.
func newAuditSink(in *infra, reg prometheus.Registerer, log *slog.Logger) (audit.Emitter, func()) {
	if in.db != nil {
		p := compliance.New(auditpostgres.New(in.db),
			compliance.WithLogger(log),
			compliance.WithMetrics(compliance.NewMetrics(reg)),
		)
		return p, func() { _ = p.Close() }
	}
	p := publisher.NewPublisher(auditmemory.NewInMemoryStore(),
		publisher.WithAsyncBuffer(1024),
		publisher.WithLogger(log),
	)
	return p, p.Close
}

// newAuditRelay returns nil unless both the outbox and the stream are
// configured.
func newAuditRelay(ctx context.Context, in *infra, cfg config.Kafka, log *slog.Logger) (*worker.Relay, error) {
	if in.db == nil || in.kafka == nil {
		return nil, nil
	}
	if err := kafka.EnsureTopic(ctx, in.kafka, cfg); err != nil {
		return nil, err
	}
	sink := stream.New(in.kafka, cfg.AuditTopic, stream.WithLogger(log))
	return worker.NewRelay(auditpostgres.New(in.db), sink, worker.WithLogger(log)), nil
}

// newRateLimiter keeps windows in Redis when configured and in process
// memory otherwise.
func newRateLimiter(in *infra, cfg config.RateLimit, reg prometheus.Registerer, log *slog.Logger) *ratelimit.Middleware {
	var primary ratelimit.Store
	if in.redis != nil {
		primary = ratelimitstore.NewRedis(in.redis.Client)
	}
	return ratelimit.New(primary,
		ratelimitmodels.Limit{Requests: cfg.ReadRequests, Window: cfg.Window},
		ratelimitmodels.Limit{Requests: cfg.WriteRequests, Window: cfg.Window},
		ratelimit.WithLogger(log),
		ratelimit.WithMetrics(ratelimitmetrics.New(reg)),
		ratelimit.WithDisabled(cfg.Disabled),
	)
}
