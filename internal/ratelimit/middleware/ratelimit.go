// Package middleware throttles API callers. Authenticated requests are keyed
// by caller address, anonymous ones by client IP.
package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"custody/internal/ratelimit/metrics"
	"custody/internal/ratelimit/models"
	"custody/internal/ratelimit/store"
	"custody/pkg/platform/httputil"
	"custody/pkg/requestcontext"
)

// Store checks and records one hit against a window.
type Store interface {
	Allow(ctx context.Context, key string, limit models.Limit) (*models.Result, error)
}

const (
	headerStatus  = "X-RateLimit-Status"
	statusDegrade = "degraded"
)

type Middleware struct {
	primary  Store
	fallback Store
	breaker  *circuitBreaker
	limits   map[models.Class]models.Limit
	metrics  *metrics.Metrics
	logger   *slog.Logger
	disabled bool
}

type Option func(*Middleware)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Middleware) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Middleware) {
		m.metrics = mt
	}
}

// WithDisabled turns every check into a pass-through.
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

// WithBreaker overrides the consecutive failure and recovery thresholds.
func WithBreaker(failures, successes int) Option {
	return func(m *Middleware) {
		if failures > 0 && successes > 0 {
			m.breaker = newCircuitBreaker(failures, successes)
		}
	}
}

// New builds the middleware. A nil primary uses the in-memory store only.
func New(primary Store, read, write models.Limit, opts ...Option) *Middleware {
	fallback := store.NewInMemory()
	if primary == nil {
		primary = fallback
	}
	m := &Middleware{
		primary:  primary,
		fallback: fallback,
		breaker:  newCircuitBreaker(5, 3),
		limits:   map[models.Class]models.Limit{models.ClassRead: read, models.ClassWrite: write},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		m.logger.Info("rate limiting disabled")
	}
	return m
}

// Limit is the chi-compatible middleware.
func (m *Middleware) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.disabled {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		class := models.ClassOf(r.Method)
		key := models.Key(class, subject(ctx))

		result, degraded, err := m.check(ctx, key, m.limits[class])
		if err != nil {
			m.logger.ErrorContext(ctx, "rate limit check failed", "error", err, "class", string(class))
			next.ServeHTTP(w, r)
			return
		}
		if degraded {
			w.Header().Set(headerStatus, statusDegrade)
		}
		setHeaders(w, result)
		if !result.Allowed {
			m.metrics.IncDenied(string(class))
			w.Header().Set("Retry-After", strconv.Itoa(retrySeconds(result)))
			httputil.WriteJSON(w, http.StatusTooManyRequests, tooManyRequests{
				Error:            "rate_limit_exceeded",
				ErrorDescription: "too many requests, retry later",
				RetryAfter:       retrySeconds(result),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type tooManyRequests struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	RetryAfter       int    `json:"retry_after"`
}

// check asks the primary store unless the breaker is open. While open, every
// request still tries the primary so the breaker can close; the fallback
// answers until it does.
func (m *Middleware) check(ctx context.Context, key string, limit models.Limit) (*models.Result, bool, error) {
	result, err := m.primary.Allow(ctx, key, limit)
	if err == nil {
		if m.breaker.recordSuccess() {
			m.metrics.SetDegraded(false)
			return result, false, nil
		}
	} else {
		m.metrics.IncErrors()
		if !m.breaker.recordFailure() {
			return nil, false, err
		}
		m.logger.WarnContext(ctx, "rate limit store unavailable, using in-memory fallback", "error", err)
	}
	m.metrics.SetDegraded(true)
	result, err = m.fallback.Allow(ctx, key, limit)
	return result, true, err
}

func subject(ctx context.Context) string {
	if caller := requestcontext.Caller(ctx); caller != (common.Address{}) {
		return "caller:" + caller.Hex()
	}
	return "ip:" + requestcontext.ClientIP(ctx)
}

func setHeaders(w http.ResponseWriter, result *models.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func retrySeconds(result *models.Result) int {
	return max(1, int(math.Ceil(result.RetryAfter.Seconds())))
}
