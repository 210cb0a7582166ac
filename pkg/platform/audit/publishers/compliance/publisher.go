// Package compliance writes audit events straight to the outbox and returns
// the error when the row cannot be stored. The outbox insert joins a
// database/sql transaction carried in ctx (see pkg/platform/tx); without one
// it commits on its own. Services emit after their state change has
// committed, through audit.LogAudit, which logs a failed write instead of
// undoing the committed change.
package compliance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	audit "custody/pkg/platform/audit"
	"custody/pkg/requestcontext"
)

var (
	ErrMissingActor  = errors.New("compliance event requires actor")
	ErrMissingAction = errors.New("compliance event requires action")
)

type Publisher struct {
	store   audit.Store
	logger  *slog.Logger
	metrics *Metrics
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) { p.metrics = m }
}

// New wraps an outbox-backed store.
func New(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func validate(event audit.Event) error {
	var errs []error
	if event.ActorID == "" {
		errs = append(errs, ErrMissingActor)
	}
	if event.Action == "" {
		errs = append(errs, ErrMissingAction)
	}
	return errors.Join(errs...)
}

// Emit stamps, categorises and appends event. The category is always derived
// from the action so a caller cannot file a payout under operations.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if err := validate(event); err != nil {
		return err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	event.Category = audit.AuditEvent(event.Action).Category()

	start := time.Now()
	err := p.store.Append(ctx, event)
	p.metrics.ObservePersistDuration(time.Since(start).Seconds())
	if err != nil {
		p.metrics.IncPersistFailures()
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "compliance audit write failed",
				"action", event.Action,
				"actor", event.ActorID,
				"subject", event.Subject,
				"error", err,
			)
		}
		return fmt.Errorf("persisting %s audit event: %w", event.Action, err)
	}
	p.metrics.IncEventsEmitted(event.Category)
	return nil
}

func (p *Publisher) Close() error {
	return nil
}
