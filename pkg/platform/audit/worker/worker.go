// Package worker relays audit events from the outbox to the stream.
package worker

import (
	"context"
	"log/slog"
	"time"

	audit "custody/pkg/platform/audit"
)

// Outbox is drained by the relay. The postgres audit store implements it.
type Outbox interface {
	Drain(ctx context.Context, limit int, publish func(ctx context.Context, events []audit.Event) error) (int, error)
}

// Relay polls the outbox and forwards pending events to sink. Delivery is at
// least once: a failed batch stays pending and is retried on the next tick.
type Relay struct {
	outbox   Outbox
	sink     audit.Emitter
	interval time.Duration
	batch    int
	logger   *slog.Logger
}

type Option func(*Relay)

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batch = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

func NewRelay(outbox Outbox, sink audit.Emitter, opts ...Option) *Relay {
	r := &Relay{
		outbox:   outbox,
		sink:     sink,
		interval: time.Second,
		batch:    100,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run relays until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if _, err := r.RelayOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.WarnContext(ctx, "audit relay batch failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RelayOnce drains full batches until the outbox is empty or an error occurs.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	var total int
	for {
		n, err := r.outbox.Drain(ctx, r.batch, func(ctx context.Context, events []audit.Event) error {
			for _, event := range events {
				if err := r.sink.Emit(ctx, event); err != nil {
					return err
				}
			}
			return nil
		})
		total += n
		if err != nil || n < r.batch {
			return total, err
		}
	}
}
