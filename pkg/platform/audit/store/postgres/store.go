package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	audit "custody/pkg/platform/audit"
	txcontext "custody/pkg/platform/tx"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Store implements audit.Store using the transactional outbox pattern.
// Append joins the caller's transaction when one is in context, so the audit
// row commits together with the state change it describes. The relay worker
// drains unpublished rows to the stream.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL audit store that writes to the outbox.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append writes an audit event to the outbox table.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	query := `
		INSERT INTO audit_outbox (id, category, action, subject, actor_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = txcontext.ExecutorFor(ctx, s.db).ExecContext(ctx, query,
		uuid.New(),
		string(event.Category),
		event.Action,
		event.Subject,
		event.ActorID,
		string(payload),
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// ListBySubject returns events for a subject, oldest first.
func (s *Store) ListBySubject(ctx context.Context, subject string) ([]audit.Event, error) {
	query := `
		SELECT id, payload FROM audit_outbox
		WHERE subject = $1
		ORDER BY created_at, seq
	`
	rows, err := s.db.QueryContext(ctx, query, subject)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	return events(entries), nil
}

// ListRecent returns the N most recent events, oldest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	query := `
		SELECT id, payload FROM (
			SELECT id, payload, created_at, seq FROM audit_outbox
			ORDER BY created_at DESC, seq DESC
			LIMIT $1
		) recent
		ORDER BY created_at, seq
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	return events(entries), nil
}

// Drain locks up to limit unpublished rows, hands them to publish and marks
// them published when publish succeeds. A publish error leaves the rows
// pending for the next call.
func (s *Store) Drain(ctx context.Context, limit int, publish func(ctx context.Context, events []audit.Event) error) (int, error) {
	var drained int
	err := txcontext.RunInTx(ctx, s.db, nil, func(ctx context.Context) error {
		exec := txcontext.ExecutorFor(ctx, s.db)
		rows, err := exec.QueryContext(ctx, `
			SELECT id, payload FROM audit_outbox
			WHERE published_at IS NULL
			ORDER BY created_at, seq
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		`, limit)
		if err != nil {
			return fmt.Errorf("select pending outbox entries: %w", err)
		}
		entries, err := scanEntries(rows)
		rows.Close()
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}

		if err := publish(ctx, events(entries)); err != nil {
			return err
		}

		ids := make([]string, len(entries))
		for i, e := range entries {
			ids[i] = e.id
		}
		if _, err := exec.ExecContext(ctx,
			`UPDATE audit_outbox SET published_at = now() WHERE id = ANY($1::uuid[])`,
			pq.Array(ids),
		); err != nil {
			return fmt.Errorf("mark outbox entries published: %w", err)
		}
		drained = len(entries)
		return nil
	})
	return drained, err
}

type entry struct {
	id    string
	event audit.Event
}

func scanEntries(rows *sql.Rows) ([]entry, error) {
	var entries []entry
	for rows.Next() {
		var (
			e       entry
			payload []byte
		)
		if err := rows.Scan(&e.id, &payload); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if err := json.Unmarshal(payload, &e.event); err != nil {
			return nil, fmt.Errorf("decode audit payload %s: %w", e.id, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return entries, nil
}

func events(entries []entry) []audit.Event {
	out := make([]audit.Event, len(entries))
	for i, e := range entries {
		out[i] = e.event
	}
	return out
}
