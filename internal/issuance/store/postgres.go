package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lib/pq"

	"custody/internal/issuance/models"
	"custody/internal/issuance/ports"
	"custody/pkg/domain"
	"custody/pkg/platform/sentinel"
	txcontext "custody/pkg/platform/tx"
)

const issuanceSchema = `
CREATE TABLE IF NOT EXISTS issuance_requests (
    seq          BIGSERIAL,
    id           TEXT PRIMARY KEY,
    type         TEXT NOT NULL,
    requester    TEXT NOT NULL,
    account      TEXT NOT NULL,
    amount       NUMERIC(78,0) NOT NULL,
    status       TEXT NOT NULL,
    requested_at TIMESTAMPTZ NOT NULL,
    finalized_at TIMESTAMPTZ,
    finalized_by TEXT
);
CREATE INDEX IF NOT EXISTS issuance_requests_requester_idx ON issuance_requests (requester, status);
CREATE TABLE IF NOT EXISTS issuance_escrow (
    account TEXT PRIMARY KEY,
    amount  NUMERIC(78,0) NOT NULL CHECK (amount >= 0)
);
`

// PostgresStore keeps token requests and burn escrow counters in
// PostgreSQL. RunInTx uses a serializable transaction carried by context.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, issuanceSchema); err != nil {
		return fmt.Errorf("migrate issuance schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Request(ctx context.Context, id domain.RequestID) (*models.TokenRequest, error) {
	return sqlTx{exec: txcontext.ExecutorFor(ctx, s.db)}.Request(ctx, id)
}

func (s *PostgresStore) TemporaryBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	return sqlTx{exec: txcontext.ExecutorFor(ctx, s.db)}.TemporaryBalance(ctx, account)
}

func (s *PostgresStore) ListRequests(ctx context.Context, filter models.RequestFilter) ([]*models.TokenRequest, error) {
	var (
		where []string
		args  []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if filter.Type != "" {
		add("type", string(filter.Type))
	}
	if filter.Status != "" {
		add("status", string(filter.Status))
	}
	if filter.Requester != (common.Address{}) {
		add("requester", filter.Requester.Hex())
	}
	query := `SELECT ` + requestColumns + ` FROM issuance_requests`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq"

	rows, err := txcontext.ExecutorFor(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list token requests: %w", err)
	}
	defer rows.Close()

	var out []*models.TokenRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate token requests: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) RunInTx(ctx context.Context, fn func(tx ports.Tx) error) error {
	err := txcontext.RunInTx(ctx, s.db, &sql.TxOptions{Isolation: sql.LevelSerializable}, func(ctx context.Context) error {
		tx, _ := txcontext.From(ctx)
		return fn(sqlTx{exec: tx, lock: true})
	})
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "40001" {
		return fmt.Errorf("issuance transaction: %w", sentinel.ErrConflict)
	}
	return err
}

// sqlTx runs queries on one executor. Reads lock their rows when lock is set.
type sqlTx struct {
	exec txcontext.Executor
	lock bool
}

const requestColumns = `id, type, requester, account, amount::text, status, requested_at, finalized_at, finalized_by`

func (t sqlTx) Request(ctx context.Context, id domain.RequestID) (*models.TokenRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM issuance_requests WHERE id = $1`
	if t.lock {
		query += " FOR UPDATE"
	}
	r, err := scanRequest(t.exec.QueryRowContext(ctx, query, id.Hex()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return r, err
}

func (t sqlTx) TemporaryBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	query := `SELECT amount::text FROM issuance_escrow WHERE account = $1`
	if t.lock {
		query += " FOR UPDATE"
	}
	var raw string
	err := t.exec.QueryRowContext(ctx, query, account.Hex()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Zero(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read temporary balance: %w", err)
	}
	return parseDecimal(raw)
}

func (t sqlTx) PutRequest(ctx context.Context, r *models.TokenRequest) error {
	var finalizedAt *time.Time
	var finalizedBy *string
	if !r.IsPending() {
		at, by := r.FinalizedAt, r.FinalizedBy.Hex()
		finalizedAt, finalizedBy = &at, &by
	}
	_, err := t.exec.ExecContext(ctx, `
		INSERT INTO issuance_requests (id, type, requester, account, amount, status, requested_at, finalized_at, finalized_by)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			finalized_at = EXCLUDED.finalized_at,
			finalized_by = EXCLUDED.finalized_by
	`, r.ID.Hex(), string(r.Type), r.Requester.Hex(), r.Account.Hex(), domain.Copy(r.Amount).String(),
		string(r.Status), r.RequestedAt, finalizedAt, finalizedBy)
	if err != nil {
		return fmt.Errorf("upsert token request: %w", err)
	}
	return nil
}

func (t sqlTx) SetTemporaryBalance(ctx context.Context, account common.Address, amount *big.Int) error {
	if !domain.IsUint256(amount) {
		return sentinel.ErrInvalidState
	}
	var err error
	if amount.Sign() == 0 {
		_, err = t.exec.ExecContext(ctx, `DELETE FROM issuance_escrow WHERE account = $1`, account.Hex())
	} else {
		_, err = t.exec.ExecContext(ctx, `
			INSERT INTO issuance_escrow (account, amount) VALUES ($1, $2::numeric)
			ON CONFLICT (account) DO UPDATE SET amount = EXCLUDED.amount
		`, account.Hex(), amount.String())
	}
	if err != nil {
		return fmt.Errorf("write temporary balance: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (*models.TokenRequest, error) {
	var (
		id, typ, requester, account, amount, status string
		finalizedAt                                 sql.NullTime
		finalizedBy                                 sql.NullString
		r                                           models.TokenRequest
	)
	err := row.Scan(&id, &typ, &requester, &account, &amount, &status, &r.RequestedAt, &finalizedAt, &finalizedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan token request: %w", err)
	}
	if r.ID, err = domain.ParseRequestID(id); err != nil {
		return nil, fmt.Errorf("stored request id %q: %w", id, sentinel.ErrInvalidState)
	}
	if r.Amount, err = parseDecimal(amount); err != nil {
		return nil, err
	}
	r.Type = models.RequestType(typ)
	r.Status = models.RequestStatus(status)
	r.Requester = common.HexToAddress(requester)
	r.Account = common.HexToAddress(account)
	r.RequestedAt = r.RequestedAt.UTC()
	if finalizedAt.Valid {
		r.FinalizedAt = finalizedAt.Time.UTC()
	}
	if finalizedBy.Valid {
		r.FinalizedBy = common.HexToAddress(finalizedBy.String)
	}
	return &r, nil
}

func parseDecimal(raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("stored amount %q: %w", raw, sentinel.ErrInvalidState)
	}
	return v, nil
}
