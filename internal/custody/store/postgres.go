package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"custody/internal/custody/models"
	"custody/internal/custody/ports"
	"custody/pkg/domain"
	"custody/pkg/platform/sentinel"
)

//go:embed schema.sql
var schema string

const serializationFailure = "40001"

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps custody state in PostgreSQL. Amounts are NUMERIC(78,0)
// and travel as decimal strings; addresses and ids are raw bytes.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the custody tables if they are missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrating custody schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Balance(ctx context.Context, lender, borrower, asset common.Address) (models.Balance, error) {
	return readBalance(ctx, s.pool, lender, borrower, asset, false)
}

func (s *PostgresStore) Unstake(ctx context.Context, id domain.RequestID) (*models.Unstake, error) {
	return readUnstake(ctx, s.pool, id, false)
}

func (s *PostgresStore) IsTokenRegistered(ctx context.Context, asset common.Address) (bool, error) {
	return readTokenRegistered(ctx, s.pool, asset)
}

func (s *PostgresStore) ListUnstakes(ctx context.Context, filter models.UnstakeFilter) ([]*models.Unstake, error) {
	var b strings.Builder
	b.WriteString(selectUnstake)
	b.WriteString(` WHERE 1=1`)
	args := []any{}
	add := func(clause string, v any) {
		args = append(args, v)
		b.WriteString(" AND " + clause + " = $" + strconv.Itoa(len(args)))
	}
	if filter.Lender != (common.Address{}) {
		add("lender", filter.Lender.Bytes())
	}
	if filter.Borrower != (common.Address{}) {
		add("borrower", filter.Borrower.Bytes())
	}
	if filter.Asset != (common.Address{}) {
		add("asset", filter.Asset.Bytes())
	}
	if filter.Status != "" {
		add("status", string(filter.Status))
	}
	b.WriteString(" ORDER BY seq")

	rows, err := s.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("listing unstakes: %w", err)
	}
	defer rows.Close()

	var out []*models.Unstake
	for rows.Next() {
		u, err := scanUnstake(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing unstakes: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Tokens(ctx context.Context) ([]common.Address, error) {
	rows, err := s.pool.Query(ctx, `SELECT asset FROM custody_tokens ORDER BY asset`)
	if err != nil {
		return nil, fmt.Errorf("listing tokens: %w", err)
	}
	defer rows.Close()
	var out []common.Address
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		out = append(out, common.BytesToAddress(raw))
	}
	return out, rows.Err()
}

// RunInTx runs fn in a serializable transaction. A serialization failure is
// reported as sentinel.ErrConflict; the caller decides whether to retry.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(tx ports.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin custody tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("commit custody tx: %w", err))
	}
	return nil
}

func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == serializationFailure {
		return fmt.Errorf("%w: %v", sentinel.ErrConflict, err)
	}
	return err
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Balance(ctx context.Context, lender, borrower, asset common.Address) (models.Balance, error) {
	return readBalance(ctx, t.tx, lender, borrower, asset, true)
}

func (t *pgTx) Unstake(ctx context.Context, id domain.RequestID) (*models.Unstake, error) {
	return readUnstake(ctx, t.tx, id, true)
}

func (t *pgTx) IsTokenRegistered(ctx context.Context, asset common.Address) (bool, error) {
	return readTokenRegistered(ctx, t.tx, asset)
}

func (t *pgTx) PutBalance(ctx context.Context, b models.Balance) error {
	key := b.Key()
	_, err := t.tx.Exec(ctx, `
INSERT INTO custody_balances (balance_key, lender, borrower, asset, available, frozen, updated_at)
VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, now())
ON CONFLICT (balance_key) DO UPDATE SET
  available = EXCLUDED.available,
  frozen = EXCLUDED.frozen,
  updated_at = now()`,
		key[:], b.Lender.Bytes(), b.Borrower.Bytes(), b.Asset.Bytes(), b.Available.String(), b.Frozen.String())
	if err != nil {
		return fmt.Errorf("writing balance: %w", err)
	}
	return nil
}

func (t *pgTx) PutUnstake(ctx context.Context, u *models.Unstake) error {
	var approver []byte
	var approvedAt *time.Time
	if u.Approver != (common.Address{}) {
		approver = u.Approver.Bytes()
	}
	if !u.ApprovedAt.IsZero() {
		at := u.ApprovedAt
		approvedAt = &at
	}
	_, err := t.tx.Exec(ctx, `
INSERT INTO custody_unstakes (id, initiator, approver, lender, borrower, asset,
  borrower_amount, lender_amount, status, initiated_at, approved_at)
VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9, $10, $11)
ON CONFLICT (id) DO UPDATE SET
  approver = EXCLUDED.approver,
  status = EXCLUDED.status,
  approved_at = EXCLUDED.approved_at`,
		u.ID[:], u.Initiator.Bytes(), approver, u.Lender.Bytes(), u.Borrower.Bytes(), u.Asset.Bytes(),
		domain.Copy(u.BorrowerAmount).String(), domain.Copy(u.LenderAmount).String(),
		string(u.Status), u.InitiatedAt, approvedAt)
	if err != nil {
		return fmt.Errorf("writing unstake: %w", err)
	}
	return nil
}

func (t *pgTx) SetTokenRegistered(ctx context.Context, asset common.Address, registered bool) error {
	var err error
	if registered {
		_, err = t.tx.Exec(ctx, `INSERT INTO custody_tokens (asset) VALUES ($1) ON CONFLICT DO NOTHING`, asset.Bytes())
	} else {
		_, err = t.tx.Exec(ctx, `DELETE FROM custody_tokens WHERE asset = $1`, asset.Bytes())
	}
	if err != nil {
		return fmt.Errorf("writing token registration: %w", err)
	}
	return nil
}

func readBalance(ctx context.Context, q querier, lender, borrower, asset common.Address, lock bool) (models.Balance, error) {
	key := models.KeyFor(lender, borrower, asset)
	sql := `SELECT available::text, frozen::text FROM custody_balances WHERE balance_key = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	var available, frozen string
	err := q.QueryRow(ctx, sql, key[:]).Scan(&available, &frozen)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.NewBalance(lender, borrower, asset), nil
	}
	if err != nil {
		return models.Balance{}, fmt.Errorf("reading balance: %w", err)
	}
	b := models.NewBalance(lender, borrower, asset)
	if b.Available, err = parseNumeric(available); err != nil {
		return models.Balance{}, err
	}
	if b.Frozen, err = parseNumeric(frozen); err != nil {
		return models.Balance{}, err
	}
	return b, nil
}

const selectUnstake = `SELECT id, initiator, approver, lender, borrower, asset,
  borrower_amount::text, lender_amount::text, status, initiated_at, approved_at
FROM custody_unstakes`

func readUnstake(ctx context.Context, q querier, id domain.RequestID, lock bool) (*models.Unstake, error) {
	sql := selectUnstake + ` WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	u, err := scanUnstake(q.QueryRow(ctx, sql, id[:]))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return u, err
}

func scanUnstake(row pgx.Row) (*models.Unstake, error) {
	var (
		id, initiator, approver, lender, borrower, asset []byte
		borrowerAmount, lenderAmount, status             string
		initiatedAt                                      time.Time
		approvedAt                                       *time.Time
	)
	err := row.Scan(&id, &initiator, &approver, &lender, &borrower, &asset,
		&borrowerAmount, &lenderAmount, &status, &initiatedAt, &approvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("reading unstake: %w", err)
	}
	u := &models.Unstake{
		ID:          domain.RequestID(common.BytesToHash(id)),
		Initiator:   common.BytesToAddress(initiator),
		Lender:      common.BytesToAddress(lender),
		Borrower:    common.BytesToAddress(borrower),
		Asset:       common.BytesToAddress(asset),
		Status:      models.UnstakeStatus(status),
		InitiatedAt: initiatedAt,
	}
	if approver != nil {
		u.Approver = common.BytesToAddress(approver)
	}
	if approvedAt != nil {
		u.ApprovedAt = *approvedAt
	}
	if u.BorrowerAmount, err = parseNumeric(borrowerAmount); err != nil {
		return nil, err
	}
	if u.LenderAmount, err = parseNumeric(lenderAmount); err != nil {
		return nil, err
	}
	return u, nil
}

func readTokenRegistered(ctx context.Context, q querier, asset common.Address) (bool, error) {
	var registered bool
	err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM custody_tokens WHERE asset = $1)`, asset.Bytes()).Scan(&registered)
	if err != nil {
		return false, fmt.Errorf("reading token registration: %w", err)
	}
	return registered, nil
}

func parseNumeric(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt numeric %q", s)
	}
	return v, nil
}
