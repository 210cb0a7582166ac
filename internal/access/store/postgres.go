package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lib/pq"

	"custody/internal/access/models"
	"custody/pkg/platform/sentinel"
	txcontext "custody/pkg/platform/tx"
)

// PostgresStore persists memberships in the role_memberships table.
// Writes join the transaction carried by ctx, if any.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS role_memberships (
    role       TEXT NOT NULL,
    principal  TEXT NOT NULL,
    granted_by TEXT NOT NULL,
    granted_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (role, principal)
);
CREATE INDEX IF NOT EXISTS role_memberships_principal_idx ON role_memberships (principal);
`

// Migrate creates the memberships table when it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate role memberships: %w", err)
	}
	return nil
}

func (s *PostgresStore) Has(ctx context.Context, role models.Role, principal common.Address) (bool, error) {
	var exists bool
	err := txcontext.ExecutorFor(ctx, s.db).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM role_memberships WHERE role = $1 AND principal = $2)`,
		string(role), principal.Hex(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check role membership: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) RolesOf(ctx context.Context, principal common.Address) ([]models.Role, error) {
	var names []string
	err := txcontext.ExecutorFor(ctx, s.db).QueryRowContext(ctx,
		`SELECT COALESCE(array_agg(role ORDER BY role), '{}') FROM role_memberships WHERE principal = $1`,
		principal.Hex(),
	).Scan(pq.Array(&names))
	if err != nil {
		return nil, fmt.Errorf("list roles of principal: %w", err)
	}
	roles := make([]models.Role, len(names))
	for i, n := range names {
		roles[i] = models.Role(n)
	}
	return roles, nil
}

func (s *PostgresStore) Members(ctx context.Context, role models.Role) ([]models.Membership, error) {
	rows, err := txcontext.ExecutorFor(ctx, s.db).QueryContext(ctx, `
		SELECT principal, granted_by, granted_at FROM role_memberships
		WHERE role = $1
		ORDER BY granted_at, principal
	`, string(role))
	if err != nil {
		return nil, fmt.Errorf("list role members: %w", err)
	}
	defer rows.Close()

	var out []models.Membership
	for rows.Next() {
		var principal, grantedBy string
		m := models.Membership{Role: role}
		if err := rows.Scan(&principal, &grantedBy, &m.GrantedAt); err != nil {
			return nil, fmt.Errorf("scan role member: %w", err)
		}
		m.Principal = common.HexToAddress(principal)
		m.GrantedBy = common.HexToAddress(grantedBy)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate role members: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Count(ctx context.Context, role models.Role) (int, error) {
	var n int
	err := txcontext.ExecutorFor(ctx, s.db).QueryRowContext(ctx,
		`SELECT count(*) FROM role_memberships WHERE role = $1`, string(role),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count role members: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) Add(ctx context.Context, m models.Membership) error {
	res, err := txcontext.ExecutorFor(ctx, s.db).ExecContext(ctx, `
		INSERT INTO role_memberships (role, principal, granted_by, granted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (role, principal) DO NOTHING
	`, string(m.Role), m.Principal.Hex(), m.GrantedBy.Hex(), m.GrantedAt)
	if err != nil {
		return fmt.Errorf("insert role membership: %w", err)
	}
	return expectOneRow(res, sentinel.ErrAlreadyExists)
}

func (s *PostgresStore) Remove(ctx context.Context, role models.Role, principal common.Address) error {
	res, err := txcontext.ExecutorFor(ctx, s.db).ExecContext(ctx,
		`DELETE FROM role_memberships WHERE role = $1 AND principal = $2`,
		string(role), principal.Hex(),
	)
	if err != nil {
		return fmt.Errorf("delete role membership: %w", err)
	}
	return expectOneRow(res, sentinel.ErrNotFound)
}

func expectOneRow(res sql.Result, none error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return none
	}
	return nil
}
