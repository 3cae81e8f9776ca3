package assignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegis-grc/aegis/internal/audit"
	"github.com/aegis-grc/aegis/internal/platform/db"
	"github.com/aegis-grc/aegis/internal/platform/httpx"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// ListActive returns assignments active at asOf for the user.
func (r *Repository) ListActive(ctx context.Context, userID int64, asOf time.Time) ([]UserRoleAssignment, error) {
	rows, err := r.pool.Query(ctx, `SELECT a.id, a.user_id, a.role_id, ro.name, a.assigned_by, a.assigned_at, a.valid_from, a.valid_until, a.is_active
FROM user_role_assignment a
JOIN role ro ON ro.id = a.role_id
WHERE a.user_id = $1
  AND a.is_active
  AND a.valid_from <= $2
  AND (a.valid_until IS NULL OR a.valid_until > $2)
ORDER BY ro.hierarchy_level DESC`, userID, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var assignments []UserRoleAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return assignments, nil
}

// GetActiveForUpdate locks the active row for (user, role), if any.
func (tx *txRepo) GetActiveForUpdate(ctx context.Context, userID, roleID int64) (UserRoleAssignment, error) {
	row := tx.tx.QueryRow(ctx, `SELECT a.id, a.user_id, a.role_id, ro.name, a.assigned_by, a.assigned_at, a.valid_from, a.valid_until, a.is_active
FROM user_role_assignment a
JOIN role ro ON ro.id = a.role_id
WHERE a.user_id = $1 AND a.role_id = $2 AND a.is_active
FOR UPDATE OF a`, userID, roleID)
	a, err := scanAssignment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserRoleAssignment{}, fmt.Errorf("assignment: no active assignment for user %d: %w", userID, httpx.ErrNotFound)
		}
		return UserRoleAssignment{}, err
	}
	return a, nil
}

// Insert persists a new active assignment. The partial unique index on
// (user_id, role_id) WHERE is_active backs the single-active invariant.
func (tx *txRepo) Insert(ctx context.Context, a UserRoleAssignment) (UserRoleAssignment, error) {
	row := tx.tx.QueryRow(ctx, `INSERT INTO user_role_assignment (user_id, role_id, assigned_by, assigned_at, valid_from, valid_until, is_active)
VALUES ($1, $2, $3, $4, $5, $6, TRUE)
RETURNING id`, a.UserID, a.RoleID, a.AssignedBy, a.AssignedAt, a.ValidFrom, a.ValidUntil)
	if err := row.Scan(&a.ID); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return UserRoleAssignment{}, fmt.Errorf("assignment: active assignment exists: %w", httpx.ErrConflict)
		}
		return UserRoleAssignment{}, err
	}
	a.IsActive = true
	return a, nil
}

// Deactivate soft-deletes the assignment row.
func (tx *txRepo) Deactivate(ctx context.Context, assignmentID int64) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE user_role_assignment SET is_active = FALSE WHERE id = $1 AND is_active`, assignmentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("assignment: %d not active: %w", assignmentID, httpx.ErrNotFound)
	}
	return nil
}

// AppendAudit writes the ledger entry on the same transaction.
func (tx *txRepo) AppendAudit(ctx context.Context, e audit.Entry) error {
	return audit.Insert(ctx, tx.tx, e)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssignment(row rowScanner) (UserRoleAssignment, error) {
	var a UserRoleAssignment
	err := row.Scan(&a.ID, &a.UserID, &a.RoleID, &a.RoleName, &a.AssignedBy, &a.AssignedAt, &a.ValidFrom, &a.ValidUntil, &a.IsActive)
	return a, err
}
