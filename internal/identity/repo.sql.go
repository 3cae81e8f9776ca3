package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegis-grc/aegis/internal/platform/httpx"
)

// Repository loads API accounts from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindByTokenID returns the account owning the given token id.
func (r *Repository) FindByTokenID(ctx context.Context, tokenID string) (Account, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, user_id, subject, token_id, secret_hash, is_active, created_at
FROM api_account WHERE token_id = $1`, tokenID)
	var a Account
	err := row.Scan(&a.ID, &a.UserID, &a.Subject, &a.TokenID, &a.SecretHash, &a.IsActive, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, fmt.Errorf("identity: token %s: %w", tokenID, httpx.ErrNotFound)
		}
		return Account{}, err
	}
	return a, nil
}
