package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository provides PostgreSQL backed ledger reads.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// ListEntries returns ledger rows most-recent-first.
func (r *PGRepository) ListEntries(ctx context.Context, f Filters, limit, offset int) ([]Entry, error) {
	query := `SELECT id, actor, action, resource_type, resource_id, old_value, new_value, at
FROM audit_log WHERE 1=1`
	args := make([]any, 0, 7)
	idx := 1
	next := func(v any) string {
		args = append(args, v)
		p := fmt.Sprintf("$%d", idx)
		idx++
		return p
	}
	if f.Actor != 0 {
		query += " AND actor = " + next(f.Actor)
	}
	if f.ResourceType != "" {
		query += " AND resource_type = " + next(f.ResourceType)
	}
	if f.Action != "" {
		query += " AND action = " + next(f.Action)
	}
	if !f.From.IsZero() {
		query += " AND at >= " + next(f.From)
	}
	if !f.To.IsZero() {
		query += " AND at <= " + next(f.To)
	}
	query += " ORDER BY at DESC, id DESC LIMIT " + next(limit) + " OFFSET " + next(offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var oldJSON, newJSON []byte
		var at time.Time
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.ResourceType, &e.ResourceID, &oldJSON, &newJSON, &at); err != nil {
			return nil, err
		}
		e.At = at
		if len(oldJSON) > 0 {
			_ = json.Unmarshal(oldJSON, &e.OldValue)
		}
		if len(newJSON) > 0 {
			_ = json.Unmarshal(newJSON, &e.NewValue)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
