package audit

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx executors Insert writes through. Both
// *pgxpool.Pool and pgx.Tx satisfy it, so mutating repositories append
// their audit entry inside the same transaction as the state change.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Insert appends one entry through q. The caller's transaction boundary
// decides atomicity: a failed audit write fails the governing transaction.
func Insert(ctx context.Context, q Querier, e Entry) error {
	if e.Action == "" || e.ResourceType == "" || e.ResourceID == "" {
		return errors.New("audit: entry requires action/resource_type/resource_id")
	}
	oldJSON, err := json.Marshal(e.OldValue)
	if err != nil {
		return err
	}
	newJSON, err := json.Marshal(e.NewValue)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `INSERT INTO audit_log (actor, action, resource_type, resource_id, old_value, new_value, at)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE(NULLIF($7::timestamptz, '0001-01-01T00:00:00Z'::timestamptz), NOW()))`,
		e.Actor, e.Action, e.ResourceType, e.ResourceID, oldJSON, newJSON, e.At)
	return err
}

// Recorder persists standalone entries outside any caller transaction,
// used by the worker for denial events.
type Recorder struct {
	pool *pgxpool.Pool
}

// NewRecorder returns a new Recorder.
func NewRecorder(pool *pgxpool.Pool) *Recorder {
	return &Recorder{pool: pool}
}

// Record persists the entry.
func (r *Recorder) Record(ctx context.Context, e Entry) error {
	if r == nil || r.pool == nil {
		return errors.New("audit: recorder not initialised")
	}
	return Insert(ctx, r.pool, e)
}
