package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
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

const requestColumns = `id, operation_type, payload, submitted_by, approval_chain, current_approver_role, status, version, created_at, decided_at`

// Get returns one request with its history.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Request, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM approval_request WHERE id = $1`, id)
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, fmt.Errorf("approval: request %s: %w", id, httpx.ErrNotFound)
		}
		return Request{}, err
	}
	steps, err := r.listSteps(ctx, r.pool, id)
	if err != nil {
		return Request{}, err
	}
	req.History = steps
	return req, nil
}

// ListPending returns PENDING requests awaiting the given role, oldest first.
func (r *Repository) ListPending(ctx context.Context, role string) ([]Request, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+requestColumns+`
FROM approval_request
WHERE status = $1 AND current_approver_role = $2
ORDER BY created_at`, StatusPending, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var requests []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range requests {
		steps, err := r.listSteps(ctx, r.pool, requests[i].ID)
		if err != nil {
			return nil, err
		}
		requests[i].History = steps
	}
	return requests, nil
}

// Insert persists a new request.
func (tx *txRepo) Insert(ctx context.Context, req Request) error {
	chainJSON, err := json.Marshal(req.Chain)
	if err != nil {
		return err
	}
	_, err = tx.tx.Exec(ctx, `INSERT INTO approval_request (id, operation_type, payload, submitted_by, approval_chain, current_approver_role, status, version, created_at, decided_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10)`,
		req.ID, req.OperationType, []byte(req.Payload), req.SubmittedBy, chainJSON, req.CurrentApproverRole, req.Status, req.Version, req.CreatedAt, req.DecidedAt)
	return err
}

// GetForUpdate locks the request row and loads its history.
func (tx *txRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (Request, error) {
	row := tx.tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM approval_request WHERE id = $1 FOR UPDATE`, id)
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, fmt.Errorf("approval: request %s: %w", id, httpx.ErrNotFound)
		}
		return Request{}, err
	}
	steps, err := listStepsQuerier(ctx, tx.tx, id)
	if err != nil {
		return Request{}, err
	}
	req.History = steps
	return req, nil
}

// AppendStep persists one decision step.
func (tx *txRepo) AppendStep(ctx context.Context, step Step) (Step, error) {
	row := tx.tx.QueryRow(ctx, `INSERT INTO approval_step (request_id, role, approver_id, decision, comments, at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`, step.RequestID, step.Role, step.ApproverID, step.Decision, step.Comments, step.At)
	if err := row.Scan(&step.ID); err != nil {
		return Step{}, err
	}
	return step, nil
}

// Advance moves the request to the next approver role. The version check is
// a backstop under the row lock; zero rows affected means a lost update.
func (tx *txRepo) Advance(ctx context.Context, id uuid.UUID, nextRole string, fromVersion int) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE approval_request
SET current_approver_role = $1, version = version + 1
WHERE id = $2 AND status = $3 AND version = $4`, nextRole, id, StatusPending, fromVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("approval: request %s changed concurrently: %w", id, httpx.ErrInvalidState)
	}
	return nil
}

// Finalize moves the request to a terminal status.
func (tx *txRepo) Finalize(ctx context.Context, id uuid.UUID, status Status, decidedAt time.Time, fromVersion int) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE approval_request
SET status = $1, current_approver_role = NULL, decided_at = $2, version = version + 1
WHERE id = $3 AND status = $4 AND version = $5`, status, decidedAt, id, StatusPending, fromVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("approval: request %s changed concurrently: %w", id, httpx.ErrInvalidState)
	}
	return nil
}

// AppendAudit writes the ledger entry on the same transaction.
func (tx *txRepo) AppendAudit(ctx context.Context, e audit.Entry) error {
	return audit.Insert(ctx, tx.tx, e)
}

type queryRunner interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *Repository) listSteps(ctx context.Context, q queryRunner, id uuid.UUID) ([]Step, error) {
	return listStepsQuerier(ctx, q, id)
}

func listStepsQuerier(ctx context.Context, q queryRunner, id uuid.UUID) ([]Step, error) {
	rows, err := q.Query(ctx, `SELECT id, request_id, role, approver_id, decision, comments, at
FROM approval_step WHERE request_id = $1 ORDER BY at, id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var steps []Step
	for rows.Next() {
		var step Step
		var decision string
		if err := rows.Scan(&step.ID, &step.RequestID, &step.Role, &step.ApproverID, &decision, &step.Comments, &step.At); err != nil {
			return nil, err
		}
		step.Decision = Decision(decision)
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return steps, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (Request, error) {
	var (
		req       Request
		payload   []byte
		chainJSON []byte
		current   *string
		status    string
	)
	err := row.Scan(&req.ID, &req.OperationType, &payload, &req.SubmittedBy, &chainJSON, &current, &status, &req.Version, &req.CreatedAt, &req.DecidedAt)
	if err != nil {
		return Request{}, err
	}
	req.Payload = json.RawMessage(payload)
	req.Status = Status(status)
	if current != nil {
		req.CurrentApproverRole = *current
	}
	if len(chainJSON) > 0 {
		if err := json.Unmarshal(chainJSON, &req.Chain); err != nil {
			return Request{}, err
		}
	}
	return req, nil
}
