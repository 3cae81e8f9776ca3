package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AgeGauge publishes the oldest pending request age.
type AgeGauge interface {
	SetOldestPendingAge(age time.Duration)
}

// PendingScanJob measures how long the oldest open approval request has been
// waiting, so stuck chains show up on a dashboard instead of in a complaint.
type PendingScanJob struct {
	Pool   *pgxpool.Pool
	Logger *slog.Logger
	Gauge  AgeGauge
	clock  func() time.Time
}

// NewPendingScanJob initialises the pending scan handler.
func NewPendingScanJob(pool *pgxpool.Pool, logger *slog.Logger, gauge AgeGauge) *PendingScanJob {
	return &PendingScanJob{
		Pool:   pool,
		Logger: logger,
		Gauge:  gauge,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one scan.
func (j *PendingScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pool == nil {
		return errors.New("pending scan: handler not configured")
	}
	row := j.Pool.QueryRow(ctx, `SELECT MIN(created_at) FROM approval_request WHERE status = 'PENDING'`)
	var oldest *time.Time
	if err := row.Scan(&oldest); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		j.Logger.Error("pending scan", slog.Any("error", err))
		return err
	}
	age := time.Duration(0)
	if oldest != nil {
		age = j.clock().Sub(*oldest)
	}
	if j.Gauge != nil {
		j.Gauge.SetOldestPendingAge(age)
	}
	j.Logger.Debug("pending scan complete", slog.Duration("oldest_age", age))
	return nil
}
