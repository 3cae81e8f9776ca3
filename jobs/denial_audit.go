package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/aegis-grc/aegis/internal/audit"
	"github.com/aegis-grc/aegis/internal/authz"
)

// DenialAuditJob writes denied permission checks to the ledger off the
// request path.
type DenialAuditJob struct {
	Recorder *audit.Recorder
	Logger   *slog.Logger
}

// NewDenialAuditJob initialises the denial recording handler.
func NewDenialAuditJob(recorder *audit.Recorder, logger *slog.Logger) *DenialAuditJob {
	return &DenialAuditJob{Recorder: recorder, Logger: logger}
}

// Handle records one denial event.
func (j *DenialAuditJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Recorder == nil {
		return errors.New("denial audit: handler not configured")
	}
	var payload DenialAuditPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	err := j.Recorder.Record(ctx, audit.Entry{
		Actor:        payload.UserID,
		Action:       audit.ActionPermissionDenied,
		ResourceType: "permission",
		ResourceID:   payload.Resource + "." + payload.Action,
		NewValue: map[string]any{
			"subject": payload.Subject,
			"reason":  payload.Reason,
		},
		At: payload.At,
	})
	if err != nil {
		j.Logger.Error("record denial", slog.Any("error", err))
		return err
	}
	return nil
}

// DenialSink adapts the queue client to the engine's denial port.
type DenialSink struct {
	Client *Client
}

// RecordDenial enqueues the event for asynchronous ledger recording.
func (s DenialSink) RecordDenial(ctx context.Context, event authz.DenialEvent) error {
	_, err := s.Client.EnqueueDenialAudit(ctx, DenialAuditPayload{
		UserID:   event.UserID,
		Subject:  event.Subject,
		Resource: event.Resource,
		Action:   event.Action,
		Reason:   event.Reason,
		At:       event.At,
	})
	return err
}
