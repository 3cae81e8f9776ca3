package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// ApproverNotifyJob delivers inbox notifications to approver roles.
// Delivery is a log line today; the task boundary keeps the workflow
// decoupled from whatever channel ops wires up later.
type ApproverNotifyJob struct {
	Logger *slog.Logger
}

// NewApproverNotifyJob initialises the notification handler.
func NewApproverNotifyJob(logger *slog.Logger) *ApproverNotifyJob {
	return &ApproverNotifyJob{Logger: logger}
}

// Handle processes one notification.
func (j *ApproverNotifyJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("approver notify: handler not configured")
	}
	var payload ApproverNotifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	j.Logger.Info("approval awaiting decision",
		slog.String("role", payload.Role),
		slog.String("request_id", payload.RequestID.String()),
		slog.String("operation_type", payload.OperationType),
	)
	return nil
}

// Notifier adapts the queue client to the workflow's notifier port.
type Notifier struct {
	Client *Client
}

// NotifyApprover enqueues the notification.
func (n Notifier) NotifyApprover(ctx context.Context, role string, requestID uuid.UUID, operationType string) error {
	_, err := n.Client.EnqueueApproverNotify(ctx, ApproverNotifyPayload{
		Role:          role,
		RequestID:     requestID,
		OperationType: operationType,
	})
	return err
}
