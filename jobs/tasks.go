package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeDenialAudit records a denied permission check in the ledger.
	TaskTypeDenialAudit = "authz:denied"
	// TaskTypeApproverNotify tells a role it has a request waiting.
	TaskTypeApproverNotify = "approval:notify"
	// TaskTypePendingScan measures the age of the oldest open request.
	TaskTypePendingScan = "approval:pending_scan"
)

// DenialAuditPayload mirrors the denial event emitted by the engine.
type DenialAuditPayload struct {
	UserID   int64     `json:"user_id"`
	Subject  string    `json:"subject"`
	Resource string    `json:"resource"`
	Action   string    `json:"action"`
	Reason   string    `json:"reason"`
	At       time.Time `json:"at"`
}

// ApproverNotifyPayload identifies the request awaiting a role.
type ApproverNotifyPayload struct {
	Role          string    `json:"role"`
	RequestID     uuid.UUID `json:"request_id"`
	OperationType string    `json:"operation_type"`
}

// NewDenialAuditTask constructs the denial recording task.
func NewDenialAuditTask(payload DenialAuditPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeDenialAudit, data), nil
}

// NewApproverNotifyTask constructs the approver notification task.
func NewApproverNotifyTask(payload ApproverNotifyPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeApproverNotify, data), nil
}

// NewPendingScanTask constructs the periodic pending-age scan task.
func NewPendingScanTask() *asynq.Task {
	return asynq.NewTask(TaskTypePendingScan, nil)
}

// Client submits jobs to the queue and adapts the queue to the engine's
// denial-sink and notifier ports.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// EnqueueDenialAudit queues a denial for ledger recording.
func (c *Client) EnqueueDenialAudit(ctx context.Context, payload DenialAuditPayload) (*asynq.TaskInfo, error) {
	task, err := NewDenialAuditTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
}

// EnqueueApproverNotify queues an approver notification.
func (c *Client) EnqueueApproverNotify(ctx context.Context, payload ApproverNotifyPayload) (*asynq.TaskInfo, error) {
	task, err := NewApproverNotifyTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
