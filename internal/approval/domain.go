package approval

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the approval request lifecycle. PENDING is the only non-terminal
// state; APPROVED and REJECTED admit no further transitions.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// Decision is a single approver's verdict.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Request is a pending or resolved approval. The chain is fixed at creation;
// while PENDING, CurrentApproverRole == Chain[len(History)].
type Request struct {
	ID                  uuid.UUID       `json:"id"`
	OperationType       string          `json:"operation_type"`
	Payload             json.RawMessage `json:"payload"`
	SubmittedBy         int64           `json:"submitted_by"`
	Chain               []string        `json:"approval_chain"`
	CurrentApproverRole string          `json:"current_approver_role,omitempty"`
	Status              Status          `json:"status"`
	Version             int             `json:"version"`
	History             []Step          `json:"history"`
	CreatedAt           time.Time       `json:"created_at"`
	DecidedAt           *time.Time      `json:"decided_at,omitempty"`
}

// Step records one decision. Steps are append-only.
type Step struct {
	ID         int64     `json:"id"`
	RequestID  uuid.UUID `json:"request_id"`
	Role       string    `json:"role"`
	ApproverID int64     `json:"approver_id"`
	Decision   Decision  `json:"decision"`
	Comments   string    `json:"comments"`
	At         time.Time `json:"at"`
}

// Terminal reports whether the status admits no further decisions.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}
