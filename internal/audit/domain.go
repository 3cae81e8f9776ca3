package audit

import "time"

// Actions recorded by the engine. Every state-changing operation writes
// exactly one entry; denials are recorded by the worker.
const (
	ActionRoleAssigned      = "role_assigned"
	ActionRoleRevoked       = "role_revoked"
	ActionApprovalRequested = "approval_requested"
	ActionApprovalDecided   = "approval_decided"
	ActionPermissionDenied  = "permission_denied"
)

// Entry represents a record stored in audit_log. Rows are append-only and
// never updated or deleted by any code path.
type Entry struct {
	ID           int64          `json:"id"`
	Actor        int64          `json:"actor"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	OldValue     map[string]any `json:"old_value,omitempty"`
	NewValue     map[string]any `json:"new_value,omitempty"`
	At           time.Time      `json:"at"`
}

// Filters narrows a ledger query.
type Filters struct {
	Actor        int64
	ResourceType string
	Action       string
	From         time.Time
	To           time.Time
	Page         int
	PageSize     int
}

// PagingInfo describes the window returned by Query.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result bundles entries with paging information.
type Result struct {
	Entries []Entry    `json:"entries"`
	Paging  PagingInfo `json:"paging"`
}
