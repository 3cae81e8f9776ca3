package assignment

import "time"

// UserRoleAssignment grants a role to a user for a validity window. Rows
// are soft-deleted on revocation and never removed, preserving audit
// lineage. At most one row is active per (user, role) pair at any instant.
type UserRoleAssignment struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	RoleID     int64      `json:"role_id"`
	RoleName   string     `json:"role_name"`
	AssignedBy int64      `json:"assigned_by"`
	AssignedAt time.Time  `json:"assigned_at"`
	ValidFrom  time.Time  `json:"valid_from"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
	IsActive   bool       `json:"is_active"`
}

// Covers reports whether the assignment is valid at the given instant.
func (a UserRoleAssignment) Covers(asOf time.Time) bool {
	if !a.IsActive {
		return false
	}
	if asOf.Before(a.ValidFrom) {
		return false
	}
	if a.ValidUntil != nil && !asOf.Before(*a.ValidUntil) {
		return false
	}
	return true
}
