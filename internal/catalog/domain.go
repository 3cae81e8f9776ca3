package catalog

import "time"

// Role represents a named permission bundle with a hierarchy rank. The
// hierarchy level defines the single total order used for both authorization
// shortcuts and approval-chain escalation; higher means more authority.
type Role struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	DisplayName    string    `json:"display_name"`
	HierarchyLevel int       `json:"hierarchy_level"`
	IsSystemRole   bool      `json:"is_system_role"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Permission represents an exact (resource, action) capability. Name is
// always "resource.action" and unique.
type Permission struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	Description string `json:"description"`
}

// RolePermission ties a permission to a role.
type RolePermission struct {
	RoleID       int64     `json:"role_id"`
	PermissionID int64     `json:"permission_id"`
	GrantedBy    int64     `json:"granted_by"`
	GrantedAt    time.Time `json:"granted_at"`
}

// PermissionName builds the canonical "resource.action" identifier.
func PermissionName(resource, action string) string {
	return resource + "." + action
}
