package shared

// Core engine permissions.
const (
	PermRolesView       = "roles.view"
	PermRolesEdit       = "roles.edit"
	PermPermissionsView = "permissions.view"
	PermPermissionsEdit = "permissions.edit"
	PermAssignmentsEdit = "assignments.edit"
	PermAssignmentsView = "assignments.view"
	PermApprovalsView   = "approvals.view"
	PermApprovalsDecide = "approvals.decide"
	PermAuditView       = "audit.view"
)

// Compliance content permissions gated by the engine.
const (
	PermPolicyView       = "policy.view"
	PermPolicyEdit       = "policy.edit"
	PermFrameworkView    = "framework.view"
	PermFrameworkEdit    = "framework.edit"
	PermOrganizationView = "organization.view"
	PermOrganizationEdit = "organization.edit"
)

// CoreScopes lists all permissions related to engine administration.
func CoreScopes() []string {
	return []string{
		PermRolesView,
		PermRolesEdit,
		PermPermissionsView,
		PermPermissionsEdit,
		PermAssignmentsEdit,
		PermAssignmentsView,
		PermApprovalsView,
		PermApprovalsDecide,
		PermAuditView,
	}
}

// ContentScopes lists all permissions over compliance content.
func ContentScopes() []string {
	return []string{
		PermPolicyView,
		PermPolicyEdit,
		PermFrameworkView,
		PermFrameworkEdit,
		PermOrganizationView,
		PermOrganizationEdit,
	}
}
