package approval

import "github.com/aegis-grc/aegis/internal/catalog"

// Sensitive operation types routed through the workflow.
const (
	OpPolicyClauseUpdate = "policy_clause.update"
	OpFrameworkUpdate    = "framework.update"
	OpOrganizationUpdate = "organization.update"
)

// PolicyTable maps an operation type to the minimum ordered approver chain
// for that operation. The effective chain for a request is the sub-sequence
// of these roles that strictly outrank the submitter.
type PolicyTable map[string][]string

// DefaultPolicies returns the built-in routing table.
func DefaultPolicies() PolicyTable {
	return PolicyTable{
		OpPolicyClauseUpdate: {catalog.RoleDepartmentHead, catalog.RoleOrganizationHead},
		OpFrameworkUpdate:    {catalog.RoleOrganizationHead, catalog.RoleEYAdmin},
		OpOrganizationUpdate: {catalog.RoleOrganizationHead, catalog.RoleEYAdmin},
	}
}
