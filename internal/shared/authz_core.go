package shared

// Core platform permissions.
const (
	PermRolesView       = "rbac.roles.view"
	PermRolesEdit       = "rbac.roles.edit"
	PermAssignmentsEdit = "rbac.assignments.edit"
	PermPermissionsView = "rbac.permissions.view"
	PermPermissionsEdit = "rbac.permissions.edit"
	PermBootstrapRun    = "rbac.bootstrap.run"
)

// CoreScopes lists all permissions related to the core platform.
func CoreScopes() []string {
	return []string{
		PermRolesView,
		PermRolesEdit,
		PermAssignmentsEdit,
		PermPermissionsView,
		PermPermissionsEdit,
		PermBootstrapRun,
	}
}
