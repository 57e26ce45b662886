package shared

// Directory permissions for tenants and principals.
const (
	PermTenantsView    = "directory.tenants.view"
	PermTenantsEdit    = "directory.tenants.edit"
	PermPrincipalsView = "directory.principals.view"
)

// DirectoryScopes lists all permissions related to the directory.
func DirectoryScopes() []string {
	return []string{
		PermTenantsView,
		PermTenantsEdit,
		PermPrincipalsView,
	}
}

// AllScopes returns the union of every permission the platform
// declares, in the shape the bootstrap synchronizer consumes.
func AllScopes() []string {
	var all []string
	all = append(all, CoreScopes()...)
	all = append(all, AuditScopes()...)
	all = append(all, DirectoryScopes()...)
	return all
}
