package shared

// Audit trail permissions.
const (
	PermAuditView   = "audit.view"
	PermAuditExport = "audit.export"
	PermAuditVerify = "audit.verify"
)

// AuditScopes lists all permissions related to the audit trail.
func AuditScopes() []string {
	return []string{
		PermAuditView,
		PermAuditExport,
		PermAuditVerify,
	}
}
