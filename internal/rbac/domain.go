package rbac

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// ScopeKind describes how broadly a role applies.
type ScopeKind string

const (
	ScopeSystem   ScopeKind = "system"
	ScopePartner  ScopeKind = "partner"
	ScopeReseller ScopeKind = "reseller"
	ScopeCustomer ScopeKind = "customer"
)

// Valid reports whether the kind is one of the known scope kinds.
func (k ScopeKind) Valid() bool {
	switch k {
	case ScopeSystem, ScopePartner, ScopeReseller, ScopeCustomer:
		return true
	}
	return false
}

// ScopeRef identifies one scope instance in a check or an assignment,
// e.g. {customer, "C-0042"}.
type ScopeRef struct {
	Kind ScopeKind
	ID   string
}

// Permission is a registered capability code. Codes are never reused
// once retired.
type Permission struct {
	Code        string
	Description string
	CreatedAt   time.Time
}

// Role bundles permission codes under a scope kind. The permission set
// is authoritative: updates replace it wholesale, they never merge.
type Role struct {
	ID              int64
	Name            string
	Description     string
	ScopeKind       ScopeKind
	PermissionCodes []string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasPermission reports whether the role grants the given code.
func (r Role) HasPermission(code string) bool {
	for _, c := range r.PermissionCodes {
		if c == code {
			return true
		}
	}
	return false
}

// ToProjection flattens the role into the audit snapshot shape.
func (r Role) ToProjection() map[string]string {
	codes := append([]string(nil), r.PermissionCodes...)
	sort.Strings(codes)
	return map[string]string{
		"name":             r.Name,
		"description":      r.Description,
		"scope_kind":       string(r.ScopeKind),
		"permission_codes": strings.Join(codes, ","),
	}
}

// Assignment binds a principal to a role. ScopeInstanceID is empty for
// system-scoped roles and required otherwise.
type Assignment struct {
	PrincipalID     int64
	RoleID          int64
	ScopeInstanceID string
	CreatedAt       time.Time
}

// ToProjection flattens the assignment into the audit snapshot shape.
func (a Assignment) ToProjection() map[string]string {
	return map[string]string{
		"principal_id":      strconv.FormatInt(a.PrincipalID, 10),
		"role_id":           strconv.FormatInt(a.RoleID, 10),
		"scope_instance_id": a.ScopeInstanceID,
	}
}

// Snapshot is a transactionally consistent view of one principal's
// assignments and the roles they reference. A check call evaluates
// against exactly one snapshot.
type Snapshot struct {
	PrincipalID int64
	Assignments []Assignment
	Roles       map[int64]Role
}
