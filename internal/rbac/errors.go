package rbac

import "errors"

var (
	// ErrAuthorizationDenied indicates no satisfying grant was found.
	// Checks are fail-closed; callers map this to an access-denied
	// response without revealing which roles were evaluated.
	ErrAuthorizationDenied = errors.New("rbac: authorization denied")

	// ErrDuplicateName indicates the role name is already taken.
	ErrDuplicateName = errors.New("rbac: role name already exists")

	// ErrDuplicateCode indicates the permission code is already registered.
	ErrDuplicateCode = errors.New("rbac: permission code already exists")

	// ErrUnknownPermission indicates a role references a code that is
	// not in the catalog.
	ErrUnknownPermission = errors.New("rbac: unknown permission code")

	// ErrScopeMismatch indicates an assignment's scope instance is
	// inconsistent with the role's scope kind.
	ErrScopeMismatch = errors.New("rbac: scope instance inconsistent with role scope kind")

	// ErrUnknownScopeInstance indicates the referenced scope instance
	// does not exist.
	ErrUnknownScopeInstance = errors.New("rbac: unknown scope instance")

	// ErrRoleInUse blocks deletion of a role that still has assignments.
	ErrRoleInUse = errors.New("rbac: role has active assignments")

	// ErrRoleNotFound indicates the requested role does not exist.
	ErrRoleNotFound = errors.New("rbac: role not found")

	// ErrPermissionNotFound indicates the requested permission does not exist.
	ErrPermissionNotFound = errors.New("rbac: permission not found")
)
