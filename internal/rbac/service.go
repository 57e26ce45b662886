package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/northwire-isp/northwire/internal/audit"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRole(ctx context.Context, id int64) (Role, error)
	GetRoleByName(ctx context.Context, name string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	GetPermission(ctx context.Context, code string) (Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	PrincipalSnapshot(ctx context.Context, principalID int64) (Snapshot, error)
}

// ScopeResolver resolves a scope instance id to its kind. Backed by
// the tenant directory; assignment validation uses it to reject
// instances of the wrong kind.
type ScopeResolver interface {
	ResolveKind(ctx context.Context, instanceID string) (ScopeKind, error)
}

// CacheInvalidator drops cached grants after mutations. May be nil.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, principalID int64) error
	InvalidateAll(ctx context.Context) error
}

// Service orchestrates catalog, role and assignment mutations. Every
// privileged mutation and its audit record commit in one transaction;
// if the audit write fails the mutation rolls back with it.
type Service struct {
	repo   RepositoryPort
	scopes ScopeResolver
	cache  CacheInvalidator
	logger *slog.Logger
}

// NewService builds a Service. scopes is required; cache may be nil.
func NewService(repo RepositoryPort, scopes ScopeResolver, cache CacheInvalidator, logger *slog.Logger) *Service {
	return &Service{repo: repo, scopes: scopes, cache: cache, logger: logger}
}

// RegisterPermission adds a code to the catalog. Codes are immutable
// identifiers and are never reused once retired.
func (s *Service) RegisterPermission(ctx context.Context, actorID int64, code, description string) (Permission, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Permission{}, fmt.Errorf("%w: empty code", ErrUnknownPermission)
	}
	var perm Permission
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		perm, err = tx.InsertPermission(ctx, code, strings.TrimSpace(description))
		if err != nil {
			return err
		}
		_, err = tx.AppendAudit(ctx, audit.Entry{
			ActorID:    actorID,
			Action:     audit.ActionCreate,
			EntityType: "permission",
			EntityID:   perm.Code,
			After:      audit.Snapshot{"code": perm.Code, "description": perm.Description},
			RiskLevel:  audit.RiskLow,
		})
		return err
	})
	if err != nil {
		return Permission{}, err
	}
	return perm, nil
}

// LookupPermission fetches one catalog entry.
func (s *Service) LookupPermission(ctx context.Context, code string) (Permission, error) {
	return s.repo.GetPermission(ctx, code)
}

// ListPermissions returns the whole catalog.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// CreateRoleInput carries the fields for a new role.
type CreateRoleInput struct {
	Name            string
	Description     string
	ScopeKind       ScopeKind
	PermissionCodes []string
	Note            string
}

// CreateRole creates a role with its full permission set.
func (s *Service) CreateRole(ctx context.Context, actorID int64, input CreateRoleInput) (Role, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Role{}, fmt.Errorf("rbac: role name required")
	}
	if !input.ScopeKind.Valid() {
		return Role{}, fmt.Errorf("rbac: invalid scope kind %q", input.ScopeKind)
	}
	codes := normalizeCodes(input.PermissionCodes)

	var role Role
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := requireKnownCodes(ctx, tx, codes); err != nil {
			return err
		}
		var err error
		role, err = tx.InsertRole(ctx, name, strings.TrimSpace(input.Description), input.ScopeKind)
		if err != nil {
			return err
		}
		if err := tx.ReplaceRolePermissions(ctx, role.ID, codes); err != nil {
			return err
		}
		role.PermissionCodes = codes
		_, err = tx.AppendAudit(ctx, audit.Entry{
			ActorID:         actorID,
			Action:          audit.ActionCreate,
			EntityType:      "role",
			EntityID:        formatRoleID(role.ID),
			After:           audit.Capture(role),
			RiskLevel:       audit.RiskHigh,
			BusinessContext: input.Note,
		})
		return err
	})
	if err != nil {
		return Role{}, err
	}
	s.invalidateAll(ctx)
	return role, nil
}

// UpdateRolePermissions replaces the role's permission set wholesale.
// Codes absent from the new set are revoked even if previously
// granted; this is deliberate, not an additive merge.
func (s *Service) UpdateRolePermissions(ctx context.Context, actorID, roleID int64, newCodes []string, note string) (Role, error) {
	codes := normalizeCodes(newCodes)
	var role Role
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		role, err = tx.GetRoleForUpdate(ctx, roleID)
		if err != nil {
			return err
		}
		if err := requireKnownCodes(ctx, tx, codes); err != nil {
			return err
		}
		before := audit.Capture(role)
		if err := tx.ReplaceRolePermissions(ctx, role.ID, codes); err != nil {
			return err
		}
		role.PermissionCodes = codes
		_, err = tx.AppendAudit(ctx, audit.Entry{
			ActorID:         actorID,
			Action:          audit.ActionUpdate,
			EntityType:      "role",
			EntityID:        formatRoleID(role.ID),
			Before:          before,
			After:           audit.Capture(role),
			RiskLevel:       audit.RiskHigh,
			BusinessContext: note,
		})
		return err
	})
	if err != nil {
		return Role{}, err
	}
	s.invalidateAll(ctx)
	return role, nil
}

// DeleteRole removes a role. Deletion is rejected with ErrRoleInUse
// while assignments reference the role unless cascade is requested, in
// which case the referencing assignments are removed atomically with
// the role.
func (s *Service) DeleteRole(ctx context.Context, actorID, roleID int64, cascade bool, note string) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		role, err := tx.GetRoleForUpdate(ctx, roleID)
		if err != nil {
			return err
		}
		n, err := tx.CountAssignmentsForRole(ctx, role.ID)
		if err != nil {
			return err
		}
		if n > 0 && !cascade {
			return fmt.Errorf("%w: %d assignments", ErrRoleInUse, n)
		}
		var removed int64
		if n > 0 {
			removed, err = tx.DeleteAssignmentsForRole(ctx, role.ID)
			if err != nil {
				return err
			}
		}
		if err := tx.DeleteRole(ctx, role.ID); err != nil {
			return err
		}
		bizContext := note
		if removed > 0 {
			bizContext = strings.TrimSpace(fmt.Sprintf("%s cascade removed %d assignments", note, removed))
		}
		_, err = tx.AppendAudit(ctx, audit.Entry{
			ActorID:         actorID,
			Action:          audit.ActionDelete,
			EntityType:      "role",
			EntityID:        formatRoleID(role.ID),
			Before:          audit.Capture(role),
			RiskLevel:       audit.RiskHigh,
			BusinessContext: bizContext,
		})
		return err
	})
	if err != nil {
		return err
	}
	s.invalidateAll(ctx)
	return nil
}

// AssignInput carries the fields for a role assignment.
type AssignInput struct {
	PrincipalID     int64
	RoleID          int64
	ScopeInstanceID string
	Note            string
}

// Assign binds a principal to a role. The scope instance must be
// omitted for system-scoped roles and present, of the role's kind, for
// everything else. Re-assigning an existing binding is a no-op.
func (s *Service) Assign(ctx context.Context, actorID int64, input AssignInput) error {
	if input.PrincipalID == 0 {
		return fmt.Errorf("rbac: principal id required")
	}
	instanceID := strings.TrimSpace(input.ScopeInstanceID)

	var instanceKind ScopeKind
	if instanceID != "" {
		kind, err := s.scopes.ResolveKind(ctx, instanceID)
		if err != nil {
			return err
		}
		instanceKind = kind
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		role, err := tx.GetRoleForUpdate(ctx, input.RoleID)
		if err != nil {
			return err
		}
		if role.ScopeKind == ScopeSystem {
			if instanceID != "" {
				return fmt.Errorf("%w: system role %q takes no scope instance", ErrScopeMismatch, role.Name)
			}
		} else {
			if instanceID == "" {
				return fmt.Errorf("%w: role %q requires a %s instance", ErrScopeMismatch, role.Name, role.ScopeKind)
			}
			if instanceKind != role.ScopeKind {
				return fmt.Errorf("%w: role %q is %s-scoped, instance %q is %s", ErrScopeMismatch, role.Name, role.ScopeKind, instanceID, instanceKind)
			}
		}
		assignment := Assignment{PrincipalID: input.PrincipalID, RoleID: input.RoleID, ScopeInstanceID: instanceID}
		inserted, err := tx.InsertAssignment(ctx, assignment)
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}
		_, err = tx.AppendAudit(ctx, audit.Entry{
			ActorID:         actorID,
			Action:          audit.ActionCreate,
			EntityType:      "role_assignment",
			EntityID:        assignmentID(assignment),
			After:           audit.Capture(assignment),
			RiskLevel:       audit.RiskMedium,
			BusinessContext: input.Note,
		})
		return err
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, input.PrincipalID)
	return nil
}

// Unassign removes a role binding. It is an idempotent no-op when the
// assignment does not exist.
func (s *Service) Unassign(ctx context.Context, actorID int64, input AssignInput) error {
	assignment := Assignment{
		PrincipalID:     input.PrincipalID,
		RoleID:          input.RoleID,
		ScopeInstanceID: strings.TrimSpace(input.ScopeInstanceID),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		// Take the same role lock Assign takes, so concurrent writers
		// of one binding serialize and each reads the assignment's
		// audit chain head after the other's commit.
		if _, err := tx.GetRoleForUpdate(ctx, input.RoleID); err != nil {
			if errors.Is(err, ErrRoleNotFound) {
				// No role, no binding to remove.
				return nil
			}
			return err
		}
		deleted, err := tx.DeleteAssignment(ctx, assignment)
		if err != nil {
			return err
		}
		if !deleted {
			return nil
		}
		_, err = tx.AppendAudit(ctx, audit.Entry{
			ActorID:         actorID,
			Action:          audit.ActionDelete,
			EntityType:      "role_assignment",
			EntityID:        assignmentID(assignment),
			Before:          audit.Capture(assignment),
			RiskLevel:       audit.RiskMedium,
			BusinessContext: input.Note,
		})
		return err
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, input.PrincipalID)
	return nil
}

// Role fetches a role with its permission codes.
func (s *Service) Role(ctx context.Context, id int64) (Role, error) {
	return s.repo.GetRole(ctx, id)
}

// RoleByName fetches a role by its unique name.
func (s *Service) RoleByName(ctx context.Context, name string) (Role, error) {
	return s.repo.GetRoleByName(ctx, name)
}

// Roles returns all roles.
func (s *Service) Roles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

func (s *Service) invalidate(ctx context.Context, principalID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, principalID); err != nil && s.logger != nil {
		s.logger.Warn("rbac cache invalidate", slog.Int64("principal_id", principalID), slog.Any("error", err))
	}
}

func (s *Service) invalidateAll(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateAll(ctx); err != nil && s.logger != nil {
		s.logger.Warn("rbac cache invalidate all", slog.Any("error", err))
	}
}

func requireKnownCodes(ctx context.Context, tx TxRepository, codes []string) error {
	if len(codes) == 0 {
		return nil
	}
	missing, err := tx.MissingPermissions(ctx, codes)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrUnknownPermission, strings.Join(missing, ", "))
	}
	return nil
}

func normalizeCodes(codes []string) []string {
	unique := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		unique[c] = struct{}{}
	}
	out := make([]string, 0, len(unique))
	for c := range unique {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func formatRoleID(id int64) string {
	return fmt.Sprintf("%d", id)
}

func assignmentID(a Assignment) string {
	if a.ScopeInstanceID == "" {
		return fmt.Sprintf("%d:%d", a.PrincipalID, a.RoleID)
	}
	return fmt.Sprintf("%d:%d:%s", a.PrincipalID, a.RoleID, a.ScopeInstanceID)
}
