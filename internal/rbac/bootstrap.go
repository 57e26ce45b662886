package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

// PrivilegedRoleName is the reserved name of the full-access role the
// synchronizer maintains.
const PrivilegedRoleName = "platform-admin"

// SystemActorID marks mutations performed by the platform itself, for
// example the startup reconciliation run.
const SystemActorID int64 = 0

// Synchronizer keeps the privileged role in step with the permission
// catalog. It runs at process startup and on operator demand.
type Synchronizer struct {
	service *Service
	logger  *slog.Logger
}

// NewSynchronizer constructs a Synchronizer.
func NewSynchronizer(service *Service, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{service: service, logger: logger}
}

// EnsurePrivilegedRole reconciles the reserved system role against the
// full permission catalog. It is idempotent: a run against an
// unchanged catalog performs no mutation, and the role's permission
// set only ever grows. It never creates assignments; binding a
// principal to the role stays an explicit, separately-audited
// operator action.
func (s *Synchronizer) EnsurePrivilegedRole(ctx context.Context, actorID int64, allCodes []string) (Role, error) {
	codes := normalizeCodes(allCodes)

	role, err := s.service.RoleByName(ctx, PrivilegedRoleName)
	if errors.Is(err, ErrRoleNotFound) {
		role, err = s.service.CreateRole(ctx, actorID, CreateRoleInput{
			Name:            PrivilegedRoleName,
			Description:     "Full platform access. Maintained automatically from the permission catalog.",
			ScopeKind:       ScopeSystem,
			PermissionCodes: codes,
			Note:            "bootstrap reconciliation",
		})
		if err != nil {
			return Role{}, fmt.Errorf("rbac: bootstrap create: %w", err)
		}
		if s.logger != nil {
			s.logger.Info("bootstrap created privileged role", slog.Int64("role_id", role.ID), slog.Int("permissions", len(codes)))
		}
		return role, nil
	}
	if err != nil {
		return Role{}, err
	}

	missing := missingCodes(role.PermissionCodes, codes)
	if len(missing) == 0 {
		return role, nil
	}

	// Union only: codes the role already holds are never removed even
	// when they have left the catalog.
	union := normalizeCodes(append(append([]string(nil), role.PermissionCodes...), missing...))
	role, err = s.service.UpdateRolePermissions(ctx, actorID, role.ID, union, "bootstrap reconciliation")
	if err != nil {
		return Role{}, fmt.Errorf("rbac: bootstrap update: %w", err)
	}
	if s.logger != nil {
		s.logger.Info("bootstrap grew privileged role", slog.Int64("role_id", role.ID), slog.Int("added", len(missing)))
	}
	return role, nil
}

func missingCodes(have, want []string) []string {
	held := make(map[string]struct{}, len(have))
	for _, c := range have {
		held[c] = struct{}{}
	}
	var missing []string
	for _, c := range want {
		if _, ok := held[c]; !ok {
			missing = append(missing, c)
		}
	}
	sort.Strings(missing)
	return missing
}
