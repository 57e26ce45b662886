package rbac

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/northwire-isp/northwire/internal/audit"
)

// memoryRepo is an in-memory RepositoryPort and TxRepository. WithTx
// snapshots state before the callback and restores it on error, which
// mirrors the rollback behavior the service relies on.
type memoryRepo struct {
	permissions map[string]Permission
	roles       map[int64]Role
	assignments []Assignment
	entries     []audit.Entry
	nextRoleID  int64
	auditFail   bool
	roleLocks   []int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		permissions: make(map[string]Permission),
		roles:       make(map[int64]Role),
		nextRoleID:  1,
	}
}

func (m *memoryRepo) clone() *memoryRepo {
	c := &memoryRepo{
		permissions: make(map[string]Permission, len(m.permissions)),
		roles:       make(map[int64]Role, len(m.roles)),
		assignments: append([]Assignment(nil), m.assignments...),
		entries:     append([]audit.Entry(nil), m.entries...),
		nextRoleID:  m.nextRoleID,
		auditFail:   m.auditFail,
	}
	for k, v := range m.permissions {
		c.permissions[k] = v
	}
	for k, v := range m.roles {
		v.PermissionCodes = append([]string(nil), v.PermissionCodes...)
		c.roles[k] = v
	}
	return c
}

func (m *memoryRepo) restore(saved *memoryRepo) {
	m.permissions = saved.permissions
	m.roles = saved.roles
	m.assignments = saved.assignments
	m.entries = saved.entries
	m.nextRoleID = saved.nextRoleID
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	saved := m.clone()
	if err := fn(ctx, m); err != nil {
		m.restore(saved)
		return err
	}
	return nil
}

func (m *memoryRepo) InsertPermission(ctx context.Context, code, description string) (Permission, error) {
	if _, ok := m.permissions[code]; ok {
		return Permission{}, ErrDuplicateCode
	}
	p := Permission{Code: code, Description: description, CreatedAt: time.Now()}
	m.permissions[code] = p
	return p, nil
}

func (m *memoryRepo) MissingPermissions(ctx context.Context, codes []string) ([]string, error) {
	var missing []string
	for _, c := range codes {
		if _, ok := m.permissions[c]; !ok {
			missing = append(missing, c)
		}
	}
	sort.Strings(missing)
	return missing, nil
}

func (m *memoryRepo) InsertRole(ctx context.Context, name, description string, kind ScopeKind) (Role, error) {
	for _, r := range m.roles {
		if r.Name == name {
			return Role{}, ErrDuplicateName
		}
	}
	role := Role{ID: m.nextRoleID, Name: name, Description: description, ScopeKind: kind, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	m.nextRoleID++
	m.roles[role.ID] = role
	return role, nil
}

func (m *memoryRepo) GetRoleForUpdate(ctx context.Context, id int64) (Role, error) {
	m.roleLocks = append(m.roleLocks, id)
	return m.GetRole(ctx, id)
}

func (m *memoryRepo) ReplaceRolePermissions(ctx context.Context, roleID int64, codes []string) error {
	role, ok := m.roles[roleID]
	if !ok {
		return ErrRoleNotFound
	}
	role.PermissionCodes = append([]string(nil), codes...)
	role.UpdatedAt = time.Now()
	m.roles[roleID] = role
	return nil
}

func (m *memoryRepo) DeleteRole(ctx context.Context, id int64) error {
	delete(m.roles, id)
	return nil
}

func (m *memoryRepo) CountAssignmentsForRole(ctx context.Context, roleID int64) (int64, error) {
	var n int64
	for _, a := range m.assignments {
		if a.RoleID == roleID {
			n++
		}
	}
	return n, nil
}

func (m *memoryRepo) DeleteAssignmentsForRole(ctx context.Context, roleID int64) (int64, error) {
	var kept []Assignment
	var removed int64
	for _, a := range m.assignments {
		if a.RoleID == roleID {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	m.assignments = kept
	return removed, nil
}

func (m *memoryRepo) InsertAssignment(ctx context.Context, a Assignment) (bool, error) {
	for _, existing := range m.assignments {
		if existing.PrincipalID == a.PrincipalID && existing.RoleID == a.RoleID && existing.ScopeInstanceID == a.ScopeInstanceID {
			return false, nil
		}
	}
	a.CreatedAt = time.Now()
	m.assignments = append(m.assignments, a)
	return true, nil
}

func (m *memoryRepo) DeleteAssignment(ctx context.Context, a Assignment) (bool, error) {
	for i, existing := range m.assignments {
		if existing.PrincipalID == a.PrincipalID && existing.RoleID == a.RoleID && existing.ScopeInstanceID == a.ScopeInstanceID {
			m.assignments = append(m.assignments[:i], m.assignments[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryRepo) AppendAudit(ctx context.Context, e audit.Entry) (uuid.UUID, error) {
	if m.auditFail {
		return uuid.Nil, fmt.Errorf("%w: disk full", audit.ErrWriteFailure)
	}
	if err := e.Validate(); err != nil {
		return uuid.Nil, err
	}
	m.entries = append(m.entries, e)
	return uuid.New(), nil
}

func (m *memoryRepo) GetRole(ctx context.Context, id int64) (Role, error) {
	role, ok := m.roles[id]
	if !ok {
		return Role{}, ErrRoleNotFound
	}
	role.PermissionCodes = append([]string(nil), role.PermissionCodes...)
	return role, nil
}

func (m *memoryRepo) GetRoleByName(ctx context.Context, name string) (Role, error) {
	for _, r := range m.roles {
		if r.Name == name {
			r.PermissionCodes = append([]string(nil), r.PermissionCodes...)
			return r, nil
		}
	}
	return Role{}, ErrRoleNotFound
}

func (m *memoryRepo) ListRoles(ctx context.Context) ([]Role, error) {
	roles := make([]Role, 0, len(m.roles))
	for _, r := range m.roles {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return roles, nil
}

func (m *memoryRepo) GetPermission(ctx context.Context, code string) (Permission, error) {
	p, ok := m.permissions[code]
	if !ok {
		return Permission{}, ErrPermissionNotFound
	}
	return p, nil
}

func (m *memoryRepo) ListPermissions(ctx context.Context) ([]Permission, error) {
	perms := make([]Permission, 0, len(m.permissions))
	for _, p := range m.permissions {
		perms = append(perms, p)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Code < perms[j].Code })
	return perms, nil
}

func (m *memoryRepo) PrincipalSnapshot(ctx context.Context, principalID int64) (Snapshot, error) {
	snap := Snapshot{PrincipalID: principalID, Roles: make(map[int64]Role)}
	for _, a := range m.assignments {
		if a.PrincipalID != principalID {
			continue
		}
		snap.Assignments = append(snap.Assignments, a)
		if role, ok := m.roles[a.RoleID]; ok {
			role.PermissionCodes = append([]string(nil), role.PermissionCodes...)
			snap.Roles[a.RoleID] = role
		}
	}
	return snap, nil
}

// stubScopeResolver maps tenant ids to scope kinds.
type stubScopeResolver map[string]ScopeKind

func (s stubScopeResolver) ResolveKind(ctx context.Context, instanceID string) (ScopeKind, error) {
	kind, ok := s[instanceID]
	if !ok {
		return "", ErrUnknownScopeInstance
	}
	return kind, nil
}

type recordingInvalidator struct {
	principals []int64
	all        int
}

func (r *recordingInvalidator) Invalidate(ctx context.Context, principalID int64) error {
	r.principals = append(r.principals, principalID)
	return nil
}

func (r *recordingInvalidator) InvalidateAll(ctx context.Context) error {
	r.all++
	return nil
}

func newTestService(repo *memoryRepo) (*Service, *recordingInvalidator) {
	resolver := stubScopeResolver{
		"P-0001": ScopePartner,
		"R-0007": ScopeReseller,
		"C-0042": ScopeCustomer,
		"C-0099": ScopeCustomer,
	}
	invalidator := &recordingInvalidator{}
	return NewService(repo, resolver, invalidator, nil), invalidator
}

func seedCatalog(t *testing.T, svc *Service, codes ...string) {
	t.Helper()
	for _, code := range codes {
		_, err := svc.RegisterPermission(context.Background(), SystemActorID, code, "seeded")
		require.NoError(t, err)
	}
}

func TestRegisterPermissionDuplicateCode(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	_, err := svc.RegisterPermission(ctx, 1, "tickets.view", "read tickets")
	require.NoError(t, err)
	_, err = svc.RegisterPermission(ctx, 1, "tickets.view", "again")
	require.ErrorIs(t, err, ErrDuplicateCode)

	require.Len(t, repo.entries, 1)
	require.Equal(t, audit.RiskLow, repo.entries[0].RiskLevel)
}

func TestCreateRoleUnknownPermission(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	seedCatalog(t, svc, "tickets.view")

	_, err := svc.CreateRole(ctx, 1, CreateRoleInput{
		Name:            "support-agent",
		ScopeKind:       ScopeCustomer,
		PermissionCodes: []string{"tickets.view", "network.provision"},
	})
	require.ErrorIs(t, err, ErrUnknownPermission)
	require.Contains(t, err.Error(), "network.provision")
	require.Empty(t, repo.roles)
}

func TestCreateRoleDuplicateName(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	seedCatalog(t, svc, "tickets.view")

	_, err := svc.CreateRole(ctx, 1, CreateRoleInput{Name: "support-agent", ScopeKind: ScopeCustomer, PermissionCodes: []string{"tickets.view"}})
	require.NoError(t, err)
	_, err = svc.CreateRole(ctx, 1, CreateRoleInput{Name: "support-agent", ScopeKind: ScopePartner})
	require.ErrorIs(t, err, ErrDuplicateName)
}

func TestUpdateRolePermissionsReplacesWholesale(t *testing.T) {
	repo := newMemoryRepo()
	svc, invalidator := newTestService(repo)
	ctx := context.Background()
	seedCatalog(t, svc, "tickets.view", "tickets.edit", "invoices.view")

	role, err := svc.CreateRole(ctx, 1, CreateRoleInput{
		Name:            "support-agent",
		ScopeKind:       ScopeCustomer,
		PermissionCodes: []string{"tickets.view", "tickets.edit"},
	})
	require.NoError(t, err)
	require.NoError(t, svc.Assign(ctx, 1, AssignInput{PrincipalID: 7, RoleID: role.ID, ScopeInstanceID: "C-0042"}))

	updated, err := svc.UpdateRolePermissions(ctx, 1, role.ID, []string{"tickets.view", "invoices.view"}, "quarterly review")
	require.NoError(t, err)
	require.Equal(t, []string{"invoices.view", "tickets.view"}, updated.PermissionCodes)

	// The dropped code is revoked for every holder of the role.
	snap, err := repo.PrincipalSnapshot(ctx, 7)
	require.NoError(t, err)
	require.False(t, Evaluate(snap, "tickets.edit", &ScopeRef{Kind: ScopeCustomer, ID: "C-0042"}))
	require.True(t, Evaluate(snap, "tickets.view", &ScopeRef{Kind: ScopeCustomer, ID: "C-0042"}))

	last := repo.entries[len(repo.entries)-1]
	require.Equal(t, audit.ActionUpdate, last.Action)
	require.Equal(t, audit.RiskHigh, last.RiskLevel)
	require.Equal(t, "tickets.edit,tickets.view", last.Before["permission_codes"])
	require.Equal(t, "invoices.view,tickets.view", last.After["permission_codes"])
	require.Equal(t, "quarterly review", last.BusinessContext)
	require.NotZero(t, invalidator.all)
}

func TestDeleteRoleInUse(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	seedCatalog(t, svc, "tickets.view")

	role, err := svc.CreateRole(ctx, 1, CreateRoleInput{Name: "support-agent", ScopeKind: ScopeCustomer, PermissionCodes: []string{"tickets.view"}})
	require.NoError(t, err)
	require.NoError(t, svc.Assign(ctx, 1, AssignInput{PrincipalID: 7, RoleID: role.ID, ScopeInstanceID: "C-0042"}))

	err = svc.DeleteRole(ctx, 1, role.ID, false, "")
	require.ErrorIs(t, err, ErrRoleInUse)
	_, err = svc.Role(ctx, role.ID)
	require.NoError(t, err)
}

func TestDeleteRoleCascade(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	seedCatalog(t, svc, "tickets.view")

	role, err := svc.CreateRole(ctx, 1, CreateRoleInput{Name: "support-agent", ScopeKind: ScopeCustomer, PermissionCodes: []string{"tickets.view"}})
	require.NoError(t, err)
	require.NoError(t, svc.Assign(ctx, 1, AssignInput{PrincipalID: 7, RoleID: role.ID, ScopeInstanceID: "C-0042"}))
	require.NoError(t, svc.Assign(ctx, 1, AssignInput{PrincipalID: 8, RoleID: role.ID, ScopeInstanceID: "C-0099"}))

	require.NoError(t, svc.DeleteRole(ctx, 1, role.ID, true, "offboarding"))

	_, err = svc.Role(ctx, role.ID)
	require.ErrorIs(t, err, ErrRoleNotFound)
	require.Empty(t, repo.assignments)

	last := repo.entries[len(repo.entries)-1]
	require.Equal(t, audit.ActionDelete, last.Action)
	require.Equal(t, audit.RiskHigh, last.RiskLevel)
	require.Contains(t, last.BusinessContext, "cascade removed 2 assignments")
	require.True(t, strings.HasPrefix(last.BusinessContext, "offboarding"))
}

func TestAssignScopeValidation(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	seedCatalog(t, svc, "tickets.view", "invoices.view")

	customerRole, err := svc.CreateRole(ctx, 1, CreateRoleInput{Name: "support-agent", ScopeKind: ScopeCustomer, PermissionCodes: []string{"tickets.view"}})
	require.NoError(t, err)
	systemRole, err := svc.CreateRole(ctx, 1, CreateRoleInput{Name: "billing-admin", ScopeKind: ScopeSystem, PermissionCodes: []string{"invoices.view"}})
	require.NoError(t, err)

	// Scoped role without an instance.
	err = svc.Assign(ctx, 1, AssignInput{PrincipalID: 7, RoleID: customerRole.ID})
	require.ErrorIs(t, err, ErrScopeMismatch)

	// Instance of the wrong kind.
	err = svc.Assign(ctx, 1, AssignInput{PrincipalID: 7, RoleID: customerRole.ID, ScopeInstanceID: "P-0001"})
	require.ErrorIs(t, err, ErrScopeMismatch)

	// Unknown instance.
	err = svc.Assign(ctx, 1, AssignInput{PrincipalID: 7, RoleID: customerRole.ID, ScopeInstanceID: "C-1234"})
	require.ErrorIs(t, err, ErrUnknownScopeInstance)

	// System role with an instance.
	err = svc.Assign(ctx, 1, AssignInput{PrincipalID: 7, RoleID: systemRole.ID, ScopeInstanceID: "C-0042"})
	require.ErrorIs(t, err, ErrScopeMismatch)

	require.Empty(t, repo.assignments)

	require.NoError(t, svc.Assign(ctx, 1, AssignInput{PrincipalID: 7, RoleID: customerRole.ID, ScopeInstanceID: "C-0042"}))
	require.NoError(t, svc.Assign(ctx, 1, AssignInput{PrincipalID: 7, RoleID: systemRole.ID}))
	require.Len(t, repo.assignments, 2)
}

func TestAssignIdempotent(t *testing.T) {
	repo := newMemoryRepo()
	svc, invalidator := newTestService(repo)
	ctx := context.Background()
	seedCatalog(t, svc, "tickets.view")

	role, err := svc.CreateRole(ctx, 1, CreateRoleInput{Name: "support-agent", ScopeKind: ScopeCustomer, PermissionCodes: []string{"tickets.view"}})
	require.NoError(t, err)

	input := AssignInput{PrincipalID: 7, RoleID: role.ID, ScopeInstanceID: "C-0042"}
	require.NoError(t, svc.Assign(ctx, 1, input))
	audited := len(repo.entries)
	require.NoError(t, svc.Assign(ctx, 1, input))

	require.Len(t, repo.assignments, 1)
	require.Len(t, repo.entries, audited)
	require.Equal(t, []int64{7, 7}, invalidator.principals)

	last := repo.entries[audited-1]
	require.Equal(t, "role_assignment", last.EntityType)
	require.Equal(t, audit.RiskMedium, last.RiskLevel)
	require.Equal(t, "C-0042", last.After["scope_instance_id"])
}

func TestUnassignIdempotent(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	seedCatalog(t, svc, "tickets.view")

	role, err := svc.CreateRole(ctx, 1, CreateRoleInput{Name: "support-agent", ScopeKind: ScopeCustomer, PermissionCodes: []string{"tickets.view"}})
	require.NoError(t, err)
	input := AssignInput{PrincipalID: 7, RoleID: role.ID, ScopeInstanceID: "C-0042"}
	require.NoError(t, svc.Assign(ctx, 1, input))

	require.NoError(t, svc.Unassign(ctx, 1, input))
	require.Empty(t, repo.assignments)
	last := repo.entries[len(repo.entries)-1]
	require.Equal(t, audit.ActionDelete, last.Action)
	require.Equal(t, audit.RiskMedium, last.RiskLevel)
	require.Equal(t, "C-0042", last.Before["scope_instance_id"])

	// Removing an absent binding is a silent no-op.
	audited := len(repo.entries)
	require.NoError(t, svc.Unassign(ctx, 1, input))
	require.Len(t, repo.entries, audited)
}

func TestUnassignLocksRole(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	seedCatalog(t, svc, "tickets.view")

	role, err := svc.CreateRole(ctx, 1, CreateRoleInput{Name: "support-agent", ScopeKind: ScopeCustomer, PermissionCodes: []string{"tickets.view"}})
	require.NoError(t, err)
	input := AssignInput{PrincipalID: 7, RoleID: role.ID, ScopeInstanceID: "C-0042"}
	require.NoError(t, svc.Assign(ctx, 1, input))

	// Unassign must serialize on the role row like Assign does, so
	// two writers of the same binding cannot both read the same audit
	// chain head.
	repo.roleLocks = nil
	require.NoError(t, svc.Unassign(ctx, 1, input))
	require.Equal(t, []int64{role.ID}, repo.roleLocks)
}

func TestUnassignAfterRoleDeleted(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	seedCatalog(t, svc, "tickets.view")

	role, err := svc.CreateRole(ctx, 1, CreateRoleInput{Name: "support-agent", ScopeKind: ScopeCustomer, PermissionCodes: []string{"tickets.view"}})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteRole(ctx, 1, role.ID, false, ""))

	// A vanished role means the binding cannot exist; still a no-op.
	audited := len(repo.entries)
	require.NoError(t, svc.Unassign(ctx, 1, AssignInput{PrincipalID: 7, RoleID: role.ID, ScopeInstanceID: "C-0042"}))
	require.Len(t, repo.entries, audited)
}

func TestAuditWriteFailureRollsBackMutation(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	seedCatalog(t, svc, "tickets.view")
	repo.auditFail = true

	_, err := svc.CreateRole(ctx, 1, CreateRoleInput{Name: "support-agent", ScopeKind: ScopeCustomer, PermissionCodes: []string{"tickets.view"}})
	require.ErrorIs(t, err, audit.ErrWriteFailure)

	// The role mutation must not survive the failed audit write.
	repo.auditFail = false
	_, err = svc.RoleByName(ctx, "support-agent")
	require.ErrorIs(t, err, ErrRoleNotFound)
}
