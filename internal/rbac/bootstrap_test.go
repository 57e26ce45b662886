package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/northwire-isp/northwire/internal/audit"
)

func TestEnsurePrivilegedRoleCreates(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	sync := NewSynchronizer(svc, nil)
	ctx := context.Background()
	seedCatalog(t, svc, "tickets.view", "invoices.view")

	role, err := sync.EnsurePrivilegedRole(ctx, SystemActorID, []string{"tickets.view", "invoices.view"})
	require.NoError(t, err)
	require.Equal(t, PrivilegedRoleName, role.Name)
	require.Equal(t, ScopeSystem, role.ScopeKind)
	require.Equal(t, []string{"invoices.view", "tickets.view"}, role.PermissionCodes)

	last := repo.entries[len(repo.entries)-1]
	require.Equal(t, audit.ActionCreate, last.Action)
	require.Equal(t, int64(0), last.ActorID)
	require.Equal(t, "bootstrap reconciliation", last.BusinessContext)
}

func TestEnsurePrivilegedRoleIdempotent(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	sync := NewSynchronizer(svc, nil)
	ctx := context.Background()
	seedCatalog(t, svc, "tickets.view", "invoices.view")

	_, err := sync.EnsurePrivilegedRole(ctx, SystemActorID, []string{"tickets.view", "invoices.view"})
	require.NoError(t, err)
	audited := len(repo.entries)

	role, err := sync.EnsurePrivilegedRole(ctx, SystemActorID, []string{"tickets.view", "invoices.view"})
	require.NoError(t, err)
	require.Equal(t, []string{"invoices.view", "tickets.view"}, role.PermissionCodes)
	// An unchanged catalog performs no mutation and writes no audit.
	require.Len(t, repo.entries, audited)
}

func TestEnsurePrivilegedRoleGrowsWithCatalog(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	sync := NewSynchronizer(svc, nil)
	ctx := context.Background()
	seedCatalog(t, svc, "tickets.view")

	_, err := sync.EnsurePrivilegedRole(ctx, SystemActorID, []string{"tickets.view"})
	require.NoError(t, err)

	seedCatalog(t, svc, "network.provision")
	role, err := sync.EnsurePrivilegedRole(ctx, SystemActorID, []string{"tickets.view", "network.provision"})
	require.NoError(t, err)
	require.Equal(t, []string{"network.provision", "tickets.view"}, role.PermissionCodes)

	last := repo.entries[len(repo.entries)-1]
	require.Equal(t, audit.ActionUpdate, last.Action)
	require.Equal(t, audit.RiskHigh, last.RiskLevel)
}

func TestEnsurePrivilegedRoleNeverShrinks(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	sync := NewSynchronizer(svc, nil)
	ctx := context.Background()
	seedCatalog(t, svc, "tickets.view", "invoices.view")

	_, err := sync.EnsurePrivilegedRole(ctx, SystemActorID, []string{"tickets.view", "invoices.view"})
	require.NoError(t, err)

	// A code leaving the declared catalog is retained, not revoked.
	role, err := sync.EnsurePrivilegedRole(ctx, SystemActorID, []string{"tickets.view"})
	require.NoError(t, err)
	require.Equal(t, []string{"invoices.view", "tickets.view"}, role.PermissionCodes)
}

func TestEnsurePrivilegedRoleRefreshesCachedGrants(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	grantCache := NewGrantCache(client, time.Minute)

	repo := newMemoryRepo()
	svc := NewService(repo, nil, grantCache, nil)
	sync := NewSynchronizer(svc, nil)
	engine := NewEngine(repo, grantCache, nil)
	ctx := context.Background()

	seedCatalog(t, svc, "tickets.view")
	role, err := sync.EnsurePrivilegedRole(ctx, SystemActorID, []string{"tickets.view"})
	require.NoError(t, err)
	require.NoError(t, svc.Assign(ctx, 1, AssignInput{PrincipalID: 7, RoleID: role.ID}))

	// Warm the cache with the pre-growth grant set.
	granted, err := engine.Check(ctx, 7, "tickets.view", nil)
	require.NoError(t, err)
	require.True(t, granted)
	granted, err = engine.Check(ctx, 7, "network.provision", nil)
	require.NoError(t, err)
	require.False(t, granted)

	seedCatalog(t, svc, "network.provision")
	_, err = sync.EnsurePrivilegedRole(ctx, SystemActorID, []string{"tickets.view", "network.provision"})
	require.NoError(t, err)

	// The growth invalidated every cached principal, so the new code
	// is granted on the next check rather than after a TTL expiry.
	granted, err = engine.Check(ctx, 7, "network.provision", nil)
	require.NoError(t, err)
	require.True(t, granted)
}

func TestEnsurePrivilegedRoleNeverAssigns(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	sync := NewSynchronizer(svc, nil)
	ctx := context.Background()
	seedCatalog(t, svc, "tickets.view")

	_, err := sync.EnsurePrivilegedRole(ctx, SystemActorID, []string{"tickets.view"})
	require.NoError(t, err)
	require.Empty(t, repo.assignments)
}
