package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// GrantSet is the derived set of grant keys for one principal. A key
// is either "code|system" for scope-unrestricted grants or
// "code|kind:instance" for scope-narrowed ones.
type GrantSet map[string]struct{}

// GrantSetFromSnapshot derives the grant keys from a principal snapshot.
func GrantSetFromSnapshot(snap Snapshot) GrantSet {
	set := make(GrantSet)
	for _, a := range snap.Assignments {
		role, ok := snap.Roles[a.RoleID]
		if !ok {
			continue
		}
		for _, code := range role.PermissionCodes {
			if role.ScopeKind == ScopeSystem {
				set[code+"|system"] = struct{}{}
				continue
			}
			set[fmt.Sprintf("%s|%s:%s", code, role.ScopeKind, a.ScopeInstanceID)] = struct{}{}
		}
	}
	return set
}

// Allows mirrors Evaluate over the derived grant keys.
func (g GrantSet) Allows(code string, scope *ScopeRef) bool {
	if _, ok := g[code+"|system"]; ok {
		return true
	}
	if scope == nil {
		return false
	}
	_, ok := g[fmt.Sprintf("%s|%s:%s", code, scope.Kind, scope.ID)]
	return ok
}

const grantGenKey = "rbac:grants:gen"

// GrantCache stores derived grant sets in Redis. Keys embed a
// generation counter: bumping the generation invalidates every cached
// principal at once, which is how role and catalog mutations (whose
// blast radius spans principals) take effect immediately.
type GrantCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewGrantCache constructs a GrantCache with the given entry TTL.
func NewGrantCache(client *redis.Client, ttl time.Duration) *GrantCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &GrantCache{client: client, ttl: ttl}
}

// Get fetches the cached grant set for a principal.
func (c *GrantCache) Get(ctx context.Context, principalID int64) (GrantSet, bool, error) {
	key, err := c.key(ctx, principalID)
	if err != nil {
		return nil, false, err
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var keys []string
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, false, err
	}
	set := make(GrantSet, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set, true, nil
}

// Put stores the grant set for a principal under the current generation.
func (c *GrantCache) Put(ctx context.Context, principalID int64, grants GrantSet) error {
	key, err := c.key(ctx, principalID)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(grants))
	for k := range grants {
		keys = append(keys, k)
	}
	raw, err := json.Marshal(keys)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, raw, c.ttl).Err()
}

// Invalidate drops the cached grants for one principal. Used on
// assignment mutations, whose blast radius is a single principal.
func (c *GrantCache) Invalidate(ctx context.Context, principalID int64) error {
	key, err := c.key(ctx, principalID)
	if err != nil {
		return err
	}
	return c.client.Del(ctx, key).Err()
}

// InvalidateAll bumps the generation, orphaning every cached entry.
// Used on role and catalog mutations.
func (c *GrantCache) InvalidateAll(ctx context.Context) error {
	return c.client.Incr(ctx, grantGenKey).Err()
}

func (c *GrantCache) key(ctx context.Context, principalID int64) (string, error) {
	gen, err := c.client.Get(ctx, grantGenKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	return fmt.Sprintf("rbac:grants:%d:%d", gen, principalID), nil
}
