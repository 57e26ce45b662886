package rbac

import (
	"context"
	"log/slog"
)

// Evaluate decides whether the snapshot grants the permission code
// within the requested scope. It is pure and side-effect-free so it
// can be called from any entry point without framework coupling.
//
// The policy is fail-closed: a grant requires an assignment whose role
// contains the code and either is system-scoped (scope-unrestricted,
// overriding any requested scope) or matches the requested scope kind
// and instance exactly.
func Evaluate(snap Snapshot, code string, scope *ScopeRef) bool {
	for _, a := range snap.Assignments {
		role, ok := snap.Roles[a.RoleID]
		if !ok {
			continue
		}
		if !role.HasPermission(code) {
			continue
		}
		if role.ScopeKind == ScopeSystem {
			return true
		}
		if scope == nil {
			continue
		}
		if role.ScopeKind == scope.Kind && a.ScopeInstanceID == scope.ID {
			return true
		}
	}
	return false
}

// SnapshotSource loads a transactionally consistent view of one
// principal's assignments and roles. No partially-applied role update
// may ever be observable through it.
type SnapshotSource interface {
	PrincipalSnapshot(ctx context.Context, principalID int64) (Snapshot, error)
}

// GrantSource caches derived grant sets per principal. Entries must be
// invalidated immediately on any role, assignment or catalog mutation;
// the engine works without a cache when nil.
type GrantSource interface {
	Get(ctx context.Context, principalID int64) (GrantSet, bool, error)
	Put(ctx context.Context, principalID int64, grants GrantSet) error
}

// Engine answers authorization checks against the current state.
type Engine struct {
	source SnapshotSource
	cache  GrantSource
	logger *slog.Logger
}

// NewEngine constructs an Engine. cache may be nil.
func NewEngine(source SnapshotSource, cache GrantSource, logger *slog.Logger) *Engine {
	return &Engine{source: source, cache: cache, logger: logger}
}

// Check reports whether the principal may perform the permission code
// within the given scope. A nil scope requests an unscoped check,
// which only system-scoped grants satisfy. A store failure surfaces
// immediately as an error; it is never retried here.
func (e *Engine) Check(ctx context.Context, principalID int64, code string, scope *ScopeRef) (bool, error) {
	if e.cache != nil {
		grants, ok, err := e.cache.Get(ctx, principalID)
		if err != nil {
			// Cache trouble must not turn into a spurious deny or
			// grant; fall through to the store.
			if e.logger != nil {
				e.logger.Warn("rbac grant cache read", slog.Any("error", err))
			}
		} else if ok {
			return grants.Allows(code, scope), nil
		}
	}

	snap, err := e.source.PrincipalSnapshot(ctx, principalID)
	if err != nil {
		return false, err
	}
	if e.cache != nil {
		if err := e.cache.Put(ctx, principalID, GrantSetFromSnapshot(snap)); err != nil && e.logger != nil {
			e.logger.Warn("rbac grant cache write", slog.Any("error", err))
		}
	}
	return Evaluate(snap, code, scope), nil
}
