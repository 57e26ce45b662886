package rbac

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/northwire-isp/northwire/internal/platform/httpx"
	"github.com/northwire-isp/northwire/internal/shared"
)

// Checker is the authorization decision surface the middleware needs.
type Checker interface {
	Check(ctx context.Context, principalID int64, code string, scope *ScopeRef) (bool, error)
}

// ScopeExtractor derives the requested scope from the request, or nil
// for unscoped endpoints.
type ScopeExtractor func(r *http.Request) *ScopeRef

// ScopeFromParam extracts a scope instance id from a chi URL parameter.
func ScopeFromParam(kind ScopeKind, param string) ScopeExtractor {
	return func(r *http.Request) *ScopeRef {
		id := chi.URLParam(r, param)
		if id == "" {
			return nil
		}
		return &ScopeRef{Kind: kind, ID: id}
	}
}

// Middleware wires authorization checks into HTTP handlers. Every
// guarded request runs a fresh check; there is no per-request caching
// beyond the engine's invalidated grant cache.
type Middleware struct {
	Checker Checker
	Logger  *slog.Logger

	// Decisions, when set, observes every grant/deny outcome.
	Decisions func(granted bool)
}

// Require ensures the current principal holds the permission within
// the extracted scope. Denials respond 403 without revealing which
// roles were evaluated.
func (m Middleware) Require(code string, scope ScopeExtractor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principalID, ok := shared.PrincipalFromContext(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
				return
			}
			var ref *ScopeRef
			if scope != nil {
				ref = scope(r)
			}
			granted, err := m.Checker.Check(r.Context(), principalID, code, ref)
			if err == nil && !granted {
				err = ErrAuthorizationDenied
			}
			if m.Decisions != nil && (err == nil || errors.Is(err, ErrAuthorizationDenied)) {
				m.Decisions(err == nil)
			}
			if errors.Is(err, ErrAuthorizationDenied) {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
				return
			}
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("rbac require", slog.String("permission", code), slog.Any("error", err))
				}
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
