package rbac

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/northwire-isp/northwire/internal/shared"
)

type stubChecker struct {
	granted   bool
	err       error
	lastCode  string
	lastScope *ScopeRef
	lastID    int64
}

func (c *stubChecker) Check(ctx context.Context, principalID int64, code string, scope *ScopeRef) (bool, error) {
	c.lastID = principalID
	c.lastCode = code
	c.lastScope = scope
	return c.granted, c.err
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestWithPrincipal(principalID int64) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	return req.WithContext(shared.ContextWithPrincipal(req.Context(), principalID))
}

func TestRequireDeniesAnonymous(t *testing.T) {
	checker := &stubChecker{granted: true}
	mw := Middleware{Checker: checker}

	rec := httptest.NewRecorder()
	mw.Require("tickets.view", nil)(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Empty(t, checker.lastCode)
}

func TestRequireGrants(t *testing.T) {
	checker := &stubChecker{granted: true}
	var decisions []bool
	mw := Middleware{Checker: checker, Decisions: func(granted bool) { decisions = append(decisions, granted) }}

	rec := httptest.NewRecorder()
	mw.Require("tickets.view", nil)(okHandler()).ServeHTTP(rec, requestWithPrincipal(7))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(7), checker.lastID)
	require.Equal(t, "tickets.view", checker.lastCode)
	require.Equal(t, []bool{true}, decisions)
}

func TestRequireDenies(t *testing.T) {
	checker := &stubChecker{granted: false}
	var decisions []bool
	mw := Middleware{Checker: checker, Decisions: func(granted bool) { decisions = append(decisions, granted) }}

	rec := httptest.NewRecorder()
	mw.Require("tickets.edit", nil)(okHandler()).ServeHTTP(rec, requestWithPrincipal(7))

	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, []bool{false}, decisions)
	// Denials respond as problem details and never name the roles
	// that were evaluated.
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Body.String(), `"status":403`)
	require.NotContains(t, rec.Body.String(), "role")
}

func TestRequireCheckerErrorIs500(t *testing.T) {
	checker := &stubChecker{err: errors.New("store down")}
	mw := Middleware{Checker: checker}

	rec := httptest.NewRecorder()
	mw.Require("tickets.view", nil)(okHandler()).ServeHTTP(rec, requestWithPrincipal(7))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestScopeFromParam(t *testing.T) {
	checker := &stubChecker{granted: true}
	mw := Middleware{Checker: checker}

	r := chi.NewRouter()
	r.With(mw.Require("tickets.view", ScopeFromParam(ScopeCustomer, "customerID"))).
		Get("/customers/{customerID}/tickets", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/customers/C-0042/tickets", nil)
	req = req.WithContext(shared.ContextWithPrincipal(req.Context(), 7))
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, checker.lastScope)
	require.Equal(t, ScopeCustomer, checker.lastScope.Kind)
	require.Equal(t, "C-0042", checker.lastScope.ID)
}
