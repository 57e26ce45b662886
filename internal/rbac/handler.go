package rbac

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/northwire-isp/northwire/internal/audit"
	"github.com/northwire-isp/northwire/internal/platform/httpx"
	"github.com/northwire-isp/northwire/internal/shared"
)

// Handler exposes the RBAC core over JSON endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	engine   Checker
	sync     *Synchronizer
	guard    Middleware
	validate *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service, engine Checker, sync *Synchronizer, guard Middleware) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		engine:   engine,
		sync:     sync,
		guard:    guard,
		validate: validator.New(),
	}
}

// MountRoutes registers RBAC routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/permissions", func(r chi.Router) {
		r.With(h.guard.Require(shared.PermPermissionsView, nil)).Get("/", h.listPermissions)
		r.With(h.guard.Require(shared.PermPermissionsEdit, nil)).Post("/", h.registerPermission)
	})
	r.Route("/roles", func(r chi.Router) {
		r.With(h.guard.Require(shared.PermRolesView, nil)).Get("/", h.listRoles)
		r.With(h.guard.Require(shared.PermRolesView, nil)).Get("/{roleID}", h.getRole)
		r.With(h.guard.Require(shared.PermRolesEdit, nil)).Post("/", h.createRole)
		r.With(h.guard.Require(shared.PermRolesEdit, nil)).Put("/{roleID}/permissions", h.updateRolePermissions)
		r.With(h.guard.Require(shared.PermRolesEdit, nil)).Delete("/{roleID}", h.deleteRole)
	})
	r.Route("/assignments", func(r chi.Router) {
		r.Use(h.guard.Require(shared.PermAssignmentsEdit, nil))
		r.Post("/", h.assign)
		r.Delete("/", h.unassign)
	})
	r.With(h.guard.Require(shared.PermRolesView, nil)).Post("/authz/check", h.check)
	r.With(h.guard.Require(shared.PermBootstrapRun, nil)).Post("/bootstrap/sync", h.bootstrapSync)
}

type permissionResponse struct {
	Code        string    `json:"code"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

type roleResponse struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	ScopeKind       ScopeKind `json:"scope_kind"`
	PermissionCodes []string  `json:"permission_codes"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toRoleResponse(role Role) roleResponse {
	return roleResponse{
		ID:              role.ID,
		Name:            role.Name,
		Description:     role.Description,
		ScopeKind:       role.ScopeKind,
		PermissionCodes: role.PermissionCodes,
		CreatedAt:       role.CreatedAt,
		UpdatedAt:       role.UpdatedAt,
	}
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]permissionResponse, 0, len(perms))
	for _, p := range perms {
		out = append(out, permissionResponse{Code: p.Code, Description: p.Description, CreatedAt: p.CreatedAt})
	}
	httpx.JSON(w, http.StatusOK, out)
}

type registerPermissionRequest struct {
	Code        string `json:"code" validate:"required"`
	Description string `json:"description"`
}

func (h *Handler) registerPermission(w http.ResponseWriter, r *http.Request) {
	var req registerPermissionRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor, _ := shared.PrincipalFromContext(r.Context())
	perm, err := h.service.RegisterPermission(r.Context(), actor, req.Code, req.Description)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, permissionResponse{Code: perm.Code, Description: perm.Description, CreatedAt: perm.CreatedAt})
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.Roles(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]roleResponse, 0, len(roles))
	for _, role := range roles {
		out = append(out, toRoleResponse(role))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.roleID(w, r)
	if !ok {
		return
	}
	role, err := h.service.Role(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRoleResponse(role))
}

type createRoleRequest struct {
	Name            string   `json:"name" validate:"required"`
	Description     string   `json:"description"`
	ScopeKind       string   `json:"scope_kind" validate:"required,oneof=system partner reseller customer"`
	PermissionCodes []string `json:"permission_codes"`
	Note            string   `json:"note"`
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor, _ := shared.PrincipalFromContext(r.Context())
	role, err := h.service.CreateRole(r.Context(), actor, CreateRoleInput{
		Name:            req.Name,
		Description:     req.Description,
		ScopeKind:       ScopeKind(req.ScopeKind),
		PermissionCodes: req.PermissionCodes,
		Note:            req.Note,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toRoleResponse(role))
}

type updateRolePermissionsRequest struct {
	PermissionCodes []string `json:"permission_codes" validate:"required"`
	Note            string   `json:"note"`
}

func (h *Handler) updateRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.roleID(w, r)
	if !ok {
		return
	}
	var req updateRolePermissionsRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor, _ := shared.PrincipalFromContext(r.Context())
	role, err := h.service.UpdateRolePermissions(r.Context(), actor, id, req.PermissionCodes, req.Note)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRoleResponse(role))
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.roleID(w, r)
	if !ok {
		return
	}
	cascade := r.URL.Query().Get("cascade") == "true"
	actor, _ := shared.PrincipalFromContext(r.Context())
	if err := h.service.DeleteRole(r.Context(), actor, id, cascade, r.URL.Query().Get("note")); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type assignmentRequest struct {
	PrincipalID     int64  `json:"principal_id" validate:"required"`
	RoleID          int64  `json:"role_id" validate:"required"`
	ScopeInstanceID string `json:"scope_instance_id"`
	Note            string `json:"note"`
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	var req assignmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor, _ := shared.PrincipalFromContext(r.Context())
	err := h.service.Assign(r.Context(), actor, AssignInput{
		PrincipalID:     req.PrincipalID,
		RoleID:          req.RoleID,
		ScopeInstanceID: req.ScopeInstanceID,
		Note:            req.Note,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) unassign(w http.ResponseWriter, r *http.Request) {
	var req assignmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor, _ := shared.PrincipalFromContext(r.Context())
	err := h.service.Unassign(r.Context(), actor, AssignInput{
		PrincipalID:     req.PrincipalID,
		RoleID:          req.RoleID,
		ScopeInstanceID: req.ScopeInstanceID,
		Note:            req.Note,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type checkRequest struct {
	PrincipalID    int64  `json:"principal_id" validate:"required"`
	PermissionCode string `json:"permission_code" validate:"required"`
	ScopeKind      string `json:"scope_kind" validate:"omitempty,oneof=partner reseller customer"`
	ScopeID        string `json:"scope_id"`
}

type checkResponse struct {
	Granted bool `json:"granted"`
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !h.decode(w, r, &req) {
		return
	}
	var scope *ScopeRef
	if req.ScopeKind != "" && req.ScopeID != "" {
		scope = &ScopeRef{Kind: ScopeKind(req.ScopeKind), ID: req.ScopeID}
	}
	granted, err := h.engine.Check(r.Context(), req.PrincipalID, req.PermissionCode, scope)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, checkResponse{Granted: granted})
}

func (h *Handler) bootstrapSync(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.PrincipalFromContext(r.Context())
	role, err := h.sync.EnsurePrivilegedRole(r.Context(), actor, shared.AllScopes())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRoleResponse(role))
}

func (h *Handler) roleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "roleID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid role id")
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrRoleNotFound), errors.Is(err, ErrPermissionNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicateName), errors.Is(err, ErrDuplicateCode), errors.Is(err, ErrRoleInUse):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrScopeMismatch), errors.Is(err, ErrUnknownPermission), errors.Is(err, ErrUnknownScopeInstance):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	case errors.Is(err, ErrAuthorizationDenied):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
	case errors.Is(err, audit.ErrWriteFailure):
		if h.logger != nil {
			h.logger.Error("audit write failed, mutation rolled back", slog.Any("error", err))
		}
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	default:
		if h.logger != nil {
			h.logger.Error("rbac handler", slog.Any("error", err))
		}
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
