package principals

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/northwire-isp/northwire/internal/platform/httpx"
	"github.com/northwire-isp/northwire/internal/rbac"
	"github.com/northwire-isp/northwire/internal/shared"
)

// Handler exposes the principal directory over JSON endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	guard   rbac.Middleware
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service, guard rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, guard: guard}
}

// MountRoutes registers principal routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.guard.Require(shared.PermPrincipalsView, nil)).Get("/", h.list)
}

type principalResponse struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

type principalListResponse struct {
	Principals []principalResponse `json:"principals"`
	Page       int                 `json:"page"`
	PerPage    int                 `json:"per_page"`
	Total      int                 `json:"total"`
	TotalPages int                 `json:"total_pages"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))

	principals, paging, err := h.service.ListPrincipals(r.Context(), page, perPage)
	if err != nil {
		h.logger.Error("list principals", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	out := principalListResponse{
		Principals: make([]principalResponse, 0, len(principals)),
		Page:       paging.Page,
		PerPage:    paging.PerPage,
		Total:      paging.Total,
		TotalPages: paging.TotalPages,
	}
	for _, p := range principals {
		out.Principals = append(out.Principals, principalResponse{ID: p.ID, Email: p.Email, Name: p.Name, IsActive: p.IsActive, CreatedAt: p.CreatedAt})
	}
	httpx.JSON(w, http.StatusOK, out)
}
