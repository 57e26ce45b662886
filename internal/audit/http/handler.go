// Package audithttp exposes the audit timeline over JSON endpoints.
package audithttp

import (
	"encoding/hex"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/northwire-isp/northwire/internal/audit"
	"github.com/northwire-isp/northwire/internal/platform/httpx"
	"github.com/northwire-isp/northwire/internal/rbac"
	"github.com/northwire-isp/northwire/internal/shared"
)

// Handler serves the audit timeline, CSV export and chain verification.
type Handler struct {
	logger  *slog.Logger
	service *audit.Service
	guard   rbac.Middleware
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *audit.Service, guard rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, guard: guard}
}

// MountRoutes registers audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.guard.Require(shared.PermAuditView, nil)).Get("/", h.timeline)
	r.With(h.guard.Require(shared.PermAuditExport, nil)).Get("/export.csv", h.exportCSV)
	r.With(h.guard.Require(shared.PermAuditVerify, nil)).Get("/verify", h.verify)
}

type recordResponse struct {
	ID              string            `json:"id"`
	Timestamp       time.Time         `json:"timestamp"`
	ActorID         int64             `json:"actor_id"`
	Action          string            `json:"action"`
	EntityType      string            `json:"entity_type"`
	EntityID        string            `json:"entity_id"`
	Before          map[string]string `json:"before,omitempty"`
	After           map[string]string `json:"after,omitempty"`
	RiskLevel       string            `json:"risk_level"`
	BusinessContext string            `json:"business_context,omitempty"`
	EntryHash       string            `json:"entry_hash"`
}

type timelineResponse struct {
	Rows   []recordResponse `json:"rows"`
	Paging audit.PagingInfo `json:"paging"`
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Timeline(r.Context(), parseFilters(r))
	if err != nil {
		h.logger.Error("audit timeline", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	rows := make([]recordResponse, 0, len(result.Rows))
	for _, rec := range result.Rows {
		rows = append(rows, recordResponse{
			ID:              rec.ID.String(),
			Timestamp:       rec.Timestamp,
			ActorID:         rec.ActorID,
			Action:          string(rec.Action),
			EntityType:      rec.EntityType,
			EntityID:        rec.EntityID,
			Before:          rec.Before,
			After:           rec.After,
			RiskLevel:       string(rec.RiskLevel),
			BusinessContext: rec.BusinessContext,
			EntryHash:       hex.EncodeToString(rec.EntryHash),
		})
	}
	httpx.JSON(w, http.StatusOK, timelineResponse{Rows: rows, Paging: result.Paging})
}

func (h *Handler) exportCSV(w http.ResponseWriter, r *http.Request) {
	data, err := h.service.ExportCSV(r.Context(), parseFilters(r))
	if err != nil {
		h.logger.Error("audit export", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-timeline.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type verifyResponse struct {
	Intact   bool `json:"intact"`
	BrokenAt int  `json:"broken_at"`
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	entityType := r.URL.Query().Get("entity_type")
	entityID := r.URL.Query().Get("entity_id")
	if entityType == "" || entityID == "" {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "entity_type and entity_id are required")
		return
	}
	brokenAt, err := h.service.VerifyEntity(r.Context(), entityType, entityID)
	if err != nil && brokenAt < 0 {
		h.logger.Error("audit verify", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, verifyResponse{Intact: brokenAt < 0, BrokenAt: brokenAt})
}

func parseFilters(r *http.Request) audit.TimelineFilters {
	q := r.URL.Query()
	f := audit.TimelineFilters{
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		Action:     q.Get("action"),
		RiskLevel:  q.Get("risk_level"),
	}
	if v := q.Get("actor_id"); v != "" {
		f.ActorID, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := q.Get("from"); v != "" {
		f.From, _ = time.Parse(time.RFC3339, v)
	}
	if v := q.Get("to"); v != "" {
		f.To, _ = time.Parse(time.RFC3339, v)
	}
	if v := q.Get("page"); v != "" {
		f.Page, _ = strconv.Atoi(v)
	}
	if v := q.Get("page_size"); v != "" {
		f.PageSize, _ = strconv.Atoi(v)
	}
	return f
}
