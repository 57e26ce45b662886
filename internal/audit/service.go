package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Repository provides the read queries the timeline service needs.
type Repository interface {
	TimelineWindow(ctx context.Context, f TimelineFilters, limit, offset int) ([]Record, error)
	TimelineAll(ctx context.Context, f TimelineFilters) ([]Record, error)
	EntityHistory(ctx context.Context, entityType, entityID string) ([]Record, error)
}

// Service coordinates audit timeline reads and chain verification.
type Service struct {
	repo Repository
}

// NewService constructs a timeline service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline returns one page of the audit timeline.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize

	// Fetch one extra row to detect whether a next page exists.
	rows, err := s.repo.TimelineWindow(ctx, filters, pageSize+1, offset)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// ExportCSV renders the full filtered timeline as CSV.
func (s *Service) ExportCSV(ctx context.Context, filters TimelineFilters) ([]byte, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	rows, err := s.repo.TimelineAll(ctx, filters)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := []string{"id", "timestamp", "actor_id", "action", "entity_type", "entity_id", "risk_level", "business_context", "entry_hash"}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, rec := range rows {
		line := []string{
			rec.ID.String(),
			rec.Timestamp.Format(time.RFC3339Nano),
			strconv.FormatInt(rec.ActorID, 10),
			string(rec.Action),
			rec.EntityType,
			rec.EntityID,
			string(rec.RiskLevel),
			rec.BusinessContext,
			hex.EncodeToString(rec.EntryHash),
		}
		if err := w.Write(line); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// VerifyEntity walks an entity's full history and checks the hash
// chain. It returns the index of the first broken record, or -1 when
// the chain is intact.
func (s *Service) VerifyEntity(ctx context.Context, entityType, entityID string) (int, error) {
	if s.repo == nil {
		return -1, fmt.Errorf("audit: repository not configured")
	}
	records, err := s.repo.EntityHistory(ctx, entityType, entityID)
	if err != nil {
		return -1, err
	}
	return VerifyChain(records)
}
