package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// Store reads persisted audit records. There is intentionally no
// update or delete here: the log is append-only.
type Store struct {
	db DBTX
}

// NewStore constructs a Store.
func NewStore(db DBTX) *Store {
	return &Store{db: db}
}

const timelineColumns = `id, ts, actor_id, action, entity_type, entity_id, before_json, after_json, risk_level, COALESCE(business_context, ''), prev_hash, entry_hash`

// TimelineWindow returns one page of the timeline, newest first.
func (s *Store) TimelineWindow(ctx context.Context, f TimelineFilters, limit, offset int) ([]Record, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+timelineColumns+`
		 FROM audit_log
		 WHERE ($1::timestamptz IS NULL OR ts >= $1)
		   AND ($2::timestamptz IS NULL OR ts <= $2)
		   AND ($3::bigint = 0 OR actor_id = $3)
		   AND ($4::text = '' OR entity_type = $4)
		   AND ($5::text = '' OR entity_id = $5)
		   AND ($6::text = '' OR action = $6)
		   AND ($7::text = '' OR risk_level = $7)
		 ORDER BY ts DESC
		 LIMIT $8 OFFSET $9`,
		toPgTime(f.From), toPgTime(f.To), f.ActorID, f.EntityType, f.EntityID, f.Action, f.RiskLevel,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// TimelineAll returns the full filtered timeline, newest first.
func (s *Store) TimelineAll(ctx context.Context, f TimelineFilters) ([]Record, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+timelineColumns+`
		 FROM audit_log
		 WHERE ($1::timestamptz IS NULL OR ts >= $1)
		   AND ($2::timestamptz IS NULL OR ts <= $2)
		   AND ($3::bigint = 0 OR actor_id = $3)
		   AND ($4::text = '' OR entity_type = $4)
		   AND ($5::text = '' OR entity_id = $5)
		   AND ($6::text = '' OR action = $6)
		   AND ($7::text = '' OR risk_level = $7)
		 ORDER BY ts DESC`,
		toPgTime(f.From), toPgTime(f.To), f.ActorID, f.EntityType, f.EntityID, f.Action, f.RiskLevel,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// EntityHistory returns every record for one entity, oldest first,
// which is the order the hash chain is verified in.
func (s *Store) EntityHistory(ctx context.Context, entityType, entityID string) ([]Record, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+timelineColumns+`
		 FROM audit_log
		 WHERE entity_type = $1 AND entity_id = $2
		 ORDER BY ts ASC`,
		entityType, entityID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanRecords(rows pgxRows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var rec Record
		var id uuid.UUID
		var beforeJSON, afterJSON []byte
		var action, risk string
		if err := rows.Scan(&id, &rec.Timestamp, &rec.ActorID, &action, &rec.EntityType, &rec.EntityID,
			&beforeJSON, &afterJSON, &risk, &rec.BusinessContext, &rec.PrevHash, &rec.EntryHash); err != nil {
			return nil, err
		}
		rec.ID = id
		rec.Action = Action(action)
		rec.RiskLevel = RiskLevel(risk)
		if beforeJSON != nil {
			if err := json.Unmarshal(beforeJSON, &rec.Before); err != nil {
				return nil, err
			}
		}
		if afterJSON != nil {
			if err := json.Unmarshal(afterJSON, &rec.After); err != nil {
				return nil, err
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}
