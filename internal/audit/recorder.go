package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, so the recorder
// can write standalone or inside a caller's transaction. The strict
// policy depends on the latter: a privileged mutation passes its own
// transaction in, and a failed audit write rolls the whole thing back.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Recorder appends immutable audit records.
type Recorder struct {
	db    DBTX
	clock func() time.Time
}

// NewRecorder constructs a Recorder over the given connection or
// transaction.
func NewRecorder(db DBTX) *Recorder {
	return &Recorder{
		db: db,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Log persists one entry and returns its generated id. Timestamps for
// the same entity are strictly increasing so an entity's mutation
// history can be reconstructed in order.
func (r *Recorder) Log(ctx context.Context, e Entry) (uuid.UUID, error) {
	if err := e.Validate(); err != nil {
		return uuid.Nil, err
	}

	var lastTS time.Time
	var prevHash []byte
	err := r.db.QueryRow(ctx,
		`SELECT ts, entry_hash FROM audit_log WHERE entity_type = $1 AND entity_id = $2 ORDER BY ts DESC LIMIT 1`,
		e.EntityType, e.EntityID,
	).Scan(&lastTS, &prevHash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("%w: read chain head: %v", ErrWriteFailure, err)
	}

	ts := nextTimestamp(lastTS, r.clock())
	id := uuid.New()
	entryHash := ComputeHash(prevHash, id, ts, e)

	beforeJSON, err := marshalSnapshot(e.Before)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: encode before: %v", ErrWriteFailure, err)
	}
	afterJSON, err := marshalSnapshot(e.After)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: encode after: %v", ErrWriteFailure, err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO audit_log (id, ts, actor_id, action, entity_type, entity_id, before_json, after_json, risk_level, business_context, prev_hash, entry_hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), $11, $12)`,
		id, ts, e.ActorID, string(e.Action), e.EntityType, e.EntityID,
		beforeJSON, afterJSON, string(e.RiskLevel), e.BusinessContext, prevHash, entryHash,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}
	return id, nil
}

// nextTimestamp keeps per-entity timestamps strictly increasing even
// when the clock stalls or steps backwards between writes.
func nextTimestamp(last, now time.Time) time.Time {
	now = now.Truncate(time.Microsecond)
	if !now.After(last) {
		return last.Add(time.Microsecond)
	}
	return now
}

func marshalSnapshot(s Snapshot) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}
