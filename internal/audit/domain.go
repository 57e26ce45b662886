package audit

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Action enumerates the mutation kinds an entry can record.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Valid reports whether the action is one of the known kinds.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// RiskLevel classifies how sensitive the recorded mutation is.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Valid reports whether the risk level is one of the known levels.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}

// Snapshot is a flat key-value projection of an entity's persisted
// fields, captured by the caller immediately before or after its own
// mutation. The recorder stores it verbatim and never computes diffs.
type Snapshot map[string]string

// Projectable is implemented by entities that can be captured into an
// audit snapshot. Every collaborator that mutates privileged state
// supplies its snapshots through this contract so the recorder's input
// shape stays uniform.
type Projectable interface {
	ToProjection() map[string]string
}

// Capture flattens an entity into the snapshot shape the recorder
// stores.
func Capture(p Projectable) Snapshot {
	if p == nil {
		return nil
	}
	return p.ToProjection()
}

// Entry is the caller-supplied portion of an audit record.
type Entry struct {
	ActorID         int64
	Action          Action
	EntityType      string
	EntityID        string
	Before          Snapshot // nil for creates
	After           Snapshot // nil for deletes
	RiskLevel       RiskLevel
	BusinessContext string
}

// Record is a persisted audit entry. Records are append-only: nothing
// in this package, or anywhere else in the codebase, updates or
// deletes one after it is written.
type Record struct {
	ID        uuid.UUID
	Timestamp time.Time
	Entry
	PrevHash  []byte
	EntryHash []byte
}

var (
	// ErrWriteFailure indicates the entry could not be persisted.
	// Under the strict policy the enclosing mutation transaction must
	// roll back so no privileged change exists without a record.
	ErrWriteFailure = errors.New("audit: write failure")

	// ErrInvalidEntry indicates the entry is missing required fields.
	ErrInvalidEntry = errors.New("audit: invalid entry")

	// ErrChainBroken indicates hash chain verification found a record
	// whose hash does not match its recomputed value.
	ErrChainBroken = errors.New("audit: hash chain broken")
)

// Validate checks the required entry fields before persistence.
func (e Entry) Validate() error {
	if !e.Action.Valid() {
		return ErrInvalidEntry
	}
	if e.EntityType == "" || e.EntityID == "" {
		return ErrInvalidEntry
	}
	if !e.RiskLevel.Valid() {
		return ErrInvalidEntry
	}
	return nil
}
