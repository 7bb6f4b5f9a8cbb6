// Package store is the keyed document store every governance component
// persists through. It exposes two shapes of state:
//
//   - documents: one mutable record per (family, key), updated with
//     optimistic compare-and-swap on a per-key sequence number
//   - logs: append-only entries per (family, key) with a monotonic
//     per-key sequence, never updated or deleted
//
// The sequence numbers double as the logical version counters the rest of
// the core orders "latest" by, so nothing depends on file or wall-clock
// timestamp resolution.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no document or log entry exists for a key.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned when a CAS write lost the race: the document's
// sequence no longer matches the caller's expectation.
var ErrConflict = errors.New("store: sequence conflict")

// Document families.
const (
	FamilyGovernorCounter = "governor_counter"
	FamilyCircuitBreaker  = "circuit_breaker"
	FamilyApproval        = "approval"
	FamilyRegression      = "regression"
	FamilyPromotion       = "promotion"
	FamilySchedulerRun    = "scheduler_run"
	FamilyBreachWindow    = "breach_window"
)

// Log families.
const (
	FamilyConfidence = "confidence"
	FamilyClassDef   = "class_def"
	FamilyClassEvent = "class_event"
)

// Doc is one mutable keyed document.
type Doc struct {
	Family    string
	Key       string
	Seq       uint64
	Value     []byte
	UpdatedAt time.Time
}

// Entry is one append-only log entry for a key.
type Entry struct {
	Family     string
	Key        string
	Seq        uint64
	Value      []byte
	AppendedAt time.Time
}

// Store is the persistence contract. Implementations must serialize
// writes per (family, key): PutDoc with expect=0 creates and fails with
// ErrConflict if the document exists; expect>0 updates only when the
// stored sequence matches.
type Store interface {
	GetDoc(ctx context.Context, family, key string) (Doc, error)
	PutDoc(ctx context.Context, family, key string, value []byte, expect uint64) (uint64, error)
	ListDocs(ctx context.Context, family string) ([]Doc, error)

	Append(ctx context.Context, family, key string, value []byte) (Entry, error)
	Last(ctx context.Context, family, key string, n int) ([]Entry, error)
	Keys(ctx context.Context, family string) ([]string, error)

	Close() error
}
