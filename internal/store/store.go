// Package store persists synced-event and processed-message records across
// runs. It is the only shared mutable resource between concurrent message
// units; all mutation goes through per-key atomic operations.
package store

import (
	"context"
	"errors"
	"time"
)

// Status of a synced event on the external calendar.
const (
	StatusActive    = "active"
	StatusCancelled = "cancelled"
)

var (
	// ErrNotFound is returned by GetSyncedEvent for unknown identity keys.
	ErrNotFound = errors.New("synced event not found")
	// ErrConcurrentModification signals a lost compare-and-set race on
	// PutSyncedEvent. The caller retries with a fresh reconciliation pass.
	ErrConcurrentModification = errors.New("concurrent modification of synced event")
)

// SyncedEvent is the last known externally-synced state for one logical
// event. Mutated only after a confirmed external-write acknowledgment.
type SyncedEvent struct {
	IdentityKey     string
	ExternalEventID string
	ThreadID        string
	Title           string
	StateHash       string
	Status          string
	LastSyncedAt    time.Time
	// Version backs the optimistic per-key compare-and-set. Zero means
	// "new record"; every successful put increments it.
	Version int64
}

// ProcessedMessageRecord commits a message as handled. Written last, so a
// crash mid-message leaves the message safely reprocessable.
type ProcessedMessageRecord struct {
	MessageID    string
	ThreadID     string
	ProcessedAt  time.Time
	IdentityKeys []string
}

// Store is the sync state persistence boundary. PutSyncedEvent is atomic
// per key: it succeeds only when the stored version still equals
// expectedVersion (0 for a new record), otherwise it returns
// ErrConcurrentModification. Batch operations across keys carry no group
// atomicity, matching the reconciler's partial-failure isolation.
type Store interface {
	GetSyncedEvent(ctx context.Context, identityKey string) (*SyncedEvent, error)
	PutSyncedEvent(ctx context.Context, ev *SyncedEvent, expectedVersion int64) error
	ListActiveForThread(ctx context.Context, threadID string) ([]*SyncedEvent, error)
	MarkMessageProcessed(ctx context.Context, rec ProcessedMessageRecord) error
	IsMessageProcessed(ctx context.Context, messageID string) (bool, error)
}
