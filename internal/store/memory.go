package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Memory is an in-process Store used by tests and single-shot runs with no
// database configured. Same per-key CAS semantics as Postgres.
type Memory struct {
	mu        sync.Mutex
	events    map[string]SyncedEvent
	processed map[string]ProcessedMessageRecord
}

func NewMemory() *Memory {
	return &Memory{
		events:    make(map[string]SyncedEvent),
		processed: make(map[string]ProcessedMessageRecord),
	}
}

func (m *Memory) GetSyncedEvent(_ context.Context, identityKey string) (*SyncedEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[identityKey]
	if !ok {
		return nil, ErrNotFound
	}
	cp := ev
	return &cp, nil
}

func (m *Memory) PutSyncedEvent(_ context.Context, ev *SyncedEvent, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.events[ev.IdentityKey]
	switch {
	case !ok && expectedVersion != 0:
		return fmt.Errorf("%w: %s", ErrConcurrentModification, ev.IdentityKey)
	case ok && cur.Version != expectedVersion:
		return fmt.Errorf("%w: %s", ErrConcurrentModification, ev.IdentityKey)
	}

	ev.Version = expectedVersion + 1
	m.events[ev.IdentityKey] = *ev
	return nil
}

func (m *Memory) ListActiveForThread(_ context.Context, threadID string) ([]*SyncedEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*SyncedEvent
	for _, ev := range m.events {
		if ev.ThreadID == threadID && ev.Status == StatusActive {
			cp := ev
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) MarkMessageProcessed(_ context.Context, rec ProcessedMessageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now().UTC()
	}
	if _, ok := m.processed[rec.MessageID]; !ok {
		m.processed[rec.MessageID] = rec
	}
	return nil
}

func (m *Memory) IsMessageProcessed(_ context.Context, messageID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.processed[messageID]
	return ok, nil
}
