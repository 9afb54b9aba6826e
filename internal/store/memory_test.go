package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemory_PutGetRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	ev := &SyncedEvent{
		IdentityKey:     "key-1",
		ExternalEventID: "ext-1",
		ThreadID:        "thread-1",
		Title:           "Standup",
		StateHash:       "hash-1",
		Status:          StatusActive,
		LastSyncedAt:    time.Now().UTC(),
	}
	if err := m.PutSyncedEvent(ctx, ev, 0); err != nil {
		t.Fatalf("put: %v", err)
	}
	if ev.Version != 1 {
		t.Errorf("version after insert = %d, want 1", ev.Version)
	}

	got, err := m.GetSyncedEvent(ctx, "key-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "Standup" || got.Version != 1 {
		t.Errorf("unexpected record: %+v", got)
	}

	if _, err := m.GetSyncedEvent(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemory_CompareAndSet(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	ev := &SyncedEvent{IdentityKey: "key-1", ThreadID: "t1", Status: StatusActive}
	if err := m.PutSyncedEvent(ctx, ev, 0); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Insert over an existing key loses the race.
	dup := &SyncedEvent{IdentityKey: "key-1", ThreadID: "t1", Status: StatusActive}
	if err := m.PutSyncedEvent(ctx, dup, 0); !errors.Is(err, ErrConcurrentModification) {
		t.Errorf("duplicate insert: got %v, want ErrConcurrentModification", err)
	}

	// Update with a stale version loses the race.
	stale := &SyncedEvent{IdentityKey: "key-1", ThreadID: "t1", Status: StatusActive}
	if err := m.PutSyncedEvent(ctx, stale, 5); !errors.Is(err, ErrConcurrentModification) {
		t.Errorf("stale update: got %v, want ErrConcurrentModification", err)
	}

	// Update with the current version wins and bumps it.
	fresh := &SyncedEvent{IdentityKey: "key-1", ThreadID: "t1", Status: StatusCancelled}
	if err := m.PutSyncedEvent(ctx, fresh, 1); err != nil {
		t.Fatalf("fresh update: %v", err)
	}
	if fresh.Version != 2 {
		t.Errorf("version after update = %d, want 2", fresh.Version)
	}
}

func TestMemory_ListActiveForThread(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for _, ev := range []*SyncedEvent{
		{IdentityKey: "a", ThreadID: "t1", Status: StatusActive},
		{IdentityKey: "b", ThreadID: "t1", Status: StatusCancelled},
		{IdentityKey: "c", ThreadID: "t2", Status: StatusActive},
	} {
		if err := m.PutSyncedEvent(ctx, ev, 0); err != nil {
			t.Fatalf("put %s: %v", ev.IdentityKey, err)
		}
	}

	got, err := m.ListActiveForThread(ctx, "t1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].IdentityKey != "a" {
		t.Errorf("expected only active event a for t1, got %+v", got)
	}
}

func TestMemory_ProcessedMessages(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	ok, err := m.IsMessageProcessed(ctx, "m1")
	if err != nil || ok {
		t.Fatalf("fresh message: ok=%v err=%v", ok, err)
	}

	rec := ProcessedMessageRecord{MessageID: "m1", ThreadID: "t1", IdentityKeys: []string{"a"}}
	if err := m.MarkMessageProcessed(ctx, rec); err != nil {
		t.Fatalf("mark: %v", err)
	}
	// Redelivery of the mark itself is a no-op.
	if err := m.MarkMessageProcessed(ctx, rec); err != nil {
		t.Fatalf("re-mark: %v", err)
	}

	ok, err = m.IsMessageProcessed(ctx, "m1")
	if err != nil || !ok {
		t.Fatalf("processed message: ok=%v err=%v", ok, err)
	}
}
