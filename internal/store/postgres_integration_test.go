//go:build integration

package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func setupTestStore(t *testing.T) *Postgres {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	s, err := NewPostgres(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func TestIntegration_SyncedEventCAS(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	key := "integration-" + uuid.New().String()

	ev := &SyncedEvent{
		IdentityKey:     key,
		ExternalEventID: "ext-1",
		ThreadID:        "thread-" + key,
		Title:           "Integration test event",
		StateHash:       "h1",
		Status:          StatusActive,
		LastSyncedAt:    time.Now().UTC(),
	}
	if err := s.PutSyncedEvent(ctx, ev, 0); err != nil {
		t.Fatalf("insert: %v", err)
	}

	dup := *ev
	if err := s.PutSyncedEvent(ctx, &dup, 0); !errors.Is(err, ErrConcurrentModification) {
		t.Errorf("duplicate insert: got %v, want ErrConcurrentModification", err)
	}

	ev.StateHash = "h2"
	if err := s.PutSyncedEvent(ctx, ev, 1); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.GetSyncedEvent(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.StateHash != "h2" || got.Version != 2 {
		t.Errorf("unexpected record after CAS update: %+v", got)
	}

	active, err := s.ListActiveForThread(ctx, ev.ThreadID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 1 {
		t.Errorf("expected 1 active event, got %d", len(active))
	}
}

func TestIntegration_ProcessedMessages(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	msgID := "integration-" + uuid.New().String()

	ok, err := s.IsMessageProcessed(ctx, msgID)
	if err != nil || ok {
		t.Fatalf("fresh message: ok=%v err=%v", ok, err)
	}

	rec := ProcessedMessageRecord{MessageID: msgID, ThreadID: "t", IdentityKeys: []string{"a", "b"}}
	if err := s.MarkMessageProcessed(ctx, rec); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := s.MarkMessageProcessed(ctx, rec); err != nil {
		t.Fatalf("re-mark: %v", err)
	}

	ok, err = s.IsMessageProcessed(ctx, msgID)
	if err != nil || !ok {
		t.Fatalf("processed message: ok=%v err=%v", ok, err)
	}
}
