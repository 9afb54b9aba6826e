package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	s.pool.Close()
}

// Migrate creates the two state tables if they do not exist.
func (s *Postgres) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS synced_events (
			identity_key      text PRIMARY KEY,
			external_event_id text NOT NULL,
			thread_id         text NOT NULL,
			title             text NOT NULL,
			state_hash        text NOT NULL,
			status            text NOT NULL,
			last_synced_at    timestamptz NOT NULL,
			version           bigint NOT NULL
		);
		CREATE INDEX IF NOT EXISTS synced_events_thread_idx ON synced_events (thread_id) WHERE status = 'active';

		CREATE TABLE IF NOT EXISTS processed_messages (
			message_id    text PRIMARY KEY,
			thread_id     text NOT NULL,
			processed_at  timestamptz NOT NULL,
			identity_keys text[] NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("migrate state tables: %w", err)
	}
	return nil
}

func (s *Postgres) GetSyncedEvent(ctx context.Context, identityKey string) (*SyncedEvent, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT identity_key, external_event_id, thread_id, title, state_hash, status, last_synced_at, version
		FROM synced_events
		WHERE identity_key = $1`,
		identityKey,
	)

	var ev SyncedEvent
	err := row.Scan(&ev.IdentityKey, &ev.ExternalEventID, &ev.ThreadID, &ev.Title, &ev.StateHash, &ev.Status, &ev.LastSyncedAt, &ev.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get synced event: %w", err)
	}
	return &ev, nil
}

// PutSyncedEvent writes one record with an optimistic version check.
// expectedVersion 0 inserts; anything else updates only the matching
// version. A lost race surfaces as ErrConcurrentModification.
func (s *Postgres) PutSyncedEvent(ctx context.Context, ev *SyncedEvent, expectedVersion int64) error {
	if expectedVersion == 0 {
		tag, err := s.pool.Exec(ctx, `
			INSERT INTO synced_events (identity_key, external_event_id, thread_id, title, state_hash, status, last_synced_at, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 1)
			ON CONFLICT (identity_key) DO NOTHING`,
			ev.IdentityKey, ev.ExternalEventID, ev.ThreadID, ev.Title, ev.StateHash, ev.Status, ev.LastSyncedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("insert synced event: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", ErrConcurrentModification, ev.IdentityKey)
		}
		ev.Version = 1
		return nil
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE synced_events
		SET external_event_id = $2, thread_id = $3, title = $4, state_hash = $5, status = $6, last_synced_at = $7, version = version + 1
		WHERE identity_key = $1 AND version = $8`,
		ev.IdentityKey, ev.ExternalEventID, ev.ThreadID, ev.Title, ev.StateHash, ev.Status, ev.LastSyncedAt.UTC(), expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update synced event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrConcurrentModification, ev.IdentityKey)
	}
	ev.Version = expectedVersion + 1
	return nil
}

func (s *Postgres) ListActiveForThread(ctx context.Context, threadID string) ([]*SyncedEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT identity_key, external_event_id, thread_id, title, state_hash, status, last_synced_at, version
		FROM synced_events
		WHERE thread_id = $1 AND status = 'active'`,
		threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("list active for thread: %w", err)
	}
	defer rows.Close()

	var out []*SyncedEvent
	for rows.Next() {
		var ev SyncedEvent
		if err := rows.Scan(&ev.IdentityKey, &ev.ExternalEventID, &ev.ThreadID, &ev.Title, &ev.StateHash, &ev.Status, &ev.LastSyncedAt, &ev.Version); err != nil {
			return nil, fmt.Errorf("scan synced event: %w", err)
		}
		out = append(out, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

func (s *Postgres) MarkMessageProcessed(ctx context.Context, rec ProcessedMessageRecord) error {
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO processed_messages (message_id, thread_id, processed_at, identity_keys)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (message_id) DO NOTHING`,
		rec.MessageID, rec.ThreadID, rec.ProcessedAt.UTC(), rec.IdentityKeys,
	)
	if err != nil {
		return fmt.Errorf("mark message processed: %w", err)
	}
	return nil
}

func (s *Postgres) IsMessageProcessed(ctx context.Context, messageID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM processed_messages WHERE message_id = $1)`,
		messageID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check message processed: %w", err)
	}
	return exists, nil
}
