// Package reconcile diffs resolved candidates against the last known synced
// state and drives the minimal set of create/update/cancel operations
// against the external calendar. Writes to the same identity key are
// serialized, transient failures retry with exponential backoff, and one
// bad event never blocks the rest of the batch.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samfawaz/mailcal/internal/candidate"
	"github.com/samfawaz/mailcal/internal/gcal"
	"github.com/samfawaz/mailcal/internal/resolve"
	"github.com/samfawaz/mailcal/internal/store"
)

// Calendar is the external write surface the reconciler drives. Implemented
// by gcal.Client; faked in tests.
type Calendar interface {
	CreateEvent(ctx context.Context, cand *candidate.EventCandidate) (string, error)
	UpdateEvent(ctx context.Context, externalID string, cand *candidate.EventCandidate) error
	CancelEvent(ctx context.Context, externalID string) error
}

type OpType int

const (
	OpNoOp OpType = iota
	OpCreate
	OpUpdate
	OpCancel
)

func (t OpType) String() string {
	switch t {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpCancel:
		return "cancel"
	default:
		return "noop"
	}
}

// Operation is one planned step against the external calendar. Candidate is
// nil for cancels, Existing is nil for creates.
type Operation struct {
	Type      OpType
	Candidate *candidate.EventCandidate
	Existing  *store.SyncedEvent
}

// Item pairs a candidate with its resolution against the state store.
// Existing carries the matched SyncedEvent for duplicate resolutions.
type Item struct {
	Candidate  *candidate.EventCandidate
	Resolution resolve.Resolution
	Existing   *store.SyncedEvent
}

// SyncFailure records one event that could not be written externally after
// exhausting retries. Surfaced per-event, never silently dropped.
type SyncFailure struct {
	IdentityKey string
	Op          OpType
	Err         error
}

// SyncedOp records one acknowledged external write, with enough detail for
// downstream signals.
type SyncedOp struct {
	Op              OpType
	IdentityKey     string
	ExternalEventID string
	ThreadID        string
	Title           string
}

// Outcome aggregates one batch's external effects.
type Outcome struct {
	Created   int
	Updated   int
	Cancelled int
	NoOps     int
	Synced    []SyncedOp
	Failures  []SyncFailure
}

type Reconciler struct {
	store       store.Store
	calendar    Calendar
	logger      *slog.Logger
	maxAttempts int
	baseBackoff time.Duration
}

func New(s store.Store, cal Calendar, maxAttempts int, baseBackoff time.Duration, logger *slog.Logger) *Reconciler {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Reconciler{
		store:       s,
		calendar:    cal,
		logger:      logger,
		maxAttempts: maxAttempts,
		baseBackoff: baseBackoff,
	}
}

// Plan turns a batch of resolved candidates into an ordered operation list.
// Creates and updates keep batch order; a repeated identity key within the
// batch collapses onto its first item, so one logical event extracted twice
// from the same message plans one write. Cancels come last, and only for
// previously-active events belonging to the same thread whose identity key
// is absent from this batch: a thread's newest message supersedes what that
// thread said before, but never touches events from other threads.
func (r *Reconciler) Plan(ctx context.Context, threadID string, items []Item) ([]Operation, error) {
	ops := make([]Operation, 0, len(items))
	present := make(map[string]bool, len(items))

	for _, it := range items {
		if present[it.Candidate.IdentityKey] {
			r.logger.Debug("duplicate candidate in batch, keeping first",
				"identity_key", it.Candidate.IdentityKey,
				"title", it.Candidate.Title)
			continue
		}
		present[it.Candidate.IdentityKey] = true
		switch it.Resolution {
		case resolve.New:
			ops = append(ops, Operation{Type: OpCreate, Candidate: it.Candidate})
		case resolve.UpdatedDuplicate:
			ops = append(ops, Operation{Type: OpUpdate, Candidate: it.Candidate, Existing: it.Existing})
		case resolve.UnchangedDuplicate:
			ops = append(ops, Operation{Type: OpNoOp, Candidate: it.Candidate, Existing: it.Existing})
		}
	}

	active, err := r.store.ListActiveForThread(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("list active events for thread %s: %w", threadID, err)
	}
	for _, ev := range active {
		if !present[ev.IdentityKey] {
			ops = append(ops, Operation{Type: OpCancel, Existing: ev})
		}
	}

	return ops, nil
}

// Execute runs the planned operations sequentially. The state store is
// written only after the external calendar acknowledged the write, so no
// SyncedEvent record ever claims a success that did not happen. A failure
// is recorded against its own event and the batch continues.
func (r *Reconciler) Execute(ctx context.Context, ops []Operation) (*Outcome, error) {
	out := &Outcome{}

	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return out, fmt.Errorf("reconciliation aborted: %w", err)
		}

		var err error
		switch op.Type {
		case OpCreate:
			var externalID string
			externalID, err = r.create(ctx, op.Candidate)
			if err == nil {
				out.Created++
				out.Synced = append(out.Synced, SyncedOp{
					Op:              OpCreate,
					IdentityKey:     op.Candidate.IdentityKey,
					ExternalEventID: externalID,
					ThreadID:        op.Candidate.SourceThreadID,
					Title:           op.Candidate.Title,
				})
			}
		case OpUpdate:
			err = r.update(ctx, op.Candidate, op.Existing)
			if err == nil {
				out.Updated++
				out.Synced = append(out.Synced, SyncedOp{
					Op:              OpUpdate,
					IdentityKey:     op.Candidate.IdentityKey,
					ExternalEventID: op.Existing.ExternalEventID,
					ThreadID:        op.Candidate.SourceThreadID,
					Title:           op.Candidate.Title,
				})
			}
		case OpCancel:
			err = r.cancel(ctx, op.Existing)
			if err == nil {
				out.Cancelled++
				out.Synced = append(out.Synced, SyncedOp{
					Op:              OpCancel,
					IdentityKey:     op.Existing.IdentityKey,
					ExternalEventID: op.Existing.ExternalEventID,
					ThreadID:        op.Existing.ThreadID,
					Title:           op.Existing.Title,
				})
			}
		case OpNoOp:
			out.NoOps++
			continue
		}

		if err != nil {
			// Deadline exceedance aborts the whole unit of work; a
			// per-event failure only skips that event.
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return out, fmt.Errorf("reconciliation aborted: %w", err)
			}
			key := ""
			if op.Candidate != nil {
				key = op.Candidate.IdentityKey
			} else if op.Existing != nil {
				key = op.Existing.IdentityKey
			}
			r.logger.Error("sync operation failed",
				"op", op.Type.String(),
				"identity_key", key,
				"error", err)
			out.Failures = append(out.Failures, SyncFailure{IdentityKey: key, Op: op.Type, Err: err})
		}
	}

	return out, nil
}

func (r *Reconciler) create(ctx context.Context, cand *candidate.EventCandidate) (string, error) {
	var externalID string
	err := r.withRetry(ctx, func() error {
		id, err := r.calendar.CreateEvent(ctx, cand)
		if err != nil {
			return err
		}
		externalID = id
		return nil
	})
	if err != nil {
		return "", err
	}

	r.logger.Info("created calendar event",
		"identity_key", cand.IdentityKey,
		"external_event_id", externalID,
		"title", cand.Title)

	ev := &store.SyncedEvent{
		IdentityKey:     cand.IdentityKey,
		ExternalEventID: externalID,
		ThreadID:        cand.SourceThreadID,
		Title:           cand.Title,
		StateHash:       cand.StateHash(),
		Status:          store.StatusActive,
		LastSyncedAt:    time.Now().UTC(),
	}
	if err := r.persist(ctx, ev, 0); err != nil {
		return "", err
	}
	return externalID, nil
}

func (r *Reconciler) update(ctx context.Context, cand *candidate.EventCandidate, existing *store.SyncedEvent) error {
	err := r.withRetry(ctx, func() error {
		return r.calendar.UpdateEvent(ctx, existing.ExternalEventID, cand)
	})
	if err != nil {
		return err
	}

	r.logger.Info("updated calendar event",
		"identity_key", cand.IdentityKey,
		"external_event_id", existing.ExternalEventID,
		"title", cand.Title)

	ev := &store.SyncedEvent{
		IdentityKey:     cand.IdentityKey,
		ExternalEventID: existing.ExternalEventID,
		ThreadID:        cand.SourceThreadID,
		Title:           cand.Title,
		StateHash:       cand.StateHash(),
		Status:          store.StatusActive,
		LastSyncedAt:    time.Now().UTC(),
	}
	return r.persist(ctx, ev, existing.Version)
}

func (r *Reconciler) cancel(ctx context.Context, existing *store.SyncedEvent) error {
	err := r.withRetry(ctx, func() error {
		return r.calendar.CancelEvent(ctx, existing.ExternalEventID)
	})
	if err != nil {
		return err
	}

	r.logger.Info("cancelled calendar event",
		"identity_key", existing.IdentityKey,
		"external_event_id", existing.ExternalEventID,
		"title", existing.Title)

	ev := *existing
	ev.Status = store.StatusCancelled
	ev.LastSyncedAt = time.Now().UTC()
	return r.persist(ctx, &ev, existing.Version)
}

// persist writes the synced record with an optimistic version check. A lost
// race gets one retry against the freshly-read version; if the fresh state
// already matches the candidate's the write is redundant and skipped.
func (r *Reconciler) persist(ctx context.Context, ev *store.SyncedEvent, expectedVersion int64) error {
	err := r.store.PutSyncedEvent(ctx, ev, expectedVersion)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrConcurrentModification) {
		return fmt.Errorf("persist synced event: %w", err)
	}

	r.logger.Warn("lost synced-event write race, retrying with fresh state",
		"identity_key", ev.IdentityKey)

	fresh, gerr := r.store.GetSyncedEvent(ctx, ev.IdentityKey)
	if gerr != nil {
		return fmt.Errorf("re-read synced event after write race: %w", gerr)
	}
	if fresh.StateHash == ev.StateHash && fresh.Status == ev.Status {
		return nil
	}
	if perr := r.store.PutSyncedEvent(ctx, ev, fresh.Version); perr != nil {
		return fmt.Errorf("persist synced event after write race: %w", perr)
	}
	return nil
}

// withRetry runs fn, retrying transient calendar failures with exponential
// backoff until maxAttempts. Permanent failures return immediately.
func (r *Reconciler) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !gcal.IsTransient(err) || attempt >= r.maxAttempts {
			return err
		}

		delay := r.baseBackoff << (attempt - 1)
		r.logger.Warn("transient calendar failure, backing off",
			"attempt", attempt,
			"delay", delay.String(),
			"error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
