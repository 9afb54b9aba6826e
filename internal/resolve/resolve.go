// Package resolve decides whether a candidate is a new event or a duplicate
// of one already synced. Only exact canonical-key matches count as
// duplicates: near-duplicate titles are left alone, bounding false-merge
// risk at the cost of the occasional near-duplicate event.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/samfawaz/mailcal/internal/candidate"
	"github.com/samfawaz/mailcal/internal/store"
)

type Resolution int

const (
	New Resolution = iota
	UnchangedDuplicate
	UpdatedDuplicate
)

func (r Resolution) String() string {
	switch r {
	case New:
		return "new"
	case UnchangedDuplicate:
		return "unchanged_duplicate"
	case UpdatedDuplicate:
		return "updated_duplicate"
	default:
		return "unknown"
	}
}

type Resolver struct {
	store  store.Store
	logger *slog.Logger
}

func NewResolver(s store.Store, logger *slog.Logger) *Resolver {
	return &Resolver{store: s, logger: logger}
}

// Resolve looks the candidate's identity key up in the state store and
// compares the secondary state hash when found. The matching SyncedEvent is
// returned for both duplicate outcomes, nil for New.
func (r *Resolver) Resolve(ctx context.Context, cand *candidate.EventCandidate) (Resolution, *store.SyncedEvent, error) {
	existing, err := r.store.GetSyncedEvent(ctx, cand.IdentityKey)
	if errors.Is(err, store.ErrNotFound) {
		return New, nil, nil
	}
	if err != nil {
		return New, nil, fmt.Errorf("lookup identity key: %w", err)
	}

	if existing.StateHash == cand.StateHash() {
		r.logger.Debug("candidate unchanged since last sync",
			"identity_key", cand.IdentityKey,
			"message_id", cand.SourceMessageID,
		)
		return UnchangedDuplicate, existing, nil
	}

	r.logger.Debug("candidate updates a synced event",
		"identity_key", cand.IdentityKey,
		"message_id", cand.SourceMessageID,
	)
	return UpdatedDuplicate, existing, nil
}
