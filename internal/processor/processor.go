// Package processor orchestrates the per-message pipeline: extraction,
// candidate building, resolution against the state store, reconciliation
// with the external calendar, and the final processed-message commit.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/samfawaz/mailcal/internal/bus"
	"github.com/samfawaz/mailcal/internal/candidate"
	"github.com/samfawaz/mailcal/internal/extractor"
	"github.com/samfawaz/mailcal/internal/metrics"
	"github.com/samfawaz/mailcal/internal/normalize"
	"github.com/samfawaz/mailcal/internal/reconcile"
	"github.com/samfawaz/mailcal/internal/resolve"
	"github.com/samfawaz/mailcal/internal/store"
)

// ProcessingResult aggregates one message's effects. A redelivered message
// reports Skipped with everything else zero.
type ProcessingResult struct {
	MessageID string
	Created   int
	Updated   int
	Cancelled int
	Failed    int
	Skipped   int
}

// Extractor is the LLM boundary: message text in, structured extractions
// out. Faked in tests so the deterministic pipeline runs without a model.
type Extractor interface {
	Extract(ctx context.Context, msg extractor.Message, now time.Time) (*extractor.Result, error)
}

// Publisher is the optional lifecycle-signal surface, satisfied by
// bus.Client. A nil Publisher disables signals without disabling the
// pipeline.
type Publisher interface {
	Publish(subject string, data any) error
}

type Processor struct {
	store      store.Store
	extractor  Extractor
	builder    *candidate.Builder
	resolver   *resolve.Resolver
	reconciler *reconcile.Reconciler
	metrics    *metrics.Registry
	bus        Publisher // optional
	logger     *slog.Logger
	msgTimeout time.Duration
	now        func() time.Time
}

func New(
	s store.Store,
	ext Extractor,
	b *candidate.Builder,
	r *resolve.Resolver,
	rec *reconcile.Reconciler,
	m *metrics.Registry,
	busClient Publisher,
	msgTimeout time.Duration,
	logger *slog.Logger,
) *Processor {
	return &Processor{
		store:      s,
		extractor:  ext,
		builder:    b,
		resolver:   r,
		reconciler: rec,
		metrics:    m,
		bus:        busClient,
		logger:     logger,
		msgTimeout: msgTimeout,
		now:        time.Now,
	}
}

// ProcessMessage is the single pipeline entry point. It is idempotent under
// redelivery: a message already committed as processed short-circuits, and
// a crash before the final commit leaves the message safely reprocessable.
// Per-candidate and per-event failures are isolated into the result; only
// store errors and the per-message deadline abort the whole unit of work.
func (p *Processor) ProcessMessage(ctx context.Context, msg extractor.Message) (*ProcessingResult, error) {
	result := &ProcessingResult{MessageID: msg.ID}

	done, err := p.store.IsMessageProcessed(ctx, msg.ID)
	if err != nil {
		return nil, fmt.Errorf("check processed state for %s: %w", msg.ID, err)
	}
	if done {
		p.logger.Info("message already processed, skipping", "message_id", msg.ID)
		p.metrics.ObserveMessage(true)
		result.Skipped++
		return result, nil
	}

	if p.msgTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.msgTimeout)
		defer cancel()
	}

	// Correlates this run's log lines and bus signals.
	runID := uuid.NewString()

	now := p.now()
	extracted, err := p.extractor.Extract(ctx, msg, now)
	if err != nil {
		// Infra failure, not "no events found": leave the message
		// uncommitted so a later poll retries it.
		p.metrics.ObserveError("extraction")
		return nil, fmt.Errorf("extract events from %s: %w", msg.ID, err)
	}

	items, identityKeys := p.buildItems(ctx, msg, extracted, now, result)

	ops, err := p.reconciler.Plan(ctx, msg.ThreadID, items)
	if err != nil {
		return nil, fmt.Errorf("plan reconciliation for %s: %w", msg.ID, err)
	}
	outcome, err := p.reconciler.Execute(ctx, ops)
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: %w", msg.ID, err)
	}

	result.Created = outcome.Created
	result.Updated = outcome.Updated
	result.Cancelled = outcome.Cancelled
	result.Failed += len(outcome.Failures)
	p.observeOutcome(msg, outcome)

	// Commit last: everything above must be repeatable if we crash here.
	if err := p.store.MarkMessageProcessed(ctx, store.ProcessedMessageRecord{
		MessageID:    msg.ID,
		ThreadID:     msg.ThreadID,
		ProcessedAt:  now.UTC(),
		IdentityKeys: identityKeys,
	}); err != nil {
		return nil, fmt.Errorf("mark %s processed: %w", msg.ID, err)
	}
	p.metrics.ObserveMessage(false)

	p.publish(bus.SubjectMessageProcessed, bus.MessageProcessedSignal{
		RunID:     runID,
		MessageID: msg.ID,
		ThreadID:  msg.ThreadID,
		Created:   result.Created,
		Updated:   result.Updated,
		Cancelled: result.Cancelled,
		Failed:    result.Failed,
	})

	p.logger.Info("message processed",
		"run_id", runID,
		"message_id", msg.ID,
		"thread_id", msg.ThreadID,
		"created", result.Created,
		"updated", result.Updated,
		"cancelled", result.Cancelled,
		"failed", result.Failed,
		"skipped", result.Skipped)

	return result, nil
}

// buildItems turns raw extractions into resolved reconciliation items.
// Normalizer and builder failures drop the one candidate and count against
// the result; they never abort the message.
func (p *Processor) buildItems(ctx context.Context, msg extractor.Message, extracted *extractor.Result, now time.Time, result *ProcessingResult) ([]reconcile.Item, []string) {
	var items []reconcile.Item
	var identityKeys []string

	for _, ex := range extracted.Events {
		cand, err := p.builder.Build(ex, candidate.Source{
			MessageID: msg.ID,
			ThreadID:  msg.ThreadID,
			Sender:    msg.From,
		}, now)
		if err != nil {
			p.metrics.ObserveError(errorKind(err))
			p.logger.Warn("dropping extraction",
				"message_id", msg.ID,
				"title", ex.Title,
				"error", err)
			result.Failed++
			continue
		}
		if cand == nil {
			p.logger.Debug("extraction below confidence threshold",
				"message_id", msg.ID,
				"title", ex.Title,
				"confidence", ex.Confidence)
			result.Skipped++
			continue
		}

		res, existing, err := p.resolver.Resolve(ctx, cand)
		if err != nil {
			p.metrics.ObserveError("store")
			p.logger.Error("resolution failed",
				"message_id", msg.ID,
				"identity_key", cand.IdentityKey,
				"error", err)
			result.Failed++
			continue
		}
		p.metrics.ObserveResolution(res.String())

		items = append(items, reconcile.Item{Candidate: cand, Resolution: res, Existing: existing})
		identityKeys = append(identityKeys, cand.IdentityKey)
	}

	return items, identityKeys
}

func (p *Processor) observeOutcome(msg extractor.Message, outcome *reconcile.Outcome) {
	for _, s := range outcome.Synced {
		p.metrics.ObserveSyncOp(s.Op.String())
		p.publish(syncSubject(s.Op), bus.SyncEventSignal{
			IdentityKey:     s.IdentityKey,
			ExternalEventID: s.ExternalEventID,
			ThreadID:        s.ThreadID,
			Title:           s.Title,
		})
	}
	for _, f := range outcome.Failures {
		p.metrics.ObserveError("sync_failure")
		p.publish(bus.SubjectSyncFailed, bus.SyncEventSignal{
			IdentityKey: f.IdentityKey,
			ThreadID:    msg.ThreadID,
			Error:       f.Err.Error(),
		})
	}
}

func syncSubject(op reconcile.OpType) string {
	switch op {
	case reconcile.OpUpdate:
		return bus.SubjectEventUpdated
	case reconcile.OpCancel:
		return bus.SubjectEventCancelled
	default:
		return bus.SubjectEventCreated
	}
}

func (p *Processor) publish(subject string, data any) {
	if p.bus == nil {
		return
	}
	if err := p.bus.Publish(subject, data); err != nil {
		p.logger.Error("bus publish failed", "subject", subject, "error", err)
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, normalize.ErrAmbiguousDate):
		return "ambiguous_date"
	case errors.Is(err, normalize.ErrUnparsableDate):
		return "unparsable_date"
	case errors.Is(err, candidate.ErrInsufficientData):
		return "insufficient_data"
	default:
		return "candidate"
	}
}
