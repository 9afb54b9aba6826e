package processor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/samfawaz/mailcal/internal/bus"
	"github.com/samfawaz/mailcal/internal/candidate"
	"github.com/samfawaz/mailcal/internal/extractor"
	"github.com/samfawaz/mailcal/internal/metrics"
	"github.com/samfawaz/mailcal/internal/reconcile"
	"github.com/samfawaz/mailcal/internal/resolve"
	"github.com/samfawaz/mailcal/internal/store"
)

type fakeExtractor struct {
	events map[string][]extractor.RawExtraction // keyed by message id
	calls  int
}

func (f *fakeExtractor) Extract(_ context.Context, msg extractor.Message, _ time.Time) (*extractor.Result, error) {
	f.calls++
	return &extractor.Result{
		MessageID: msg.ID,
		ThreadID:  msg.ThreadID,
		Events:    f.events[msg.ID],
	}, nil
}

type fakeCalendar struct {
	creates int
	updates int
	cancels int
	nextID  int
}

func (f *fakeCalendar) CreateEvent(_ context.Context, _ *candidate.EventCandidate) (string, error) {
	f.creates++
	f.nextID++
	return fmt.Sprintf("ext-%d", f.nextID), nil
}

func (f *fakeCalendar) UpdateEvent(_ context.Context, _ string, _ *candidate.EventCandidate) error {
	f.updates++
	return nil
}

func (f *fakeCalendar) CancelEvent(_ context.Context, _ string) error {
	f.cancels++
	return nil
}

// fakeBus records published subjects and payloads in order.
type fakeBus struct {
	subjects []string
	signals  []bus.SyncEventSignal
}

func (f *fakeBus) Publish(subject string, data any) error {
	f.subjects = append(f.subjects, subject)
	if sig, ok := data.(bus.SyncEventSignal); ok {
		f.signals = append(f.signals, sig)
	}
	return nil
}

func (f *fakeBus) count(subject string) int {
	n := 0
	for _, s := range f.subjects {
		if s == subject {
			n++
		}
	}
	return n
}

func newTestProcessor(t *testing.T, s store.Store, ext Extractor, cal reconcile.Calendar) *Processor {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	loc, _ := time.LoadLocation("Asia/Beirut")
	p := New(
		s,
		ext,
		candidate.NewBuilder(0.5, 30, "agent@example.com", loc),
		resolve.NewResolver(s, logger),
		reconcile.New(s, cal, 3, time.Millisecond, logger),
		metrics.NewRegistry(),
		nil,
		time.Minute,
		logger,
	)
	p.now = func() time.Time { return time.Date(2024, 1, 1, 10, 0, 0, 0, loc) }
	return p
}

func TestProcessMessage_CreatesEvents(t *testing.T) {
	s := store.NewMemory()
	cal := &fakeCalendar{}
	ext := &fakeExtractor{events: map[string][]extractor.RawExtraction{
		"m1": {
			{Title: "Dentist", DateText: "2024-02-01 09:00", Confidence: 0.9},
			{Title: "Standup", DateText: "3pm", RecurrenceText: "every weekday", Confidence: 0.8},
		},
	}}

	p := newTestProcessor(t, s, ext, cal)
	res, err := p.ProcessMessage(context.Background(), extractor.Message{ID: "m1", ThreadID: "t1"})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if res.Created != 2 || res.Failed != 0 {
		t.Errorf("got %+v, want 2 created", res)
	}
	if cal.creates != 2 {
		t.Errorf("calendar creates = %d, want 2", cal.creates)
	}

	done, err := s.IsMessageProcessed(context.Background(), "m1")
	if err != nil || !done {
		t.Errorf("message not committed as processed (done=%v err=%v)", done, err)
	}
}

func TestProcessMessage_IdempotentUnderRedelivery(t *testing.T) {
	s := store.NewMemory()
	cal := &fakeCalendar{}
	ext := &fakeExtractor{events: map[string][]extractor.RawExtraction{
		"m1": {{Title: "Dentist", DateText: "2024-02-01 09:00", Confidence: 0.9}},
	}}

	p := newTestProcessor(t, s, ext, cal)
	ctx := context.Background()
	msg := extractor.Message{ID: "m1", ThreadID: "t1"}

	first, err := p.ProcessMessage(ctx, msg)
	if err != nil {
		t.Fatalf("first process: %v", err)
	}
	if first.Created != 1 {
		t.Fatalf("first pass: %+v, want 1 created", first)
	}

	second, err := p.ProcessMessage(ctx, msg)
	if err != nil {
		t.Fatalf("second process: %v", err)
	}
	if second.Created != 0 || second.Updated != 0 || second.Skipped != 1 {
		t.Errorf("redelivery: %+v, want created=0 updated=0 skipped=1", second)
	}
	if ext.calls != 1 {
		t.Errorf("extractor called %d times, want 1 (redelivery short-circuits)", ext.calls)
	}
	if cal.creates != 1 {
		t.Errorf("calendar creates = %d, want 1", cal.creates)
	}
}

func TestProcessMessage_UnchangedCandidateIsNoOp(t *testing.T) {
	s := store.NewMemory()
	cal := &fakeCalendar{}
	ext := &fakeExtractor{events: map[string][]extractor.RawExtraction{
		"m1": {{Title: "Dentist", DateText: "2024-02-01 09:00", Confidence: 0.9}},
		"m2": {{Title: "Dentist", DateText: "February 1, 2024 at 9am", Confidence: 0.9}},
	}}

	p := newTestProcessor(t, s, ext, cal)
	ctx := context.Background()

	if _, err := p.ProcessMessage(ctx, extractor.Message{ID: "m1", ThreadID: "t1"}); err != nil {
		t.Fatalf("process m1: %v", err)
	}
	// Same event reworded in a later message of the same thread.
	res, err := p.ProcessMessage(ctx, extractor.Message{ID: "m2", ThreadID: "t1"})
	if err != nil {
		t.Fatalf("process m2: %v", err)
	}

	if res.Created != 0 || res.Updated != 0 || res.Cancelled != 0 {
		t.Errorf("got %+v, want all zero for an unchanged reworded event", res)
	}
	if cal.creates != 1 {
		t.Errorf("calendar creates = %d, want 1", cal.creates)
	}
}

func TestProcessMessage_ThreadSupersedesOwnEvents(t *testing.T) {
	s := store.NewMemory()
	cal := &fakeCalendar{}
	ext := &fakeExtractor{events: map[string][]extractor.RawExtraction{
		"m1": {{Title: "Kickoff", DateText: "2024-02-01 09:00", Confidence: 0.9}},
		"m2": {{Title: "Kickoff", DateText: "2024-02-02 09:00", Confidence: 0.9}},
	}}

	p := newTestProcessor(t, s, ext, cal)
	ctx := context.Background()

	if _, err := p.ProcessMessage(ctx, extractor.Message{ID: "m1", ThreadID: "t1"}); err != nil {
		t.Fatalf("process m1: %v", err)
	}
	// The rescheduled date changes the identity key, so the thread's new
	// message creates the new event and cancels the stale one.
	res, err := p.ProcessMessage(ctx, extractor.Message{ID: "m2", ThreadID: "t1"})
	if err != nil {
		t.Fatalf("process m2: %v", err)
	}

	if res.Created != 1 || res.Cancelled != 1 {
		t.Errorf("got %+v, want 1 created and 1 cancelled", res)
	}
	if cal.cancels != 1 {
		t.Errorf("calendar cancels = %d, want 1", cal.cancels)
	}
}

func TestProcessMessage_PublishesLifecycleSignals(t *testing.T) {
	s := store.NewMemory()
	cal := &fakeCalendar{}
	ext := &fakeExtractor{events: map[string][]extractor.RawExtraction{
		"m1": {{Title: "Kickoff", DateText: "2024-02-01 09:00", Confidence: 0.9}},
		"m2": {{Title: "Kickoff", DateText: "2024-02-01 09:00", Location: "Room 4", Confidence: 0.9}},
		"m3": {{Title: "Kickoff", DateText: "2024-02-02 09:00", Confidence: 0.9}},
	}}

	p := newTestProcessor(t, s, ext, cal)
	fb := &fakeBus{}
	p.bus = fb
	ctx := context.Background()

	if _, err := p.ProcessMessage(ctx, extractor.Message{ID: "m1", ThreadID: "t1"}); err != nil {
		t.Fatalf("process m1: %v", err)
	}
	if fb.count(bus.SubjectEventCreated) != 1 {
		t.Errorf("created signals = %d, want 1", fb.count(bus.SubjectEventCreated))
	}
	if fb.count(bus.SubjectMessageProcessed) != 1 {
		t.Errorf("processed signals = %d, want 1", fb.count(bus.SubjectMessageProcessed))
	}
	if len(fb.signals) != 1 || fb.signals[0].ExternalEventID != "ext-1" {
		t.Fatalf("created signal = %+v, want external id ext-1", fb.signals)
	}
	if fb.signals[0].IdentityKey == "" || fb.signals[0].ThreadID != "t1" {
		t.Errorf("created signal missing identity key or thread: %+v", fb.signals[0])
	}

	// Changed location updates the same logical event.
	if _, err := p.ProcessMessage(ctx, extractor.Message{ID: "m2", ThreadID: "t1"}); err != nil {
		t.Fatalf("process m2: %v", err)
	}
	if fb.count(bus.SubjectEventUpdated) != 1 {
		t.Errorf("updated signals = %d, want 1", fb.count(bus.SubjectEventUpdated))
	}

	// Rescheduling creates the new event and cancels the stale one.
	if _, err := p.ProcessMessage(ctx, extractor.Message{ID: "m3", ThreadID: "t1"}); err != nil {
		t.Fatalf("process m3: %v", err)
	}
	if fb.count(bus.SubjectEventCreated) != 2 {
		t.Errorf("created signals = %d, want 2", fb.count(bus.SubjectEventCreated))
	}
	if fb.count(bus.SubjectEventCancelled) != 1 {
		t.Errorf("cancelled signals = %d, want 1", fb.count(bus.SubjectEventCancelled))
	}
	if fb.count(bus.SubjectMessageProcessed) != 3 {
		t.Errorf("processed signals = %d, want 3", fb.count(bus.SubjectMessageProcessed))
	}
}

func TestProcessMessage_BadDateDropsOnlyThatCandidate(t *testing.T) {
	s := store.NewMemory()
	cal := &fakeCalendar{}
	ext := &fakeExtractor{events: map[string][]extractor.RawExtraction{
		"m1": {
			{Title: "Good", DateText: "2024-02-01 09:00", Confidence: 0.9},
			{Title: "Vague", DateText: "next week", Confidence: 0.9},
			{Title: "Noise", DateText: "2024-02-03 09:00", Confidence: 0.2},
		},
	}}

	p := newTestProcessor(t, s, ext, cal)
	res, err := p.ProcessMessage(context.Background(), extractor.Message{ID: "m1", ThreadID: "t1"})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if res.Created != 1 {
		t.Errorf("created = %d, want 1", res.Created)
	}
	if res.Failed != 1 {
		t.Errorf("failed = %d, want 1 (the ambiguous date)", res.Failed)
	}
	if res.Skipped != 1 {
		t.Errorf("skipped = %d, want 1 (the low-confidence extraction)", res.Skipped)
	}
}
