// Package metrics keeps in-process counters for the processing pipeline:
// candidates by resolution, sync operations by type, failures by error
// kind. Snapshots are served as JSON by the HTTP server.
package metrics

import (
	"sync"
	"time"
)

type Registry struct {
	mu sync.Mutex

	startedAt   time.Time
	resolutions map[string]int64
	syncOps     map[string]int64
	errors      map[string]int64

	messagesProcessed int64
	messagesSkipped   int64
}

func NewRegistry() *Registry {
	return &Registry{
		startedAt:   time.Now().UTC(),
		resolutions: make(map[string]int64),
		syncOps:     make(map[string]int64),
		errors:      make(map[string]int64),
	}
}

// ObserveResolution counts one candidate by its resolution kind
// ("new", "unchanged_duplicate", "updated_duplicate").
func (r *Registry) ObserveResolution(kind string) {
	r.mu.Lock()
	r.resolutions[kind]++
	r.mu.Unlock()
}

// ObserveSyncOp counts one successful external calendar write by type
// ("create", "update", "cancel").
func (r *Registry) ObserveSyncOp(op string) {
	r.mu.Lock()
	r.syncOps[op]++
	r.mu.Unlock()
}

// ObserveError counts one failure by kind ("unparsable_date",
// "ambiguous_date", "insufficient_data", "sync_failure", "extraction").
func (r *Registry) ObserveError(kind string) {
	r.mu.Lock()
	r.errors[kind]++
	r.mu.Unlock()
}

// ObserveMessage counts one fully processed message; skipped marks a
// redelivery short-circuit.
func (r *Registry) ObserveMessage(skipped bool) {
	r.mu.Lock()
	if skipped {
		r.messagesSkipped++
	} else {
		r.messagesProcessed++
	}
	r.mu.Unlock()
}

// Snapshot is a point-in-time copy of all counters, safe to marshal.
type Snapshot struct {
	UptimeSeconds     int64            `json:"uptime_seconds"`
	MessagesProcessed int64            `json:"messages_processed"`
	MessagesSkipped   int64            `json:"messages_skipped"`
	Resolutions       map[string]int64 `json:"candidates_by_resolution"`
	SyncOps           map[string]int64 `json:"sync_ops_by_type"`
	Errors            map[string]int64 `json:"failures_by_kind"`
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		UptimeSeconds:     int64(time.Since(r.startedAt).Seconds()),
		MessagesProcessed: r.messagesProcessed,
		MessagesSkipped:   r.messagesSkipped,
		Resolutions:       make(map[string]int64, len(r.resolutions)),
		SyncOps:           make(map[string]int64, len(r.syncOps)),
		Errors:            make(map[string]int64, len(r.errors)),
	}
	for k, v := range r.resolutions {
		snap.Resolutions[k] = v
	}
	for k, v := range r.syncOps {
		snap.SyncOps[k] = v
	}
	for k, v := range r.errors {
		snap.Errors[k] = v
	}
	return snap
}
