package metrics

import "testing"

func TestRegistryCounters(t *testing.T) {
	r := NewRegistry()

	r.ObserveResolution("new")
	r.ObserveResolution("new")
	r.ObserveResolution("updated_duplicate")
	r.ObserveSyncOp("create")
	r.ObserveError("sync_failure")
	r.ObserveMessage(false)
	r.ObserveMessage(true)

	snap := r.Snapshot()
	if snap.Resolutions["new"] != 2 {
		t.Errorf("new = %d, want 2", snap.Resolutions["new"])
	}
	if snap.Resolutions["updated_duplicate"] != 1 {
		t.Errorf("updated_duplicate = %d, want 1", snap.Resolutions["updated_duplicate"])
	}
	if snap.SyncOps["create"] != 1 {
		t.Errorf("create = %d, want 1", snap.SyncOps["create"])
	}
	if snap.Errors["sync_failure"] != 1 {
		t.Errorf("sync_failure = %d, want 1", snap.Errors["sync_failure"])
	}
	if snap.MessagesProcessed != 1 || snap.MessagesSkipped != 1 {
		t.Errorf("messages = %d/%d, want 1/1", snap.MessagesProcessed, snap.MessagesSkipped)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	r := NewRegistry()
	r.ObserveSyncOp("create")

	snap := r.Snapshot()
	snap.SyncOps["create"] = 99

	if got := r.Snapshot().SyncOps["create"]; got != 1 {
		t.Errorf("registry mutated through snapshot: %d", got)
	}
}
