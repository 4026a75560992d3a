package status

import (
	"testing"
	"time"

	"github.com/uroni/urbackup-backend-sub007/types"
)

// TestStartProcessLifecycle tests that a process added via StartProcess is
// visible in Status, updates correctly, and disappears once unreffed.
func TestStartProcessLifecycle(t *testing.T) {
	r := New()
	id := r.StartProcess("client1", types.ActionIncrFile, 1000, "backing up")

	s, ok := r.Status("client1")
	if !ok {
		t.Fatal("expected client1 to be tracked")
	}
	if len(s.Processes) != 1 || s.Processes[0].ID != id {
		t.Fatalf("expected one process with id %v, got %+v", id, s.Processes)
	}

	if err := r.UpdateRunningPC("client1", id, 500, 50, 100.0, 5000); err != nil {
		t.Fatal(err)
	}
	s, _ = r.Status("client1")
	if s.Processes[0].PCDone != 50 || s.Processes[0].DoneBytes != 500 {
		t.Fatalf("update did not apply: %+v", s.Processes[0])
	}

	r.Unref("client1", id)
	s, _ = r.Status("client1")
	if len(s.Processes) != 0 {
		t.Fatalf("expected process to be removed after unref, got %+v", s.Processes)
	}
}

// TestUpdateUnknownProcess tests that operating on a process id that was
// never started reports ErrProcessNotFound.
func TestUpdateUnknownProcess(t *testing.T) {
	r := New()
	r.StartProcess("client1", types.ActionIncrFile, 0, "")
	if err := r.UpdateRunningPC("client1", types.ProcessID(9999), 0, 0, 0, 0); err == nil {
		t.Fatal("expected error for unknown process id")
	}
}

// TestRemoveTimedOutProcesses tests that a process whose LastPing is older
// than PingTimeout is dropped, while a freshly pinged one survives.
func TestRemoveTimedOutProcesses(t *testing.T) {
	r := New()
	stale := r.StartProcess("client1", types.ActionFullFile, 0, "")
	fresh := r.StartProcess("client1", types.ActionFullFile, 0, "")

	r.mu.Lock()
	r.findLocked("client1", stale).LastPing = time.Now().Add(-2 * types.PingTimeout)
	r.mu.Unlock()

	r.RemoveTimedOutProcesses()

	s, _ := r.Status("client1")
	if len(s.Processes) != 1 || s.Processes[0].ID != fresh {
		t.Fatalf("expected only the fresh process to survive, got %+v", s.Processes)
	}
}

// TestStatusSnapshotIsCopy tests that mutating a returned Status does not
// affect the registry's internal state.
func TestStatusSnapshotIsCopy(t *testing.T) {
	r := New()
	r.StartProcess("client1", types.ActionIncrFile, 0, "")

	s, _ := r.Status("client1")
	s.Processes[0].PCDone = 99

	s2, _ := r.Status("client1")
	if s2.Processes[0].PCDone == 99 {
		t.Fatal("expected Status to return an independent copy")
	}
}
