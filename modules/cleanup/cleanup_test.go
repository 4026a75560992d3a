package cleanup

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/uroni/urbackup-backend-sub007/modules/backupstore"
	"github.com/uroni/urbackup-backend-sub007/modules/fileentry"
	"github.com/uroni/urbackup-backend-sub007/modules/fileindex"
	"github.com/uroni/urbackup-backend-sub007/types"
)

func newTestSweeper(t *testing.T) (*Sweeper, *backupstore.Store, *fileentry.Store, *fileindex.Index) {
	t.Helper()
	dir := t.TempDir()

	idxStore, err := fileindex.OpenStore(filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	idx := fileindex.New(idxStore, nil)
	t.Cleanup(func() { idx.Close() })

	entries, err := fileentry.Open(dir, idx, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { entries.Close() })

	backups, err := backupstore.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { backups.Close() })

	return New(backups, entries), backups, entries, idx
}

func mustAdd(t *testing.T, entries *fileentry.Store, id types.EntryID, backupID types.BackupID, hash byte) {
	t.Helper()
	err := entries.Add(fileentry.AddRequest{
		Entry: types.FileEntry{
			ID:        id,
			BackupID:  uint64(backupID),
			ClientID:  1,
			Hash:      types.Hash{hash},
			Size:      100,
			PointedTo: true,
		},
		UpdateFileIndex: true,
	})
	if err != nil {
		t.Fatal(err)
	}
}

// TestMarkRespectsFloor tests that markForDeletion never prunes a client
// below MinBackupsPerClient even when every backup is old.
func TestMarkRespectsFloor(t *testing.T) {
	s, backups, _, _ := newTestSweeper(t)

	for i := 0; i < 3; i++ {
		b := types.Backup{
			ID:         types.BackupID(i + 1),
			ClientID:   1,
			BackupTime: time.Unix(int64(i), 0),
			Complete:   true,
		}
		if err := backups.Put(b); err != nil {
			t.Fatal(err)
		}
	}

	calls := 0
	policy := Policy{
		MinBackupsPerClient: 2,
		UnderPressure: func() bool {
			calls++
			return true
		},
	}
	if err := s.markForDeletion(policy); err != nil {
		t.Fatal(err)
	}

	marked := 0
	backups.Range(func(b types.Backup) bool {
		if b.DeletePending {
			marked++
		}
		return true
	})
	if marked != 1 {
		t.Fatalf("expected exactly 1 backup marked with floor 2 of 3, got %d", marked)
	}
}

// TestArchivedNeverMarked tests that an archived backup survives
// markForDeletion regardless of pressure or age.
func TestArchivedNeverMarked(t *testing.T) {
	s, backups, _, _ := newTestSweeper(t)

	backups.Put(types.Backup{ID: 1, ClientID: 1, BackupTime: time.Unix(0, 0), Archived: true})
	backups.Put(types.Backup{ID: 2, ClientID: 1, BackupTime: time.Unix(1, 0)})

	policy := Policy{MinBackupsPerClient: 0, UnderPressure: func() bool { return true }}
	if err := s.markForDeletion(policy); err != nil {
		t.Fatal(err)
	}

	b, err := backups.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	if b.DeletePending {
		t.Fatal("archived backup must never be marked for deletion")
	}
}

// TestCascadeBlocksParentRemoval tests that a backup referenced via
// AssocImageID by another, not-yet-pending backup is not marked or swept.
func TestCascadeBlocksParentRemoval(t *testing.T) {
	s, backups, entries, _ := newTestSweeper(t)

	backups.Put(types.Backup{ID: 1, ClientID: 1, BackupTime: time.Unix(0, 0)})
	backups.Put(types.Backup{ID: 2, ClientID: 1, BackupTime: time.Unix(1, 0), AssocImageID: 1})
	backups.Put(types.Backup{ID: 3, ClientID: 1, BackupTime: time.Unix(2, 0)})

	mustAdd(t, entries, 1, 1, 0xAA)

	policy := Policy{MinBackupsPerClient: 0, UnderPressure: func() bool { return true }}
	if err := s.Run(policy); err != nil {
		t.Fatal(err)
	}

	b1, err := backups.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	if b1.DeletePending {
		t.Fatal("referenced backup must not be marked while its referent survives")
	}
}

// TestEnableUpdateStatsAlwaysCalled tests that EnableUpdateStats runs
// even when the sweep returns an error.
func TestEnableUpdateStatsAlwaysCalled(t *testing.T) {
	s, backups, entries, _ := newTestSweeper(t)
	backups.Put(types.Backup{ID: 1, ClientID: 1, BackupTime: time.Unix(0, 0), DeletePending: true})
	entries.Close()

	called := false
	policy := Policy{EnableUpdateStats: func() { called = true }}
	if err := s.Run(policy); err == nil {
		t.Fatal("expected Run to surface the closed file-entry store as an error")
	}

	if !called {
		t.Fatal("EnableUpdateStats must be called even on failure")
	}
}

// TestSweepPromotesNextThroughBatchedIndex tests that sweeping a backup
// whose entry was the pointed-to head of a two-entry group promotes the
// surviving sibling and repoints the index at it, even though the splice
// is staged through a CorrectionBatch rather than committed per entry.
func TestSweepPromotesNextThroughBatchedIndex(t *testing.T) {
	s, backups, entries, idx := newTestSweeper(t)

	backups.Put(types.Backup{ID: 1, ClientID: 1, BackupTime: time.Unix(0, 0), DeletePending: true})
	backups.Put(types.Backup{ID: 2, ClientID: 1, BackupTime: time.Unix(1, 0)})

	head := types.FileEntry{ID: 1, BackupID: 1, ClientID: 1, Hash: types.Hash{0xBB}, Size: 100, PointedTo: true}
	if err := entries.Add(fileentry.AddRequest{Entry: head, UpdateFileIndex: true}); err != nil {
		t.Fatal(err)
	}
	tail := types.FileEntry{ID: 2, BackupID: 2, ClientID: 1, Hash: types.Hash{0xBB}, Size: 100, PrevEntry: 1}
	if err := entries.Add(fileentry.AddRequest{Entry: tail, UpdateFileIndex: false}); err != nil {
		t.Fatal(err)
	}

	// Floor of 1 keeps markForDeletion from also marking backup 2 (the
	// only still-active backup for this client); only the backup already
	// flagged DeletePending should be swept.
	policy := Policy{MinBackupsPerClient: 1}
	if err := s.Run(policy); err != nil {
		t.Fatal(err)
	}

	if _, err := backups.Get(1); err == nil {
		t.Fatal("expected the swept backup row to be gone")
	}

	promoted, err := entries.Lookup(2)
	if err != nil {
		t.Fatal(err)
	}
	if !promoted.PointedTo {
		t.Fatal("expected the surviving sibling to be promoted to pointed_to")
	}

	_, id, ok, err := idx.GetAnyClient(types.Hash{0xBB}, 100)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || id != 2 {
		t.Fatalf("expected the index to resolve to the promoted entry 2, got id=%d ok=%v", id, ok)
	}
}
