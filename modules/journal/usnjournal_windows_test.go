//go:build windows

package journal

import (
	"path/filepath"
	"testing"

	"golang.org/x/sys/windows"
)

func newTestFRNMap(t *testing.T) *FRNMap {
	t.Helper()
	m, err := OpenFRNMap(filepath.Join(t.TempDir(), "frn.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func fileRecord(frn, parent FRN, attrs uint32, reason uint32) *usnRecordV2Header {
	return &usnRecordV2Header{
		FileReferenceNumber:       uint64(frn),
		ParentFileReferenceNumber: uint64(parent),
		FileAttributes:            attrs,
		Reason:                    reason,
	}
}

// TestClassifyFileRename exercises S4: a plain file (not a directory)
// renamed from a.txt to b.txt must emit a single EventFileRenamed and
// update the FRN map's stored name, not fall through to the generic
// known-FRN tail case.
func TestClassifyFileRename(t *testing.T) {
	m := newTestFRNMap(t)
	w := NewUSNWatcher(m, nil)
	volume := `C:\`

	const frn FRN = 42
	const parent FRN = 1
	if err := m.Put(volume, Entry{FRN: parent, ParentFRN: SentinelRoot, Name: "", IsDir: true}); err != nil {
		t.Fatal(err)
	}
	if err := m.Put(volume, Entry{FRN: frn, ParentFRN: parent, Name: "a.txt", IsDir: false}); err != nil {
		t.Fatal(err)
	}

	old := w.classify(volume, fileRecord(frn, parent, 0, usnReasonRenameOldName), "a.txt")
	if old != nil {
		t.Fatalf("expected RENAME_OLD_NAME to produce no event, got %v", old)
	}

	events := w.classify(volume, fileRecord(frn, parent, 0, usnReasonRenameNewName), "b.txt")
	if len(events) != 1 {
		t.Fatalf("expected exactly 1 event for a file rename, got %d: %v", len(events), events)
	}
	ev := events[0]
	if ev.Kind != EventFileRenamed {
		t.Fatalf("expected EventFileRenamed, got %v", ev.Kind)
	}
	if filepath.Base(ev.OldPath) != "a.txt" || filepath.Base(ev.Path) != "b.txt" {
		t.Fatalf("expected rename from a.txt to b.txt, got OldPath=%q Path=%q", ev.OldPath, ev.Path)
	}

	updated, err := m.Get(volume, frn)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Name != "b.txt" {
		t.Fatalf("expected FRN map to record the new name, got %q", updated.Name)
	}
}

func TestClassifyDirRenameStillDirEvent(t *testing.T) {
	m := newTestFRNMap(t)
	w := NewUSNWatcher(m, nil)
	volume := `C:\`

	const frn FRN = 7
	if err := m.Put(volume, Entry{FRN: frn, ParentFRN: SentinelRoot, Name: "olddir", IsDir: true}); err != nil {
		t.Fatal(err)
	}

	events := w.classify(volume, fileRecord(frn, SentinelRoot, windows.FILE_ATTRIBUTE_DIRECTORY, usnReasonRenameNewName), "newdir")
	if len(events) != 1 || events[0].Kind != EventDirRenamed {
		t.Fatalf("expected a single EventDirRenamed, got %v", events)
	}
}
