package dedup

import (
	"io"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/uroni/urbackup-backend-sub007/errkind"
	"github.com/uroni/urbackup-backend-sub007/modules/fileentry"
	"github.com/uroni/urbackup-backend-sub007/modules/fileindex"
	"github.com/uroni/urbackup-backend-sub007/types"
)

// fakeFS is an in-memory BackupFileSystem whose Reflink and Hardlink
// succeed unless reflinkErr or hardlinkErr is set, recording every call so tests can assert which fallback path was taken.
type fakeFS struct {
	reflinkErr  error
	hardlinkErr error

	reflinks  []string
	hardlinks []string
	copies    []string
}

func (f *fakeFS) Reflink(src, dst string) error {
	f.reflinks = append(f.reflinks, dst)
	return f.reflinkErr
}

func (f *fakeFS) Hardlink(src, dst string) error {
	f.hardlinks = append(f.hardlinks, dst)
	return f.hardlinkErr
}

func (f *fakeFS) LinkCount(path string) (int, error) { return 1, nil }

func (f *fakeFS) Copy(src, dst string) error {
	f.copies = append(f.copies, dst)
	return nil
}

func (f *fakeFS) Open(path string) (io.ReadCloser, error) {
	return nil, errkind.ErrNotExist
}

func (f *fakeFS) Create(path string) (io.WriteCloser, error) {
	return nil, errkind.ErrNotExist
}

func (f *fakeFS) Remove(path string) error { return nil }

func newTestSink(t *testing.T, fs BackupFileSystem) *Sink {
	t.Helper()
	dir := t.TempDir()

	idxStore, err := fileindex.OpenStore(filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	idx := fileindex.New(idxStore, nil)
	t.Cleanup(func() {
		idx.Close()
		idxStore.Close()
	})

	entries, err := fileentry.Open(dir, idx, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { entries.Close() })

	return New(entries, idx, fs, nil, dir, 0, nil)
}

func TestIngestMissStoresFresh(t *testing.T) {
	fs := &fakeFS{}
	s := newTestSink(t, fs)

	f := IncomingFile{ClientID: 1, Hash: types.Hash{1}, Size: 10000}
	entry, err := s.Ingest(f)
	if err != nil {
		t.Fatal(err)
	}
	if !entry.PointedTo {
		t.Fatal("expected a fresh store to become the pointed-to head")
	}
	if s.Stats.Misses != 1 {
		t.Fatalf("expected 1 miss, got %d", s.Stats.Misses)
	}
}

func TestIngestExactHitLinksViaReflink(t *testing.T) {
	fs := &fakeFS{}
	s := newTestSink(t, fs)

	f := IncomingFile{ClientID: 1, Hash: types.Hash{2}, Size: 10000}
	if _, err := s.Ingest(f); err != nil {
		t.Fatal(err)
	}

	f2 := IncomingFile{ClientID: 1, Hash: types.Hash{2}, Size: 10000, RelPath: "v2"}
	entry, err := s.Ingest(f2)
	if err != nil {
		t.Fatal(err)
	}
	if entry.PointedTo {
		t.Fatal("expected the second identical-content entry to append, not become a new head")
	}
	if s.Stats.ExactHits != 1 {
		t.Fatalf("expected 1 exact hit, got %d", s.Stats.ExactHits)
	}
	if len(fs.reflinks) != 1 {
		t.Fatalf("expected reflink to be tried first, got reflinks=%v hardlinks=%v", fs.reflinks, fs.hardlinks)
	}
}

func TestIngestFallsBackToHardlinkWhenReflinkUnsupported(t *testing.T) {
	fs := &fakeFS{reflinkErr: errkind.ErrReflinkUnsupported}
	s := newTestSink(t, fs)

	f := IncomingFile{ClientID: 1, Hash: types.Hash{3}, Size: 10000}
	if _, err := s.Ingest(f); err != nil {
		t.Fatal(err)
	}
	f2 := IncomingFile{ClientID: 1, Hash: types.Hash{3}, Size: 10000}
	if _, err := s.Ingest(f2); err != nil {
		t.Fatal(err)
	}
	if len(fs.hardlinks) != 1 {
		t.Fatalf("expected a hardlink fallback after reflink was unsupported, got %v", fs.hardlinks)
	}
	if s.Stats.HardlinkUsed != 1 {
		t.Fatalf("expected HardlinkUsed stat to be 1, got %d", s.Stats.HardlinkUsed)
	}
}

func TestIngestSmallFileAlwaysCopiesInline(t *testing.T) {
	fs := &fakeFS{}
	s := newTestSink(t, fs)

	f := IncomingFile{ClientID: 1, Hash: types.Hash{4}, Size: 10}
	if _, err := s.Ingest(f); err != nil {
		t.Fatal(err)
	}
	f2 := IncomingFile{ClientID: 1, Hash: types.Hash{4}, Size: 10}
	if _, err := s.Ingest(f2); err != nil {
		t.Fatal(err)
	}
	if len(fs.reflinks) != 0 || len(fs.hardlinks) != 0 {
		t.Fatal("expected a file below LinkFileMinSize to never be linked")
	}
	if len(fs.copies) != 1 {
		t.Fatalf("expected exactly 1 inline copy, got %d", len(fs.copies))
	}
}

func TestIngestAnyClientHitPrefersOtherClient(t *testing.T) {
	fs := &fakeFS{}
	s := newTestSink(t, fs)

	f := IncomingFile{ClientID: 1, Hash: types.Hash{5}, Size: 10000}
	if _, err := s.Ingest(f); err != nil {
		t.Fatal(err)
	}

	f2 := IncomingFile{ClientID: 2, Hash: types.Hash{5}, Size: 10000}
	entry, err := s.Ingest(f2)
	if err != nil {
		t.Fatal(err)
	}
	if !entry.PointedTo {
		t.Fatal("a new client linking in existing content should become its own chain head")
	}
	if s.Stats.AnyClientHits != 1 {
		t.Fatalf("expected 1 any-client hit, got %d", s.Stats.AnyClientHits)
	}
	if entry.RealSize != 0 {
		t.Fatalf("expected a reflinked head to be charged 0 real size, got %d", entry.RealSize)
	}
}

func TestIngestAnyClientHitChargesLinkFloorWhenReflinkUnsupported(t *testing.T) {
	fs := &fakeFS{reflinkErr: errkind.ErrReflinkUnsupported}
	s := newTestSink(t, fs)

	f := IncomingFile{ClientID: 1, Hash: types.Hash{7}, Size: 10000}
	if _, err := s.Ingest(f); err != nil {
		t.Fatal(err)
	}

	f2 := IncomingFile{ClientID: 2, Hash: types.Hash{7}, Size: 10000}
	entry, err := s.Ingest(f2)
	if err != nil {
		t.Fatal(err)
	}
	if !entry.PointedTo {
		t.Fatal("expected the hardlinked client to become its own chain head")
	}
	if entry.RealSize != LinkFileMinSize {
		t.Fatalf("expected a hardlinked head to be charged the link-accounting floor %d, got %d", LinkFileMinSize, entry.RealSize)
	}
}

func TestIngestRetriesOnNotEnoughSpace(t *testing.T) {
	calls := 0
	fs := &fakeFS{
		reflinkErr:  errkind.ErrReflinkUnsupported,
		hardlinkErr: syscall.ENOSPC,
	}
	s := newTestSink(t, fs)
	s.notEnoughSpace = func(path string) bool {
		calls++
		fs.hardlinkErr = nil // simulate space having been freed
		return true
	}

	f := IncomingFile{ClientID: 1, Hash: types.Hash{6}, Size: 10000}
	if _, err := s.Ingest(f); err != nil {
		t.Fatal(err)
	}
	f2 := IncomingFile{ClientID: 1, Hash: types.Hash{6}, Size: 10000}
	if _, err := s.Ingest(f2); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("expected NotEnoughSpaceFunc to be called exactly once before retrying successfully, got %d", calls)
	}
}
