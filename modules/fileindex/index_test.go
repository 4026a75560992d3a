package fileindex

import (
	"path/filepath"
	"testing"

	"github.com/uroni/urbackup-backend-sub007/types"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	idx := New(store, nil)
	t.Cleanup(func() {
		idx.Close()
		store.Close()
	})
	return idx
}

func TestIndexPutDelayedVisibleBeforeFlush(t *testing.T) {
	idx := newTestIndex(t)
	key := types.IndexKey{Hash: types.Hash{1}, Size: 10, Client: 1}

	if err := idx.PutDelayed(key, 5); err != nil {
		t.Fatal(err)
	}
	id, ok, err := idx.GetExact(key)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || id != 5 {
		t.Fatalf("expected a delayed write to be visible before its flush, got id=%d ok=%v", id, ok)
	}
}

func TestIndexDelDelayed(t *testing.T) {
	idx := newTestIndex(t)
	key := types.IndexKey{Hash: types.Hash{1}, Size: 10, Client: 1}

	if err := idx.PutDelayed(key, 5); err != nil {
		t.Fatal(err)
	}
	if err := idx.DelDelayed(key); err != nil {
		t.Fatal(err)
	}
	_, ok, err := idx.GetExact(key)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected a delayed delete to shadow the prior put")
	}
}

func TestIndexGetAnyClientPrefersSmallest(t *testing.T) {
	idx := newTestIndex(t)
	hash, size := types.Hash{7}, uint64(100)

	if err := idx.PutDelayed(types.IndexKey{Hash: hash, Size: size, Client: 5}, 50); err != nil {
		t.Fatal(err)
	}
	if err := idx.PutDelayed(types.IndexKey{Hash: hash, Size: size, Client: 2}, 20); err != nil {
		t.Fatal(err)
	}

	client, id, ok, err := idx.GetAnyClient(hash, size)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || client != 2 || id != 20 {
		t.Fatalf("expected the smallest client (2) to win, got client=%d id=%d ok=%v", client, id, ok)
	}
}

// TestIndexGetAnyClientSkipsBufferDeletedSmallestClient reproduces the
// case where the globally smallest client's row is only known to be
// gone via a buffered DelDelayed (no buffered put yet competes for
// "best"): GetAnyClient must not resolve to that already-deleted row
// just because the buffer-deleted check never saw a found candidate.
func TestIndexGetAnyClientSkipsBufferDeletedSmallestClient(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	hash, size := types.Hash{7}, uint64(100)
	if err := store.ApplyBatch(map[types.IndexKey]types.EntryID{
		{Hash: hash, Size: size, Client: 2}: 20,
		{Hash: hash, Size: size, Client: 5}: 50,
	}); err != nil {
		t.Fatal(err)
	}

	idx := New(store, nil)
	defer idx.Close()

	if err := idx.DelDelayed(types.IndexKey{Hash: hash, Size: size, Client: 2}); err != nil {
		t.Fatal(err)
	}

	client, id, ok, err := idx.GetAnyClient(hash, size)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || client != 5 || id != 50 {
		t.Fatalf("expected the buffer-deleted client 2 to be skipped in favor of client 5, got client=%d id=%d ok=%v", client, id, ok)
	}
}

func TestIndexGetPreferClientFallsBack(t *testing.T) {
	idx := newTestIndex(t)
	hash, size := types.Hash{7}, uint64(100)

	if err := idx.PutDelayed(types.IndexKey{Hash: hash, Size: size, Client: 9}, 90); err != nil {
		t.Fatal(err)
	}

	client, id, ok, err := idx.GetPreferClient(hash, size, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || client != 9 || id != 90 {
		t.Fatalf("expected fallback to the only existing client, got client=%d id=%d ok=%v", client, id, ok)
	}
}

func TestIndexGetAllClients(t *testing.T) {
	idx := newTestIndex(t)
	hash, size := types.Hash{7}, uint64(100)

	if err := idx.PutDelayed(types.IndexKey{Hash: hash, Size: size, Client: 1}, 10); err != nil {
		t.Fatal(err)
	}
	if err := idx.PutDelayed(types.IndexKey{Hash: hash, Size: size, Client: 2}, 20); err != nil {
		t.Fatal(err)
	}

	all, err := idx.GetAllClients(hash, size)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[1] != 10 || all[2] != 20 {
		t.Fatalf("expected both clients present, got %v", all)
	}
}

func TestIndexFlushPersistsToStore(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	idx := New(store, nil)
	defer store.Close()

	key := types.IndexKey{Hash: types.Hash{3}, Size: 30, Client: 1}
	if err := idx.PutDelayed(key, 33); err != nil {
		t.Fatal(err)
	}

	// Close performs a final synchronous flush.
	if err := idx.Close(); err != nil {
		t.Fatal(err)
	}

	id, ok, err := store.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || id != 33 {
		t.Fatalf("expected the flushed value to land in the persistent store, got id=%d ok=%v", id, ok)
	}
}

func TestIndexRejectsWritesAfterClose(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	idx := New(store, nil)

	if err := idx.Close(); err != nil {
		t.Fatal(err)
	}

	key := types.IndexKey{Hash: types.Hash{1}, Size: 1, Client: 1}
	if err := idx.PutDelayed(key, 1); err == nil {
		t.Fatal("expected PutDelayed to fail after Close")
	}
}
