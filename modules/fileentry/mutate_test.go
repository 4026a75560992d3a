package fileentry

import (
	"testing"

	"github.com/uroni/urbackup-backend-sub007/types"
)

func TestAddHeadUpdatesIndex(t *testing.T) {
	s, idx := newTestStoreAndIndex(t)
	hash := types.Hash{5}

	entry := types.FileEntry{ID: 1, ClientID: 1, Hash: hash, Size: 10, PointedTo: true}
	if err := s.Add(AddRequest{Entry: entry, UpdateFileIndex: true}); err != nil {
		t.Fatal(err)
	}

	id, ok, err := idx.GetExact(entry.Key())
	if err != nil {
		t.Fatal(err)
	}
	if !ok || id != 1 {
		t.Fatalf("expected the index to resolve to the new head, got id=%d ok=%v", id, ok)
	}
}

func TestAddLinksSiblingPointers(t *testing.T) {
	s, _ := newTestStoreAndIndex(t)
	hash := types.Hash{5}

	head := types.FileEntry{ID: 1, ClientID: 1, Hash: hash, Size: 10, PointedTo: true}
	if err := s.Add(AddRequest{Entry: head, UpdateFileIndex: true}); err != nil {
		t.Fatal(err)
	}

	tail := types.FileEntry{ID: 2, ClientID: 1, Hash: hash, Size: 10, PrevEntry: 1}
	if err := s.Add(AddRequest{Entry: tail}); err != nil {
		t.Fatal(err)
	}

	gotHead, err := s.Lookup(1)
	if err != nil {
		t.Fatal(err)
	}
	if gotHead.NextEntry != 2 {
		t.Fatalf("expected head's NextEntry to be rewritten to 2, got %d", gotHead.NextEntry)
	}
}

func TestRemovePromotesNextToPointedTo(t *testing.T) {
	s, idx := newTestStoreAndIndex(t)
	hash := types.Hash{5}

	head := types.FileEntry{ID: 1, ClientID: 1, Hash: hash, Size: 10, PointedTo: true}
	if err := s.Add(AddRequest{Entry: head, UpdateFileIndex: true}); err != nil {
		t.Fatal(err)
	}
	tail := types.FileEntry{ID: 2, ClientID: 1, Hash: hash, Size: 10, PrevEntry: 1}
	if err := s.Add(AddRequest{Entry: tail}); err != nil {
		t.Fatal(err)
	}

	if err := s.Remove(1); err != nil {
		t.Fatal(err)
	}

	promoted, err := s.Lookup(2)
	if err != nil {
		t.Fatal(err)
	}
	if !promoted.PointedTo || promoted.PrevEntry != 0 {
		t.Fatalf("expected entry 2 to be promoted head, got %+v", promoted)
	}

	id, ok, err := idx.GetExact(head.Key())
	if err != nil {
		t.Fatal(err)
	}
	if !ok || id != 2 {
		t.Fatalf("expected the index to now resolve to the promoted entry, got id=%d ok=%v", id, ok)
	}
}

func TestRemoveLastEntryDeletesIndex(t *testing.T) {
	s, idx := newTestStoreAndIndex(t)
	hash := types.Hash{5}

	head := types.FileEntry{ID: 1, ClientID: 1, Hash: hash, Size: 10, PointedTo: true}
	if err := s.Add(AddRequest{Entry: head, UpdateFileIndex: true}); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove(1); err != nil {
		t.Fatal(err)
	}

	_, ok, err := idx.GetExact(head.Key())
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected the index entry to be deleted once the last entry in the group is removed")
	}
}

func TestCorrectionBatchFlush(t *testing.T) {
	s, _ := newTestStoreAndIndex(t)
	entry := types.FileEntry{ID: 1, Hash: types.Hash{1}, Size: 1, PointedTo: false}
	if err := s.commit([]types.FileEntry{entry}, nil); err != nil {
		t.Fatal(err)
	}

	batch := s.NewCorrectionBatch(1, 1)
	batch.SetPointedTo(1, true)
	batch.SetNext(1, 2)

	got, err := batch.Lookup(1)
	if err != nil {
		t.Fatal(err)
	}
	if !got.PointedTo || got.NextEntry != 2 {
		t.Fatalf("expected the in-memory correction to be visible before flush, got %+v", got)
	}

	if err := batch.Flush(); err != nil {
		t.Fatal(err)
	}

	persisted, err := s.Lookup(1)
	if err != nil {
		t.Fatal(err)
	}
	if !persisted.PointedTo || persisted.NextEntry != 2 {
		t.Fatalf("expected the correction to be persisted after Flush, got %+v", persisted)
	}
}

func TestCorrectionBatchRemovePromotesNext(t *testing.T) {
	s, idx := newTestStoreAndIndex(t)
	hash := types.Hash{9}

	head := types.FileEntry{ID: 1, ClientID: 1, Hash: hash, Size: 10, PointedTo: true}
	if err := s.Add(AddRequest{Entry: head, UpdateFileIndex: true}); err != nil {
		t.Fatal(err)
	}
	tail := types.FileEntry{ID: 2, ClientID: 1, Hash: hash, Size: 10, PrevEntry: 1}
	if err := s.Add(AddRequest{Entry: tail}); err != nil {
		t.Fatal(err)
	}

	batch := s.NewCorrectionBatch(1, 2)
	if err := batch.Remove(1); err != nil {
		t.Fatal(err)
	}
	if err := batch.Flush(); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Lookup(1); err == nil {
		t.Fatal("expected entry 1 to be gone after the batch flush")
	}
	promoted, err := s.Lookup(2)
	if err != nil {
		t.Fatal(err)
	}
	if !promoted.PointedTo || promoted.PrevEntry != 0 {
		t.Fatalf("expected entry 2 to be promoted head, got %+v", promoted)
	}

	id, ok, err := idx.GetExact(head.Key())
	if err != nil {
		t.Fatal(err)
	}
	if !ok || id != 2 {
		t.Fatalf("expected the index to resolve to the promoted entry, got id=%d ok=%v", id, ok)
	}
}

func TestCorrectionBatchRemoveLastEntryDeletesIndex(t *testing.T) {
	s, idx := newTestStoreAndIndex(t)
	hash := types.Hash{10}

	head := types.FileEntry{ID: 1, ClientID: 1, Hash: hash, Size: 10, PointedTo: true}
	if err := s.Add(AddRequest{Entry: head, UpdateFileIndex: true}); err != nil {
		t.Fatal(err)
	}

	batch := s.NewCorrectionBatch(1, 1)
	if err := batch.Remove(1); err != nil {
		t.Fatal(err)
	}
	if err := batch.Flush(); err != nil {
		t.Fatal(err)
	}

	_, ok, err := idx.GetExact(head.Key())
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected the index entry to be deleted once the batch removes the last entry in the group")
	}
}

func TestCorrectionBatchMarkDeleted(t *testing.T) {
	s, _ := newTestStoreAndIndex(t)
	entry := types.FileEntry{ID: 1, Hash: types.Hash{1}, Size: 1}
	if err := s.commit([]types.FileEntry{entry}, nil); err != nil {
		t.Fatal(err)
	}

	batch := s.NewCorrectionBatch(1, 1)
	batch.SetPointedTo(1, true) // queued but should be skipped since 1 is also deleted
	batch.MarkDeleted(1)
	if err := batch.Flush(); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Lookup(1); err == nil {
		t.Fatal("expected the entry to be gone after a correction batch marks it deleted")
	}
}
