package fileentry

import (
	"github.com/uplo-tech/errors"

	"github.com/uroni/urbackup-backend-sub007/types"
)

// AddRequest is the input to Add. The caller (the dedup sink) is
// responsible for locating the siblings this entry splices next to;
// Add itself never searches for them.
type AddRequest struct {
	Entry types.FileEntry

	// UpdateFileIndex requests that, when Entry.PointedTo is true, the
	// file index also be repointed at this entry's id.
	UpdateFileIndex bool
}

// Add writes entry, linking it into its sibling's list by rewriting the
// neighbours' Prev/Next pointers to include it, and updates the index if
// requested. The group mutex is held for the full splice so that a
// concurrent Remove of the current pointed-to head cannot observe this
// add half-finished.
func (s *Store) Add(req AddRequest) error {
	entry := req.Entry
	unlock := s.stripe.lockKey(entry.Key())
	defer unlock()

	rows := []types.FileEntry{entry}

	if entry.PrevEntry != 0 {
		prev, err := s.Lookup(entry.PrevEntry)
		if err != nil {
			return errors.AddContext(err, "fileentry: add could not load prev sibling")
		}
		prev.NextEntry = entry.ID
		rows = append(rows, prev)
	}
	if entry.NextEntry != 0 {
		next, err := s.Lookup(entry.NextEntry)
		if err != nil {
			return errors.AddContext(err, "fileentry: add could not load next sibling")
		}
		next.PrevEntry = entry.ID
		rows = append(rows, next)
	}

	if err := s.commit(rows, nil); err != nil {
		return errors.AddContext(err, "fileentry: add failed to commit")
	}

	if req.UpdateFileIndex && entry.PointedTo {
		return s.index.PutDelayed(entry.Key(), entry.ID)
	}
	return nil
}

// Remove splices id out of its doubly linked list, promoting a neighbour
// (preferring Next) to PointedTo if id held that status, and rewrites the
// index accordingly. If id was the last entry for its content group, the
// index entry is deleted instead.
func (s *Store) Remove(id types.EntryID) error {
	entry, err := s.Lookup(id)
	if err != nil {
		return errors.AddContext(err, "fileentry: remove could not load entry")
	}

	unlock := s.stripe.lockKey(entry.Key())
	defer unlock()

	var rows []types.FileEntry
	var promoted *types.FileEntry

	if entry.PrevEntry != 0 {
		prev, err := s.Lookup(entry.PrevEntry)
		if err != nil {
			return errors.AddContext(err, "fileentry: remove could not load prev sibling")
		}
		prev.NextEntry = entry.NextEntry
		rows = append(rows, prev)
	}
	if entry.NextEntry != 0 {
		next, err := s.Lookup(entry.NextEntry)
		if err != nil {
			return errors.AddContext(err, "fileentry: remove could not load next sibling")
		}
		next.PrevEntry = entry.PrevEntry
		rows = append(rows, next)
	}

	if entry.PointedTo {
		if entry.NextEntry != 0 {
			for i := range rows {
				if rows[i].ID == entry.NextEntry {
					rows[i].PointedTo = true
					promoted = &rows[i]
				}
			}
		} else if entry.PrevEntry != 0 {
			for i := range rows {
				if rows[i].ID == entry.PrevEntry {
					rows[i].PointedTo = true
					promoted = &rows[i]
				}
			}
		}
	}

	if err := s.commit(rows, []types.EntryID{id}); err != nil {
		return errors.AddContext(err, "fileentry: remove failed to commit")
	}

	if !entry.PointedTo {
		return nil
	}
	if promoted != nil {
		return s.index.PutDelayed(promoted.Key(), promoted.ID)
	}
	// No neighbours left: this was the last entry for the group.
	return s.index.DelDelayed(entry.Key())
}

// CorrectionBatch is the in-memory sibling-link correction helper cleanup
// (C10) uses when removing many entries in one sweep: the dependency
// graph of Prev/Next rewrites is resolved against this map instead of
// round-tripping to the database for every row, and the whole batch is
// flushed atomically when Flush is called.
//
// MinID and MaxID record the id range the batch was created for; the
// batch does not check them, and corrections for any id are cached and
// consulted.
type CorrectionBatch struct {
	store *Store

	MinID types.EntryID
	MaxID types.EntryID

	next      map[types.EntryID]types.EntryID
	prev      map[types.EntryID]types.EntryID
	pointedTo map[types.EntryID]bool
	deleted   map[types.EntryID]bool

	indexPuts map[types.IndexKey]types.EntryID
	indexDels map[types.IndexKey]bool
}

// NewCorrectionBatch creates a batch valid for ids in [minID, maxID].
func (s *Store) NewCorrectionBatch(minID, maxID types.EntryID) *CorrectionBatch {
	return &CorrectionBatch{
		store:     s,
		MinID:     minID,
		MaxID:     maxID,
		next:      make(map[types.EntryID]types.EntryID),
		prev:      make(map[types.EntryID]types.EntryID),
		pointedTo: make(map[types.EntryID]bool),
		deleted:   make(map[types.EntryID]bool),
		indexPuts: make(map[types.IndexKey]types.EntryID),
		indexDels: make(map[types.IndexKey]bool),
	}
}

// Lookup returns id's entry, consulting the in-memory corrections first
// before falling back to the store.
func (b *CorrectionBatch) Lookup(id types.EntryID) (types.FileEntry, error) {
	entry, err := b.store.Lookup(id)
	if err != nil {
		return types.FileEntry{}, err
	}
	if b.deleted[id] {
		return types.FileEntry{}, nil
	}
	if v, ok := b.next[id]; ok {
		entry.NextEntry = v
	}
	if v, ok := b.prev[id]; ok {
		entry.PrevEntry = v
	}
	if v, ok := b.pointedTo[id]; ok {
		entry.PointedTo = v
	}
	return entry, nil
}

// SetNext records a corrected NextEntry for id, valid until Flush.
func (b *CorrectionBatch) SetNext(id, next types.EntryID) {
	b.next[id] = next
}

// SetPrev records a corrected PrevEntry for id, valid until Flush.
func (b *CorrectionBatch) SetPrev(id, prev types.EntryID) {
	b.prev[id] = prev
}

// SetPointedTo records a corrected PointedTo flag for id, valid until
// Flush.
func (b *CorrectionBatch) SetPointedTo(id types.EntryID, pointedTo bool) {
	b.pointedTo[id] = pointedTo
}

// MarkDeleted records that id is being removed as part of this batch.
func (b *CorrectionBatch) MarkDeleted(id types.EntryID) {
	b.deleted[id] = true
}

func (b *CorrectionBatch) indexPut(key types.IndexKey, id types.EntryID) {
	delete(b.indexDels, key)
	b.indexPuts[key] = id
}

func (b *CorrectionBatch) indexDel(key types.IndexKey) {
	delete(b.indexPuts, key)
	b.indexDels[key] = true
}

// Remove records id's removal within the batch: it splices id out of its
// sibling list (rewriting neighbours' Prev/Next through SetPrev/SetNext),
// promotes a neighbour to PointedTo if id held that status, and tracks
// the resulting index update so Flush applies it once the corrected rows
// are durable. This is the batched equivalent of Store.Remove, used by a
// sweep removing many entries in one transaction instead of one commit
// per id.
func (b *CorrectionBatch) Remove(id types.EntryID) error {
	entry, err := b.Lookup(id)
	if err != nil {
		return errors.AddContext(err, "fileentry: correction batch could not load entry")
	}

	if entry.PrevEntry != 0 {
		b.SetNext(entry.PrevEntry, entry.NextEntry)
	}
	if entry.NextEntry != 0 {
		b.SetPrev(entry.NextEntry, entry.PrevEntry)
	}

	if entry.PointedTo {
		switch {
		case entry.NextEntry != 0:
			b.SetPointedTo(entry.NextEntry, true)
			b.indexPut(entry.Key(), entry.NextEntry)
		case entry.PrevEntry != 0:
			b.SetPointedTo(entry.PrevEntry, true)
			b.indexPut(entry.Key(), entry.PrevEntry)
		default:
			b.indexDel(entry.Key())
		}
	}

	b.MarkDeleted(id)
	return nil
}

// Flush writes every corrected row (and applies every deletion) to the
// database in one WAL transaction. No external observer may read the
// file-entry table between the batch's first correction and this call.
func (b *CorrectionBatch) Flush() error {
	ids := make(map[types.EntryID]struct{})
	for id := range b.next {
		ids[id] = struct{}{}
	}
	for id := range b.prev {
		ids[id] = struct{}{}
	}
	for id := range b.pointedTo {
		ids[id] = struct{}{}
	}

	var rows []types.FileEntry
	for id := range ids {
		if b.deleted[id] {
			continue
		}
		entry, err := b.store.Lookup(id)
		if err != nil {
			return errors.AddContext(err, "fileentry: correction batch flush lookup failed")
		}
		if v, ok := b.next[id]; ok {
			entry.NextEntry = v
		}
		if v, ok := b.prev[id]; ok {
			entry.PrevEntry = v
		}
		if v, ok := b.pointedTo[id]; ok {
			entry.PointedTo = v
		}
		rows = append(rows, entry)
	}

	var deletes []types.EntryID
	for id := range b.deleted {
		deletes = append(deletes, id)
	}

	if err := b.store.commit(rows, deletes); err != nil {
		return err
	}

	for key := range b.indexDels {
		if err := b.store.index.DelDelayed(key); err != nil {
			return errors.AddContext(err, "fileentry: correction batch flush could not delete index entry")
		}
	}
	for key, id := range b.indexPuts {
		if err := b.store.index.PutDelayed(key, id); err != nil {
			return errors.AddContext(err, "fileentry: correction batch flush could not update index entry")
		}
	}
	return nil
}
