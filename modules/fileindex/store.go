// Package fileindex implements the server-side content-addressed index
// described as C3: a persistent ordered map from types.IndexKey to
// types.EntryID, fronted by a delayed-write buffer so that a backup's
// burst of millions of lookups and writes does not serialize on disk I/O.
package fileindex

import (
	"github.com/uplo-tech/bolt"
	"github.com/uplo-tech/errors"

	"github.com/uroni/urbackup-backend-sub007/types"
)

var indexBucket = []byte("fileindex")

// Store is the persistent half of the index: an ordered key/value map
// backed by an embedded B+Tree database, preserving byte-lexicographic
// key order so range scans over (hash, size, *) work without a secondary
// sort.
type Store struct {
	db *bolt.DB
}

// OpenStore opens (creating if necessary) the persistent index at path.
func OpenStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errors.AddContext(err, "could not open file index database")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(indexBucket)
		return err
	})
	if err != nil {
		return nil, errors.AddContext(err, "could not create file index bucket")
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get looks up key directly in the persistent store, bypassing any
// in-memory buffer.
func (s *Store) Get(key types.IndexKey) (types.EntryID, bool, error) {
	kb, err := key.MarshalBinary()
	if err != nil {
		return 0, false, err
	}
	var id types.EntryID
	var found bool
	err = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(indexBucket).Get(kb)
		if v == nil {
			return nil
		}
		found = true
		id = decodeEntryID(v)
		return nil
	})
	return id, found, err
}

// ApplyBatch applies a set of pending writes (value 0 means delete) in a
// single transaction, as the background flusher does when it rotates the
// active buffer into the persistent store.
func (s *Store) ApplyBatch(batch map[types.IndexKey]types.EntryID) error {
	if len(batch) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(indexBucket)
		for key, id := range batch {
			kb, err := key.MarshalBinary()
			if err != nil {
				return err
			}
			if id == 0 {
				if err := b.Delete(kb); err != nil {
					return err
				}
				continue
			}
			if err := b.Put(kb, encodeEntryID(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

// RangeClients iterates over every (hash, size, client) entry sharing the
// same (hash, size) prefix, in ascending client order, calling fn for
// each. Iteration stops early if fn returns false.
func (s *Store) RangeClients(hash types.Hash, size uint64, fn func(client uint64, id types.EntryID) bool) error {
	prefix, err := types.IndexKey{Hash: hash, Size: size}.MarshalBinary()
	if err != nil {
		return err
	}
	prefix = prefix[:types.HashSize+8] // hash || size, client omitted
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(indexBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var key types.IndexKey
			if err := key.UnmarshalBinary(k); err != nil {
				return err
			}
			if !fn(key.Client, decodeEntryID(v)) {
				break
			}
		}
		return nil
	})
}

// Rebuild replaces the persistent store's contents from rows, used by the
// bulk-rebuild path (spec.md's create(iter)). Only rows with PointedTo set
// become index entries; rows are expected sorted so that, within each
// (hash,size,client) group, the first row encountered is the head, but
// since only the pointed-to row is written the caller need not enforce
// order beyond "the pointed-to row appears last so it wins on a duplicate
// key", which Rebuild makes explicit by simply overwriting.
func (s *Store) Rebuild(rows <-chan RebuildRow) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(indexBucket); err != nil && !errors.Contains(err, bolt.ErrBucketNotFound) {
			return err
		}
		b, err := tx.CreateBucket(indexBucket)
		if err != nil {
			return err
		}
		for row := range rows {
			if !row.PointedTo {
				continue
			}
			kb, err := row.Key().MarshalBinary()
			if err != nil {
				return err
			}
			if err := b.Put(kb, encodeEntryID(row.ID)); err != nil {
				return err
			}
		}
		return nil
	})
}

// RebuildRow is one row of the bulk-rebuild iterator.
type RebuildRow struct {
	ID        types.EntryID
	Hash      types.Hash
	Size      uint64
	Client    uint64
	NextID    types.EntryID
	PrevID    types.EntryID
	PointedTo bool
}

// Key returns the IndexKey this row would occupy.
func (r RebuildRow) Key() types.IndexKey {
	return types.IndexKey{Hash: r.Hash, Size: r.Size, Client: r.Client}
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

func encodeEntryID(id types.EntryID) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[7-i] = byte(id >> (8 * uint(i)))
	}
	return b
}

func decodeEntryID(b []byte) types.EntryID {
	var id types.EntryID
	for i := 0; i < 8 && i < len(b); i++ {
		id = id<<8 | types.EntryID(b[i])
	}
	return id
}
