// Package fileentry persists types.FileEntry rows and the mutators that
// keep the per-content doubly linked lists (and the index that resolves
// to their pointed-to heads) consistent: invariants I1-I3 of the file
// store. See the doc comment on (*Store).Remove in mutate.go for the
// splice algorithm.
package fileentry

import (
	"encoding/binary"
	"path/filepath"

	"github.com/uplo-tech/bolt"
	"github.com/uplo-tech/encoding"
	"github.com/uplo-tech/errors"
	"github.com/uplo-tech/writeaheadlog"

	"github.com/uroni/urbackup-backend-sub007/errkind"
	"github.com/uroni/urbackup-backend-sub007/modules/fileindex"
	"github.com/uroni/urbackup-backend-sub007/persist"
	"github.com/uroni/urbackup-backend-sub007/types"
)

var entriesBucket = []byte("fileentries")

const walFile = "fileentry.wal"

const updateEntryName = "fileentry-put"
const updateDeleteName = "fileentry-delete"

// Store is the authoritative per-file-entry database. It owns the bolt
// table of FileEntry rows and a writeaheadlog.WAL that journals the
// multi-row splice rewrites add/remove perform, so a crash mid-splice
// never leaves the doubly linked list observing half an update.
type Store struct {
	db  *bolt.DB
	wal *writeaheadlog.WAL
	log *persist.Logger

	index *fileindex.Index

	stripe *stripedMutex
}

// Open opens (or creates) the file-entry database rooted at dir, replaying
// any unapplied WAL transactions left over from a prior crash before
// returning.
func Open(dir string, index *fileindex.Index, log *persist.Logger) (*Store, error) {
	db, err := bolt.Open(filepath.Join(dir, "fileentries.db"), 0600, nil)
	if err != nil {
		return nil, errors.AddContext(err, "could not open file-entry database")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(entriesBucket)
		return err
	})
	if err != nil {
		return nil, errors.AddContext(err, "could not create file-entry bucket")
	}

	txns, wal, err := writeaheadlog.New(filepath.Join(dir, walFile))
	if err != nil {
		return nil, errors.AddContext(err, "could not open file-entry wal")
	}

	s := &Store{
		db:     db,
		wal:    wal,
		log:    log,
		index:  index,
		stripe: newStripedMutex(256),
	}

	for _, txn := range txns {
		if err := s.replayTransaction(txn); err != nil {
			return nil, errors.AddContext(err, "could not replay file-entry wal transaction")
		}
	}
	return s, nil
}

// Close closes the WAL and the underlying database.
func (s *Store) Close() error {
	return errors.Compose(s.wal.Close(), s.db.Close())
}

func (s *Store) replayTransaction(txn *writeaheadlog.Transaction) error {
	applied := true
	for _, update := range txn.Updates {
		if err := s.applyUpdate(update); err != nil {
			if s.log != nil {
				s.log.Println("ERROR: fileentry: could not replay update", update.Name, err)
			}
			applied = false
		}
	}
	if !applied {
		return nil
	}
	return txn.SignalUpdatesApplied()
}

func (s *Store) applyUpdate(update writeaheadlog.Update) error {
	switch update.Name {
	case updateEntryName:
		var entry types.FileEntry
		if err := encoding.Unmarshal(update.Instructions, &entry); err != nil {
			return err
		}
		return s.putRow(entry)
	case updateDeleteName:
		var id types.EntryID
		if err := encoding.Unmarshal(update.Instructions, &id); err != nil {
			return err
		}
		return s.deleteRow(id)
	default:
		return errors.New("fileentry: unrecognized wal update " + update.Name)
	}
}

// commit wraps a set of row mutations in a WAL transaction: the rows are
// journaled, signaled as set up, applied to the bolt table, then signaled
// as applied. A crash between any two steps leaves the WAL able to finish
// the job on the next Open.
func (s *Store) commit(rows []types.FileEntry, deletes []types.EntryID) error {
	updates := make([]writeaheadlog.Update, 0, len(rows)+len(deletes))
	for _, row := range rows {
		data, err := encoding.Marshal(row)
		if err != nil {
			return err
		}
		updates = append(updates, writeaheadlog.Update{Name: updateEntryName, Instructions: data})
	}
	for _, id := range deletes {
		data, err := encoding.Marshal(id)
		if err != nil {
			return err
		}
		updates = append(updates, writeaheadlog.Update{Name: updateDeleteName, Instructions: data})
	}
	if len(updates) == 0 {
		return nil
	}

	txn, err := s.wal.NewTransaction(updates)
	if err != nil {
		return errors.AddContext(err, "failed to create file-entry wal txn")
	}
	if err := <-txn.SignalSetupComplete(); err != nil {
		return errors.AddContext(err, "failed to signal file-entry wal setup")
	}
	for _, row := range rows {
		if err := s.putRow(row); err != nil {
			return errors.AddContext(err, "failed to apply file-entry update")
		}
	}
	for _, id := range deletes {
		if err := s.deleteRow(id); err != nil {
			return errors.AddContext(err, "failed to apply file-entry delete")
		}
	}
	return txn.SignalUpdatesApplied()
}

func (s *Store) putRow(entry types.FileEntry) error {
	data, err := encoding.Marshal(entry)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(entriesBucket).Put(idKey(entry.ID), data)
	})
}

func (s *Store) deleteRow(id types.EntryID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(entriesBucket).Delete(idKey(id))
	})
}

// Lookup returns the FileEntry with the given id.
func (s *Store) Lookup(id types.EntryID) (types.FileEntry, error) {
	var entry types.FileEntry
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(entriesBucket).Get(idKey(id))
		if v == nil {
			return nil
		}
		found = true
		return encoding.Unmarshal(v, &entry)
	})
	if err != nil {
		return types.FileEntry{}, err
	}
	if !found {
		return types.FileEntry{}, errkind.ErrNotExist
	}
	return entry, nil
}

// Range calls fn for every FileEntry in ascending id order, stopping
// early if fn returns false. Used by the cleanup sweep (C10) to walk all
// entries referencing a backup.
func (s *Store) Range(fn func(types.FileEntry) bool) error {
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(entriesBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var entry types.FileEntry
			if err := encoding.Unmarshal(v, &entry); err != nil {
				return err
			}
			if !fn(entry) {
				break
			}
		}
		return nil
	})
}

func idKey(id types.EntryID) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}
