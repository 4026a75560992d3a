// Package backupstore persists the Backup metadata table: one row per
// backup run, keyed by BackupID, the thing C10 walks to decide what to
// remove and C7 walks to decide what is restorable.
package backupstore

import (
	"encoding/binary"
	"path/filepath"

	"github.com/uplo-tech/bolt"
	"github.com/uplo-tech/encoding"
	"github.com/uplo-tech/errors"

	"github.com/uroni/urbackup-backend-sub007/errkind"
	"github.com/uroni/urbackup-backend-sub007/types"
)

var backupsBucket = []byte("backups")

// Store is the persistent backup metadata table.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the backup store at dir/backups.db.
func Open(dir string) (*Store, error) {
	db, err := bolt.Open(filepath.Join(dir, "backups.db"), 0600, nil)
	if err != nil {
		return nil, errors.AddContext(err, "backupstore: could not open database")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(backupsBucket)
		return err
	})
	if err != nil {
		return nil, errors.AddContext(err, "backupstore: could not create bucket")
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put inserts or overwrites b.
func (s *Store) Put(b types.Backup) error {
	data, err := encoding.Marshal(b)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(backupsBucket).Put(idKey(b.ID), data)
	})
}

// Get looks up a backup by id.
func (s *Store) Get(id types.BackupID) (types.Backup, error) {
	var b types.Backup
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(backupsBucket).Get(idKey(id))
		if v == nil {
			return nil
		}
		found = true
		return encoding.Unmarshal(v, &b)
	})
	if err != nil {
		return types.Backup{}, err
	}
	if !found {
		return types.Backup{}, errkind.ErrNotExist
	}
	return b, nil
}

// Delete removes a backup row.
func (s *Store) Delete(id types.BackupID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(backupsBucket).Delete(idKey(id))
	})
}

// Range calls fn for every backup in ascending id order, stopping early
// if fn returns false.
func (s *Store) Range(fn func(types.Backup) bool) error {
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(backupsBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var b types.Backup
			if err := encoding.Unmarshal(v, &b); err != nil {
				return err
			}
			if !fn(b) {
				break
			}
		}
		return nil
	})
}

// ReferencingAssoc returns the ids of every backup whose AssocImageID
// points at parent, used by cleanup to enforce the cascade-before-parent
// ordering rule.
func (s *Store) ReferencingAssoc(parent types.BackupID) ([]types.BackupID, error) {
	var out []types.BackupID
	err := s.Range(func(b types.Backup) bool {
		if b.AssocImageID == parent {
			out = append(out, b.ID)
		}
		return true
	})
	return out, err
}

func idKey(id types.BackupID) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}
