package journal

import (
	"path"
	"path/filepath"

	"github.com/uplo-tech/bolt"
	"github.com/uplo-tech/encoding"
	"github.com/uplo-tech/errors"

	"github.com/uroni/urbackup-backend-sub007/errkind"
)

var (
	frnBucket    = []byte("frnmap")
	volumeBucket = []byte("volumes")
)

// FRNMap is the persistent per-volume map from FRN to (parent, name),
// backed by the same ordered embedded-database family the server side
// uses for the file index, since the watcher needs the same crash-safe
// point lookup plus per-volume prefix scans (used by recursive Delete).
type FRNMap struct {
	db *bolt.DB
}

// OpenFRNMap opens (or creates) the FRN map at path.
func OpenFRNMap(dbPath string) (*FRNMap, error) {
	db, err := bolt.Open(filepath.Clean(dbPath), 0600, nil)
	if err != nil {
		return nil, errors.AddContext(err, "could not open frn map")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(frnBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(volumeBucket)
		return err
	})
	if err != nil {
		return nil, errors.AddContext(err, "could not create frn map buckets")
	}
	return &FRNMap{db: db}, nil
}

// Close closes the database.
func (m *FRNMap) Close() error {
	return m.db.Close()
}

// Put records or updates entry for volume.
func (m *FRNMap) Put(volume string, e Entry) error {
	data, err := encoding.Marshal(e)
	if err != nil {
		return err
	}
	return m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(frnBucket).Put(frnKey(volume, e.FRN), data)
	})
}

// Get looks up frn on volume.
func (m *FRNMap) Get(volume string, frn FRN) (Entry, error) {
	var e Entry
	var found bool
	err := m.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(frnBucket).Get(frnKey(volume, frn))
		if v == nil {
			return nil
		}
		found = true
		return encoding.Unmarshal(v, &e)
	})
	if err != nil {
		return Entry{}, err
	}
	if !found {
		return Entry{}, errkind.ErrNotExist
	}
	return e, nil
}

// Delete removes frn and, if recursive is true, every entry whose parent
// chain passes through it (used for FILE_DELETE on a directory).
func (m *FRNMap) Delete(volume string, frn FRN, recursive bool) error {
	if !recursive {
		return m.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(frnBucket).Delete(frnKey(volume, frn))
		})
	}
	toDelete, err := m.descendants(volume, frn)
	if err != nil {
		return err
	}
	toDelete = append(toDelete, frn)
	return m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(frnBucket)
		for _, id := range toDelete {
			if err := b.Delete(frnKey(volume, id)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (m *FRNMap) descendants(volume string, root FRN) ([]FRN, error) {
	var out []FRN
	err := m.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(frnBucket).Cursor()
		prefix := volumePrefix(volume)
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var e Entry
			if err := encoding.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.ParentFRN == root {
				out = append(out, e.FRN)
				sub, err := m.descendantsTx(tx, volume, e.FRN)
				if err != nil {
					return err
				}
				out = append(out, sub...)
			}
		}
		return nil
	})
	return out, err
}

func (m *FRNMap) descendantsTx(tx *bolt.Tx, volume string, root FRN) ([]FRN, error) {
	var out []FRN
	c := tx.Bucket(frnBucket).Cursor()
	prefix := volumePrefix(volume)
	for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
		var e Entry
		if err := encoding.Unmarshal(v, &e); err != nil {
			return nil, err
		}
		if e.ParentFRN == root {
			out = append(out, e.FRN)
			sub, err := m.descendantsTx(tx, volume, e.FRN)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		}
	}
	return out, nil
}

// FullPath reconstructs the full path of frn by walking parent links up
// to SentinelRoot, which resolves to the volume root.
func (m *FRNMap) FullPath(volume string, frn FRN) (string, error) {
	var parts []string
	cur := frn
	for cur != SentinelRoot {
		e, err := m.Get(volume, cur)
		if err != nil {
			return "", err
		}
		parts = append([]string{e.Name}, parts...)
		cur = e.ParentFRN
	}
	return path.Join(append([]string{volume}, parts...)...), nil
}

// VolumeState returns the persisted state for volume, or the zero value
// if none has been recorded yet.
func (m *FRNMap) VolumeState(volume string) (VolumeState, error) {
	var vs VolumeState
	var found bool
	err := m.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(volumeBucket).Get([]byte(volume))
		if v == nil {
			return nil
		}
		found = true
		return encoding.Unmarshal(v, &vs)
	})
	if err != nil {
		return VolumeState{}, err
	}
	if !found {
		return VolumeState{Volume: volume}, nil
	}
	return vs, nil
}

// SetVolumeState persists vs.
func (m *FRNMap) SetVolumeState(vs VolumeState) error {
	data, err := encoding.Marshal(vs)
	if err != nil {
		return err
	}
	return m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(volumeBucket).Put([]byte(vs.Volume), data)
	})
}

func frnKey(volume string, frn FRN) []byte {
	return append(volumePrefix(volume), encoding.Marshal(uint64(frn))...)
}

func volumePrefix(volume string) []byte {
	return append([]byte(volume), 0)
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
