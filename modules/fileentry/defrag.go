package fileentry

import (
	"os"

	"github.com/uplo-tech/bolt"
	"github.com/uplo-tech/errors"
)

// Defragment rewrites the file-entry database into a freshly allocated
// file, dropping the free pages boltdb leaves behind after years of
// churn from Add/Remove splices, then swaps it in under the same path.
// It must not run concurrently with any Add/Remove/commit; callers are
// expected to hold cleanup's sweep as the only writer at the time.
func (s *Store) Defragment() error {
	path := s.db.Path()
	tmpPath := path + ".defrag"
	os.Remove(tmpPath)

	tmp, err := bolt.Open(tmpPath, 0600, nil)
	if err != nil {
		return errors.AddContext(err, "fileentry: could not open defrag target")
	}

	err = s.db.View(func(srcTx *bolt.Tx) error {
		return tmp.Update(func(dstTx *bolt.Tx) error {
			return srcTx.ForEach(func(name []byte, b *bolt.Bucket) error {
				dst, err := dstTx.CreateBucketIfNotExists(name)
				if err != nil {
					return err
				}
				return b.ForEach(func(k, v []byte) error {
					return dst.Put(append([]byte(nil), k...), append([]byte(nil), v...))
				})
			})
		})
	})
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.AddContext(err, "fileentry: defrag copy failed")
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := s.db.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errors.AddContext(err, "fileentry: could not swap in defragmented database")
	}

	reopened, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return errors.AddContext(err, "fileentry: could not reopen database after defrag")
	}
	s.db = reopened
	return nil
}
