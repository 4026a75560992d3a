package journal

import (
	"encoding/binary"

	"github.com/uplo-tech/bolt"
	"github.com/uplo-tech/encoding"
)

var journalDataBucket = []byte("journal_data")

// RawRecord is an unclassified change record, buffered verbatim while a
// volume reindex is in progress so no change is lost between the
// reindex's MFT snapshot and the journal position it started from.
type RawRecord struct {
	Volume string
	USN    int64
	Data   []byte
}

// AppendPending durably appends record to the journal_data queue instead
// of applying it, for use while IndexComplete is false.
func (m *FRNMap) AppendPending(record RawRecord) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(journalDataBucket)
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := encoding.MarshalAll(record.Volume, record.USN, record.Data)
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return b.Put(key, data)
	})
}

// DrainPending returns every buffered record for volume in append order
// and clears them, called once a reindex completes so they can be
// replayed against the now-populated FRN map.
func (m *FRNMap) DrainPending(volume string) ([]RawRecord, error) {
	var out []RawRecord
	var keys [][]byte
	err := m.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(journalDataBucket)
		if err != nil {
			return err
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec RawRecord
			if err := encoding.UnmarshalAll(v, &rec.Volume, &rec.USN, &rec.Data); err != nil {
				return err
			}
			if rec.Volume != volume {
				continue
			}
			out = append(out, rec)
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}
