// Package patcher implements the chunked delta-transfer engine (C6):
// computing and comparing per-chunk hashes between two file versions, and
// reassembling a new file from an old file plus a stream of "same chunk"
// / literal-bytes instructions, at O(changed-chunks) network cost.
package patcher

import (
	"encoding/binary"
	"io"

	"github.com/uplo-tech/errors"

	"github.com/uroni/urbackup-backend-sub007/modules/bitmap"
)

// MaxWholeFileRetries is how many times a whole-file retransfer is
// attempted after a whole-file hash mismatch before surfacing a hash
// error to the caller.
const MaxWholeFileRetries = 5

// Sidecar is the per-file table of chunk strong hashes, persisted
// alongside a stored file at FileEntry.Hashpath so a later backup can
// diff against it without rehashing the whole base file.
type Sidecar struct {
	ChunkHashes []bitmap.StrongHash
}

// BuildSidecar computes the chunk hash table for r, reading it to EOF in
// ChunkSize chunks.
func BuildSidecar(r io.Reader) (Sidecar, error) {
	var sc Sidecar
	cr := bitmap.NewChunkReader(r)
	for {
		chunk, err := cr.Next()
		if len(chunk) > 0 {
			sc.ChunkHashes = append(sc.ChunkHashes, bitmap.SumStrong(chunk))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return Sidecar{}, err
		}
	}
	return sc, nil
}

// WriteTo serializes the sidecar as a count followed by fixed-width hash
// records, the simplest on-disk layout that supports random access by
// chunk index without a separate offset table.
func (sc Sidecar) WriteTo(w io.Writer) (int64, error) {
	var hdr [8]byte
	binary.BigEndian.PutUint64(hdr[:], uint64(len(sc.ChunkHashes)))
	n, err := w.Write(hdr[:])
	total := int64(n)
	if err != nil {
		return total, err
	}
	for _, h := range sc.ChunkHashes {
		n, err := w.Write(h[:])
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// ReadSidecar parses a sidecar written by WriteTo.
func ReadSidecar(r io.Reader) (Sidecar, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Sidecar{}, errors.AddContext(err, "could not read chunk-hash sidecar header")
	}
	count := binary.BigEndian.Uint64(hdr[:])
	sc := Sidecar{ChunkHashes: make([]bitmap.StrongHash, count)}
	for i := range sc.ChunkHashes {
		if _, err := io.ReadFull(r, sc.ChunkHashes[i][:]); err != nil {
			return Sidecar{}, errors.AddContext(err, "could not read chunk-hash sidecar record")
		}
	}
	return sc, nil
}

// At returns the strong hash recorded for chunk index i, or false if the
// sidecar does not cover that many chunks (the base file was shorter).
func (sc Sidecar) At(i int) (bitmap.StrongHash, bool) {
	if i < 0 || i >= len(sc.ChunkHashes) {
		return bitmap.StrongHash{}, false
	}
	return sc.ChunkHashes[i], true
}
