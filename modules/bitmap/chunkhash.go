package bitmap

import (
	"hash"
	"hash/adler32"
	"io"

	"golang.org/x/crypto/blake2b"
)

const (
	// ChunkSize is the granularity at which the patcher (C6) compares two
	// file versions: 512 KiB.
	ChunkSize = 512 * 1024

	// SubBlockSize is the 4 KiB sub-block size within a chunk. The
	// patcher's search compares whole ChunkSize chunks and does not use it.
	SubBlockSize = 4 * 1024

	// StrongHashSize is the width of a chunk's strong hash in the sidecar
	// file, independent of types.HashSize: the sidecar records a full
	// digest so a mismatched-chunk search has as little ambiguity as
	// possible, even though the content index truncates to 16 bytes.
	StrongHashSize = 32
)

// StrongHash is a chunk's full-width content hash, stored one per chunk in
// a file's sidecar.
type StrongHash [StrongHashSize]byte

// SumStrong returns the strong hash of data.
func SumStrong(data []byte) StrongHash {
	sum := blake2b.Sum256(data)
	var out StrongHash
	copy(out[:], sum[:])
	return out
}

// RollingHash is a weak, cheap checksum used as a pre-filter when the
// patcher compares a new chunk against each chunk of a base file looking
// for a strong-hash match, the same role adler32 plays in rsync's delta
// algorithm. It is intentionally not a cryptographic hash: a handful of
// false positives is fine, since every candidate is confirmed with
// SumStrong before being accepted.
type RollingHash struct {
	h hash.Hash32
}

// NewRollingHash returns a RollingHash seeded with the given window.
func NewRollingHash(window []byte) *RollingHash {
	h := adler32.New()
	h.Write(window)
	return &RollingHash{h: h}
}

// Sum32 returns the current checksum.
func (r *RollingHash) Sum32() uint32 {
	return r.h.Sum32()
}

// Reseed resets the rolling hash to cover exactly window; adler32 does not
// expose an incremental roll-by-one-byte primitive in the standard
// library, so each call recomputes the checksum over the whole window
// instead of rolling it.
func (r *RollingHash) Reseed(window []byte) {
	r.h = adler32.New()
	r.h.Write(window)
}

// ChunkReader splits an io.Reader into fixed ChunkSize chunks, the last of
// which may be shorter.
type ChunkReader struct {
	r   io.Reader
	buf []byte
}

// NewChunkReader wraps r for chunked reading.
func NewChunkReader(r io.Reader) *ChunkReader {
	return &ChunkReader{r: r, buf: make([]byte, ChunkSize)}
}

// Next reads the next chunk, returning io.EOF once no data remains. The
// returned slice is only valid until the next call to Next.
func (c *ChunkReader) Next() ([]byte, error) {
	n, err := io.ReadFull(c.r, c.buf)
	if n == 0 {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return nil, err
	}
	if err == io.ErrUnexpectedEOF {
		err = nil
	}
	return c.buf[:n], err
}
