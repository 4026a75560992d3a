package types

import (
	"encoding/hex"
	"io"

	"golang.org/x/crypto/blake2b"

	"github.com/uplo-tech/merkletree"
)

// HashSize is the size in bytes of a content fingerprint (C1). UrBackup
// dedup keys content purely on this fingerprint plus file size, so it must
// be collision-resistant in practice; 16 bytes of a cryptographic hash is
// the same tradeoff the wire sidecar format (spec.md §6) already commits to
// for per-chunk hashes truncated from a 32-byte digest.
const HashSize = 16

// Hash is the opaque content fingerprint used to key the file index and to
// identify chunks inside a sidecar. Two files (or chunks) with identical
// bytes always produce an identical Hash.
type Hash [HashSize]byte

// String renders the hash as lowercase hex.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero hash, used as a sentinel for "no
// content" / "not yet known".
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// HashAlgorithm computes a Hash over a file or chunk's contents. A
// deployment selects exactly one algorithm at startup (spec.md §3); both
// implementations below satisfy it so the choice is a config detail, not a
// structural one.
type HashAlgorithm interface {
	// Name identifies the algorithm for persisted metadata so a server
	// started with a different algorithm than the one a store was built
	// with can fail loudly instead of silently miscomparing hashes.
	Name() string
	// Sum reads r to EOF and returns its fingerprint.
	Sum(r io.Reader) (Hash, error)
}

// Blake2bHashAlgorithm truncates a BLAKE2b-256 digest to HashSize bytes. It
// is the default: a single streaming pass, no leaf/tree bookkeeping needed
// for content that is hashed once and then compared by equality only.
type Blake2bHashAlgorithm struct{}

// Name implements HashAlgorithm.
func (Blake2bHashAlgorithm) Name() string { return "blake2b-128" }

// Sum implements HashAlgorithm.
func (Blake2bHashAlgorithm) Sum(r io.Reader) (Hash, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return Hash{}, err
	}
	if _, err := io.Copy(h, r); err != nil {
		return Hash{}, err
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out, nil
}

// MerkleTreeLeafSize is the leaf size used by TreeHashAlgorithm, equal to
// the 4 KiB sub-block size of the chunked patcher's chunks (C6).
const MerkleTreeLeafSize = 4096

// TreeHashAlgorithm computes the Merkle root of a file's 4KiB leaves using
// github.com/uplo-tech/merkletree, then truncates the root to HashSize
// bytes. It is the "secondary tree hash variant" spec.md §3 allows a
// deployment to choose instead of a flat content hash; unlike the flat
// hash, verifying a byte range against it only requires a sibling path
// rather than the whole file, which the restore engine (C7) can use to
// spot-check a reconstructed file without rereading it end to end.
type TreeHashAlgorithm struct{}

// Name implements HashAlgorithm.
func (TreeHashAlgorithm) Name() string { return "merkle-blake2b-4k" }

// Sum implements HashAlgorithm.
func (TreeHashAlgorithm) Sum(r io.Reader) (Hash, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return Hash{}, err
	}
	tree := merkletree.New(h)
	buf := make([]byte, MerkleTreeLeafSize)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			leaf := make([]byte, n)
			copy(leaf, buf[:n])
			tree.Push(leaf)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return Hash{}, err
		}
	}
	root := tree.Root()
	var out Hash
	copy(out[:], root)
	return out, nil
}
