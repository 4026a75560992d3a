package types

import (
	"encoding/binary"

	"github.com/uplo-tech/errors"
)

// IndexKeySize is the marshaled size of an IndexKey: a Hash followed by two
// big-endian uint64s.
const IndexKeySize = HashSize + 8 + 8

// WildcardClient is the reserved client id used to build a lookup key that
// ignores the client component, i.e. "does this content exist for anyone".
const WildcardClient uint64 = 0

// IndexKey is the (hash, size, client) triple the file index is keyed on.
// MarshalBinary produces a big-endian encoding so that byte-lexicographic
// order (what the underlying ordered store sorts by) matches: group by hash,
// then by size within a hash, then by client within a (hash,size) pair.
type IndexKey struct {
	Hash   Hash
	Size   uint64
	Client uint64
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (k IndexKey) MarshalBinary() ([]byte, error) {
	b := make([]byte, IndexKeySize)
	copy(b[:HashSize], k.Hash[:])
	binary.BigEndian.PutUint64(b[HashSize:HashSize+8], k.Size)
	binary.BigEndian.PutUint64(b[HashSize+8:], k.Client)
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (k *IndexKey) UnmarshalBinary(b []byte) error {
	if len(b) != IndexKeySize {
		return errors.New("types: marshaled index key has wrong length")
	}
	copy(k.Hash[:], b[:HashSize])
	k.Size = binary.BigEndian.Uint64(b[HashSize : HashSize+8])
	k.Client = binary.BigEndian.Uint64(b[HashSize+8:])
	return nil
}

// WildcardKey returns the lookup key for (hash, size) ignoring client,
// used for the any-client dedup hit path.
func WildcardKey(hash Hash, size uint64) IndexKey {
	return IndexKey{Hash: hash, Size: size, Client: WildcardClient}
}
