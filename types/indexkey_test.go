package types

import (
	"bytes"
	"testing"
)

func TestIndexKeyRoundTrip(t *testing.T) {
	k := IndexKey{Hash: Hash{1, 2, 3}, Size: 4096, Client: 7}
	b, err := k.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != IndexKeySize {
		t.Fatalf("expected %d bytes, got %d", IndexKeySize, len(b))
	}

	var got IndexKey
	if err := got.UnmarshalBinary(b); err != nil {
		t.Fatal(err)
	}
	if got != k {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, k)
	}
}

func TestIndexKeyUnmarshalWrongLength(t *testing.T) {
	var k IndexKey
	if err := k.UnmarshalBinary([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected an error unmarshaling a short buffer")
	}
}

// TestIndexKeyOrdering confirms the byte-lexicographic order MarshalBinary
// produces groups by hash, then size, then client, matching how the
// underlying bolt table iterates keys.
func TestIndexKeyOrdering(t *testing.T) {
	lo := IndexKey{Hash: Hash{1}, Size: 1, Client: 1}
	hi := IndexKey{Hash: Hash{1}, Size: 1, Client: 2}

	loB, _ := lo.MarshalBinary()
	hiB, _ := hi.MarshalBinary()
	if bytes.Compare(loB, hiB) >= 0 {
		t.Fatal("expected lo to sort before hi")
	}
}

func TestWildcardKey(t *testing.T) {
	k := WildcardKey(Hash{9}, 100)
	if k.Client != WildcardClient {
		t.Fatalf("expected wildcard client, got %d", k.Client)
	}
}
