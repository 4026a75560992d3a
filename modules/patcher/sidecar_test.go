package patcher

import (
	"bytes"
	"testing"

	"github.com/uroni/urbackup-backend-sub007/modules/bitmap"
)

func TestBuildAndReadSidecarRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("a"), bitmap.ChunkSize*2+10)
	sc, err := BuildSidecar(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if len(sc.ChunkHashes) != 3 {
		t.Fatalf("expected 3 chunk hashes, got %d", len(sc.ChunkHashes))
	}

	var buf bytes.Buffer
	if _, err := sc.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}

	got, err := ReadSidecar(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.ChunkHashes) != len(sc.ChunkHashes) {
		t.Fatalf("expected %d chunk hashes after round trip, got %d", len(sc.ChunkHashes), len(got.ChunkHashes))
	}
	for i := range sc.ChunkHashes {
		if got.ChunkHashes[i] != sc.ChunkHashes[i] {
			t.Fatalf("chunk %d hash mismatch after round trip", i)
		}
	}
}

func TestSidecarAtOutOfRange(t *testing.T) {
	sc := Sidecar{ChunkHashes: []bitmap.StrongHash{{1}}}
	if _, ok := sc.At(-1); ok {
		t.Fatal("expected At(-1) to report false")
	}
	if _, ok := sc.At(1); ok {
		t.Fatal("expected At(1) to report false for a 1-element sidecar")
	}
	if h, ok := sc.At(0); !ok || h != sc.ChunkHashes[0] {
		t.Fatal("expected At(0) to return the single stored hash")
	}
}
