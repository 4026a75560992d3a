package bitmap

import (
	"bytes"
	"io"
	"testing"
)

func TestSumStrongDeterministic(t *testing.T) {
	a := SumStrong([]byte("hello"))
	b := SumStrong([]byte("hello"))
	if a != b {
		t.Fatal("hashing identical data twice must produce identical strong hashes")
	}
	c := SumStrong([]byte("hellp"))
	if a == c {
		t.Fatal("hashing different data should (overwhelmingly likely) differ")
	}
}

func TestRollingHashReseed(t *testing.T) {
	r := NewRollingHash([]byte("abcd"))
	sum1 := r.Sum32()

	r.Reseed([]byte("wxyz"))
	sum2 := r.Sum32()
	if sum1 == sum2 {
		t.Fatal("expected a different checksum after reseeding with different bytes")
	}

	r.Reseed([]byte("abcd"))
	sum3 := r.Sum32()
	if sum1 != sum3 {
		t.Fatal("reseeding with the original window should reproduce the original checksum")
	}
}

func TestChunkReaderSplitsFixedSizeChunks(t *testing.T) {
	data := bytes.Repeat([]byte{0x42}, ChunkSize*2+100)
	cr := NewChunkReader(bytes.NewReader(data))

	total := 0
	chunks := 0
	for {
		chunk, err := cr.Next()
		if len(chunk) > 0 {
			total += len(chunk)
			chunks++
			if chunks < 3 && len(chunk) != ChunkSize {
				t.Fatalf("expected full chunk of size %d, got %d", ChunkSize, len(chunk))
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
	}
	if total != len(data) {
		t.Fatalf("expected to read %d bytes total, got %d", len(data), total)
	}
	if chunks != 3 {
		t.Fatalf("expected 3 chunks, got %d", chunks)
	}
}

func TestChunkReaderEmpty(t *testing.T) {
	cr := NewChunkReader(bytes.NewReader(nil))
	_, err := cr.Next()
	if err != io.EOF {
		t.Fatalf("expected io.EOF for an empty reader, got %v", err)
	}
}
