package patcher

import (
	"bytes"
	"io"
	"testing"

	"github.com/uroni/urbackup-backend-sub007/modules/bitmap"
)

// chunk builds a ChunkSize-aligned buffer from repeated byte values, one
// full chunk per value, to construct synthetic multi-chunk test files.
func chunk(vals ...byte) []byte {
	buf := make([]byte, 0, bitmap.ChunkSize*len(vals))
	for _, v := range vals {
		buf = append(buf, bytes.Repeat([]byte{v}, bitmap.ChunkSize)...)
	}
	return buf
}

func diffAndApply(t *testing.T, base, newContent []byte) []byte {
	t.Helper()

	sidecar, err := BuildSidecar(bytes.NewReader(base))
	if err != nil {
		t.Fatal(err)
	}

	differ := NewDiffer(sidecar, bytes.NewReader(base), int64(len(base)))
	var instructions []Instruction
	_, err = differ.Diff(bytes.NewReader(newContent), func(i Instruction) error {
		instructions = append(instructions, i)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	idx := 0
	reassembler := NewReassembler(bytes.NewReader(base), &seekBuffer{})
	out := reassembler.out.(*seekBuffer)
	_, err = reassembler.Apply(func() (Instruction, error) {
		if idx >= len(instructions) {
			return Instruction{}, io.EOF
		}
		i := instructions[idx]
		idx++
		return i, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return out.buf
}

func TestDiffApplyIdenticalContent(t *testing.T) {
	base := chunk(1, 2, 3)
	got := diffAndApply(t, base, append([]byte(nil), base...))
	if !bytes.Equal(got, base) {
		t.Fatal("expected reassembled output to equal the unchanged base")
	}
}

func TestDiffApplyOneChunkModified(t *testing.T) {
	base := chunk(1, 2, 3)
	newContent := chunk(1, 9, 3)
	got := diffAndApply(t, base, newContent)
	if !bytes.Equal(got, newContent) {
		t.Fatal("expected reassembled output to match the modified content")
	}
}

func TestDiffApplyChunkMoved(t *testing.T) {
	base := chunk(1, 2, 3)
	// chunk 2 moved from index 1 to index 2, a new chunk(4) inserted at index 1.
	newContent := chunk(1, 4, 2)
	got := diffAndApply(t, base, newContent)
	if !bytes.Equal(got, newContent) {
		t.Fatal("expected reassembled output to match content with a moved chunk")
	}
}

// seekBuffer is a minimal io.WriteSeeker backed by an in-memory slice, used
// since Reassembler.Apply only ever appends from the current position in
// these tests.
type seekBuffer struct {
	buf []byte
	pos int64
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf[:b.pos], p...)
	b.pos += int64(len(p))
	return len(p), nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	b.pos = offset
	return b.pos, nil
}
