package patcher

import (
	"io"
	"os"

	"github.com/uplo-tech/errors"

	"github.com/uroni/urbackup-backend-sub007/errkind"
	"github.com/uroni/urbackup-backend-sub007/modules/bitmap"
)

// Reassembler applies a stream of Instructions against a base file to
// produce the new file, run on the side holding the base (the server).
type Reassembler struct {
	base io.ReaderAt
	out  io.WriteSeeker

	// SaveIncompleteFile records whether a partially-written output
	// file is kept on I/O error. Apply does not read it; the choice
	// takes effect through FinalizeIncomplete's saveIncomplete argument.
	SaveIncompleteFile bool
}

// NewReassembler prepares a Reassembler writing to out using base as the
// source for InstrSame/InstrSameAt instructions.
func NewReassembler(base io.ReaderAt, out io.WriteSeeker) *Reassembler {
	return &Reassembler{base: base, out: out}
}

// Apply consumes instructions from next until it returns io.EOF, writing
// the reassembled file to r.out. It returns the number of bytes written.
func (r *Reassembler) Apply(next func() (Instruction, error)) (int64, error) {
	var written int64
	buf := make([]byte, bitmap.ChunkSize)
	for {
		instr, err := next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return written, err
		}

		var n int
		switch instr.Kind {
		case InstrSame:
			n, err = r.copyBaseChunk(instr.ChunkIndex, buf)
		case InstrSameAt:
			n, err = r.copyBaseChunk(instr.BaseChunkIndex, buf)
		case InstrLiteral:
			n, err = len(instr.Data), nil
			if n > 0 {
				_, err = r.out.Write(instr.Data)
			}
			if err == nil {
				written += int64(n)
				continue
			}
		default:
			return written, errors.New("patcher: unknown instruction kind")
		}
		if err != nil {
			return written, err
		}
		if n > 0 {
			if _, werr := r.out.Write(buf[:n]); werr != nil {
				return written, werr
			}
		}
		written += int64(n)
	}
	return written, nil
}

func (r *Reassembler) copyBaseChunk(chunkIndex int, buf []byte) (int, error) {
	off := int64(chunkIndex) * bitmap.ChunkSize
	n, err := r.base.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return 0, err
	}
	return n, nil
}

// VerifyAndRetry reassembles via reassemble up to MaxWholeFileRetries+1
// times, checking the result's whole-file hash against want each time.
// On a final mismatch it returns errkind.ErrWholeFileHashMismatch.
func VerifyAndRetry(want bitmap.StrongHash, reassemble func() (bitmap.StrongHash, error)) error {
	var lastErr error
	for attempt := 0; attempt <= MaxWholeFileRetries; attempt++ {
		got, err := reassemble()
		if err != nil {
			lastErr = err
			continue
		}
		if got == want {
			return nil
		}
		lastErr = errkind.ErrWholeFileHashMismatch
	}
	return errors.AddContext(lastErr, "patcher: whole-file hash verification failed after retries")
}

// FinalizeIncomplete renames path to an ".incomplete" sibling when
// saveIncomplete is true and some bytes were written, else removes it,
// per the mid-transfer I/O error policy.
func FinalizeIncomplete(path string, bytesWritten int64, saveIncomplete bool) error {
	if bytesWritten > 0 && saveIncomplete {
		return os.Rename(path, path+".incomplete")
	}
	return os.Remove(path)
}
