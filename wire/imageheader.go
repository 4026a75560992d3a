package wire

import (
	"encoding/binary"
	"io"

	"github.com/uplo-tech/errors"
)

// ImageFlag bits carried in an ImageHeader.
type ImageFlag uint8

const (
	ImageFlagPersistent ImageFlag = 1 << iota
	ImageFlagBitmap
)

// Block-stream control values, interleaved with (offset, blocksize-bytes)
// block records in the body of an image transfer.
const (
	BlockTerminator       int64 = -123
	BlockKeepalive        int64 = -125
	BlockHashCheckpoint   int64 = -126
	BlockEndOfImage       int64 = 0x7fff_ffff_ffff_ffff
)

// ImageHeader is the fixed-format prologue of an image backup stream.
type ImageHeader struct {
	BlockSize   uint32
	DriveSize   int64
	BlockCount  int64
	Flags       ImageFlag
	ShadowData  []byte
	SaveID      int32
	Hash        [32]byte
	HasHash     bool
}

// WriteTo serializes the header per the wire layout: u32 blocksize | i64
// drivesize | i64 blockcount | u8 flags | u32 shadowdata_len | shadowdata
// | i32 save_id | [32B hash if checksum].
func (h ImageHeader) WriteTo(w io.Writer) (int64, error) {
	buf := make([]byte, 0, 4+8+8+1+4+len(h.ShadowData)+4+32)
	var tmp [8]byte

	binary.BigEndian.PutUint32(tmp[:4], h.BlockSize)
	buf = append(buf, tmp[:4]...)

	binary.BigEndian.PutUint64(tmp[:8], uint64(h.DriveSize))
	buf = append(buf, tmp[:8]...)

	binary.BigEndian.PutUint64(tmp[:8], uint64(h.BlockCount))
	buf = append(buf, tmp[:8]...)

	buf = append(buf, byte(h.Flags))

	binary.BigEndian.PutUint32(tmp[:4], uint32(len(h.ShadowData)))
	buf = append(buf, tmp[:4]...)
	buf = append(buf, h.ShadowData...)

	binary.BigEndian.PutUint32(tmp[:4], uint32(h.SaveID))
	buf = append(buf, tmp[:4]...)

	if h.HasHash {
		buf = append(buf, h.Hash[:]...)
	}

	n, err := w.Write(buf)
	return int64(n), err
}

// ReadImageHeader parses a header written by WriteTo. hasHash must be
// known in advance (negotiated out of band) since the hash field's
// presence is not self-describing.
func ReadImageHeader(r io.Reader, hasHash bool) (ImageHeader, error) {
	var h ImageHeader
	var tmp [8]byte

	if _, err := io.ReadFull(r, tmp[:4]); err != nil {
		return h, errors.AddContext(err, "wire: could not read image header blocksize")
	}
	h.BlockSize = binary.BigEndian.Uint32(tmp[:4])

	if _, err := io.ReadFull(r, tmp[:8]); err != nil {
		return h, errors.AddContext(err, "wire: could not read image header drivesize")
	}
	h.DriveSize = int64(binary.BigEndian.Uint64(tmp[:8]))

	if _, err := io.ReadFull(r, tmp[:8]); err != nil {
		return h, errors.AddContext(err, "wire: could not read image header blockcount")
	}
	h.BlockCount = int64(binary.BigEndian.Uint64(tmp[:8]))

	var flagByte [1]byte
	if _, err := io.ReadFull(r, flagByte[:]); err != nil {
		return h, errors.AddContext(err, "wire: could not read image header flags")
	}
	h.Flags = ImageFlag(flagByte[0])

	if _, err := io.ReadFull(r, tmp[:4]); err != nil {
		return h, errors.AddContext(err, "wire: could not read shadowdata length")
	}
	shadowLen := binary.BigEndian.Uint32(tmp[:4])
	if shadowLen > 0 {
		h.ShadowData = make([]byte, shadowLen)
		if _, err := io.ReadFull(r, h.ShadowData); err != nil {
			return h, errors.AddContext(err, "wire: could not read shadowdata")
		}
	}

	if _, err := io.ReadFull(r, tmp[:4]); err != nil {
		return h, errors.AddContext(err, "wire: could not read save_id")
	}
	h.SaveID = int32(binary.BigEndian.Uint32(tmp[:4]))

	h.HasHash = hasHash
	if hasHash {
		if _, err := io.ReadFull(r, h.Hash[:]); err != nil {
			return h, errors.AddContext(err, "wire: could not read image checksum hash")
		}
	}
	return h, nil
}

// BlockRecord is one (offset, payload) pair in the image stream body.
type BlockRecord struct {
	Offset int64
	Data   []byte
}

// WriteBlock writes one block record: i64 offset followed by len(b.Data)
// bytes, which must equal the header's BlockSize for a real transfer.
func WriteBlock(w io.Writer, b BlockRecord) error {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(b.Offset))
	if _, err := w.Write(tmp[:]); err != nil {
		return err
	}
	_, err := w.Write(b.Data)
	return err
}

// WriteTerminator writes the block-stream end marker.
func WriteTerminator(w io.Writer) error {
	return writeInt64(w, BlockTerminator)
}

// WriteKeepalive writes the image-stream keepalive control value.
func WriteKeepalive(w io.Writer) error {
	return writeInt64(w, BlockKeepalive)
}

// WriteHashCheckpoint writes the cumulative-hash checkpoint control
// record: -126, next_offset, hash.
func WriteHashCheckpoint(w io.Writer, nextOffset int64, hash [32]byte) error {
	if err := writeInt64(w, BlockHashCheckpoint); err != nil {
		return err
	}
	if err := writeInt64(w, nextOffset); err != nil {
		return err
	}
	_, err := w.Write(hash[:])
	return err
}

// WriteEndOfImage writes the end-of-image sentinel.
func WriteEndOfImage(w io.Writer) error {
	return writeInt64(w, BlockEndOfImage)
}

func writeInt64(w io.Writer, v int64) error {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(v))
	_, err := w.Write(tmp[:])
	return err
}

// ReadControlValue reads the next i64 from the stream, the caller's job
// to classify against BlockTerminator/BlockKeepalive/BlockHashCheckpoint/
// BlockEndOfImage or treat as a block offset.
func ReadControlValue(r io.Reader) (int64, error) {
	var tmp [8]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(tmp[:])), nil
}
