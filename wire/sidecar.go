package wire

import (
	"encoding/binary"
	"io"

	"github.com/uplo-tech/errors"
)

// OS-metadata magic numbers terminating a file sidecar, identifying which
// stat-blob/attribute-stream layout follows.
const (
	MagicWindowsMetadata uint64 = 0x320FAB3D119DCB4A
	MagicUnixMetadata    uint64 = 0xFE4378A3467647F0
)

// MetadataSidecarTail is the OS-metadata portion of a file sidecar, the
// part appended after the chunk-hash table patcher.Sidecar persists:
// magic, a stat blob, zero or more named attribute streams, and a
// trailing checksum over everything above it.
type MetadataSidecarTail struct {
	Magic      uint64
	Stat       []byte
	Attributes []NamedAttribute
	Checksum   uint32
}

// NamedAttribute is one extended-attribute or ACL stream captured
// alongside a file's stat blob.
type NamedAttribute struct {
	Name string
	Data []byte
}

// WriteTo serializes the tail. Name must be non-empty for every
// attribute; an empty name is a format error the reader rejects.
func (m MetadataSidecarTail) WriteTo(w io.Writer) (int64, error) {
	var written int64
	var tmp [8]byte

	binary.BigEndian.PutUint64(tmp[:8], m.Magic)
	n, err := w.Write(tmp[:8])
	written += int64(n)
	if err != nil {
		return written, err
	}

	binary.BigEndian.PutUint32(tmp[:4], uint32(len(m.Stat)))
	n, err = w.Write(tmp[:4])
	written += int64(n)
	if err != nil {
		return written, err
	}
	n, err = w.Write(m.Stat)
	written += int64(n)
	if err != nil {
		return written, err
	}

	for _, attr := range m.Attributes {
		if attr.Name == "" {
			return written, errors.New("wire: attribute stream with empty name")
		}
		binary.BigEndian.PutUint32(tmp[:4], uint32(len(attr.Name)))
		n, err = w.Write(tmp[:4])
		written += int64(n)
		if err != nil {
			return written, err
		}
		n, err = io.WriteString(w, attr.Name)
		written += int64(n)
		if err != nil {
			return written, err
		}
		binary.BigEndian.PutUint32(tmp[:4], uint32(len(attr.Data)))
		n, err = w.Write(tmp[:4])
		written += int64(n)
		if err != nil {
			return written, err
		}
		n, err = w.Write(attr.Data)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}

	binary.BigEndian.PutUint32(tmp[:4], m.Checksum)
	n, err = w.Write(tmp[:4])
	written += int64(n)
	return written, err
}

// ReadMetadataSidecarTail parses a tail written by WriteTo, reading
// exactly attrCount attribute streams before the trailing checksum.
// Mismatched magics (neither MagicWindowsMetadata nor MagicUnixMetadata)
// are rejected.
func ReadMetadataSidecarTail(r io.Reader, attrCount int) (MetadataSidecarTail, error) {
	var m MetadataSidecarTail
	var tmp [8]byte

	if _, err := io.ReadFull(r, tmp[:8]); err != nil {
		return m, errors.AddContext(err, "wire: could not read sidecar magic")
	}
	m.Magic = binary.BigEndian.Uint64(tmp[:8])
	if m.Magic != MagicWindowsMetadata && m.Magic != MagicUnixMetadata {
		return m, errors.New("wire: sidecar magic does not match a known metadata format")
	}

	if _, err := io.ReadFull(r, tmp[:4]); err != nil {
		return m, errors.AddContext(err, "wire: could not read stat blob length")
	}
	statLen := binary.BigEndian.Uint32(tmp[:4])
	m.Stat = make([]byte, statLen)
	if _, err := io.ReadFull(r, m.Stat); err != nil {
		return m, errors.AddContext(err, "wire: could not read stat blob")
	}

	for i := 0; i < attrCount; i++ {
		if _, err := io.ReadFull(r, tmp[:4]); err != nil {
			return m, errors.AddContext(err, "wire: could not read attribute name length")
		}
		nameLen := binary.BigEndian.Uint32(tmp[:4])
		if nameLen == 0 {
			return m, errors.New("wire: attribute stream with empty name")
		}
		name := make([]byte, nameLen)
		if _, err := io.ReadFull(r, name); err != nil {
			return m, errors.AddContext(err, "wire: could not read attribute name")
		}

		if _, err := io.ReadFull(r, tmp[:4]); err != nil {
			return m, errors.AddContext(err, "wire: could not read attribute data length")
		}
		dataLen := binary.BigEndian.Uint32(tmp[:4])
		data := make([]byte, dataLen)
		if _, err := io.ReadFull(r, data); err != nil {
			return m, errors.AddContext(err, "wire: could not read attribute data")
		}
		m.Attributes = append(m.Attributes, NamedAttribute{Name: string(name), Data: data})
	}

	if _, err := io.ReadFull(r, tmp[:4]); err != nil {
		return m, errors.AddContext(err, "wire: could not read sidecar checksum")
	}
	m.Checksum = binary.BigEndian.Uint32(tmp[:4])
	return m, nil
}
