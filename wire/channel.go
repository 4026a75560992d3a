package wire

import (
	"compress/zlib"
	"crypto/cipher"
	"crypto/rand"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/uplo-tech/errors"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/uroni/urbackup-backend-sub007/crypto"
)

// AEADWriter wraps w, sealing each Write's payload as one AEAD record
// framed with a big-endian u32 length prefix, the upgrade EncUpgrade
// negotiates when a control line adds authenticated encryption to a pipe.
type AEADWriter struct {
	w     io.Writer
	aead  cipher.AEAD
	nonce []byte
	seq   uint64
}

// NewAEADWriter creates a writer sealing records with key (32 bytes).
func NewAEADWriter(w io.Writer, key []byte) (*AEADWriter, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, errors.AddContext(err, "wire: could not initialize AEAD writer")
	}
	return &AEADWriter{w: w, aead: aead, nonce: make([]byte, chacha20poly1305.NonceSize)}, nil
}

// Write seals p as one record and writes it framed to the underlying
// writer. Each record uses a fresh deterministic nonce derived from a
// monotonically increasing sequence number, avoiding the cost of reading
// crypto/rand per record while still never repeating a (key, nonce) pair
// for the lifetime of one AEADWriter.
func (a *AEADWriter) Write(p []byte) (int, error) {
	putSeq(a.nonce, a.seq)
	a.seq++

	sealed := a.aead.Seal(nil, a.nonce, p, nil)

	var lenBuf [4]byte
	putUint32(lenBuf[:], uint32(len(sealed)))
	if _, err := a.w.Write(lenBuf[:]); err != nil {
		return 0, err
	}
	if _, err := a.w.Write(sealed); err != nil {
		return 0, err
	}
	return len(p), nil
}

// AEADReader is the receiving half of AEADWriter.
type AEADReader struct {
	r     io.Reader
	aead  cipher.AEAD
	nonce []byte
	seq   uint64
}

// NewAEADReader creates a reader opening records sealed with key.
func NewAEADReader(r io.Reader, key []byte) (*AEADReader, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, errors.AddContext(err, "wire: could not initialize AEAD reader")
	}
	return &AEADReader{r: r, aead: aead, nonce: make([]byte, chacha20poly1305.NonceSize)}, nil
}

// ReadRecord reads and opens the next sealed record.
func (a *AEADReader) ReadRecord() ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(a.r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := getUint32(lenBuf[:])
	sealed := make([]byte, n)
	if _, err := io.ReadFull(a.r, sealed); err != nil {
		return nil, errors.AddContext(err, "wire: short read on sealed record")
	}

	putSeq(a.nonce, a.seq)
	a.seq++

	plain, err := a.aead.Open(nil, a.nonce, sealed, nil)
	if err != nil {
		return nil, errors.AddContext(err, "wire: AEAD record authentication failed")
	}
	return plain, nil
}

// GenerateKeyAdd returns random additional key material for the
// EncUpgrade.KeyAdd field.
func GenerateKeyAdd(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// DeriveChannelKey folds an EncUpgrade's KeyAdd into shared (the
// authentication secret negotiated earlier on the control channel) and
// returns the resulting XChaCha20-Poly1305 channel key. Both ends of the
// connection compute this independently from the same two inputs; it
// never crosses the wire itself.
func DeriveChannelKey(shared, keyAdd []byte) (crypto.CipherKey, error) {
	h, err := blake2b.New256(shared)
	if err != nil {
		return nil, errors.AddContext(err, "wire: could not initialize channel key derivation")
	}
	if _, err := h.Write(keyAdd); err != nil {
		return nil, err
	}
	return crypto.NewCipherKey(crypto.TypeXChaCha20, h.Sum(nil))
}

func putSeq(nonce []byte, seq uint64) {
	for i := 0; i < 8 && i < len(nonce); i++ {
		nonce[len(nonce)-1-i] = byte(seq >> (8 * uint(i)))
	}
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func getUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// NewCompressWriter wraps w with the negotiated compression algorithm.
// zlib is the protocol's original default (stdlib, required for
// interoperability with the wire format's "zlib" option); zstd is the
// faster modern alternative negotiable via EncUpgrade.
func NewCompressWriter(w io.Writer, algo CompressAlgo, level int) (io.WriteCloser, error) {
	switch algo {
	case CompressZstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevel(level)))
	case CompressZlib, "":
		return zlib.NewWriterLevel(w, level)
	default:
		return nil, errors.New("wire: unknown compression algorithm")
	}
}

// NewCompressReader wraps r with the matching decompressor.
func NewCompressReader(r io.Reader, algo CompressAlgo) (io.ReadCloser, error) {
	switch algo {
	case CompressZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	case CompressZlib, "":
		return zlib.NewReader(r)
	default:
		return nil, errors.New("wire: unknown compression algorithm")
	}
}
