// Package crypto provides the AEAD key abstraction used to negotiate the
// optional encrypted channel upgrade (wire.EncUpgrade's keyadd field).
// It is deliberately narrow: the control/data channel only ever upgrades
// to XChaCha20-Poly1305 or stays plaintext, so this package carries just
// those two CipherTypes rather than the full multi-cipher hierarchy a
// piece-encryption system would need.
package crypto

import (
	"crypto/cipher"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/uplo-tech/fastrand"
)

var (
	// TypeDefaultChannel is the CipherType new connections negotiate to
	// when the client advertises capability for an encrypted channel.
	TypeDefaultChannel = TypeXChaCha20

	// TypeInvalid represents an invalid type which cannot be used for any
	// meaningful purpose.
	TypeInvalid = CipherType{0, 0, 0, 0, 0, 0, 0, 0}
	// TypePlain means no encryption is used.
	TypePlain = CipherType{0, 0, 0, 0, 0, 0, 0, 1}
	// TypeXChaCha20 is the type for XChaCha20-Poly1305 channel encryption.
	TypeXChaCha20 = CipherType{0, 0, 0, 0, 0, 0, 0, 4}
)

// ErrInvalidCipherType is returned upon encountering an unknown cipher
// type.
var ErrInvalidCipherType = errors.New("provided cipher type is invalid")

// ErrInsufficientLen is returned when a ciphertext is too short to
// contain a prepended nonce.
var ErrInsufficientLen = errors.New("ciphertext is not long enough to contain a nonce")

type (
	// CipherType is an identifier for the channel ciphers this package
	// provides.
	CipherType [8]byte

	// Ciphertext is an encrypted []byte.
	Ciphertext []byte

	// CipherKey is a channel key with authenticated encrypt/decrypt
	// methods. Unlike a piece-encryption key it has no notion of a chunk
	// or block index: every channel record is sealed independently.
	CipherKey interface {
		// Key returns the underlying key bytes.
		Key() []byte

		// Type returns the type of the key.
		Type() CipherType

		// EncryptBytes seals plaintext and prepends a fresh random nonce.
		EncryptBytes([]byte) Ciphertext

		// DecryptBytes opens a ciphertext produced by EncryptBytes.
		DecryptBytes(Ciphertext) ([]byte, error)
	}
)

// String creates a string representation of a CipherType that can be
// converted back with FromString. It is what wire.EncUpgrade negotiation
// puts on the control line.
func (ct CipherType) String() string {
	switch ct {
	case TypePlain:
		return "plaintext"
	case TypeXChaCha20:
		return "XChaCha20"
	default:
		return ""
	}
}

// FromString reads a CipherType from its negotiated string form.
func (ct *CipherType) FromString(s string) error {
	switch s {
	case "plaintext":
		*ct = TypePlain
	case "XChaCha20":
		*ct = TypeXChaCha20
	default:
		return ErrInvalidCipherType
	}
	return nil
}

// NewCipherKey creates a CipherKey of the given type from entropy. For
// TypeXChaCha20, entropy must be exactly chacha20poly1305.KeySize bytes,
// as produced by wire.GenerateKeyAdd.
func NewCipherKey(ct CipherType, entropy []byte) (CipherKey, error) {
	switch ct {
	case TypePlain:
		return plainTextCipherKey{}, nil
	case TypeXChaCha20:
		return newXChaCha20CipherKey(entropy)
	default:
		return nil, ErrInvalidCipherType
	}
}

// GenerateCipherKey creates a new random CipherKey of the given type.
func GenerateCipherKey(ct CipherType) CipherKey {
	switch ct {
	case TypePlain:
		return plainTextCipherKey{}
	case TypeXChaCha20:
		return generateXChaCha20CipherKey()
	default:
		panic(ErrInvalidCipherType)
	}
}

// IsValidCipherType returns true if ct is a known CipherType.
func IsValidCipherType(ct CipherType) bool {
	switch ct {
	case TypePlain, TypeXChaCha20:
		return true
	default:
		return false
	}
}

// plainTextCipherKey is the no-op CipherKey used when a channel upgrade
// is declined.
type plainTextCipherKey struct{}

func (plainTextCipherKey) Key() []byte               { return nil }
func (plainTextCipherKey) Type() CipherType          { return TypePlain }
func (plainTextCipherKey) EncryptBytes(b []byte) Ciphertext {
	return Ciphertext(b)
}
func (plainTextCipherKey) DecryptBytes(ct Ciphertext) ([]byte, error) {
	return []byte(ct), nil
}

// xchacha20CipherKey wraps an AEAD built from golang.org/x/crypto's
// XChaCha20-Poly1305 construction.
type xchacha20CipherKey struct {
	key  []byte
	aead cipher.AEAD
}

func newXChaCha20CipherKey(entropy []byte) (CipherKey, error) {
	aead, err := chacha20poly1305.NewX(entropy)
	if err != nil {
		return nil, err
	}
	key := make([]byte, len(entropy))
	copy(key, entropy)
	return &xchacha20CipherKey{key: key, aead: aead}, nil
}

func generateXChaCha20CipherKey() CipherKey {
	key, err := newXChaCha20CipherKey(fastrand.Bytes(chacha20poly1305.KeySize))
	if err != nil {
		panic(err)
	}
	return key
}

func (k *xchacha20CipherKey) Key() []byte      { return k.key }
func (k *xchacha20CipherKey) Type() CipherType { return TypeXChaCha20 }

func (k *xchacha20CipherKey) EncryptBytes(plaintext []byte) Ciphertext {
	return Ciphertext(EncryptWithNonce(plaintext, k.aead))
}

func (k *xchacha20CipherKey) DecryptBytes(ct Ciphertext) ([]byte, error) {
	return DecryptWithNonce([]byte(ct), k.aead)
}

// EncryptWithNonce encrypts plaintext with aead and prepends a random
// nonce sized for aead.
func EncryptWithNonce(plaintext []byte, aead cipher.AEAD) []byte {
	nonce := fastrand.Bytes(aead.NonceSize())
	return aead.Seal(nonce, nonce, plaintext, nil)
}

// DecryptWithNonce decrypts ciphertext with aead, using its prepended
// nonce.
func DecryptWithNonce(ciphertext []byte, aead cipher.AEAD) ([]byte, error) {
	if len(ciphertext) < aead.NonceSize() {
		return nil, ErrInsufficientLen
	}
	nonce, ciphertext := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	return aead.Open(nil, nonce, ciphertext, nil)
}
