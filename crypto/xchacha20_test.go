package crypto

import (
	"bytes"
	"testing"

	"github.com/uplo-tech/fastrand"
)

// TestXChaCha20Encryption checks that encryption and decryption round-trip
// correctly and that repeated encryptions of the same plaintext are not
// identical (a fresh nonce each call).
func TestXChaCha20Encryption(t *testing.T) {
	key := generateXChaCha20CipherKey()

	plaintext := make([]byte, 600)
	ciphertext := key.EncryptBytes(plaintext)
	decrypted, err := key.DecryptBytes(ciphertext)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(plaintext, decrypted) {
		t.Fatal("encrypted and decrypted zero plaintext do not match")
	}

	plaintext = fastrand.Bytes(600)
	ciphertext = key.EncryptBytes(plaintext)
	for i := 0; i < 3; i++ {
		other := key.EncryptBytes(plaintext)
		if bytes.Equal(ciphertext, other) {
			t.Fatal("expected distinct nonces to produce distinct ciphertexts")
		}
		decrypted, err = key.DecryptBytes(other)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(plaintext, decrypted) {
			t.Fatal("encrypted and decrypted non-zero plaintext do not match")
		}
	}
}

// TestXChaCha20WrongKeyFails checks that a ciphertext does not decrypt
// under a different key.
func TestXChaCha20WrongKeyFails(t *testing.T) {
	key := generateXChaCha20CipherKey()
	other := generateXChaCha20CipherKey()

	ciphertext := key.EncryptBytes([]byte("control channel upgrade"))
	if _, err := other.DecryptBytes(ciphertext); err == nil {
		t.Fatal("expected decryption under the wrong key to fail")
	}
}

// TestPlainTextCipherKeyIsIdentity checks that the plaintext key performs
// no transformation, matching a declined channel upgrade.
func TestPlainTextCipherKeyIsIdentity(t *testing.T) {
	key, err := NewCipherKey(TypePlain, nil)
	if err != nil {
		t.Fatal(err)
	}
	plaintext := []byte("unencrypted")
	ciphertext := key.EncryptBytes(plaintext)
	if !bytes.Equal([]byte(ciphertext), plaintext) {
		t.Fatal("expected plaintext cipher key to pass bytes through unchanged")
	}
	decrypted, err := key.DecryptBytes(ciphertext)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Fatal("expected plaintext cipher key decrypt to be identity")
	}
}
