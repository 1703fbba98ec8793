// Package encryption holds the data encapsulation mechanism shared by the
// re-encryption capsules and character-to-character encryption.
package encryption

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
)

// KeySize is the symmetric key length.
const KeySize = chacha20poly1305.KeySize

// ErrDecryptionFailed is returned when authentication of a ciphertext fails.
var ErrDecryptionFailed = errors.New("decryption failed")

// KDF selects the hash used for key derivation.
type KDF string

const (
	KDFSHA256 KDF = "SHA256"
	KDFSHA3   KDF = "SHA3-256"
)

// ParseKDF converts a string into the corresponding KDF.
func ParseKDF(name string) (KDF, error) {
	switch KDF(name) {
	case KDFSHA256:
		return KDFSHA256, nil
	case KDFSHA3:
		return KDFSHA3, nil
	default:
		return "", fmt.Errorf("unsupported kdf: %s", name)
	}
}

func (k KDF) hash() func() hash.Hash {
	if k == KDFSHA3 {
		return sha3.New256
	}
	return sha256.New
}

// DeriveKey expands a shared secret into a KeySize key with HKDF.
func DeriveKey(kdf KDF, secret, salt, info []byte) ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(kdf.hash(), secret, salt, info), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext under key. The output is nonce || ciphertext.
func Seal(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, aad), nil
}

// Open reverses Seal.
func Open(key, ciphertext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	if len(ciphertext) < aead.NonceSize()+aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	nonce, body := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, body, aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
