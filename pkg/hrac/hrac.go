// Package hrac derives the deterministic identifiers that bind owner and
// recipient public keys to a resource: the HRAC, the policy ID, the treasure
// map publication key and a node's interface key. All digests are Keccak-256.
package hrac

import (
	"fmt"

	"golang.org/x/crypto/sha3"

	"github.com/AdalynJs/nucypher/pkg/models"
)

const (
	// DigestSize is the length of every identifier produced by this package.
	DigestSize = 32
	// PublicKeySize is the length of a compressed character public key.
	PublicKeySize = 32
)

// Keccak returns the Keccak-256 digest of the concatenation of parts.
func Keccak(parts ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// ValidatePublicKey rejects keys of the wrong length.
func ValidatePublicKey(name string, key []byte) error {
	if len(key) != PublicKeySize {
		return fmt.Errorf("%w: %s key has %d bytes, want %d", models.ErrInvalidPublicKey, name, len(key), PublicKeySize)
	}
	return nil
}

// ValidateDigest rejects identifiers of the wrong length.
func ValidateDigest(name string, digest []byte) error {
	if len(digest) != DigestSize {
		return models.NewMalformedPayloadError(name, DigestSize, len(digest))
	}
	return nil
}

// ComputeHRAC returns keccak(ownerPub || recipientPub || uri).
func ComputeHRAC(ownerPub, recipientPub, uri []byte) ([]byte, error) {
	if err := ValidatePublicKey("owner", ownerPub); err != nil {
		return nil, err
	}
	if err := ValidatePublicKey("recipient", recipientPub); err != nil {
		return nil, err
	}
	return Keccak(ownerPub, recipientPub, uri), nil
}

// ComputePolicyID returns keccak(ownerPub || keccak(uri)).
func ComputePolicyID(ownerPub, uri []byte) ([]byte, error) {
	return PolicyIDFromURIHash(ownerPub, Keccak(uri))
}

// PolicyIDFromURIHash lets a proxy recompute a policy ID without learning the
// URI. A proxy must do so before trusting an ID claimed by ownerPub.
func PolicyIDFromURIHash(ownerPub, uriHash []byte) ([]byte, error) {
	if err := ValidatePublicKey("owner", ownerPub); err != nil {
		return nil, err
	}
	if err := ValidateDigest("uri_hash", uriHash); err != nil {
		return nil, err
	}
	return Keccak(ownerPub, uriHash), nil
}

// TreasureMapKey returns the publication key keccak(ownerPub || hrac).
func TreasureMapKey(ownerPub, hracDigest []byte) ([]byte, error) {
	if err := ValidatePublicKey("owner", ownerPub); err != nil {
		return nil, err
	}
	if err := ValidateDigest("hrac", hracDigest); err != nil {
		return nil, err
	}
	return Keccak(ownerPub, hracDigest), nil
}

// InterfaceKey returns a node's discovery identifier, keccak(pub).
func InterfaceKey(pub []byte) ([]byte, error) {
	if err := ValidatePublicKey("node", pub); err != nil {
		return nil, err
	}
	return Keccak(pub), nil
}
