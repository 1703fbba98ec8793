// Package umbral implements threshold proxy re-encryption over ristretto255.
//
// An owner encapsulates a symmetric key to her own public key, producing a
// capsule. She then splits a re-encryption capability for a recipient into n
// key fragments with threshold m. Each proxy holding a fragment transforms the
// capsule into a capsule fragment with a proof of correctness. Any m verified
// capsule fragments let the recipient open the capsule with his own key.
package umbral

import (
	"crypto/rand"
	"fmt"

	"github.com/cloudflare/circl/group"

	"github.com/AdalynJs/nucypher/pkg/models"
)

const (
	// ScalarSize is the encoded length of a ristretto255 scalar.
	ScalarSize = 32
	// PointSize is the encoded length of a ristretto255 element.
	PointSize = 32
)

var g = group.Ristretto255

// SecretKey is a ristretto255 scalar.
type SecretKey struct {
	s group.Scalar
}

// PublicKey is a ristretto255 element.
type PublicKey struct {
	p group.Element
}

// GenerateKey returns a fresh secret key.
func GenerateKey() *SecretKey {
	return &SecretKey{s: g.RandomNonZeroScalar(rand.Reader)}
}

// SecretKeyFromBytes decodes a 32-byte scalar.
func SecretKeyFromBytes(b []byte) (*SecretKey, error) {
	s, err := decodeScalar(b)
	if err != nil {
		return nil, fmt.Errorf("invalid secret key: %w", err)
	}
	if s.IsZero() {
		return nil, fmt.Errorf("invalid secret key: zero scalar")
	}
	return &SecretKey{s: s}, nil
}

// Bytes encodes the secret key.
func (sk *SecretKey) Bytes() []byte {
	return mustMarshal(sk.s)
}

// PublicKey derives the matching public key.
func (sk *SecretKey) PublicKey() *PublicKey {
	return &PublicKey{p: g.NewElement().MulGen(sk.s)}
}

// Scalar exposes the underlying scalar to sibling signing code.
func (sk *SecretKey) Scalar() group.Scalar {
	return sk.s.Copy()
}

// PublicKeyFromBytes decodes a 32-byte element and rejects the identity.
func PublicKeyFromBytes(b []byte) (*PublicKey, error) {
	p, err := decodePoint(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidPublicKey, err)
	}
	if p.IsIdentity() {
		return nil, fmt.Errorf("%w: identity element", models.ErrInvalidPublicKey)
	}
	return &PublicKey{p: p}, nil
}

// Bytes encodes the public key.
func (pk *PublicKey) Bytes() []byte {
	return mustMarshal(pk.p)
}

// Element exposes the underlying group element to sibling signing code.
func (pk *PublicKey) Element() group.Element {
	return pk.p.Copy()
}

// Equal reports whether both keys encode the same element.
func (pk *PublicKey) Equal(other *PublicKey) bool {
	return other != nil && pk.p.IsEqual(other.p)
}

type binaryMarshaler interface {
	MarshalBinary() ([]byte, error)
}

func mustMarshal(v binaryMarshaler) []byte {
	b, err := v.MarshalBinary()
	if err != nil {
		// ristretto255 encodings cannot fail for valid values.
		panic(fmt.Sprintf("umbral: marshal: %v", err))
	}
	return b
}

func decodeScalar(b []byte) (group.Scalar, error) {
	if len(b) != ScalarSize {
		return nil, models.NewMalformedPayloadError("scalar", ScalarSize, len(b))
	}
	s := g.NewScalar()
	if err := s.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return s, nil
}

func decodePoint(b []byte) (group.Element, error) {
	if len(b) != PointSize {
		return nil, models.NewMalformedPayloadError("point", PointSize, len(b))
	}
	p := g.NewElement()
	if err := p.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return p, nil
}

func concat(points ...group.Element) []byte {
	out := make([]byte, 0, len(points)*PointSize)
	for _, p := range points {
		out = append(out, mustMarshal(p)...)
	}
	return out
}
