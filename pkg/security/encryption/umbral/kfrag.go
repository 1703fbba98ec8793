package umbral

import (
	"crypto/rand"
	"fmt"

	"github.com/cloudflare/circl/group"
	"github.com/cloudflare/circl/secretsharing"

	"github.com/AdalynJs/nucypher/pkg/models"
)

var dstDelegation = []byte("NKMS-UMBRAL-v1-delegation")

// Commitment is the Feldman commitment to the re-encryption polynomial. Its
// length is the threshold.
type Commitment []group.Element

// Threshold is the number of fragments needed to open a capsule.
func (c Commitment) Threshold() int { return len(c) }

// Bytes encodes the commitment as concatenated points.
func (c Commitment) Bytes() []byte {
	return concat(c...)
}

// CommitmentFromBytes decodes a commitment.
func CommitmentFromBytes(b []byte) (Commitment, error) {
	if len(b) == 0 || len(b)%PointSize != 0 {
		return nil, fmt.Errorf("%w: commitment length %d", models.ErrMalformedPayload, len(b))
	}
	c := make(Commitment, len(b)/PointSize)
	for i := range c {
		p, err := decodePoint(b[i*PointSize : (i+1)*PointSize])
		if err != nil {
			return nil, fmt.Errorf("invalid commitment point %d: %w", i, err)
		}
		c[i] = p
	}
	return c, nil
}

// evaluate returns f(id)·G from the coefficient commitments.
func (c Commitment) evaluate(id group.Scalar) group.Element {
	last := len(c) - 1
	sum := g.NewElement().Set(c[last])
	for i := last - 1; i >= 0; i-- {
		sum.Mul(sum, id)
		sum.Add(sum, c[i])
	}
	return sum
}

// VerificationKey is the public material recipients check capsule fragments
// against: the delegation precursor and the commitment to the fragment keys.
type VerificationKey struct {
	precursor  group.Element
	commitment Commitment
}

// Threshold is the number of fragments needed to open a capsule.
func (vk *VerificationKey) Threshold() int { return vk.commitment.Threshold() }

// Commitment returns the commitment to the fragment keys.
func (vk *VerificationKey) Commitment() Commitment { return vk.commitment }

// Bytes encodes precursor || commitment.
func (vk *VerificationKey) Bytes() []byte {
	return append(mustMarshal(vk.precursor), vk.commitment.Bytes()...)
}

// VerificationKeyFromBytes decodes published verification material.
func VerificationKeyFromBytes(b []byte) (*VerificationKey, error) {
	if len(b) < 2*PointSize {
		return nil, models.NewMalformedPayloadError("verification key", 2*PointSize, len(b))
	}
	precursor, err := decodePoint(b[:PointSize])
	if err != nil {
		return nil, fmt.Errorf("invalid precursor: %w", err)
	}
	commitment, err := CommitmentFromBytes(b[PointSize:])
	if err != nil {
		return nil, err
	}
	return &VerificationKey{precursor: precursor, commitment: commitment}, nil
}

// KFrag is one share of a re-encryption key.
type KFrag struct {
	id         group.Scalar
	key        group.Scalar
	precursor  group.Element
	commitment Commitment
}

// GenerateKFrags splits the capability to re-encrypt delegating's capsules
// for receiving into shares fragments, any threshold of which suffice.
func GenerateKFrags(delegating *SecretKey, receiving *PublicKey, threshold, shares int) ([]*KFrag, *VerificationKey, error) {
	if threshold < 1 || shares < threshold {
		return nil, nil, fmt.Errorf("invalid threshold %d of %d", threshold, shares)
	}

	x := g.RandomNonZeroScalar(rand.Reader)
	precursor := g.NewElement().MulGen(x)
	dh := g.NewElement().Mul(receiving.p, x)
	d := delegationScalar(precursor, receiving.p, dh)

	secret := g.NewScalar().Mul(delegating.s, g.NewScalar().Inv(d))

	ss := secretsharing.New(rand.Reader, uint(threshold-1), secret)
	commitment := Commitment(ss.CommitSecret())

	kfrags := make([]*KFrag, 0, shares)
	for _, share := range ss.Share(uint(shares)) {
		kfrags = append(kfrags, &KFrag{
			id:         share.ID,
			key:        share.Value,
			precursor:  precursor,
			commitment: commitment,
		})
	}
	return kfrags, &VerificationKey{precursor: precursor, commitment: commitment}, nil
}

// delegationScalar binds the precursor to the receiving key through a DH value
// only the sender and the receiver can compute.
func delegationScalar(precursor, receiving, dh group.Element) group.Scalar {
	return g.HashToScalar(concat(precursor, receiving, dh), dstDelegation)
}

// Verify checks the fragment against its commitment.
func (k *KFrag) Verify() error {
	if k.id.IsZero() {
		return fmt.Errorf("%w: zero id", models.ErrInvalidFragment)
	}
	share := secretsharing.Share{ID: k.id, Value: k.key}
	if !secretsharing.Verify(uint(len(k.commitment)-1), share, []group.Element(k.commitment)) {
		return fmt.Errorf("%w: share does not match commitment", models.ErrInvalidFragment)
	}
	return nil
}

// Threshold returns the number of fragments needed to open a capsule.
func (k *KFrag) Threshold() int { return len(k.commitment) }

// Commitment returns the commitment this fragment was issued under.
func (k *KFrag) Commitment() Commitment { return k.commitment }

// VerificationKey returns the material recipients verify cfrags of this
// delegation against.
func (k *KFrag) VerificationKey() *VerificationKey {
	return &VerificationKey{precursor: k.precursor, commitment: k.commitment}
}

// Bytes encodes id || key || precursor || commitment.
func (k *KFrag) Bytes() []byte {
	out := make([]byte, 0, 2*ScalarSize+PointSize*(1+len(k.commitment)))
	out = append(out, mustMarshal(k.id)...)
	out = append(out, mustMarshal(k.key)...)
	out = append(out, mustMarshal(k.precursor)...)
	return append(out, k.commitment.Bytes()...)
}

// KFragFromBytes decodes and verifies a key fragment.
func KFragFromBytes(b []byte) (*KFrag, error) {
	min := 2*ScalarSize + 2*PointSize
	if len(b) < min {
		return nil, models.NewMalformedPayloadError("kfrag", min, len(b))
	}

	id, err := decodeScalar(b[:ScalarSize])
	if err != nil {
		return nil, fmt.Errorf("%w: id: %v", models.ErrInvalidFragment, err)
	}
	key, err := decodeScalar(b[ScalarSize : 2*ScalarSize])
	if err != nil {
		return nil, fmt.Errorf("%w: key: %v", models.ErrInvalidFragment, err)
	}
	precursor, err := decodePoint(b[2*ScalarSize : 2*ScalarSize+PointSize])
	if err != nil {
		return nil, fmt.Errorf("%w: precursor: %v", models.ErrInvalidFragment, err)
	}
	commitment, err := CommitmentFromBytes(b[2*ScalarSize+PointSize:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidFragment, err)
	}

	k := &KFrag{id: id, key: key, precursor: precursor, commitment: commitment}
	if err := k.Verify(); err != nil {
		return nil, err
	}
	return k, nil
}
