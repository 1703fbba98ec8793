package umbral

import (
	"crypto"
	"crypto/rand"
	_ "crypto/sha256" // registers crypto.SHA256 for the proof transcript
	"fmt"

	"github.com/cloudflare/circl/group"
	"github.com/cloudflare/circl/zk/dleq"

	"github.com/AdalynJs/nucypher/pkg/models"
)

// CFragSize is the encoded length of a capsule fragment.
const CFragSize = ScalarSize + 3*PointSize + 2*ScalarSize

var proofParams = dleq.Params{
	G:   g,
	H:   crypto.SHA256,
	DST: []byte("NKMS-UMBRAL-v1-cfrag"),
}

// CFrag is a capsule re-encrypted under one key fragment, with a proof that
// the same fragment key was applied to the generator and to the capsule.
type CFrag struct {
	id        group.Scalar
	e1        group.Element
	vk        group.Element
	precursor group.Element
	proof     *dleq.Proof
}

// ReEncrypt transforms capsule with kfrag.
func ReEncrypt(kfrag *KFrag, capsule *Capsule) (*CFrag, error) {
	e1 := g.NewElement().Mul(capsule.e, kfrag.key)
	vk := g.NewElement().MulGen(kfrag.key)

	proof, err := dleq.Prover{Params: proofParams}.Prove(kfrag.key, g.Generator(), vk, capsule.e, e1, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to prove re-encryption: %w", err)
	}

	return &CFrag{
		id:        kfrag.id.Copy(),
		e1:        e1,
		vk:        vk,
		precursor: kfrag.precursor,
		proof:     proof,
	}, nil
}

// Verify checks that the fragment belongs to the published delegation, that
// its key matches the owner's commitment and that it was correctly applied
// to capsule.
func (c *CFrag) Verify(capsule *Capsule, key *VerificationKey) error {
	if key == nil || len(key.commitment) == 0 {
		return fmt.Errorf("%w: empty verification key", models.ErrVerificationFail)
	}
	if !c.precursor.IsEqual(key.precursor) {
		return fmt.Errorf("%w: issued under a different delegation", models.ErrVerificationFail)
	}
	if !key.commitment.evaluate(c.id).IsEqual(c.vk) {
		return fmt.Errorf("%w: verification key does not match commitment", models.ErrVerificationFail)
	}
	if !(dleq.Verifier{Params: proofParams}).Verify(g.Generator(), c.vk, capsule.e, c.e1, c.proof) {
		return fmt.Errorf("%w: invalid re-encryption proof", models.ErrVerificationFail)
	}
	return nil
}

// Bytes encodes id || e1 || vk || precursor || proof.
func (c *CFrag) Bytes() []byte {
	out := make([]byte, 0, CFragSize)
	out = append(out, mustMarshal(c.id)...)
	out = append(out, concat(c.e1, c.vk, c.precursor)...)
	proof, err := c.proof.MarshalBinary()
	if err != nil {
		panic(fmt.Sprintf("umbral: marshal proof: %v", err))
	}
	return append(out, proof...)
}

// CFragFromBytes decodes a capsule fragment. The result still has to be
// verified against a capsule and commitment.
func CFragFromBytes(b []byte) (*CFrag, error) {
	if len(b) != CFragSize {
		return nil, models.NewMalformedPayloadError("cfrag", CFragSize, len(b))
	}

	id, err := decodeScalar(b[:ScalarSize])
	if err != nil {
		return nil, fmt.Errorf("invalid cfrag id: %w", err)
	}

	points := make([]group.Element, 3)
	off := ScalarSize
	for i := range points {
		if points[i], err = decodePoint(b[off : off+PointSize]); err != nil {
			return nil, fmt.Errorf("invalid cfrag point %d: %w", i, err)
		}
		off += PointSize
	}

	proof := new(dleq.Proof)
	if err := proof.UnmarshalBinary(g, b[off:]); err != nil {
		return nil, fmt.Errorf("invalid cfrag proof: %w", err)
	}

	return &CFrag{id: id, e1: points[0], vk: points[1], precursor: points[2], proof: proof}, nil
}

// Verifier checks serialized capsule fragments against published
// verification material.
type Verifier struct {
	key *VerificationKey
}

// NewVerifier decodes the verification key published alongside a policy.
func NewVerifier(material []byte) (*Verifier, error) {
	key, err := VerificationKeyFromBytes(material)
	if err != nil {
		return nil, err
	}
	return &Verifier{key: key}, nil
}

// Threshold returns the number of fragments needed to open a capsule.
func (v *Verifier) Threshold() int { return v.key.Threshold() }

// VerifyCFrag decodes both values and verifies cfrag against capsule.
func (v *Verifier) VerifyCFrag(capsule, cfrag []byte) error {
	c, err := CapsuleFromBytes(capsule)
	if err != nil {
		return err
	}
	cf, err := CFragFromBytes(cfrag)
	if err != nil {
		return err
	}
	return cf.Verify(c, v.key)
}
