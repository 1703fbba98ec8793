package umbral

import (
	"crypto/rand"
	"fmt"

	"github.com/cloudflare/circl/group"

	"github.com/AdalynJs/nucypher/pkg/security/encryption"
)

var demInfo = []byte("NKMS-UMBRAL-v1-dem")

// Capsule carries the ephemeral point E = rG of an encapsulation.
type Capsule struct {
	e group.Element
}

// CapsuleFromBytes decodes a capsule.
func CapsuleFromBytes(b []byte) (*Capsule, error) {
	e, err := decodePoint(b)
	if err != nil {
		return nil, fmt.Errorf("invalid capsule: %w", err)
	}
	if e.IsIdentity() {
		return nil, fmt.Errorf("invalid capsule: identity element")
	}
	return &Capsule{e: e}, nil
}

// Bytes encodes the capsule.
func (c *Capsule) Bytes() []byte {
	return mustMarshal(c.e)
}

// Encapsulate derives a fresh symmetric key for pk and the capsule that
// lets pk's owner, or a recipient holding enough re-encrypted fragments,
// recover it.
func Encapsulate(pk *PublicKey) (*Capsule, []byte, error) {
	r := g.RandomNonZeroScalar(rand.Reader)
	e := g.NewElement().MulGen(r)
	shared := g.NewElement().Mul(pk.p, r)

	key, err := demKey(shared, e)
	if err != nil {
		return nil, nil, err
	}
	return &Capsule{e: e}, key, nil
}

// Decapsulate recovers the capsule key with the owner's secret key.
func (sk *SecretKey) Decapsulate(c *Capsule) ([]byte, error) {
	shared := g.NewElement().Mul(c.e, sk.s)
	return demKey(shared, c.e)
}

// Encrypt encapsulates a key for pk and seals plaintext under it. The
// capsule bytes are bound as associated data.
func Encrypt(pk *PublicKey, plaintext []byte) (*Capsule, []byte, error) {
	capsule, key, err := Encapsulate(pk)
	if err != nil {
		return nil, nil, err
	}
	ct, err := encryption.Seal(key, plaintext, capsule.Bytes())
	if err != nil {
		return nil, nil, err
	}
	return capsule, ct, nil
}

// DecryptOriginal opens a ciphertext produced by Encrypt for sk's own public key.
func DecryptOriginal(sk *SecretKey, capsule *Capsule, ciphertext []byte) ([]byte, error) {
	key, err := sk.Decapsulate(capsule)
	if err != nil {
		return nil, err
	}
	return encryption.Open(key, ciphertext, capsule.Bytes())
}

func demKey(shared, e group.Element) ([]byte, error) {
	return encryption.DeriveKey(encryption.KDFSHA3, mustMarshal(shared), mustMarshal(e), demInfo)
}
