// Package identity implements characters: holders of a single ristretto255
// key pair that seal (sign) messages, encrypt for other characters and verify
// what they receive.
package identity

import (
	"crypto/rand"
	"fmt"

	"github.com/cloudflare/circl/group"
	"github.com/cloudflare/circl/zk/dl"

	"github.com/AdalynJs/nucypher/pkg/hrac"
	"github.com/AdalynJs/nucypher/pkg/models"
	"github.com/AdalynJs/nucypher/pkg/security/encryption/umbral"
)

// SignatureSize is the length of a seal: the Schnorr commitment followed by the response.
const SignatureSize = umbral.PointSize + umbral.ScalarSize

var sealDST = []byte("NKMS-IDENTITY-v1-seal")

// Signer seals messages under a public key.
type Signer interface {
	PublicKey() []byte
	Seal(msg []byte) ([]byte, error)
}

// Actor is a Signer that can also encrypt for and verify other characters.
type Actor interface {
	Signer
	EncryptFor(recipientPub, plaintext []byte) (ciphertext, signature []byte, err error)
	VerifyFrom(senderPub, payload []byte, decrypt bool) (verified bool, cleartext []byte, err error)
}

// Character is a local identity with its secret key.
type Character struct {
	name string
	sk   *umbral.SecretKey
	pub  []byte
}

var _ Actor = (*Character)(nil)

// NewCharacter creates a character with a fresh key.
func NewCharacter(name string) *Character {
	return newCharacter(name, umbral.GenerateKey())
}

// CharacterFromSecret restores a character from an encoded secret key.
func CharacterFromSecret(name string, secret []byte) (*Character, error) {
	sk, err := umbral.SecretKeyFromBytes(secret)
	if err != nil {
		return nil, err
	}
	return newCharacter(name, sk), nil
}

func newCharacter(name string, sk *umbral.SecretKey) *Character {
	return &Character{name: name, sk: sk, pub: sk.PublicKey().Bytes()}
}

// Name returns the character's local label.
func (c *Character) Name() string { return c.name }

// PublicKey returns the encoded public key.
func (c *Character) PublicKey() []byte {
	return append([]byte(nil), c.pub...)
}

// InterfaceKey returns the discovery identifier derived from the public key.
func (c *Character) InterfaceKey() []byte {
	key, _ := hrac.InterfaceKey(c.pub)
	return key
}

// SecretKey exposes the key for re-encryption operations.
func (c *Character) SecretKey() *umbral.SecretKey { return c.sk }

// SecretBytes encodes the secret key for storage.
func (c *Character) SecretBytes() []byte { return c.sk.Bytes() }

// Seal signs msg.
func (c *Character) Seal(msg []byte) ([]byte, error) {
	g := group.Ristretto255
	pk := c.sk.PublicKey().Element()
	proof := dl.Prove(g, g.Generator(), pk, c.sk.Scalar(), msg, sealDST, rand.Reader)

	v, err := proof.V.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode seal: %w", err)
	}
	r, err := proof.R.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode seal: %w", err)
	}
	return append(v, r...), nil
}

// Verify checks a seal over msg against an encoded public key.
func Verify(pub, msg, sig []byte) bool {
	if len(sig) != SignatureSize {
		return false
	}
	pk, err := umbral.PublicKeyFromBytes(pub)
	if err != nil {
		return false
	}

	g := group.Ristretto255
	v := g.NewElement()
	if err := v.UnmarshalBinary(sig[:umbral.PointSize]); err != nil {
		return false
	}
	r := g.NewScalar()
	if err := r.UnmarshalBinary(sig[umbral.PointSize:]); err != nil {
		return false
	}
	return dl.Verify(g, g.Generator(), pk.Element(), dl.Proof{V: v, R: r}, msg, sealDST)
}

// EncryptFor seals plaintext and encrypts seal || plaintext for recipientPub.
func (c *Character) EncryptFor(recipientPub, plaintext []byte) ([]byte, []byte, error) {
	pk, err := umbral.PublicKeyFromBytes(recipientPub)
	if err != nil {
		return nil, nil, err
	}
	sig, err := c.Seal(plaintext)
	if err != nil {
		return nil, nil, err
	}

	cleartext := make([]byte, 0, len(sig)+len(plaintext))
	cleartext = append(cleartext, sig...)
	cleartext = append(cleartext, plaintext...)

	ciphertext, err := encryptForKey(pk, cleartext)
	if err != nil {
		return nil, nil, err
	}
	return ciphertext, sig, nil
}

// Decrypt opens a ciphertext addressed to this character.
func (c *Character) Decrypt(ciphertext []byte) ([]byte, error) {
	return decryptWithKey(c.sk, ciphertext)
}

// VerifyFrom checks that payload was sealed by senderPub. When decrypt is
// set the payload is first decrypted with this character's key. The returned
// cleartext is seal || message.
func (c *Character) VerifyFrom(senderPub, payload []byte, decrypt bool) (bool, []byte, error) {
	cleartext := payload
	if decrypt {
		var err error
		if cleartext, err = c.Decrypt(payload); err != nil {
			return false, nil, err
		}
	}
	if len(cleartext) < SignatureSize {
		return false, nil, models.NewMalformedPayloadError("signature", SignatureSize, len(cleartext))
	}
	return Verify(senderPub, cleartext[SignatureSize:], cleartext[:SignatureSize]), cleartext, nil
}
