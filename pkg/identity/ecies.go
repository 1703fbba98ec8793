package identity

import (
	"crypto/rand"
	"fmt"

	"github.com/cloudflare/circl/group"

	"github.com/AdalynJs/nucypher/pkg/models"
	"github.com/AdalynJs/nucypher/pkg/security/encryption"
	"github.com/AdalynJs/nucypher/pkg/security/encryption/umbral"
)

var eciesInfo = []byte("NKMS-IDENTITY-v1-ecies")

// encryptForKey encrypts plaintext to pk with an ephemeral DH key.
// The output format is: ephemeralPublic || nonce || ciphertext
func encryptForKey(pk *umbral.PublicKey, plaintext []byte) ([]byte, error) {
	g := group.Ristretto255
	eph := g.RandomNonZeroScalar(rand.Reader)
	ephPub := g.NewElement().MulGen(eph)
	shared := g.NewElement().Mul(pk.Element(), eph)

	ephBytes, err := ephPub.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode ephemeral key: %w", err)
	}
	key, err := eciesKey(shared, ephBytes)
	if err != nil {
		return nil, err
	}

	sealed, err := encryption.Seal(key, plaintext, ephBytes)
	if err != nil {
		return nil, err
	}
	return append(ephBytes, sealed...), nil
}

// decryptWithKey decrypts ciphertext produced by encryptForKey.
func decryptWithKey(sk *umbral.SecretKey, data []byte) ([]byte, error) {
	if len(data) <= umbral.PointSize {
		return nil, models.NewMalformedPayloadError("ephemeral_key", umbral.PointSize+1, len(data))
	}

	ephBytes := data[:umbral.PointSize]
	ephPub, err := umbral.PublicKeyFromBytes(ephBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ephemeral key: %w", err)
	}

	g := group.Ristretto255
	shared := g.NewElement().Mul(ephPub.Element(), sk.Scalar())
	key, err := eciesKey(shared, ephBytes)
	if err != nil {
		return nil, err
	}

	return encryption.Open(key, data[umbral.PointSize:], ephBytes)
}

func eciesKey(shared group.Element, ephBytes []byte) ([]byte, error) {
	secret, err := shared.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode shared secret: %w", err)
	}
	return encryption.DeriveKey(encryption.KDFSHA256, secret, ephBytes, eciesInfo)
}
