package umbral

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AdalynJs/nucypher/pkg/models"
	"github.com/AdalynJs/nucypher/pkg/security/encryption"
)

func TestKeys_RoundTrip(t *testing.T) {
	sk := GenerateKey()

	decoded, err := SecretKeyFromBytes(sk.Bytes())
	require.NoError(t, err)
	assert.Equal(t, sk.Bytes(), decoded.Bytes())

	pk, err := PublicKeyFromBytes(sk.PublicKey().Bytes())
	require.NoError(t, err)
	assert.True(t, pk.Equal(sk.PublicKey()))
	assert.Len(t, pk.Bytes(), PointSize)

	_, err = PublicKeyFromBytes(make([]byte, PointSize))
	assert.ErrorIs(t, err, models.ErrInvalidPublicKey)

	_, err = SecretKeyFromBytes(make([]byte, ScalarSize))
	assert.Error(t, err)
}

func TestEncrypt_DecryptOriginal(t *testing.T) {
	owner := GenerateKey()
	plaintext := []byte("the owner's data")

	capsule, ct, err := Encrypt(owner.PublicKey(), plaintext)
	require.NoError(t, err)

	got, err := DecryptOriginal(owner, capsule, ct)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)

	_, err = DecryptOriginal(GenerateKey(), capsule, ct)
	assert.ErrorIs(t, err, encryption.ErrDecryptionFailed)

	decoded, err := CapsuleFromBytes(capsule.Bytes())
	require.NoError(t, err)
	got, err = DecryptOriginal(owner, decoded, ct)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestGenerateKFrags_Verify(t *testing.T) {
	owner, recipient := GenerateKey(), GenerateKey()

	kfrags, verification, err := GenerateKFrags(owner, recipient.PublicKey(), 3, 5)
	require.NoError(t, err)
	require.Len(t, kfrags, 5)
	assert.Equal(t, 3, verification.Threshold())

	for i, kf := range kfrags {
		require.NoError(t, kf.Verify(), "kfrag %d", i)

		decoded, err := KFragFromBytes(kf.Bytes())
		require.NoError(t, err)
		assert.Equal(t, kf.Bytes(), decoded.Bytes())
		assert.Equal(t, 3, decoded.Threshold())
	}
}

func TestGenerateKFrags_InvalidThreshold(t *testing.T) {
	owner, recipient := GenerateKey(), GenerateKey()

	_, _, err := GenerateKFrags(owner, recipient.PublicKey(), 0, 3)
	assert.Error(t, err)
	_, _, err = GenerateKFrags(owner, recipient.PublicKey(), 4, 3)
	assert.Error(t, err)
}

func TestKFragFromBytes_RejectsTampering(t *testing.T) {
	owner, recipient := GenerateKey(), GenerateKey()
	kfrags, _, err := GenerateKFrags(owner, recipient.PublicKey(), 2, 3)
	require.NoError(t, err)

	raw := kfrags[0].Bytes()
	tampered := append([]byte{}, raw...)
	// Swap in another fragment's key scalar.
	copy(tampered[ScalarSize:2*ScalarSize], kfrags[1].Bytes()[ScalarSize:2*ScalarSize])

	_, err = KFragFromBytes(tampered)
	assert.ErrorIs(t, err, models.ErrInvalidFragment)

	_, err = KFragFromBytes(raw[:50])
	assert.ErrorIs(t, err, models.ErrMalformedPayload)
}

func TestReEncrypt_ThresholdCombine(t *testing.T) {
	owner, recipient := GenerateKey(), GenerateKey()
	plaintext := []byte("delegated plaintext")

	capsule, ct, err := Encrypt(owner.PublicKey(), plaintext)
	require.NoError(t, err)

	kfrags, verification, err := GenerateKFrags(owner, recipient.PublicKey(), 2, 3)
	require.NoError(t, err)

	cfrags := make([]*CFrag, len(kfrags))
	for i, kf := range kfrags {
		cfrags[i], err = ReEncrypt(kf, capsule)
		require.NoError(t, err)
		require.NoError(t, cfrags[i].Verify(capsule, verification))
	}

	subsets := [][]int{{0, 1}, {0, 2}, {1, 2}, {2, 0}, {0, 1, 2}}
	for _, subset := range subsets {
		picked := make([]*CFrag, 0, len(subset))
		for _, i := range subset {
			picked = append(picked, cfrags[i])
		}
		got, err := DecryptReEncrypted(recipient, capsule, picked, 2, ct)
		require.NoError(t, err, "subset %v", subset)
		assert.Equal(t, plaintext, got)
	}
}

func TestOpenReEncrypted_BelowThreshold(t *testing.T) {
	owner, recipient := GenerateKey(), GenerateKey()
	capsule, ct, err := Encrypt(owner.PublicKey(), []byte("x"))
	require.NoError(t, err)

	kfrags, _, err := GenerateKFrags(owner, recipient.PublicKey(), 2, 3)
	require.NoError(t, err)
	cf, err := ReEncrypt(kfrags[0], capsule)
	require.NoError(t, err)

	_, err = OpenReEncrypted(recipient, capsule, []*CFrag{cf}, 2)
	assert.ErrorIs(t, err, ErrNotEnoughFragments)

	// Claiming a lower threshold than the policy's yields a wrong key.
	_, err = DecryptReEncrypted(recipient, capsule, []*CFrag{cf}, 1, ct)
	assert.ErrorIs(t, err, encryption.ErrDecryptionFailed)

	_, err = OpenReEncrypted(recipient, capsule, []*CFrag{cf, cf}, 2)
	assert.Error(t, err)
}

func TestOpenReEncrypted_WrongRecipient(t *testing.T) {
	owner, recipient, eve := GenerateKey(), GenerateKey(), GenerateKey()
	capsule, ct, err := Encrypt(owner.PublicKey(), []byte("secret"))
	require.NoError(t, err)

	kfrags, _, err := GenerateKFrags(owner, recipient.PublicKey(), 1, 1)
	require.NoError(t, err)
	cf, err := ReEncrypt(kfrags[0], capsule)
	require.NoError(t, err)

	_, err = DecryptReEncrypted(eve, capsule, []*CFrag{cf}, 1, ct)
	assert.ErrorIs(t, err, encryption.ErrDecryptionFailed)
}

func TestCFrag_VerifyRejectsForeignCapsule(t *testing.T) {
	owner, recipient := GenerateKey(), GenerateKey()
	capsule, _, err := Encrypt(owner.PublicKey(), []byte("a"))
	require.NoError(t, err)
	other, _, err := Encrypt(owner.PublicKey(), []byte("b"))
	require.NoError(t, err)

	kfrags, verification, err := GenerateKFrags(owner, recipient.PublicKey(), 2, 2)
	require.NoError(t, err)

	cf, err := ReEncrypt(kfrags[0], capsule)
	require.NoError(t, err)

	assert.ErrorIs(t, cf.Verify(other, verification), models.ErrVerificationFail)

	_, foreignKey, err := GenerateKFrags(owner, recipient.PublicKey(), 2, 2)
	require.NoError(t, err)
	assert.ErrorIs(t, cf.Verify(capsule, foreignKey), models.ErrVerificationFail)
}

func TestVerifier_SerializedFragments(t *testing.T) {
	owner, recipient := GenerateKey(), GenerateKey()
	capsule, _, err := Encrypt(owner.PublicKey(), []byte("a"))
	require.NoError(t, err)

	kfrags, verification, err := GenerateKFrags(owner, recipient.PublicKey(), 2, 3)
	require.NoError(t, err)
	cf, err := ReEncrypt(kfrags[2], capsule)
	require.NoError(t, err)

	raw := cf.Bytes()
	assert.Len(t, raw, CFragSize)

	v, err := NewVerifier(verification.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 2, v.Threshold())
	require.NoError(t, v.VerifyCFrag(capsule.Bytes(), raw))

	corrupted := append([]byte{}, raw...)
	corrupted[ScalarSize] ^= 0x01
	assert.Error(t, v.VerifyCFrag(capsule.Bytes(), corrupted))

	assert.ErrorIs(t, v.VerifyCFrag(capsule.Bytes(), raw[:10]), models.ErrMalformedPayload)
}

func TestVerifier_RejectsSubstitutedPrecursor(t *testing.T) {
	owner, recipient := GenerateKey(), GenerateKey()
	plaintext := []byte("payroll")
	capsule, ct, err := Encrypt(owner.PublicKey(), plaintext)
	require.NoError(t, err)

	kfrags, verification, err := GenerateKFrags(owner, recipient.PublicKey(), 2, 3)
	require.NoError(t, err)
	v, err := NewVerifier(verification.Bytes())
	require.NoError(t, err)

	good, err := ReEncrypt(kfrags[0], capsule)
	require.NoError(t, err)
	honest, err := ReEncrypt(kfrags[1], capsule)
	require.NoError(t, err)

	// e1, vk and the proof stay valid; only the precursor is swapped.
	raw := honest.Bytes()
	off := ScalarSize + 2*PointSize
	copy(raw[off:off+PointSize], GenerateKey().PublicKey().Bytes())

	assert.ErrorIs(t, v.VerifyCFrag(capsule.Bytes(), raw), models.ErrVerificationFail)

	swapped, err := CFragFromBytes(raw)
	require.NoError(t, err)
	assert.ErrorIs(t, swapped.Verify(capsule, verification), models.ErrVerificationFail)

	// The fragments that pass verification still open the capsule.
	got, err := DecryptReEncrypted(recipient, capsule, []*CFrag{good, honest}, 2, ct)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestVerificationKey_Bytes(t *testing.T) {
	owner, recipient := GenerateKey(), GenerateKey()
	kfrags, verification, err := GenerateKFrags(owner, recipient.PublicKey(), 2, 3)
	require.NoError(t, err)

	decoded, err := VerificationKeyFromBytes(verification.Bytes())
	require.NoError(t, err)
	assert.Equal(t, verification.Bytes(), decoded.Bytes())
	assert.Equal(t, 2, decoded.Threshold())
	assert.Equal(t, verification.Bytes(), kfrags[2].VerificationKey().Bytes())

	_, err = VerificationKeyFromBytes(verification.Bytes()[:PointSize])
	assert.ErrorIs(t, err, models.ErrMalformedPayload)
	_, err = NewVerifier(verification.Commitment().Bytes()[:PointSize+1])
	assert.Error(t, err)
}
