package workorder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AdalynJs/nucypher/pkg/hrac"
	"github.com/AdalynJs/nucypher/pkg/identity"
	"github.com/AdalynJs/nucypher/pkg/models"
	"github.com/AdalynJs/nucypher/pkg/security/encryption/umbral"
)

type fixture struct {
	owner     *identity.Character
	bob       *identity.Character
	ursula    *identity.Character
	kfrag     *umbral.KFrag
	verifier  *umbral.Verifier
	capsule   *umbral.Capsule
	hracValue []byte
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	owner := identity.NewCharacter("alice")
	bob := identity.NewCharacter("bob")

	bobKey, err := umbral.PublicKeyFromBytes(bob.PublicKey())
	require.NoError(t, err)
	kfrags, verification, err := umbral.GenerateKFrags(owner.SecretKey(), bobKey, 2, 3)
	require.NoError(t, err)
	verifier, err := umbral.NewVerifier(verification.Bytes())
	require.NoError(t, err)

	ownerKey, err := umbral.PublicKeyFromBytes(owner.PublicKey())
	require.NoError(t, err)
	capsule, _, err := umbral.Encrypt(ownerKey, []byte("attack at dawn"))
	require.NoError(t, err)

	digest, err := hrac.ComputeHRAC(owner.PublicKey(), bob.PublicKey(), []byte("nkms://vault/reports"))
	require.NoError(t, err)

	return &fixture{
		owner:     owner,
		bob:       bob,
		ursula:    identity.NewCharacter("ursula"),
		kfrag:     kfrags[0],
		verifier:  verifier,
		capsule:   capsule,
		hracValue: digest,
	}
}

// serve plays the proxy: parse, authorize, re-encrypt, answer.
func (f *fixture) serve(t *testing.T, proxy *identity.Character, payload []byte) []byte {
	t.Helper()
	order, err := ParseFromWire(f.hracValue, payload)
	require.NoError(t, err)
	require.NoError(t, order.AuthorizeFor(proxy))

	cfrags := make([][]byte, 0, len(order.Capsules))
	for _, raw := range order.Capsules {
		capsule, err := umbral.CapsuleFromBytes(raw)
		require.NoError(t, err)
		cfrag, err := umbral.ReEncrypt(f.kfrag, capsule)
		require.NoError(t, err)
		cfrags = append(cfrags, cfrag.Bytes())
	}
	resp, err := BuildResponse(proxy, order, cfrags)
	require.NoError(t, err)
	return resp
}

func TestWorkOrder_RoundTrip(t *testing.T) {
	f := newFixture(t)

	order, err := ConstructByRecipient(f.hracValue, [][]byte{f.capsule.Bytes()}, f.ursula.InterfaceKey(), f.bob)
	require.NoError(t, err)
	assert.Equal(t, StateConstructed, order.State())
	assert.Equal(t, append([]byte("wo:"), f.ursula.InterfaceKey()...), order.Receipt)

	payload, err := order.SerializeForWire()
	require.NoError(t, err)
	assert.Equal(t, order.Signature, payload[:identity.SignatureSize])
	assert.Equal(t, f.bob.PublicKey(), payload[identity.SignatureSize:identity.SignatureSize+hrac.PublicKeySize])

	parsed, err := ParseFromWire(f.hracValue, payload)
	require.NoError(t, err)
	assert.Equal(t, StateSent, parsed.State())
	assert.Equal(t, order.Capsules, parsed.Capsules)
	assert.Equal(t, order.RecipientKey, parsed.RecipientKey)

	require.NoError(t, order.MarkSent())
	resp := f.serve(t, f.ursula, payload)
	require.NoError(t, order.ReceiveResponse(f.ursula.PublicKey(), resp))
	assert.Equal(t, StateFulfilled, order.State())
	require.Len(t, order.CFrags, 1)

	require.NoError(t, order.VerifyCompletion(f.verifier))
	assert.Equal(t, StateVerified, order.State())
	assert.ErrorIs(t, order.Reject(), models.ErrInvalidTransition)
}

func TestWorkOrder_RejectedByOtherProxy(t *testing.T) {
	f := newFixture(t)
	other := identity.NewCharacter("ursula-q")

	order, err := ConstructByRecipient(f.hracValue, [][]byte{f.capsule.Bytes()}, f.ursula.InterfaceKey(), f.bob)
	require.NoError(t, err)
	payload, err := order.SerializeForWire()
	require.NoError(t, err)

	parsed, err := ParseFromWire(f.hracValue, payload)
	require.NoError(t, err)
	assert.ErrorIs(t, parsed.AuthorizeFor(other), models.ErrUnauthenticatedOrder)
	assert.NoError(t, parsed.AuthorizeFor(f.ursula))
}

func TestParseFromWire_Rejects(t *testing.T) {
	f := newFixture(t)
	order, err := ConstructByRecipient(f.hracValue, [][]byte{f.capsule.Bytes()}, f.ursula.InterfaceKey(), f.bob)
	require.NoError(t, err)
	payload, err := order.SerializeForWire()
	require.NoError(t, err)

	t.Run("recipient key swapped", func(t *testing.T) {
		forged := append([]byte(nil), payload...)
		copy(forged[identity.SignatureSize:], identity.NewCharacter("mallory").PublicKey())
		_, err := ParseFromWire(f.hracValue, forged)
		assert.ErrorIs(t, err, models.ErrUnauthenticatedOrder)
	})

	t.Run("signature tampered", func(t *testing.T) {
		forged := append([]byte(nil), payload...)
		forged[identity.SignatureSize-1] ^= 0x01
		_, err := ParseFromWire(f.hracValue, forged)
		assert.ErrorIs(t, err, models.ErrUnauthenticatedOrder)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := ParseFromWire(f.hracValue, payload[:identity.SignatureSize])
		assert.ErrorIs(t, err, models.ErrMalformedPayload)
	})

	t.Run("garbage remainder", func(t *testing.T) {
		forged := append(append([]byte(nil), payload[:identity.SignatureSize+hrac.PublicKeySize]...), 0xc1)
		_, err := ParseFromWire(f.hracValue, forged)
		assert.ErrorIs(t, err, models.ErrMalformedPayload)
	})
}

func TestConstructByRecipient_Validates(t *testing.T) {
	f := newFixture(t)

	_, err := ConstructByRecipient(f.hracValue[:4], [][]byte{f.capsule.Bytes()}, f.ursula.InterfaceKey(), f.bob)
	assert.ErrorIs(t, err, models.ErrMalformedPayload)
	_, err = ConstructByRecipient(f.hracValue, [][]byte{f.capsule.Bytes()}, []byte("short"), f.bob)
	assert.ErrorIs(t, err, models.ErrMalformedPayload)
	_, err = ConstructByRecipient(f.hracValue, nil, f.ursula.InterfaceKey(), f.bob)
	assert.ErrorIs(t, err, models.ErrMalformedPayload)
}

func TestWorkOrder_ResponseChecks(t *testing.T) {
	f := newFixture(t)
	newSent := func(t *testing.T) (*WorkOrder, []byte) {
		order, err := ConstructByRecipient(f.hracValue, [][]byte{f.capsule.Bytes()}, f.ursula.InterfaceKey(), f.bob)
		require.NoError(t, err)
		payload, err := order.SerializeForWire()
		require.NoError(t, err)
		require.NoError(t, order.MarkSent())
		return order, payload
	}

	t.Run("answer sealed by another proxy", func(t *testing.T) {
		order, payload := newSent(t)
		resp := f.serve(t, f.ursula, payload)
		err := order.ReceiveResponse(identity.NewCharacter("other").PublicKey(), resp)
		assert.ErrorIs(t, err, models.ErrUnverifiedSender)
		assert.Equal(t, StateSent, order.State())
	})

	t.Run("answer replayed for another order", func(t *testing.T) {
		first, payload := newSent(t)
		resp := f.serve(t, f.ursula, payload)
		require.NoError(t, first.ReceiveResponse(f.ursula.PublicKey(), resp))

		second, _ := newSent(t)
		assert.ErrorIs(t, second.ReceiveResponse(f.ursula.PublicKey(), resp), models.ErrUnverifiedSender)
	})

	t.Run("wrong fragment count", func(t *testing.T) {
		order, _ := newSent(t)
		require.NoError(t, order.Fulfill(nil))
		assert.ErrorIs(t, order.VerifyCompletion(f.verifier), models.ErrVerificationFail)
		assert.Equal(t, StateRejected, order.State())
	})

	t.Run("fragment for another capsule", func(t *testing.T) {
		order, _ := newSent(t)
		ownerKey, err := umbral.PublicKeyFromBytes(f.owner.PublicKey())
		require.NoError(t, err)
		otherCapsule, _, err := umbral.Encrypt(ownerKey, []byte("other"))
		require.NoError(t, err)
		cfrag, err := umbral.ReEncrypt(f.kfrag, otherCapsule)
		require.NoError(t, err)

		require.NoError(t, order.Fulfill([][]byte{cfrag.Bytes()}))
		assert.ErrorIs(t, order.VerifyCompletion(f.verifier), models.ErrVerificationFail)
		assert.Equal(t, StateRejected, order.State())
	})

	t.Run("out of order transitions", func(t *testing.T) {
		order, err := ConstructByRecipient(f.hracValue, [][]byte{f.capsule.Bytes()}, f.ursula.InterfaceKey(), f.bob)
		require.NoError(t, err)
		assert.ErrorIs(t, order.Fulfill(nil), models.ErrInvalidTransition)
		assert.ErrorIs(t, order.VerifyCompletion(f.verifier), models.ErrInvalidTransition)
		require.NoError(t, order.MarkSent())
		assert.ErrorIs(t, order.MarkSent(), models.ErrInvalidTransition)
	})
}
