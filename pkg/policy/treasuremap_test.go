package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AdalynJs/nucypher/pkg/hrac"
	"github.com/AdalynJs/nucypher/pkg/identity"
	"github.com/AdalynJs/nucypher/pkg/models"
)

func sealedMap(t *testing.T) *TreasureMap {
	t.Helper()
	m := newTreasureMap(hrac.Keccak([]byte("policy")), 2, []byte("verification"))
	require.NoError(t, m.add(MapEntry{Index: 2, NodeID: hrac.Keccak([]byte("n2"))}))
	require.NoError(t, m.add(MapEntry{Index: 0, NodeID: hrac.Keccak([]byte("n0"))}))
	require.NoError(t, m.add(MapEntry{Index: 1, NodeID: hrac.Keccak([]byte("n1"))}))
	m.Seal()
	return m
}

func TestTreasureMap_Seal(t *testing.T) {
	m := sealedMap(t)
	assert.True(t, m.Sealed())
	assert.Equal(t, 3, m.Len())
	for i, e := range m.Entries {
		assert.Equal(t, i, e.Index, "entries are ordered by fragment index")
	}
	assert.ErrorIs(t, m.add(MapEntry{Index: 3}), models.ErrTreasureMapSealed)

	c := m.clone()
	c.Entries[0].Index = 99
	assert.Equal(t, 0, m.Entries[0].Index)
}

func TestPublication_RoundTrip(t *testing.T) {
	owner := identity.NewCharacter("alice")
	bob := identity.NewCharacter("bob")
	m := sealedMap(t)

	pub, err := BuildPublication(owner, bob.PublicKey(), m)
	require.NoError(t, err)

	wantKey, err := hrac.TreasureMapKey(owner.PublicKey(), m.HRAC)
	require.NoError(t, err)
	assert.Equal(t, wantKey, pub.Key)
	require.NoError(t, ValidateTreasureMapRecord(pub.Key, pub.Value))

	rec, err := ParseTreasureMapRecord(pub.Value)
	require.NoError(t, err)
	assert.Equal(t, owner.PublicKey(), rec.OwnerKey)
	assert.Equal(t, m.HRAC, rec.HRAC)

	opened, err := OpenTreasureMap(bob, owner.PublicKey(), pub.Value)
	require.NoError(t, err)
	assert.True(t, opened.Sealed())
	assert.Equal(t, m.Threshold, opened.Threshold)
	assert.Equal(t, m.Verification, opened.Verification)
	assert.Equal(t, m.Entries, opened.Entries)
}

func TestPublication_Rejects(t *testing.T) {
	owner := identity.NewCharacter("alice")
	bob := identity.NewCharacter("bob")
	mallory := identity.NewCharacter("mallory")
	m := sealedMap(t)

	pub, err := BuildPublication(owner, bob.PublicKey(), m)
	require.NoError(t, err)

	t.Run("unsealed map", func(t *testing.T) {
		open := newTreasureMap(m.HRAC, 1, nil)
		_, err := BuildPublication(owner, bob.PublicKey(), open)
		assert.ErrorIs(t, err, models.ErrIncompletePolicy)
	})

	t.Run("stored under a foreign key", func(t *testing.T) {
		foreign, err := hrac.TreasureMapKey(mallory.PublicKey(), m.HRAC)
		require.NoError(t, err)
		assert.ErrorIs(t, ValidateTreasureMapRecord(foreign, pub.Value), models.ErrUnverifiedSender)
	})

	t.Run("signature tampered", func(t *testing.T) {
		value := append([]byte(nil), pub.Value...)
		value[0] ^= 0xff
		assert.ErrorIs(t, ValidateTreasureMapRecord(pub.Key, value), models.ErrUnverifiedSender)
	})

	t.Run("expected another owner", func(t *testing.T) {
		_, err := OpenTreasureMap(bob, mallory.PublicKey(), pub.Value)
		assert.ErrorIs(t, err, models.ErrUnverifiedSender)
	})

	t.Run("not the recipient", func(t *testing.T) {
		_, err := OpenTreasureMap(mallory, owner.PublicKey(), pub.Value)
		assert.Error(t, err)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := ParseTreasureMapRecord(pub.Value[:50])
		assert.ErrorIs(t, err, models.ErrMalformedPayload)
	})
}
