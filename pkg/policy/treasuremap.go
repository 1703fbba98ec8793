package policy

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/AdalynJs/nucypher/pkg/bytestring"
	"github.com/AdalynJs/nucypher/pkg/hrac"
	"github.com/AdalynJs/nucypher/pkg/identity"
	"github.com/AdalynJs/nucypher/pkg/models"
)

// MapEntry binds a fragment index to the proxy holding it.
type MapEntry struct {
	Index  int    `codec:"index"`
	NodeID []byte `codec:"node_id"`
}

// TreasureMap tells the recipient which proxies hold the fragments of a
// policy. Entries are appended during enactment and frozen by Seal.
type TreasureMap struct {
	HRAC         []byte     `codec:"hrac"`
	Threshold    int        `codec:"threshold"`
	Verification []byte     `codec:"verification"`
	Entries      []MapEntry `codec:"entries"`

	sealed bool
}

func newTreasureMap(hracDigest []byte, threshold int, verification []byte) *TreasureMap {
	return &TreasureMap{HRAC: hracDigest, Threshold: threshold, Verification: verification}
}

func (m *TreasureMap) add(e MapEntry) error {
	if m.sealed {
		return models.ErrTreasureMapSealed
	}
	m.Entries = append(m.Entries, e)
	return nil
}

// Seal freezes the map and orders entries by fragment index.
func (m *TreasureMap) Seal() {
	sort.Slice(m.Entries, func(i, j int) bool { return m.Entries[i].Index < m.Entries[j].Index })
	m.sealed = true
}

// Sealed reports whether the map is frozen.
func (m *TreasureMap) Sealed() bool { return m.sealed }

// Len returns the number of entries.
func (m *TreasureMap) Len() int { return len(m.Entries) }

func (m *TreasureMap) clone() *TreasureMap {
	c := *m
	c.Entries = append([]MapEntry(nil), m.Entries...)
	return &c
}

// Publication is a treasure map record as stored on the discovery network.
type Publication struct {
	Key   []byte
	Value []byte
}

var publicationFields = bytestring.NewSplitter(
	bytestring.Field{Name: "signature", Size: identity.SignatureSize},
	bytestring.Field{Name: "owner_key", Size: hrac.PublicKeySize},
	bytestring.Field{Name: "hrac", Size: hrac.DigestSize},
)

// BuildPublication encrypts m for the recipient and encodes the record
// [ownerSig(HRAC)][ownerKey][HRAC][msgpack(encryptedMap)] under
// hash(ownerKey || HRAC).
func BuildPublication(owner identity.Actor, recipientKey []byte, m *TreasureMap) (*Publication, error) {
	if !m.sealed {
		return nil, fmt.Errorf("%w: treasure map is not sealed", models.ErrIncompletePolicy)
	}

	plain, err := bytestring.Pack(m)
	if err != nil {
		return nil, err
	}
	encrypted, _, err := owner.EncryptFor(recipientKey, plain)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt treasure map: %w", err)
	}
	remainder, err := bytestring.Pack(encrypted)
	if err != nil {
		return nil, err
	}

	sig, err := owner.Seal(m.HRAC)
	if err != nil {
		return nil, err
	}
	ownerKey := owner.PublicKey()
	value, err := publicationFields.Assemble([][]byte{sig, ownerKey, m.HRAC}, remainder)
	if err != nil {
		return nil, err
	}
	key, err := hrac.TreasureMapKey(ownerKey, m.HRAC)
	if err != nil {
		return nil, err
	}
	return &Publication{Key: key, Value: value}, nil
}

// TreasureMapRecord is a parsed publication value.
type TreasureMapRecord struct {
	Signature    []byte
	OwnerKey     []byte
	HRAC         []byte
	EncryptedMap []byte
}

// ParseTreasureMapRecord splits a publication value without verifying it.
func ParseTreasureMapRecord(value []byte) (*TreasureMapRecord, error) {
	fields, remainder, err := publicationFields.Split(value)
	if err != nil {
		return nil, err
	}
	var encrypted []byte
	if err := bytestring.Unpack(remainder, &encrypted); err != nil {
		return nil, err
	}
	return &TreasureMapRecord{
		Signature:    fields[0],
		OwnerKey:     fields[1],
		HRAC:         fields[2],
		EncryptedMap: encrypted,
	}, nil
}

// ValidateTreasureMapRecord checks that value is signed by the owner it
// names and is stored under that owner's key for the HRAC. Proxies run it
// before accepting a pushed map.
func ValidateTreasureMapRecord(key, value []byte) error {
	rec, err := ParseTreasureMapRecord(value)
	if err != nil {
		return err
	}
	if !identity.Verify(rec.OwnerKey, rec.HRAC, rec.Signature) {
		return fmt.Errorf("%w: treasure map not signed by owner", models.ErrUnverifiedSender)
	}
	want, err := hrac.TreasureMapKey(rec.OwnerKey, rec.HRAC)
	if err != nil {
		return err
	}
	if !bytes.Equal(want, key) {
		return fmt.Errorf("%w: treasure map stored under a foreign key", models.ErrUnverifiedSender)
	}
	return nil
}

// OpenTreasureMap decrypts a publication value as the recipient and checks
// that the map was sealed by expectedOwner.
func OpenTreasureMap(recipient identity.Actor, expectedOwner, value []byte) (*TreasureMap, error) {
	rec, err := ParseTreasureMapRecord(value)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(rec.OwnerKey, expectedOwner) {
		return nil, fmt.Errorf("%w: treasure map published by another owner", models.ErrUnverifiedSender)
	}

	verified, cleartext, err := recipient.VerifyFrom(expectedOwner, rec.EncryptedMap, true)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt treasure map: %w", err)
	}
	if !verified {
		return nil, fmt.Errorf("%w: treasure map contents not sealed by owner", models.ErrUnverifiedSender)
	}

	var m TreasureMap
	if err := bytestring.Unpack(cleartext[identity.SignatureSize:], &m); err != nil {
		return nil, err
	}
	if !bytes.Equal(m.HRAC, rec.HRAC) {
		return nil, fmt.Errorf("%w: treasure map HRAC mismatch", models.ErrUnverifiedSender)
	}
	m.sealed = true
	return &m, nil
}
