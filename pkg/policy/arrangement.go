package policy

import (
	"bytes"
	"fmt"
	"time"

	"github.com/AdalynJs/nucypher/pkg/bytestring"
	"github.com/AdalynJs/nucypher/pkg/hrac"
	"github.com/AdalynJs/nucypher/pkg/identity"
	"github.com/AdalynJs/nucypher/pkg/models"
)

// ArrangementProposal is what the owner asks a proxy to accept for one
// contract. The proxy recomputes PolicyID from OwnerKey and URIHash, so an
// ID can only be claimed by the key it was derived from.
type ArrangementProposal struct {
	ArrangementID string `codec:"arrangement_id"`
	PolicyID      []byte `codec:"policy_id"`
	OwnerKey      []byte `codec:"owner_key"`
	URIHash       []byte `codec:"uri_hash"`
	HRAC          []byte `codec:"hrac"`
	ExpiresAt     int64  `codec:"expires_at"`
	Deposit       uint64 `codec:"deposit"`
	Salt          []byte `codec:"salt"`
}

// Expiration returns ExpiresAt as a time.
func (p *ArrangementProposal) Expiration() time.Time {
	return time.Unix(p.ExpiresAt, 0).UTC()
}

// EnactmentAck is a proxy's confirmation that it stored the fragment sent in
// the offer whose digest is OfferDigest.
type EnactmentAck struct {
	HRAC          []byte `codec:"hrac"`
	ArrangementID string `codec:"arrangement_id"`
	OfferDigest   []byte `codec:"offer_digest"`
}

var signedFields = bytestring.NewSplitter(
	bytestring.Field{Name: "signature", Size: identity.SignatureSize},
)

// seal encodes v as [signature][msgpack(v)].
func seal(signer identity.Signer, v interface{}) ([]byte, error) {
	body, err := bytestring.Pack(v)
	if err != nil {
		return nil, err
	}
	sig, err := signer.Seal(body)
	if err != nil {
		return nil, err
	}
	return signedFields.Assemble([][]byte{sig}, body)
}

// open splits [signature][msgpack(v)], decodes v and returns the signature
// and signed body for the caller to verify.
func open(payload []byte, v interface{}) (sig, body []byte, err error) {
	fields, body, err := signedFields.Split(payload)
	if err != nil {
		return nil, nil, err
	}
	if err := bytestring.Unpack(body, v); err != nil {
		return nil, nil, err
	}
	return fields[0], body, nil
}

// SealProposal signs and encodes a proposal.
func SealProposal(owner identity.Signer, p *ArrangementProposal) ([]byte, error) {
	return seal(owner, p)
}

// OpenProposal decodes a proposal and checks that it was sealed by the
// owner key it names and that its policy ID derives from that key.
func OpenProposal(payload []byte) (*ArrangementProposal, error) {
	var p ArrangementProposal
	sig, body, err := open(payload, &p)
	if err != nil {
		return nil, err
	}

	if err := hrac.ValidatePublicKey("owner_key", p.OwnerKey); err != nil {
		return nil, err
	}
	for name, d := range map[string][]byte{"policy_id": p.PolicyID, "uri_hash": p.URIHash, "hrac": p.HRAC} {
		if err := hrac.ValidateDigest(name, d); err != nil {
			return nil, err
		}
	}
	if p.ArrangementID == "" {
		return nil, fmt.Errorf("%w: missing arrangement id", models.ErrMalformedPayload)
	}

	if !identity.Verify(p.OwnerKey, body, sig) {
		return nil, fmt.Errorf("%w: proposal not sealed by owner", models.ErrUnverifiedSender)
	}
	want, err := hrac.PolicyIDFromURIHash(p.OwnerKey, p.URIHash)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(want, p.PolicyID) {
		return nil, fmt.Errorf("%w: policy id not derived from owner key", models.ErrUnverifiedSender)
	}
	return &p, nil
}

// SealEnactmentAck signs and encodes an acknowledgement.
func SealEnactmentAck(proxy identity.Signer, ack *EnactmentAck) ([]byte, error) {
	return seal(proxy, ack)
}

// OpenEnactmentAck decodes an acknowledgement and checks the proxy's seal.
func OpenEnactmentAck(payload, proxyKey []byte) (*EnactmentAck, error) {
	var ack EnactmentAck
	sig, body, err := open(payload, &ack)
	if err != nil {
		return nil, err
	}
	if !identity.Verify(proxyKey, body, sig) {
		return nil, fmt.Errorf("%w: acknowledgement not sealed by proxy", models.ErrUnverifiedSender)
	}
	return &ack, nil
}

var revocationFields = bytestring.NewSplitter(
	bytestring.Field{Name: "signature", Size: identity.SignatureSize},
	bytestring.Field{Name: "owner_key", Size: hrac.PublicKeySize},
)

func revocationMessage(hracDigest []byte) []byte {
	return append([]byte("revoke:"), hracDigest...)
}

// BuildRevocation encodes [ownerSig("revoke:" || HRAC)][ownerKey].
func BuildRevocation(owner identity.Signer, hracDigest []byte) ([]byte, error) {
	sig, err := owner.Seal(revocationMessage(hracDigest))
	if err != nil {
		return nil, err
	}
	return revocationFields.Assemble([][]byte{sig, owner.PublicKey()}, nil)
}

// OpenRevocation returns the owner key of a valid revocation for hracDigest.
func OpenRevocation(payload, hracDigest []byte) ([]byte, error) {
	fields, _, err := revocationFields.Split(payload)
	if err != nil {
		return nil, err
	}
	sig, ownerKey := fields[0], fields[1]
	if !identity.Verify(ownerKey, revocationMessage(hracDigest), sig) {
		return nil, fmt.Errorf("%w: revocation not sealed by owner", models.ErrUnverifiedSender)
	}
	return ownerKey, nil
}
