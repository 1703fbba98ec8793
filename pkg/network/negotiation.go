package network

import (
	"github.com/AdalynJs/nucypher/pkg/bytestring"
	"github.com/AdalynJs/nucypher/pkg/identity"
)

// NegotiationResult is a proxy's answer to an arrangement proposal.
// ProposalDigest binds the answer to the exact proposal bytes it received.
type NegotiationResult struct {
	Accepted       bool   `codec:"accepted"`
	ArrangementID  string `codec:"arrangement_id"`
	Reason         string `codec:"reason,omitempty"`
	ProposalDigest []byte `codec:"proposal_digest"`
}

// SignedNegotiation is a NegotiationResult with the proxy's seal over Body.
type SignedNegotiation struct {
	Result    NegotiationResult
	Signature []byte
	Body      []byte
}

var negotiationFields = bytestring.NewSplitter(
	bytestring.Field{Name: "signature", Size: identity.SignatureSize},
)

// SealNegotiation encodes result as [signature][msgpack(result)].
func SealNegotiation(signer identity.Signer, result NegotiationResult) ([]byte, error) {
	body, err := bytestring.Pack(result)
	if err != nil {
		return nil, err
	}
	sig, err := signer.Seal(body)
	if err != nil {
		return nil, err
	}
	return negotiationFields.Assemble([][]byte{sig}, body)
}

// ParseNegotiation decodes a sealed answer without verifying it; the caller
// checks Signature against the proxy it contacted.
func ParseNegotiation(payload []byte) (*SignedNegotiation, error) {
	fields, body, err := negotiationFields.Split(payload)
	if err != nil {
		return nil, err
	}

	var result NegotiationResult
	if err := bytestring.Unpack(body, &result); err != nil {
		return nil, err
	}
	return &SignedNegotiation{Result: result, Signature: fields[0], Body: body}, nil
}

// VerifiedBy reports whether the seal was made by pub.
func (s *SignedNegotiation) VerifiedBy(pub []byte) bool {
	return identity.Verify(pub, s.Body, s.Signature)
}
