package policy

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AdalynJs/nucypher/pkg/bytestring"
	"github.com/AdalynJs/nucypher/pkg/hrac"
	"github.com/AdalynJs/nucypher/pkg/identity"
	"github.com/AdalynJs/nucypher/pkg/models"
	"github.com/AdalynJs/nucypher/pkg/network"
)

// ContractState is the lifecycle position of a contract.
type ContractState string

const (
	ContractProposed    ContractState = "proposed"
	ContractNegotiating ContractState = "negotiating"
	ContractActive      ContractState = "active"
	ContractEnacted     ContractState = "enacted"
	ContractExpired     ContractState = "expired"
	ContractRejected    ContractState = "rejected"
)

// IsTerminal reports whether no further transition is possible.
func (s ContractState) IsTerminal() bool {
	return s == ContractExpired || s == ContractRejected
}

// Contract is the arrangement between the owner and one proxy for exactly
// one key fragment. Fragment and proxy stay absent until activation.
type Contract struct {
	ID         uuid.UUID
	Expiration time.Time
	Deposit    uint64

	owner    identity.Actor
	ownerKey []byte

	hrac     []byte
	policyID []byte
	uriHash  []byte
	salt     []byte

	state       ContractState
	proxy       *models.NodeInfo
	fragment    []byte
	challenge   []byte
	signature   []byte
	proposal    []byte
	negotiation *network.SignedNegotiation
	offerDigest []byte
}

// offerBody is the inner cleartext remainder: [fragment, challenge marker].
// A nil Challenge is the placeholder for "no challenge pack".
type offerBody struct {
	_struct   struct{} `codec:",toarray"`
	KFrag     []byte
	Challenge []byte
}

// ProxyContext is what a proxy needs to read an offer addressed to it.
type ProxyContext struct {
	Proxy    identity.Actor
	Resolver identity.Resolver
}

var ownerKeyField = bytestring.Field{Name: "owner_key", Size: hrac.PublicKeySize}

// NewContract creates a contract in the proposed state.
func NewContract(owner identity.Actor, expiration time.Time, deposit uint64) *Contract {
	return &Contract{
		ID:         uuid.New(),
		Expiration: expiration,
		Deposit:    deposit,
		owner:      owner,
		ownerKey:   owner.PublicKey(),
		state:      ContractProposed,
	}
}

// State returns the current lifecycle state.
func (c *Contract) State() ContractState { return c.state }

// Proxy returns the bound proxy, or false before activation.
func (c *Contract) Proxy() (models.NodeInfo, bool) {
	if c.proxy == nil {
		return models.NodeInfo{}, false
	}
	return *c.proxy, true
}

// Fragment returns the bound key fragment, nil before activation.
func (c *Contract) Fragment() []byte { return c.fragment }

// Challenge returns the encrypted challenge pack, nil when absent.
func (c *Contract) Challenge() []byte { return c.challenge }

// OwnerKey returns the owner's public key.
func (c *Contract) OwnerKey() []byte { return c.ownerKey }

// Signature returns the owner's seal: over the proposal on the owner side,
// over the offer cleartext on the proxy side.
func (c *Contract) Signature() []byte { return c.signature }

// OfferDigest is the digest of the last offer built for the proxy.
func (c *Contract) OfferDigest() []byte { return c.offerDigest }

func (c *Contract) transition(to ContractState, allowed ...ContractState) error {
	for _, s := range allowed {
		if c.state == s {
			c.state = to
			return nil
		}
	}
	return models.NewTransitionError("contract", string(c.state), string(to))
}

// Propose seals the arrangement proposal for this contract and moves it to
// negotiating. Repeated calls return the same proposal.
func (c *Contract) Propose() ([]byte, error) {
	if c.proposal != nil && c.state == ContractNegotiating {
		return c.proposal, nil
	}
	if c.hrac == nil || c.policyID == nil {
		return nil, fmt.Errorf("contract %s is not attached to a policy", c.ID)
	}
	if c.state != ContractProposed {
		return nil, models.NewTransitionError("contract", string(c.state), string(ContractNegotiating))
	}

	proposal := &ArrangementProposal{
		ArrangementID: c.ID.String(),
		PolicyID:      c.policyID,
		OwnerKey:      c.ownerKey,
		URIHash:       c.uriHash,
		HRAC:          c.hrac,
		ExpiresAt:     c.Expiration.Unix(),
		Deposit:       c.Deposit,
		Salt:          c.salt,
	}
	payload, err := SealProposal(c.owner, proposal)
	if err != nil {
		return nil, fmt.Errorf("failed to seal proposal: %w", err)
	}

	c.proposal = payload
	c.signature = payload[:identity.SignatureSize]
	c.state = ContractNegotiating
	return payload, nil
}

// Activate binds the fragment and the accepting proxy. The proxy's answer
// must be sealed by the proxy's own key and, once a proposal was sent,
// refer to that exact proposal.
func (c *Contract) Activate(fragment []byte, proxy models.NodeInfo, negotiation *network.SignedNegotiation) error {
	if c.state != ContractProposed && c.state != ContractNegotiating {
		return models.NewTransitionError("contract", string(c.state), string(ContractActive))
	}
	if len(fragment) == 0 {
		return fmt.Errorf("%w: empty fragment", models.ErrInvalidFragment)
	}
	if negotiation == nil || !negotiation.Result.Accepted {
		return models.ErrProxyRejected
	}

	key, err := hrac.InterfaceKey(proxy.PublicKey)
	if err != nil {
		return err
	}
	if !bytes.Equal(key, proxy.InterfaceKey) {
		return fmt.Errorf("%w: node %s advertises a foreign key", models.ErrUnverifiedSender, proxy.ID())
	}
	if !negotiation.VerifiedBy(proxy.PublicKey) {
		return fmt.Errorf("%w: negotiation not sealed by node %s", models.ErrUnverifiedSender, proxy.ID())
	}
	if c.proposal != nil {
		if !bytes.Equal(negotiation.Result.ProposalDigest, hrac.Keccak(c.proposal)) ||
			negotiation.Result.ArrangementID != c.ID.String() {
			return fmt.Errorf("%w: negotiation answers a different proposal", models.ErrUnverifiedSender)
		}
	}

	c.fragment = append([]byte(nil), fragment...)
	c.proxy = &proxy
	c.negotiation = negotiation
	c.state = ContractActive
	return nil
}

// SetChallenge attaches the encrypted challenge pack delivered with the offer.
func (c *Contract) SetChallenge(challenge []byte) {
	c.challenge = challenge
}

// BuildOwnerPayload produces the offer for the bound proxy:
// [ownerPublicKey][encrypt(sig || msgpack([fragment, challenge]))].
func (c *Contract) BuildOwnerPayload() ([]byte, error) {
	if c.proxy == nil {
		return nil, models.ErrNoProxyBound
	}
	if c.owner == nil {
		return nil, fmt.Errorf("contract %s has no owner identity", c.ID)
	}

	body, err := bytestring.Pack(&offerBody{KFrag: c.fragment, Challenge: c.challenge})
	if err != nil {
		return nil, err
	}
	ciphertext, _, err := c.owner.EncryptFor(c.proxy.PublicKey, body)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt offer: %w", err)
	}

	payload := bytestring.Assemble([][]byte{c.ownerKey}, ciphertext)
	c.offerDigest = hrac.Keccak(payload)
	return payload, nil
}

// MarkEnacted records the proxy's acknowledgement of the last offer.
func (c *Contract) MarkEnacted(ack *EnactmentAck) error {
	if ack == nil || !bytes.Equal(ack.OfferDigest, c.offerDigest) || !bytes.Equal(ack.HRAC, c.hrac) {
		return fmt.Errorf("%w: acknowledgement does not match the offer", models.ErrUnverifiedSender)
	}
	if ack.ArrangementID != c.ID.String() {
		return fmt.Errorf("%w: acknowledgement names arrangement %s", models.ErrUnverifiedSender, ack.ArrangementID)
	}
	return c.transition(ContractEnacted, ContractActive, ContractEnacted)
}

// Reject ends a contract that a proxy refused or that was abandoned.
func (c *Contract) Reject() error {
	return c.transition(ContractRejected, ContractProposed, ContractNegotiating, ContractActive, ContractEnacted)
}

// Expire ends a contract whose expiration passed.
func (c *Contract) Expire(now time.Time) error {
	if now.Before(c.Expiration) {
		return fmt.Errorf("contract %s expires at %s", c.ID, c.Expiration.Format(time.RFC3339))
	}
	return c.transition(ContractExpired, ContractProposed, ContractNegotiating, ContractActive, ContractEnacted)
}

// ContractFromProxyView rebuilds a contract from an offer on the proxy side.
// The inner payload must be sealed by the owner named in the offer; anything
// else is rejected with ErrUnverifiedSender. The owner is learned through
// ctx.Resolver only once the seal checks out.
func ContractFromProxyView(payload []byte, ctx ProxyContext) (*Contract, error) {
	fields, encrypted, err := bytestring.Split(payload, ownerKeyField)
	if err != nil {
		return nil, err
	}
	ownerKey := fields[0]

	verified, cleartext, err := ctx.Proxy.VerifyFrom(ownerKey, encrypted, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUnverifiedSender, err)
	}
	if !verified {
		return nil, fmt.Errorf("%w: offer not sealed by owner", models.ErrUnverifiedSender)
	}

	var body offerBody
	sig, _, err := open(cleartext, &body)
	if err != nil {
		return nil, err
	}
	if len(body.KFrag) == 0 {
		return nil, fmt.Errorf("%w: offer carries no fragment", models.ErrMalformedPayload)
	}
	if _, err := ctx.Resolver.Learn(ownerKey); err != nil {
		return nil, err
	}

	self := models.NodeInfo{PublicKey: ctx.Proxy.PublicKey()}
	self.InterfaceKey, _ = hrac.InterfaceKey(self.PublicKey)

	return &Contract{
		ownerKey:    append([]byte(nil), ownerKey...),
		state:       ContractActive,
		proxy:       &self,
		fragment:    body.KFrag,
		challenge:   body.Challenge,
		signature:   sig,
		offerDigest: hrac.Keccak(payload),
	}, nil
}
