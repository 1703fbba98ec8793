// Package workorder implements the recipient's signed request for
// re-encryption work at one proxy and the proxy's signed answer.
//
// Wire format of an order:
//
//	[recipientSig("wo:" || proxyInterfaceKey)][recipientKey][msgpack([receipt, msgpack(capsules)])]
//
// Wire format of a response:
//
//	[proxySig(orderSig || body)][body = msgpack(cfrags)]
package workorder

import (
	"bytes"
	"fmt"

	"github.com/AdalynJs/nucypher/pkg/bytestring"
	"github.com/AdalynJs/nucypher/pkg/hrac"
	"github.com/AdalynJs/nucypher/pkg/identity"
	"github.com/AdalynJs/nucypher/pkg/models"
)

// State is the lifecycle position of a work order.
type State string

const (
	StateConstructed State = "constructed"
	StateSent        State = "sent"
	StateFulfilled   State = "fulfilled"
	StateVerified    State = "verified"
	StateRejected    State = "rejected"
)

const receiptPrefix = "wo:"

// CFragVerifier checks one re-encrypted fragment against its capsule.
// umbral.Verifier satisfies it.
type CFragVerifier interface {
	VerifyCFrag(capsule, cfrag []byte) error
}

// WorkOrder asks one proxy to re-encrypt Capsules under the fragment it
// holds for HRAC.
type WorkOrder struct {
	HRAC         []byte
	RecipientKey []byte
	Capsules     [][]byte
	Receipt      []byte
	Signature    []byte
	CFrags       [][]byte

	state State
}

type wireBody struct {
	_struct  struct{} `codec:",toarray"`
	Receipt  []byte
	Capsules []byte
}

var orderFields = bytestring.NewSplitter(
	bytestring.Field{Name: "signature", Size: identity.SignatureSize},
	bytestring.Field{Name: "recipient_key", Size: hrac.PublicKeySize},
)

var responseFields = bytestring.NewSplitter(
	bytestring.Field{Name: "signature", Size: identity.SignatureSize},
)

// ReceiptFor returns the receipt bytes that bind an order to one proxy.
func ReceiptFor(proxyInterfaceKey []byte) []byte {
	receipt := make([]byte, 0, len(receiptPrefix)+len(proxyInterfaceKey))
	receipt = append(receipt, receiptPrefix...)
	return append(receipt, proxyInterfaceKey...)
}

// ConstructByRecipient builds an order redeemable only at the proxy whose
// interface key is proxyInterfaceKey.
func ConstructByRecipient(hracDigest []byte, capsules [][]byte, proxyInterfaceKey []byte, recipient identity.Signer) (*WorkOrder, error) {
	if err := hrac.ValidateDigest("hrac", hracDigest); err != nil {
		return nil, err
	}
	if err := hrac.ValidateDigest("proxy_key", proxyInterfaceKey); err != nil {
		return nil, err
	}
	if len(capsules) == 0 {
		return nil, fmt.Errorf("%w: work order needs at least one capsule", models.ErrMalformedPayload)
	}

	receipt := ReceiptFor(proxyInterfaceKey)
	sig, err := recipient.Seal(receipt)
	if err != nil {
		return nil, fmt.Errorf("failed to sign receipt: %w", err)
	}
	return &WorkOrder{
		HRAC:         append([]byte(nil), hracDigest...),
		RecipientKey: recipient.PublicKey(),
		Capsules:     capsules,
		Receipt:      receipt,
		Signature:    sig,
		state:        StateConstructed,
	}, nil
}

// State returns the current lifecycle state.
func (w *WorkOrder) State() State { return w.state }

// SerializeForWire encodes the order for delivery.
func (w *WorkOrder) SerializeForWire() ([]byte, error) {
	capsules, err := bytestring.Pack(w.Capsules)
	if err != nil {
		return nil, err
	}
	return orderFields.AssembleWith([][]byte{w.Signature, w.RecipientKey}, &wireBody{Receipt: w.Receipt, Capsules: capsules})
}

// ParseFromWire decodes an order received by a proxy. The receipt must be
// signed by the recipient key carried in the order.
func ParseFromWire(hracDigest, payload []byte) (*WorkOrder, error) {
	var body wireBody
	fields, err := orderFields.SplitInto(payload, &body)
	if err != nil {
		return nil, err
	}
	var capsules [][]byte
	if err := bytestring.Unpack(body.Capsules, &capsules); err != nil {
		return nil, err
	}
	if len(capsules) == 0 {
		return nil, fmt.Errorf("%w: work order carries no capsules", models.ErrMalformedPayload)
	}

	sig, recipientKey := fields[0], fields[1]
	if !identity.Verify(recipientKey, body.Receipt, sig) {
		return nil, fmt.Errorf("%w: receipt not signed by recipient", models.ErrUnauthenticatedOrder)
	}
	return &WorkOrder{
		HRAC:         append([]byte(nil), hracDigest...),
		RecipientKey: recipientKey,
		Capsules:     capsules,
		Receipt:      body.Receipt,
		Signature:    sig,
		state:        StateSent,
	}, nil
}

// AuthorizeFor checks that the order was issued for proxy by re-deriving
// the receipt from the proxy's own key.
func (w *WorkOrder) AuthorizeFor(proxy identity.Signer) error {
	key, err := hrac.InterfaceKey(proxy.PublicKey())
	if err != nil {
		return err
	}
	if !bytes.Equal(w.Receipt, ReceiptFor(key)) {
		return fmt.Errorf("%w: receipt was issued for another proxy", models.ErrUnauthenticatedOrder)
	}
	return nil
}

func (w *WorkOrder) transition(to State, from State) error {
	if w.state != from {
		return models.NewTransitionError("work order", string(w.state), string(to))
	}
	w.state = to
	return nil
}

// MarkSent records that the order was delivered.
func (w *WorkOrder) MarkSent() error {
	return w.transition(StateSent, StateConstructed)
}

// Fulfill records the re-encrypted fragments returned for the order.
func (w *WorkOrder) Fulfill(cfrags [][]byte) error {
	if err := w.transition(StateFulfilled, StateSent); err != nil {
		return err
	}
	w.CFrags = cfrags
	return nil
}

// VerifyCompletion checks one fragment per capsule against verifier and
// moves the order to verified, or to rejected on any mismatch.
func (w *WorkOrder) VerifyCompletion(verifier CFragVerifier) error {
	if w.state != StateFulfilled {
		return models.NewTransitionError("work order", string(w.state), string(StateVerified))
	}
	if len(w.CFrags) != len(w.Capsules) {
		w.state = StateRejected
		return fmt.Errorf("%w: %d fragments for %d capsules", models.ErrVerificationFail, len(w.CFrags), len(w.Capsules))
	}
	for i := range w.Capsules {
		if err := verifier.VerifyCFrag(w.Capsules[i], w.CFrags[i]); err != nil {
			w.state = StateRejected
			return fmt.Errorf("capsule %d: %w", i, err)
		}
	}
	w.state = StateVerified
	return nil
}

// Reject ends an order that cannot complete.
func (w *WorkOrder) Reject() error {
	if w.state == StateVerified || w.state == StateRejected {
		return models.NewTransitionError("work order", string(w.state), string(StateRejected))
	}
	w.state = StateRejected
	return nil
}

func responseMessage(orderSig, body []byte) []byte {
	msg := make([]byte, 0, len(orderSig)+len(body))
	msg = append(msg, orderSig...)
	return append(msg, body...)
}

// BuildResponse is the proxy's signed answer to w.
func BuildResponse(proxy identity.Signer, w *WorkOrder, cfrags [][]byte) ([]byte, error) {
	body, err := bytestring.Pack(cfrags)
	if err != nil {
		return nil, err
	}
	sig, err := proxy.Seal(responseMessage(w.Signature, body))
	if err != nil {
		return nil, err
	}
	return responseFields.Assemble([][]byte{sig}, body)
}

// ReceiveResponse verifies a proxy's answer to w and records its fragments.
func (w *WorkOrder) ReceiveResponse(proxyKey, payload []byte) error {
	fields, body, err := responseFields.Split(payload)
	if err != nil {
		return err
	}
	if !identity.Verify(proxyKey, responseMessage(w.Signature, body), fields[0]) {
		return fmt.Errorf("%w: response not sealed by proxy", models.ErrUnverifiedSender)
	}
	var cfrags [][]byte
	if err := bytestring.Unpack(body, &cfrags); err != nil {
		return err
	}
	return w.Fulfill(cfrags)
}
