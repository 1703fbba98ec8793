package models

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	// Wire errors
	ErrMalformedPayload = errors.New("malformed payload")
	ErrInvalidPublicKey = errors.New("invalid public key")

	// Signature errors
	ErrUnverifiedSender     = errors.New("unverified sender")
	ErrUnauthenticatedOrder = errors.New("unauthenticated work order")

	// State errors
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrNoProxyBound      = errors.New("no proxy bound to contract")
	ErrTreasureMapSealed = errors.New("treasure map is sealed")

	// Recoverable negotiation errors
	ErrInsufficientCandidates = errors.New("insufficient candidates")
	ErrProxyUnresponsive      = errors.New("proxy unresponsive")
	ErrProxyRejected          = errors.New("proxy rejected arrangement")

	// Fatal policy errors
	ErrIncompletePolicy = errors.New("incomplete policy")
	ErrEnactmentFailed  = errors.New("enactment failed")

	// Network collaborator errors
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrPeerUnreachable    = errors.New("peer unreachable")

	// Lookup errors
	ErrArrangementNotFound = errors.New("arrangement not found")
	ErrArrangementConflict = errors.New("arrangement conflicts with an existing one")
	ErrNodeNotFound        = errors.New("node not found")
	ErrTreasureMapNotFound = errors.New("treasure map not found")
	ErrAuditLogNotFound    = errors.New("audit log not found")

	// Re-encryption errors
	ErrInvalidFragment  = errors.New("invalid key fragment")
	ErrVerificationFail = errors.New("re-encryption verification failed")
)

// MalformedPayloadError reports a wire payload that could not be split.
type MalformedPayloadError struct {
	Field string
	Want  int
	Got   int
}

func (e *MalformedPayloadError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("malformed payload: need at least %d bytes, got %d", e.Want, e.Got)
	}
	return fmt.Sprintf("malformed payload: field %s needs %d bytes, got %d", e.Field, e.Want, e.Got)
}

func (e *MalformedPayloadError) Unwrap() error { return ErrMalformedPayload }

// NewMalformedPayloadError creates a new malformed payload error
func NewMalformedPayloadError(field string, want, got int) *MalformedPayloadError {
	return &MalformedPayloadError{Field: field, Want: want, Got: got}
}

// TransitionError reports a state machine misuse.
type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition from %s to %s", e.Entity, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// NewTransitionError creates a new transition error
func NewTransitionError(entity, from, to string) *TransitionError {
	return &TransitionError{Entity: entity, From: from, To: to}
}

// IncompletePolicyError lists the fragment indices that have no active contract.
type IncompletePolicyError struct {
	Unresolved []int
}

func (e *IncompletePolicyError) Error() string {
	parts := make([]string, len(e.Unresolved))
	for i, idx := range e.Unresolved {
		parts[i] = fmt.Sprint(idx)
	}
	return fmt.Sprintf("incomplete policy: unresolved fragments [%s]", strings.Join(parts, ", "))
}

func (e *IncompletePolicyError) Unwrap() error { return ErrIncompletePolicy }

// EnactmentError identifies the fragment and proxy whose delivery aborted enactment.
type EnactmentError struct {
	Index  int
	NodeID []byte
	Err    error
}

func (e *EnactmentError) Error() string {
	return fmt.Sprintf("enactment failed for fragment %d at node %s: %v", e.Index, shortHex(e.NodeID), e.Err)
}

func (e *EnactmentError) Unwrap() []error { return []error{ErrEnactmentFailed, e.Err} }

// PeerError wraps a network collaborator failure with the peer it concerns.
type PeerError struct {
	Op     string
	NodeID []byte
	Err    error
}

func (e *PeerError) Error() string {
	if len(e.NodeID) == 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, shortHex(e.NodeID), e.Err)
}

func (e *PeerError) Unwrap() error { return e.Err }

// NewPeerError creates a new peer error
func NewPeerError(op string, nodeID []byte, err error) *PeerError {
	return &PeerError{Op: op, NodeID: nodeID, Err: err}
}

// IsRetryable reports whether err is a negotiation failure that a fresh
// candidate may resolve.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrProxyUnresponsive) ||
		errors.Is(err, ErrProxyRejected) ||
		errors.Is(err, ErrPeerUnreachable)
}

func shortHex(b []byte) string {
	s := hex.EncodeToString(b)
	if len(s) > 16 {
		return s[:16]
	}
	return s
}
