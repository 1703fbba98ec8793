// Package network is the owner and recipient side view of the proxy network:
// candidate discovery, message delivery to proxies and treasure map storage.
package network

import (
	"context"

	"github.com/AdalynJs/nucypher/pkg/models"
)

// MessageKind selects the proxy endpoint a message is delivered to.
type MessageKind int

const (
	KindPropose MessageKind = iota
	KindEnact
	KindRevoke
	KindWorkOrder
	KindPublishMap
	KindFetchMap
)

func (k MessageKind) String() string {
	switch k {
	case KindPropose:
		return "propose"
	case KindEnact:
		return "enact"
	case KindRevoke:
		return "revoke"
	case KindWorkOrder:
		return "work_order"
	case KindPublishMap:
		return "publish_map"
	case KindFetchMap:
		return "fetch_map"
	default:
		return "unknown"
	}
}

// Message is one request to a proxy. Key is the HRAC or treasure map key
// the request is addressed to, when the kind needs one.
type Message struct {
	Kind MessageKind
	Key  []byte
	Body []byte
}

// FindStatus is the typed outcome of a candidate search.
type FindStatus int

const (
	// FindAccepted means a proxy accepted the proposal.
	FindAccepted FindStatus = iota
	// FindInsufficient means every candidate was exhausted.
	FindInsufficient
)

// CandidateSpec describes the arrangement a proxy is asked to accept.
type CandidateSpec struct {
	// Proposal is the sealed arrangement proposal sent to each candidate.
	Proposal []byte
	// Claim reserves a node for this search. Nodes it refuses are skipped.
	// A nil Claim accepts every node.
	Claim func(node models.NodeInfo) bool
}

// FindResult is the proxy that accepted a proposal and its signed answer.
type FindResult struct {
	Status      FindStatus
	Node        models.NodeInfo
	Negotiation *SignedNegotiation
	// Tried counts the candidates contacted during the search.
	Tried int
}

// Finder locates a proxy willing to accept an arrangement.
type Finder interface {
	Find(ctx context.Context, spec CandidateSpec) (*FindResult, error)
}

// Publisher stores a value on the discovery network.
type Publisher interface {
	Upsert(ctx context.Context, key, value []byte) error
}

// Fetcher reads a value from the discovery network.
type Fetcher interface {
	Fetch(ctx context.Context, key []byte) ([]byte, error)
}

// Sender delivers a message to one proxy and returns its response body.
type Sender interface {
	Send(ctx context.Context, node models.NodeInfo, msg Message) ([]byte, error)
}

// Client is the full discovery and storage network collaborator.
type Client interface {
	Finder
	Publisher
	Fetcher
	Sender
}

// Transport moves a message to a proxy endpoint.
type Transport interface {
	Do(ctx context.Context, endpoint string, msg Message) ([]byte, error)
}
