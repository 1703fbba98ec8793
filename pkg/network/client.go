package network

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"

	"github.com/AdalynJs/nucypher/logging"
	"github.com/AdalynJs/nucypher/pkg/discovery"
	"github.com/AdalynJs/nucypher/pkg/models"
)

// NodeClient implements Client over a node registry, an optional treasure map
// store and a transport. Without a store, maps are published to and fetched
// from the proxies themselves.
type NodeClient struct {
	registry  discovery.NodeRegistry
	store     discovery.MapStore
	transport Transport
	log       *logging.Logger
}

var _ Client = (*NodeClient)(nil)

// NewNodeClient creates a client. store may be nil.
func NewNodeClient(registry discovery.NodeRegistry, store discovery.MapStore, transport Transport) *NodeClient {
	return &NodeClient{
		registry:  registry,
		store:     store,
		transport: transport,
		log:       logging.Component("network"),
	}
}

// Find offers spec.Proposal to registered nodes in random order until one
// accepts. Running out of candidates is reported as FindInsufficient, not as
// an error.
func (c *NodeClient) Find(ctx context.Context, spec CandidateSpec) (*FindResult, error) {
	nodes, err := c.registry.Nodes(ctx)
	if err != nil {
		return nil, err
	}

	result := &FindResult{Status: FindInsufficient}
	for _, node := range lo.Shuffle(nodes) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if spec.Claim != nil && !spec.Claim(node) {
			continue
		}
		result.Tried++

		negotiation, err := c.propose(ctx, node, spec.Proposal)
		if err != nil {
			c.log.Debug("candidate %s skipped: %v", node.ID(), err)
			continue
		}
		if !negotiation.Result.Accepted {
			c.log.Debug("candidate %s declined: %s", node.ID(), negotiation.Result.Reason)
			continue
		}

		result.Status = FindAccepted
		result.Node = node
		result.Negotiation = negotiation
		return result, nil
	}
	return result, nil
}

func (c *NodeClient) propose(ctx context.Context, node models.NodeInfo, proposal []byte) (*SignedNegotiation, error) {
	resp, err := c.transport.Do(ctx, node.Endpoint, Message{Kind: KindPropose, Body: proposal})
	if err != nil {
		return nil, models.NewPeerError("propose", node.InterfaceKey, err)
	}
	negotiation, err := ParseNegotiation(resp)
	if err != nil {
		return nil, models.NewPeerError("propose", node.InterfaceKey, err)
	}
	return negotiation, nil
}

// Send delivers msg to node.
func (c *NodeClient) Send(ctx context.Context, node models.NodeInfo, msg Message) ([]byte, error) {
	resp, err := c.transport.Do(ctx, node.Endpoint, msg)
	if err != nil {
		return nil, models.NewPeerError(msg.Kind.String(), node.InterfaceKey, err)
	}
	return resp, nil
}

// Upsert stores value under key.
func (c *NodeClient) Upsert(ctx context.Context, key, value []byte) error {
	if c.store != nil {
		return c.store.Put(ctx, key, value)
	}

	var (
		errs   []error
		stored bool
	)
	err := c.eachNode(ctx, func(node models.NodeInfo) bool {
		_, err := c.Send(ctx, node, Message{Kind: KindPublishMap, Key: key, Body: value})
		if err != nil {
			errs = append(errs, err)
			return false
		}
		stored = true
		return true
	})
	switch {
	case err != nil:
		return err
	case stored:
		return nil
	case len(errs) > 0:
		return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, errors.Join(errs...))
	}
	return fmt.Errorf("%w: no nodes to publish to", models.ErrStorageUnavailable)
}

// Fetch reads the value stored under key.
func (c *NodeClient) Fetch(ctx context.Context, key []byte) ([]byte, error) {
	if c.store != nil {
		return c.store.Get(ctx, key)
	}

	var value []byte
	err := c.eachNode(ctx, func(node models.NodeInfo) bool {
		resp, err := c.Send(ctx, node, Message{Kind: KindFetchMap, Key: key})
		if err != nil {
			return false
		}
		value = resp
		return true
	})
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, models.ErrTreasureMapNotFound
	}
	return value, nil
}

// eachNode calls fn for registered nodes until it returns true.
func (c *NodeClient) eachNode(ctx context.Context, fn func(models.NodeInfo) bool) error {
	nodes, err := c.registry.Nodes(ctx)
	if err != nil {
		return err
	}
	for _, node := range nodes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if fn(node) {
			return nil
		}
	}
	return nil
}
