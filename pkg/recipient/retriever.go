// Package recipient retrieves data shared under a policy: it finds the
// treasure map the owner published, redeems work orders at the proxies it
// names and recombines the re-encrypted fragments.
package recipient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/AdalynJs/nucypher/logging"
	"github.com/AdalynJs/nucypher/pkg/hrac"
	"github.com/AdalynJs/nucypher/pkg/identity"
	"github.com/AdalynJs/nucypher/pkg/models"
	"github.com/AdalynJs/nucypher/pkg/network"
	"github.com/AdalynJs/nucypher/pkg/policy"
	"github.com/AdalynJs/nucypher/pkg/security/encryption/umbral"
	"github.com/AdalynJs/nucypher/pkg/workorder"
)

// ErrInsufficientCFrags is returned when fewer proxies than the policy
// threshold answered with verified fragments.
var ErrInsufficientCFrags = errors.New("not enough verified re-encryptions")

// Recipient is the identity data is granted to.
type Recipient interface {
	identity.Actor
	SecretKey() *umbral.SecretKey
}

// NodeLocator resolves a node's interface key to its advertised info.
// discovery.NodeRegistry satisfies it.
type NodeLocator interface {
	Node(ctx context.Context, interfaceKey []byte) (models.NodeInfo, error)
}

// Retriever redeems policies granted to one recipient.
type Retriever struct {
	recipient   Recipient
	maps        network.Fetcher
	sender      network.Sender
	nodes       NodeLocator
	concurrency int
	log         *logging.Logger
}

// NewRetriever creates a retriever. concurrency bounds the number of work
// orders in flight; zero means one per proxy.
func NewRetriever(recipient Recipient, maps network.Fetcher, sender network.Sender, nodes NodeLocator, concurrency int) *Retriever {
	return &Retriever{
		recipient:   recipient,
		maps:        maps,
		sender:      sender,
		nodes:       nodes,
		concurrency: concurrency,
		log:         logging.Component("recipient"),
	}
}

// TreasureMap fetches, validates and decrypts the map ownerKey published
// for uri. It also returns the policy HRAC.
func (r *Retriever) TreasureMap(ctx context.Context, ownerKey, uri []byte) (*policy.TreasureMap, []byte, error) {
	hracDigest, err := hrac.ComputeHRAC(ownerKey, r.recipient.PublicKey(), uri)
	if err != nil {
		return nil, nil, err
	}
	key, err := hrac.TreasureMapKey(ownerKey, hracDigest)
	if err != nil {
		return nil, nil, err
	}

	value, err := r.maps.Fetch(ctx, key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch treasure map: %w", err)
	}
	if err := policy.ValidateTreasureMapRecord(key, value); err != nil {
		return nil, nil, err
	}
	tm, err := policy.OpenTreasureMap(r.recipient, ownerKey, value)
	if err != nil {
		return nil, nil, err
	}
	if !bytes.Equal(tm.HRAC, hracDigest) {
		return nil, nil, fmt.Errorf("%w: treasure map is for another policy", models.ErrUnverifiedSender)
	}
	return tm, hracDigest, nil
}

// Retrieve decrypts ciphertext, encrypted under ownerKey and shared with
// this recipient for uri.
func (r *Retriever) Retrieve(ctx context.Context, ownerKey, uri []byte, capsule *umbral.Capsule, ciphertext []byte) ([]byte, error) {
	tm, hracDigest, err := r.TreasureMap(ctx, ownerKey, uri)
	if err != nil {
		return nil, err
	}
	verifier, err := umbral.NewVerifier(tm.Verification)
	if err != nil {
		return nil, fmt.Errorf("failed to load verification material: %w", err)
	}
	if tm.Threshold < 1 || tm.Len() < tm.Threshold {
		return nil, fmt.Errorf("%w: map names %d proxies for threshold %d", ErrInsufficientCFrags, tm.Len(), tm.Threshold)
	}

	cfrags, err := r.collect(ctx, tm, hracDigest, capsule, verifier)
	if err != nil {
		return nil, err
	}
	return umbral.DecryptReEncrypted(r.recipient.SecretKey(), capsule, cfrags, tm.Threshold, ciphertext)
}

// collect issues work orders in parallel until threshold fragments verify.
func (r *Retriever) collect(parent context.Context, tm *policy.TreasureMap, hracDigest []byte, capsule *umbral.Capsule, verifier *umbral.Verifier) ([]*umbral.CFrag, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var (
		mu     sync.Mutex
		cfrags []*umbral.CFrag
	)
	workers := r.concurrency
	if workers <= 0 {
		workers = tm.Len()
	}
	p := pool.New().WithContext(ctx).WithMaxGoroutines(workers)
	capsuleBytes := capsule.Bytes()

	for _, entry := range tm.Entries {
		p.Go(func(ctx context.Context) error {
			mu.Lock()
			done := len(cfrags) >= tm.Threshold
			mu.Unlock()
			if done {
				return nil
			}

			cf, err := r.redeem(ctx, entry, hracDigest, capsuleBytes, verifier)
			recordWorkOrder(ctx, err)
			if err != nil {
				r.log.Debug("work order for fragment %d failed: %v", entry.Index, err)
				return fmt.Errorf("fragment %d: %w", entry.Index, err)
			}

			mu.Lock()
			defer mu.Unlock()
			cfrags = append(cfrags, cf)
			if len(cfrags) >= tm.Threshold {
				cancel()
			}
			return nil
		})
	}
	err := p.Wait()

	if len(cfrags) >= tm.Threshold {
		return cfrags, nil
	}
	if err := parent.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %d of %d: %v", ErrInsufficientCFrags, len(cfrags), tm.Threshold, err)
}

// redeem runs one work order against the proxy named by entry.
func (r *Retriever) redeem(ctx context.Context, entry policy.MapEntry, hracDigest, capsule []byte, verifier *umbral.Verifier) (*umbral.CFrag, error) {
	node, err := r.nodes.Node(ctx, entry.NodeID)
	if err != nil {
		return nil, models.NewPeerError("locate", entry.NodeID, err)
	}
	advertised, err := hrac.InterfaceKey(node.PublicKey)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(advertised, entry.NodeID) {
		return nil, fmt.Errorf("%w: node key does not match treasure map entry", models.ErrUnverifiedSender)
	}

	order, err := workorder.ConstructByRecipient(hracDigest, [][]byte{capsule}, entry.NodeID, r.recipient)
	if err != nil {
		return nil, err
	}
	payload, err := order.SerializeForWire()
	if err != nil {
		return nil, err
	}
	if err := order.MarkSent(); err != nil {
		return nil, err
	}

	resp, err := r.sender.Send(ctx, node, network.Message{Kind: network.KindWorkOrder, Key: hracDigest, Body: payload})
	if err != nil {
		_ = order.Reject()
		return nil, err
	}
	if err := order.ReceiveResponse(node.PublicKey, resp); err != nil {
		_ = order.Reject()
		return nil, err
	}
	if err := order.VerifyCompletion(verifier); err != nil {
		return nil, err
	}
	return umbral.CFragFromBytes(order.CFrags[0])
}
