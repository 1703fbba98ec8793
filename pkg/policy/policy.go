// Package policy implements the owner side of a grant: one contract per key
// fragment negotiated with proxies, enactment of every contract and the
// treasure map published for the recipient.
package policy

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sourcegraph/conc/pool"

	"github.com/AdalynJs/nucypher/config"
	"github.com/AdalynJs/nucypher/logging"
	"github.com/AdalynJs/nucypher/pkg/bytestring"
	"github.com/AdalynJs/nucypher/pkg/hrac"
	"github.com/AdalynJs/nucypher/pkg/identity"
	"github.com/AdalynJs/nucypher/pkg/models"
	"github.com/AdalynJs/nucypher/pkg/network"
)

// ErrNoRecipient is returned by operations that need the recipient key
// before one was bound.
var ErrNoRecipient = errors.New("policy has no recipient bound")

const saltSize = 32

// Terms are the parameters every contract of a policy is offered under.
type Terms struct {
	Expiration time.Time
	Deposit    uint64
	// Threshold is published in the treasure map for the recipient.
	Threshold int
	// Verification is the public material recipients check cfrags against.
	Verification []byte
}

// NegotiationOptions tune fragment-level retries and fan-out.
type NegotiationOptions struct {
	MaxAttempts    uint
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxConcurrency int
}

// DefaultNegotiationOptions returns the options used when none are set.
func DefaultNegotiationOptions() NegotiationOptions {
	return NegotiationOptions{
		MaxAttempts:    5,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		MaxConcurrency: 8,
	}
}

// NegotiationOptionsFromConfig maps configuration onto options.
func NegotiationOptionsFromConfig(cfg config.NegotiationConfig) NegotiationOptions {
	opts := DefaultNegotiationOptions()
	if cfg.MaxAttempts > 0 {
		opts.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialBackoff > 0 {
		opts.InitialBackoff = cfg.InitialBackoff
	}
	if cfg.MaxBackoff > 0 {
		opts.MaxBackoff = cfg.MaxBackoff
	}
	if cfg.MaxConcurrency > 0 {
		opts.MaxConcurrency = cfg.MaxConcurrency
	}
	return opts
}

func (o NegotiationOptions) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.InitialBackoff
	b.MaxInterval = o.MaxBackoff
	return b
}

func (o NegotiationOptions) workers(n int) int {
	if o.MaxConcurrency > 0 && o.MaxConcurrency < n {
		return o.MaxConcurrency
	}
	return max(n, 1)
}

// Policy is one access grant: n fragments, one contract per fragment once
// negotiation starts, and the treasure map built during enactment.
type Policy struct {
	ID           []byte
	HRAC         []byte
	URI          []byte
	Owner        identity.Actor
	RecipientKey []byte
	Terms        Terms
	Options      NegotiationOptions

	fragments  [][]byte
	challenges [][]byte
	salt       []byte

	mu        sync.Mutex
	contracts map[int]*Contract
	claimed   map[string]int
	tmap      *TreasureMap
	enacted   bool

	log *logging.Logger
}

// CreateForGrant creates a policy over fragments. recipientKey may be nil
// and bound later with BindRecipient.
func CreateForGrant(owner identity.Actor, recipientKey []byte, fragments, challengeItems [][]byte, uri []byte, terms Terms) (*Policy, error) {
	if len(fragments) == 0 {
		return nil, fmt.Errorf("%w: policy needs at least one fragment", models.ErrInvalidFragment)
	}
	for i, f := range fragments {
		if len(f) == 0 {
			return nil, fmt.Errorf("%w: fragment %d is empty", models.ErrInvalidFragment, i)
		}
	}

	id, err := hrac.ComputePolicyID(owner.PublicKey(), uri)
	if err != nil {
		return nil, err
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	p := &Policy{
		ID:         id,
		URI:        append([]byte(nil), uri...),
		Owner:      owner,
		Terms:      terms,
		Options:    DefaultNegotiationOptions(),
		fragments:  fragments,
		challenges: challengeItems,
		salt:       salt,
		contracts:  make(map[int]*Contract),
		claimed:    make(map[string]int),
		log:        logging.Component("policy"),
	}
	if recipientKey != nil {
		if err := p.BindRecipient(recipientKey); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// BindRecipient fixes the recipient and derives the HRAC.
func (p *Policy) BindRecipient(recipientKey []byte) error {
	digest, err := hrac.ComputeHRAC(p.Owner.PublicKey(), recipientKey, p.URI)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.HRAC != nil {
		return fmt.Errorf("policy already bound to a recipient")
	}
	p.RecipientKey = append([]byte(nil), recipientKey...)
	p.HRAC = digest
	return nil
}

// N returns the number of fragments.
func (p *Policy) N() int { return len(p.fragments) }

// Contract returns the contract for fragment i, if negotiation started.
func (p *Policy) Contract(i int) (*Contract, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.contracts[i]
	return c, ok
}

// Unresolved lists fragment indices without an active or enacted contract.
func (p *Policy) Unresolved() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unresolvedLocked()
}

func (p *Policy) unresolvedLocked() []int {
	var out []int
	for i := range p.fragments {
		c, ok := p.contracts[i]
		if !ok || (c.state != ContractActive && c.state != ContractEnacted) {
			out = append(out, i)
		}
	}
	return out
}

// contractFor returns the open contract for fragment i, replacing one that
// ended.
func (p *Policy) contractFor(i int) *Contract {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.contracts[i]; ok && !c.state.IsTerminal() {
		return c
	}
	c := NewContract(p.Owner, p.Terms.Expiration, p.Terms.Deposit)
	c.hrac = p.HRAC
	c.policyID = p.ID
	c.uriHash = hrac.Keccak(p.URI)
	c.salt = p.salt
	p.contracts[i] = c
	return c
}

// claimFor reserves nodes for fragment i so no node holds two fragments of
// the same policy. A node stays claimed once tried.
func (p *Policy) claimFor(i int) func(models.NodeInfo) bool {
	return func(node models.NodeInfo) bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		if _, taken := p.claimed[node.ID()]; taken {
			return false
		}
		p.claimed[node.ID()] = i
		return true
	}
}

// DiscoverProxies negotiates a contract for every unresolved fragment
// concurrently. Fragments that run out of candidates stay unresolved and
// are returned; only collaborator failures and cancellation are errors.
func (p *Policy) DiscoverProxies(ctx context.Context, finder network.Finder) ([]int, error) {
	if p.HRAC == nil {
		return nil, ErrNoRecipient
	}

	pending := p.Unresolved()
	if len(pending) == 0 {
		return nil, nil
	}

	pl := pool.New().WithContext(ctx).WithMaxGoroutines(p.Options.workers(len(pending)))
	for _, idx := range pending {
		pl.Go(func(ctx context.Context) error {
			return p.negotiate(ctx, finder, idx)
		})
	}
	err := pl.Wait()
	return p.Unresolved(), err
}

func (p *Policy) negotiate(ctx context.Context, finder network.Finder, idx int) error {
	c := p.contractFor(idx)
	proposal, err := c.Propose()
	if err != nil {
		return err
	}
	spec := network.CandidateSpec{Proposal: proposal, Claim: p.claimFor(idx)}

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		res, err := finder.Find(ctx, spec)
		if err != nil {
			if models.IsRetryable(err) {
				return struct{}{}, err
			}
			return struct{}{}, backoff.Permanent(err)
		}
		if res.Status == network.FindInsufficient {
			recordNegotiation(ctx, "insufficient")
			return struct{}{}, models.ErrInsufficientCandidates
		}
		if err := c.Activate(p.fragments[idx], res.Node, res.Negotiation); err != nil {
			recordNegotiation(ctx, "unverified")
			p.log.Warn("fragment %d: discarding answer from %s: %v", idx, res.Node.ID(), err)
			return struct{}{}, err
		}
		recordNegotiation(ctx, "accepted")
		return struct{}{}, nil
	},
		backoff.WithBackOff(p.Options.backOff()),
		backoff.WithMaxTries(p.Options.MaxAttempts),
	)

	switch {
	case err == nil:
		node, _ := c.Proxy()
		p.log.Debug("fragment %d bound to %s", idx, node.ID())
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, models.ErrInsufficientCandidates),
		errors.Is(err, models.ErrUnverifiedSender),
		models.IsRetryable(err):
		p.log.Info("fragment %d left unresolved: %v", idx, err)
		return nil
	default:
		return fmt.Errorf("fragment %d: %w", idx, err)
	}
}

// Enact delivers every fragment to its proxy concurrently. Each delivery
// must come back with a valid acknowledgement; the first failure cancels
// the rest and no treasure map is kept.
func (p *Policy) Enact(ctx context.Context, sender network.Sender) (err error) {
	start := time.Now()
	defer func() { recordEnactment(ctx, time.Since(start), p.N(), err) }()

	p.mu.Lock()
	if unresolved := p.unresolvedLocked(); len(unresolved) > 0 {
		p.mu.Unlock()
		return &models.IncompletePolicyError{Unresolved: unresolved}
	}
	p.tmap = newTreasureMap(p.HRAC, p.Terms.Threshold, p.Terms.Verification)
	p.enacted = false
	contracts := make(map[int]*Contract, len(p.contracts))
	for i, c := range p.contracts {
		contracts[i] = c
	}
	p.mu.Unlock()

	challenge, err := p.challengePack()
	if err != nil {
		return err
	}

	pl := pool.New().WithContext(ctx).
		WithCancelOnError().
		WithFirstError().
		WithMaxGoroutines(p.Options.workers(len(contracts)))
	for i, c := range contracts {
		pl.Go(func(ctx context.Context) error {
			return p.enactOne(ctx, sender, i, c, challenge)
		})
	}

	if err = pl.Wait(); err != nil {
		p.mu.Lock()
		p.tmap = nil
		p.mu.Unlock()
		p.log.Error("enactment of policy %x failed: %v", p.ID[:8], err)
		return err
	}

	p.mu.Lock()
	p.enacted = true
	p.mu.Unlock()
	p.log.Info("policy %x enacted on %d proxies", p.ID[:8], len(contracts))
	return nil
}

func (p *Policy) enactOne(ctx context.Context, sender network.Sender, idx int, c *Contract, challenge []byte) error {
	node, _ := c.Proxy()
	fail := func(err error) error {
		return &models.EnactmentError{Index: idx, NodeID: node.InterfaceKey, Err: err}
	}

	c.SetChallenge(challenge)
	payload, err := c.BuildOwnerPayload()
	if err != nil {
		return fail(err)
	}
	resp, err := sender.Send(ctx, node, network.Message{Kind: network.KindEnact, Key: p.HRAC, Body: payload})
	if err != nil {
		return fail(err)
	}
	ack, err := OpenEnactmentAck(resp, node.PublicKey)
	if err != nil {
		return fail(err)
	}
	if err := c.MarkEnacted(ack); err != nil {
		return fail(err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tmap == nil {
		return fail(context.Canceled)
	}
	return p.tmap.add(MapEntry{Index: idx, NodeID: node.InterfaceKey})
}

// challengePack encrypts the challenge items for the recipient. Without
// items or a recipient the offer carries the empty placeholder.
func (p *Policy) challengePack() ([]byte, error) {
	if len(p.challenges) == 0 || p.RecipientKey == nil {
		return nil, nil
	}
	packed, err := bytestring.Pack(p.challenges)
	if err != nil {
		return nil, err
	}
	ciphertext, _, err := p.Owner.EncryptFor(p.RecipientKey, packed)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt challenge pack: %w", err)
	}
	return ciphertext, nil
}

// BuildTreasureMap returns the sealed map of an enacted policy.
func (p *Policy) BuildTreasureMap() (*TreasureMap, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enacted || p.tmap == nil {
		return nil, fmt.Errorf("%w: policy is not enacted", models.ErrIncompletePolicy)
	}
	if p.tmap.Len() != len(p.fragments) {
		return nil, fmt.Errorf("%w: treasure map has %d of %d entries", models.ErrIncompletePolicy, p.tmap.Len(), len(p.fragments))
	}
	if !p.tmap.Sealed() {
		p.tmap.Seal()
	}
	return p.tmap.clone(), nil
}

// Publish encrypts the treasure map for the recipient and upserts it under
// hash(ownerKey || HRAC).
func (p *Policy) Publish(ctx context.Context, publisher network.Publisher) (pub *Publication, err error) {
	defer func() { recordPublication(ctx, err) }()

	m, err := p.BuildTreasureMap()
	if err != nil {
		return nil, err
	}
	if p.RecipientKey == nil {
		return nil, ErrNoRecipient
	}

	pub, err = BuildPublication(p.Owner, p.RecipientKey, m)
	if err != nil {
		return nil, err
	}
	if err := publisher.Upsert(ctx, pub.Key, pub.Value); err != nil {
		return nil, fmt.Errorf("failed to publish treasure map: %w", err)
	}
	return pub, nil
}

// Abandon tells every proxy holding an accepted contract that the grant is
// withdrawn. Delivery is best effort and skipped when sender is nil; the
// contracts end as rejected either way. It returns how many proxies
// acknowledged.
func (p *Policy) Abandon(ctx context.Context, sender network.Sender) int {
	p.mu.Lock()
	indices := make([]int, 0, len(p.contracts))
	for i := range p.contracts {
		indices = append(indices, i)
	}
	p.tmap = nil
	p.enacted = false
	p.mu.Unlock()
	sort.Ints(indices)

	var revocation []byte
	if p.HRAC != nil && sender != nil {
		var err error
		if revocation, err = BuildRevocation(p.Owner, p.HRAC); err != nil {
			p.log.Warn("cannot build revocation: %v", err)
		}
	}

	notified := 0
	for _, i := range indices {
		c, _ := p.Contract(i)
		node, bound := c.Proxy()
		if bound && revocation != nil && (c.state == ContractActive || c.state == ContractEnacted) {
			if _, err := sender.Send(ctx, node, network.Message{Kind: network.KindRevoke, Key: p.HRAC, Body: revocation}); err != nil {
				p.log.Warn("fragment %d: abandonment notice to %s failed: %v", i, node.ID(), err)
			} else {
				notified++
			}
		}
		if !c.state.IsTerminal() {
			_ = c.Reject()
		}
	}
	recordAbandoned(ctx, notified)
	return notified
}
