package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/AdalynJs/nucypher/config"
	"github.com/AdalynJs/nucypher/logging"
	"github.com/AdalynJs/nucypher/pkg/hrac"
	"github.com/AdalynJs/nucypher/pkg/identity"
	"github.com/AdalynJs/nucypher/pkg/models"
	"github.com/AdalynJs/nucypher/pkg/network"
	"github.com/AdalynJs/nucypher/pkg/security/encryption/umbral"
)

const (
	defaultExpiration = 30 * 24 * time.Hour
	abandonTimeout    = 30 * time.Second
)

// Owner is a character that can also split its key into fragments.
type Owner interface {
	identity.Actor
	SecretKey() *umbral.SecretKey
}

// Grant is the outcome of a successful grant: an enacted policy and its
// published treasure map.
type Grant struct {
	Policy      *Policy
	TreasureMap *TreasureMap
	Publication *Publication
}

// Manager runs grants for one owner.
type Manager struct {
	owner  Owner
	client network.Client
	cfg    config.NegotiationConfig
	log    *logging.Logger
	now    func() time.Time
}

// NewManager creates a manager.
func NewManager(owner Owner, client network.Client, cfg config.NegotiationConfig) *Manager {
	return &Manager{
		owner:  owner,
		client: client,
		cfg:    cfg,
		log:    logging.Component("policy.manager"),
		now:    time.Now,
	}
}

// CreatePolicy splits the owner key into shares fragments re-encrypting to
// recipientKey, any threshold of which suffice.
func (m *Manager) CreatePolicy(recipientKey, uri []byte, threshold, shares int) (*Policy, error) {
	recipient, err := umbral.PublicKeyFromBytes(recipientKey)
	if err != nil {
		return nil, err
	}
	kfrags, verification, err := umbral.GenerateKFrags(m.owner.SecretKey(), recipient, threshold, shares)
	if err != nil {
		return nil, fmt.Errorf("failed to generate fragments: %w", err)
	}

	fragments := lo.Map(kfrags, func(k *umbral.KFrag, _ int) []byte { return k.Bytes() })
	challenges := lo.Map(fragments, func(f []byte, _ int) []byte { return hrac.Keccak(f) })

	expiration := m.cfg.DefaultExpiration
	if expiration <= 0 {
		expiration = defaultExpiration
	}

	p, err := CreateForGrant(m.owner, recipientKey, fragments, challenges, uri, Terms{
		Expiration:   m.now().Add(expiration).UTC(),
		Deposit:      m.cfg.DefaultDeposit,
		Threshold:    threshold,
		Verification: verification.Bytes(),
	})
	if err != nil {
		return nil, err
	}
	p.Options = NegotiationOptionsFromConfig(m.cfg)
	return p, nil
}

// Grant creates a policy, negotiates every fragment, enacts and publishes.
// On any failure accepted contracts are abandoned and no map is published.
func (m *Manager) Grant(ctx context.Context, recipientKey, uri []byte, threshold, shares int) (*Grant, error) {
	p, err := m.CreatePolicy(recipientKey, uri, threshold, shares)
	if err != nil {
		return nil, err
	}

	rounds := max(m.cfg.Rounds, 1)
	var unresolved []int
	for round := 1; round <= rounds; round++ {
		unresolved, err = p.DiscoverProxies(ctx, m.client)
		if err != nil {
			m.abandon(ctx, p)
			return nil, err
		}
		if len(unresolved) == 0 {
			break
		}
		m.log.Info("round %d/%d: fragments %v unresolved", round, rounds, unresolved)
	}
	if len(unresolved) > 0 {
		m.abandon(ctx, p)
		return nil, &models.IncompletePolicyError{Unresolved: unresolved}
	}

	if err := p.Enact(ctx, m.client); err != nil {
		m.abandon(ctx, p)
		return nil, err
	}

	tmap, err := p.BuildTreasureMap()
	if err != nil {
		m.abandon(ctx, p)
		return nil, err
	}
	pub, err := p.Publish(ctx, m.client)
	if err != nil {
		m.abandon(ctx, p)
		return nil, err
	}

	m.log.Info("granted %d-of-%d policy %x", threshold, shares, p.ID[:8])
	return &Grant{Policy: p, TreasureMap: tmap, Publication: pub}, nil
}

func (m *Manager) abandon(ctx context.Context, p *Policy) {
	var sender network.Sender
	if m.cfg.NotifyAbandoned {
		sender = m.client
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abandonTimeout)
	defer cancel()
	if n := p.Abandon(ctx, sender); n > 0 {
		m.log.Info("notified %d proxies of abandoned policy %x", n, p.ID[:8])
	}
}
