package ursula

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AdalynJs/nucypher/pkg/hrac"
	"github.com/AdalynJs/nucypher/pkg/identity"
	"github.com/AdalynJs/nucypher/pkg/models"
	"github.com/AdalynJs/nucypher/pkg/network"
	"github.com/AdalynJs/nucypher/pkg/policy"
	"github.com/AdalynJs/nucypher/pkg/security/encryption/umbral"
	"github.com/AdalynJs/nucypher/pkg/workorder"
)

var testURI = []byte("nkms://vault/reports")

func sealedProposal(t *testing.T, owner, recipient *identity.Character, id uuid.UUID, deposit uint64, expires time.Time) ([]byte, *policy.ArrangementProposal) {
	t.Helper()
	policyID, err := hrac.ComputePolicyID(owner.PublicKey(), testURI)
	require.NoError(t, err)
	digest, err := hrac.ComputeHRAC(owner.PublicKey(), recipient.PublicKey(), testURI)
	require.NoError(t, err)

	p := &policy.ArrangementProposal{
		ArrangementID: id.String(),
		PolicyID:      policyID,
		OwnerKey:      owner.PublicKey(),
		URIHash:       hrac.Keccak(testURI),
		HRAC:          digest,
		ExpiresAt:     expires.Unix(),
		Deposit:       deposit,
		Salt:          []byte("salt"),
	}
	payload, err := policy.SealProposal(owner, p)
	require.NoError(t, err)
	return payload, p
}

func negotiationFrom(t *testing.T, node *testNode, body []byte) network.NegotiationResult {
	t.Helper()
	neg, err := network.ParseNegotiation(body)
	require.NoError(t, err)
	assert.True(t, neg.VerifiedBy(node.char.PublicKey()), "answer sealed by the node")
	return neg.Result
}

func TestHealthAndNodeInfo(t *testing.T) {
	node := newTestNode(t, "ursula")

	w := node.do(http.MethodGet, network.HealthPath, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")

	w = node.do(http.MethodGet, network.NodePath, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var info models.NodeInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, node.char.InterfaceKey(), info.InterfaceKey)
	assert.Equal(t, node.char.PublicKey(), info.PublicKey)
	assert.Equal(t, node.http.URL, info.Endpoint)
}

func TestProposeArrangement(t *testing.T) {
	ctx := context.Background()
	node := newTestNode(t, "ursula")
	owner := identity.NewCharacter("alice")
	bob := identity.NewCharacter("bob")
	future := time.Now().Add(24 * time.Hour)
	id := uuid.New()

	propose := func(payload []byte) network.NegotiationResult {
		w := node.do(http.MethodPost, network.ArrangementsPath, payload)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		return negotiationFrom(t, node, w.Body.Bytes())
	}

	t.Run("Accepted", func(t *testing.T) {
		payload, p := sealedProposal(t, owner, bob, id, 10, future)
		result := propose(payload)
		assert.True(t, result.Accepted)
		assert.Equal(t, id.String(), result.ArrangementID)
		assert.Equal(t, hrac.Keccak(payload), result.ProposalDigest)

		stored, err := node.repo.Arrangement.GetByHRAC(ctx, p.HRAC)
		require.NoError(t, err)
		assert.Equal(t, id, stored.ID)
		assert.Equal(t, models.ArrangementAccepted, stored.Status)
		assert.Empty(t, stored.KFrag)
	})

	t.Run("Same arrangement proposed again", func(t *testing.T) {
		payload, _ := sealedProposal(t, owner, bob, id, 10, future)
		assert.True(t, propose(payload).Accepted)
	})

	t.Run("Policy already bound", func(t *testing.T) {
		payload, _ := sealedProposal(t, owner, bob, uuid.New(), 10, future)
		result := propose(payload)
		assert.False(t, result.Accepted)
		assert.Equal(t, declinedBound, result.Reason)
	})

	t.Run("Another owner cannot rebind", func(t *testing.T) {
		_, bound := sealedProposal(t, owner, bob, id, 10, future)
		mallory := identity.NewCharacter("mallory")
		payload, p := sealedProposal(t, mallory, bob, id, 10, future)
		p.HRAC = bound.HRAC
		payload, err := policy.SealProposal(mallory, p)
		require.NoError(t, err)

		result := propose(payload)
		assert.False(t, result.Accepted)
		assert.Equal(t, declinedBound, result.Reason)

		stored, err := node.repo.Arrangement.GetByHRAC(ctx, bound.HRAC)
		require.NoError(t, err)
		assert.Equal(t, owner.PublicKey(), stored.OwnerKey)
	})

	t.Run("Deposit below minimum", func(t *testing.T) {
		payload, p := sealedProposal(t, owner, identity.NewCharacter("carol"), uuid.New(), 1, future)
		result := propose(payload)
		assert.False(t, result.Accepted)
		assert.Contains(t, result.Reason, "declined by acceptance policy")

		_, err := node.repo.Arrangement.GetByHRAC(ctx, p.HRAC)
		assert.ErrorIs(t, err, models.ErrArrangementNotFound)
	})

	t.Run("Already expired", func(t *testing.T) {
		payload, _ := sealedProposal(t, owner, identity.NewCharacter("dave"), uuid.New(), 10, time.Now().Add(-time.Hour))
		result := propose(payload)
		assert.False(t, result.Accepted)
		assert.Equal(t, "arrangement already expired", result.Reason)
	})

	t.Run("Garbage", func(t *testing.T) {
		w := node.do(http.MethodPost, network.ArrangementsPath, []byte("short"))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Sealed by another key", func(t *testing.T) {
		_, p := sealedProposal(t, owner, identity.NewCharacter("erin"), uuid.New(), 10, future)
		payload, err := policy.SealProposal(identity.NewCharacter("mallory"), p)
		require.NoError(t, err)
		w := node.do(http.MethodPost, network.ArrangementsPath, payload)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("Decisions are audited", func(t *testing.T) {
		reject := models.AuditActionReject
		count, err := node.repo.Audit.Count(ctx, &models.ListAuditLogsRequest{Action: &reject})
		require.NoError(t, err)
		assert.Equal(t, 3, count)

		w := node.do(http.MethodGet, "/api/v1/audit-logs?action=accept", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var page struct {
			Total int `json:"total"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
		assert.Equal(t, 2, page.Total)
	})
}

// grant runs a full 2-of-3 grant from alice to bob against the cluster.
func grant(t *testing.T, c *cluster) (*identity.Character, *identity.Character, *policy.Grant) {
	t.Helper()
	owner := identity.NewCharacter("alice")
	bob := identity.NewCharacter("bob")
	m := policy.NewManager(owner, c.client, testNegotiationConfig())
	g, err := m.Grant(context.Background(), bob.PublicKey(), testURI, 2, 3)
	require.NoError(t, err)
	return owner, bob, g
}

func (c *cluster) node(interfaceKey []byte) *testNode {
	for _, n := range c.nodes {
		if hex.EncodeToString(n.char.InterfaceKey()) == hex.EncodeToString(interfaceKey) {
			return n
		}
	}
	return nil
}

func TestGrantAgainstNodes(t *testing.T) {
	ctx := context.Background()
	c := newCluster(t, 3)
	_, _, g := grant(t, c)

	enact := models.AuditActionEnact
	for _, n := range c.nodes {
		a, err := n.repo.Arrangement.GetByHRAC(ctx, g.Policy.HRAC)
		require.NoError(t, err, n.char.Name())
		assert.True(t, a.IsServable(time.Now()))

		count, err := n.repo.Audit.Count(ctx, &models.ListAuditLogsRequest{Action: &enact})
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	}

	value, err := c.client.Fetch(ctx, g.Publication.Key)
	require.NoError(t, err)
	assert.Equal(t, g.Publication.Value, value)
}

func workOrderFor(t *testing.T, recipient *identity.Character, hracDigest []byte, capsule *umbral.Capsule, proxy *testNode) (*workorder.WorkOrder, []byte) {
	t.Helper()
	order, err := workorder.ConstructByRecipient(hracDigest, [][]byte{capsule.Bytes()}, proxy.char.InterfaceKey(), recipient)
	require.NoError(t, err)
	payload, err := order.SerializeForWire()
	require.NoError(t, err)
	require.NoError(t, order.MarkSent())
	return order, payload
}

func TestServeWorkOrder(t *testing.T) {
	c := newCluster(t, 3)
	owner, bob, g := grant(t, c)
	capsule, _, err := umbral.Encrypt(owner.SecretKey().PublicKey(), []byte("quarterly numbers"))
	require.NoError(t, err)
	verifier, err := umbral.NewVerifier(g.TreasureMap.Verification)
	require.NoError(t, err)
	path := network.WorkOrdersPath + "/" + hex.EncodeToString(g.Policy.HRAC)

	t.Run("Every proxy answers with a verifiable fragment", func(t *testing.T) {
		for _, entry := range g.TreasureMap.Entries {
			proxy := c.node(entry.NodeID)
			require.NotNil(t, proxy)
			order, payload := workOrderFor(t, bob, g.Policy.HRAC, capsule, proxy)

			w := proxy.do(http.MethodPost, path, payload)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			require.NoError(t, order.ReceiveResponse(proxy.char.PublicKey(), w.Body.Bytes()))
			require.NoError(t, order.VerifyCompletion(verifier))
			assert.Equal(t, workorder.StateVerified, order.State())
		}
	})

	t.Run("Order addressed to another proxy", func(t *testing.T) {
		_, payload := workOrderFor(t, bob, g.Policy.HRAC, capsule, c.nodes[1])
		w := c.nodes[0].do(http.MethodPost, path, payload)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("Unknown policy", func(t *testing.T) {
		other := hrac.Keccak([]byte("other policy"))
		_, payload := workOrderFor(t, bob, other, capsule, c.nodes[0])
		w := c.nodes[0].do(http.MethodPost, network.WorkOrdersPath+"/"+hex.EncodeToString(other), payload)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Malformed", func(t *testing.T) {
		w := c.nodes[0].do(http.MethodPost, path, []byte("nope"))
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = c.nodes[0].do(http.MethodPost, network.WorkOrdersPath+"/zz", []byte("nope"))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRevokePolicy(t *testing.T) {
	ctx := context.Background()
	c := newCluster(t, 3)
	owner, _, g := grant(t, c)
	node := c.nodes[0]
	path := network.KFragsPath + "/" + hex.EncodeToString(g.Policy.HRAC)

	forged, err := policy.BuildRevocation(identity.NewCharacter("mallory"), g.Policy.HRAC)
	require.NoError(t, err)
	w := node.do(http.MethodDelete, path, forged)
	assert.Equal(t, http.StatusForbidden, w.Code)

	revocation, err := policy.BuildRevocation(owner, g.Policy.HRAC)
	require.NoError(t, err)
	w = node.do(http.MethodDelete, path, revocation)
	assert.Equal(t, http.StatusNoContent, w.Code)

	_, err = node.repo.Arrangement.GetByHRAC(ctx, g.Policy.HRAC)
	assert.ErrorIs(t, err, models.ErrArrangementNotFound)

	w = node.do(http.MethodDelete, path, revocation)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEnactUnknownPolicy(t *testing.T) {
	node := newTestNode(t, "ursula")
	w := node.do(http.MethodPost, network.KFragsPath+"/"+hex.EncodeToString(hrac.Keccak([]byte("x"))), []byte("offer"))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func testPublication(t *testing.T, owner, recipient *identity.Character) *policy.Publication {
	t.Helper()
	digest, err := hrac.ComputeHRAC(owner.PublicKey(), recipient.PublicKey(), testURI)
	require.NoError(t, err)
	m := &policy.TreasureMap{HRAC: digest, Threshold: 1}
	m.Seal()
	pub, err := policy.BuildPublication(owner, recipient.PublicKey(), m)
	require.NoError(t, err)
	return pub
}

func TestTreasureMaps(t *testing.T) {
	node := newTestNode(t, "ursula")
	pub := testPublication(t, identity.NewCharacter("alice"), identity.NewCharacter("bob"))
	path := network.TreasureMapsPath + "/" + hex.EncodeToString(pub.Key)

	w := node.do(http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = node.do(http.MethodPut, path, pub.Value)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = node.do(http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, pub.Value, w.Body.Bytes())

	t.Run("Stored under a foreign key", func(t *testing.T) {
		other := network.TreasureMapsPath + "/" + hex.EncodeToString(hrac.Keccak([]byte("elsewhere")))
		w := node.do(http.MethodPut, other, pub.Value)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("Truncated record", func(t *testing.T) {
		w := node.do(http.MethodPut, path, pub.Value[:10])
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSweeper(t *testing.T) {
	ctx := context.Background()
	node := newTestNode(t, "ursula")
	now := time.Now()

	for i, exp := range []time.Duration{-time.Hour, -time.Minute, time.Hour} {
		require.NoError(t, node.repo.Arrangement.Create(ctx, &models.Arrangement{
			ID:         uuid.New(),
			HRAC:       hrac.Keccak([]byte(fmt.Sprintf("policy-%d", i))),
			OwnerKey:   []byte("owner"),
			Status:     models.ArrangementEnacted,
			Expiration: now.Add(exp),
		}))
	}

	sweeper := NewSweeper(node.repo, 0)
	assert.Equal(t, DefaultSweepInterval, sweeper.interval)
	sweeper.now = func() time.Time { return now }

	removed, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	left, err := node.repo.Arrangement.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, left)

	expire := models.AuditActionExpire
	logged, err := node.repo.Audit.Count(ctx, &models.ListAuditLogsRequest{Action: &expire})
	require.NoError(t, err)
	assert.Equal(t, 2, logged)

	runCtx, cancel := context.WithCancel(ctx)
	cancel()
	sweeper.Run(runCtx)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.NewMalformedPayloadError("signature", 64, 3), http.StatusBadRequest},
		{fmt.Errorf("x: %w", models.ErrInvalidFragment), http.StatusBadRequest},
		{models.ErrUnverifiedSender, http.StatusForbidden},
		{models.ErrUnauthenticatedOrder, http.StatusForbidden},
		{models.ErrArrangementNotFound, http.StatusNotFound},
		{models.ErrTreasureMapNotFound, http.StatusNotFound},
		{models.ErrArrangementConflict, http.StatusConflict},
		{models.ErrStorageUnavailable, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
