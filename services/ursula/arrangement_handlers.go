package ursula

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AdalynJs/nucypher/pkg/hrac"
	"github.com/AdalynJs/nucypher/pkg/identity"
	"github.com/AdalynJs/nucypher/pkg/models"
	"github.com/AdalynJs/nucypher/pkg/network"
	"github.com/AdalynJs/nucypher/pkg/policy"
	"github.com/AdalynJs/nucypher/pkg/security/encryption/umbral"
)

const declinedBound = "policy already bound on this node"

// proposeArrangement answers an owner's arrangement proposal with a signed
// negotiation result. Accepted arrangements are stored without a fragment
// until the owner enacts the policy.
func (s *Server) proposeArrangement(c *gin.Context) {
	ctx := c.Request.Context()
	body, err := s.body(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	proposal, err := policy.OpenProposal(body)
	if err != nil {
		s.fail(c, err)
		return
	}
	id, err := uuid.Parse(proposal.ArrangementID)
	if err != nil {
		s.fail(c, fmt.Errorf("%w: arrangement id: %v", models.ErrMalformedPayload, err))
		return
	}

	result := network.NegotiationResult{
		ArrangementID:  proposal.ArrangementID,
		ProposalDigest: hrac.Keccak(body),
	}
	reason, err := s.consider(c, id, proposal)
	if err != nil {
		s.fail(c, err)
		return
	}
	result.Accepted = reason == ""
	result.Reason = reason
	recordArrangement(ctx, result.Accepted)

	action := models.AuditActionAccept
	if !result.Accepted {
		action = models.AuditActionReject
	}
	s.audit(c, models.EntityTypeArrangement, &id, action, proposal.OwnerKey, proposal.HRAC, map[string]interface{}{
		"deposit":    proposal.Deposit,
		"expiration": proposal.Expiration(),
		"reason":     reason,
	})

	sealed, err := network.SealNegotiation(s.node, result)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Data(http.StatusOK, network.ContentTypeBinary, sealed)
}

// consider stores the arrangement if the node takes it on and returns an
// empty reason, or returns why it declines.
func (s *Server) consider(c *gin.Context, id uuid.UUID, proposal *policy.ArrangementProposal) (string, error) {
	ctx := c.Request.Context()

	// A node holds one arrangement per HRAC. It cannot re-derive the HRAC
	// without the recipient key, so the first owner to claim one keeps it.
	existing, err := s.repo.Arrangement.GetByHRAC(ctx, proposal.HRAC)
	switch {
	case err == nil:
		if existing.ID == id && bytes.Equal(existing.OwnerKey, proposal.OwnerKey) {
			return "", nil
		}
		return declinedBound, nil
	case !errors.Is(err, models.ErrArrangementNotFound):
		return "", fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}

	now := s.now()
	decision, err := s.acceptance.Evaluate(ctx, proposal, now)
	if err != nil {
		return "", err
	}
	if !decision.Accept {
		return decision.Reason, nil
	}

	arrangement := &models.Arrangement{
		ID:         id,
		HRAC:       proposal.HRAC,
		PolicyID:   proposal.PolicyID,
		OwnerKey:   proposal.OwnerKey,
		Status:     models.ArrangementAccepted,
		Deposit:    int64(proposal.Deposit),
		Expiration: proposal.Expiration(),
		CreatedAt:  now.UTC(),
		UpdatedAt:  now.UTC(),
	}
	err = s.repo.Arrangement.Create(ctx, arrangement)
	switch {
	case errors.Is(err, models.ErrArrangementConflict):
		return declinedBound, nil
	case err != nil:
		return "", fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	s.log.Info("accepted arrangement %s for policy %x", id, proposal.HRAC[:8])
	return "", nil
}

// enactPolicy stores the key fragment of an accepted arrangement and
// answers with a signed acknowledgement of the exact offer received.
func (s *Server) enactPolicy(c *gin.Context) {
	ctx := c.Request.Context()
	hracDigest, err := digestParam(c, "hrac")
	if err != nil {
		s.fail(c, err)
		return
	}
	body, err := s.body(c)
	if err != nil {
		s.fail(c, err)
		return
	}

	ack, err := s.enact(c, hracDigest, body)
	recordEnactment(ctx, err)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Data(http.StatusOK, network.ContentTypeBinary, ack)
}

func (s *Server) enact(c *gin.Context, hracDigest, body []byte) ([]byte, error) {
	ctx := c.Request.Context()
	arrangement, err := s.repo.Arrangement.GetByHRAC(ctx, hracDigest)
	if err != nil {
		return nil, err
	}
	if arrangement.IsExpired(s.now()) {
		return nil, fmt.Errorf("%w: arrangement %s expired", models.ErrArrangementNotFound, arrangement.ID)
	}

	// Owners are resolved per offer; nothing learned here outlives the request.
	contract, err := policy.ContractFromProxyView(body, policy.ProxyContext{Proxy: s.node, Resolver: identity.NewRegistry()})
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(contract.OwnerKey(), arrangement.OwnerKey) {
		return nil, fmt.Errorf("%w: offer from a key other than the arrangement owner", models.ErrUnverifiedSender)
	}
	if _, err := umbral.KFragFromBytes(contract.Fragment()); err != nil {
		return nil, err
	}

	if arrangement.Status == models.ArrangementEnacted && !bytes.Equal(arrangement.KFrag, contract.Fragment()) {
		return nil, fmt.Errorf("%w: policy already enacted with another fragment", models.ErrArrangementConflict)
	}
	arrangement.KFrag = contract.Fragment()
	arrangement.Status = models.ArrangementEnacted
	arrangement.UpdatedAt = s.now().UTC()
	if err := s.repo.Arrangement.Update(ctx, arrangement); err != nil {
		return nil, err
	}

	s.audit(c, models.EntityTypeArrangement, &arrangement.ID, models.AuditActionEnact, arrangement.OwnerKey, hracDigest, map[string]interface{}{
		"challenge": len(contract.Challenge()) > 0,
	})
	s.log.Info("policy %x enacted under arrangement %s", hracDigest[:8], arrangement.ID)

	return policy.SealEnactmentAck(s.node, &policy.EnactmentAck{
		HRAC:          hracDigest,
		ArrangementID: arrangement.ID.String(),
		OfferDigest:   contract.OfferDigest(),
	})
}

// revokePolicy drops an arrangement on the owner's signed request.
func (s *Server) revokePolicy(c *gin.Context) {
	ctx := c.Request.Context()
	hracDigest, err := digestParam(c, "hrac")
	if err != nil {
		s.fail(c, err)
		return
	}
	body, err := s.body(c)
	if err != nil {
		s.fail(c, err)
		return
	}

	ownerKey, err := policy.OpenRevocation(body, hracDigest)
	if err != nil {
		s.fail(c, err)
		return
	}
	arrangement, err := s.repo.Arrangement.GetByHRAC(ctx, hracDigest)
	if err != nil {
		s.fail(c, err)
		return
	}
	if !bytes.Equal(ownerKey, arrangement.OwnerKey) {
		s.fail(c, fmt.Errorf("%w: revocation from a key other than the arrangement owner", models.ErrUnverifiedSender))
		return
	}
	if err := s.repo.Arrangement.Delete(ctx, arrangement.ID); err != nil {
		s.fail(c, err)
		return
	}

	s.audit(c, models.EntityTypeArrangement, &arrangement.ID, models.AuditActionRevoke, ownerKey, hracDigest, map[string]interface{}{
		"status": string(arrangement.Status),
	})
	s.log.Info("policy %x revoked", hracDigest[:8])
	c.Status(http.StatusNoContent)
}
