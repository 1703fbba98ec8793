package ursula

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AdalynJs/nucypher/pkg/models"
	"github.com/AdalynJs/nucypher/pkg/network"
	"github.com/AdalynJs/nucypher/pkg/security/encryption/umbral"
	"github.com/AdalynJs/nucypher/pkg/workorder"
)

// serveWorkOrder re-encrypts the capsules of a recipient's work order with
// the fragment held for the policy.
func (s *Server) serveWorkOrder(c *gin.Context) {
	ctx := c.Request.Context()
	start := time.Now()

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

	order, resp, err := s.reencrypt(c, hracDigest, body)
	capsules := 0
	if order != nil {
		capsules = len(order.Capsules)
	}
	recordWorkOrder(ctx, time.Since(start), capsules, err)
	if err != nil {
		if order != nil {
			s.audit(c, models.EntityTypeWorkOrder, nil, models.AuditActionDenied, order.RecipientKey, hracDigest, map[string]interface{}{
				"error": err.Error(),
			})
		}
		s.fail(c, err)
		return
	}

	s.audit(c, models.EntityTypeWorkOrder, nil, models.AuditActionServe, order.RecipientKey, hracDigest, map[string]interface{}{
		"capsules": capsules,
	})
	c.Data(http.StatusOK, network.ContentTypeBinary, resp)
}

func (s *Server) reencrypt(c *gin.Context, hracDigest, body []byte) (*workorder.WorkOrder, []byte, error) {
	order, err := workorder.ParseFromWire(hracDigest, body)
	if err != nil {
		return nil, nil, err
	}
	if err := order.AuthorizeFor(s.node); err != nil {
		return order, nil, err
	}

	arrangement, err := s.repo.Arrangement.GetByHRAC(c.Request.Context(), hracDigest)
	if err != nil {
		return order, nil, err
	}
	if !arrangement.IsServable(s.now()) {
		return order, nil, fmt.Errorf("%w: arrangement %s is %s", models.ErrArrangementNotFound, arrangement.ID, servability(arrangement, s.now()))
	}
	kfrag, err := umbral.KFragFromBytes(arrangement.KFrag)
	if err != nil {
		return order, nil, fmt.Errorf("stored fragment for %s: %w", hex.EncodeToString(hracDigest[:8]), err)
	}

	cfrags := make([][]byte, len(order.Capsules))
	for i, raw := range order.Capsules {
		capsule, err := umbral.CapsuleFromBytes(raw)
		if err != nil {
			return order, nil, fmt.Errorf("%w: capsule %d: %v", models.ErrMalformedPayload, i, err)
		}
		cfrag, err := umbral.ReEncrypt(kfrag, capsule)
		if err != nil {
			return order, nil, fmt.Errorf("failed to re-encrypt capsule %d: %w", i, err)
		}
		cfrags[i] = cfrag.Bytes()
	}

	resp, err := workorder.BuildResponse(s.node, order, cfrags)
	if err != nil {
		return order, nil, err
	}
	return order, resp, nil
}

func servability(a *models.Arrangement, now time.Time) string {
	if a.IsExpired(now) {
		return "expired"
	}
	return "not enacted"
}
