package ursula

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AdalynJs/nucypher/pkg/models"
	"github.com/AdalynJs/nucypher/pkg/network"
	"github.com/AdalynJs/nucypher/pkg/policy"
)

// storeTreasureMap keeps a treasure map pushed by its owner once the record
// checks out against the key it is stored under.
func (s *Server) storeTreasureMap(c *gin.Context) {
	ctx := c.Request.Context()
	key, err := digestParam(c, "key")
	if err != nil {
		s.fail(c, err)
		return
	}
	value, err := s.body(c)
	if err != nil {
		s.fail(c, err)
		return
	}

	err = policy.ValidateTreasureMapRecord(key, value)
	if err == nil {
		err = s.maps.Put(ctx, key, value)
	}
	recordTreasureMap(ctx, err)
	if err != nil {
		s.fail(c, err)
		return
	}

	rec, _ := policy.ParseTreasureMapRecord(value)
	s.audit(c, models.EntityTypeTreasureMap, nil, models.AuditActionStore, rec.OwnerKey, rec.HRAC, nil)
	c.Status(http.StatusAccepted)
}

// getTreasureMap returns a stored treasure map record as published.
func (s *Server) getTreasureMap(c *gin.Context) {
	key, err := digestParam(c, "key")
	if err != nil {
		s.fail(c, err)
		return
	}
	value, err := s.maps.Get(c.Request.Context(), key)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Data(http.StatusOK, network.ContentTypeBinary, value)
}
