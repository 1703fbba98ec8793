// Package ursula is the proxy node: it negotiates arrangements with policy
// owners, stores the key fragments they enact, answers recipients' work
// orders with re-encrypted capsule fragments and keeps published treasure
// maps.
package ursula

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AdalynJs/nucypher/config"
	"github.com/AdalynJs/nucypher/logging"
	"github.com/AdalynJs/nucypher/middleware"
	"github.com/AdalynJs/nucypher/pkg/discovery"
	"github.com/AdalynJs/nucypher/pkg/hrac"
	"github.com/AdalynJs/nucypher/pkg/identity"
	"github.com/AdalynJs/nucypher/pkg/models"
	"github.com/AdalynJs/nucypher/pkg/network"
	"github.com/AdalynJs/nucypher/pkg/repository"
)

// maxBodySize caps request bodies accepted by the node.
const maxBodySize = 4 << 20

// Identity is the node's own character.
type Identity interface {
	identity.Actor
	InterfaceKey() []byte
}

// Server represents the proxy node API server
type Server struct {
	router     *gin.Engine
	node       Identity
	repo       *repository.Repository
	maps       discovery.MapStore
	acceptance *AcceptancePolicy
	limiter    *middleware.RateLimiter
	admin      *middleware.AdminAuth
	endpoint   string
	log        *logging.Logger
	now        func() time.Time
}

// NewServer creates a new node server instance. Treasure maps pushed to the
// node are validated before they reach maps.
func NewServer(node Identity, repo *repository.Repository, maps discovery.MapStore, acceptance *AcceptancePolicy, cfg *config.Config) *Server {
	s := &Server{
		router:     gin.Default(),
		node:       node,
		repo:       repo,
		maps:       maps,
		acceptance: acceptance,
		limiter:    middleware.NewRateLimiter(cfg.Security.RateLimiting),
		admin:      middleware.NewAdminAuth(cfg.Security.Admin),
		endpoint:   cfg.Node.Endpoint,
		log:        logging.Component("ursula"),
		now:        time.Now,
	}

	s.setupRoutes(cfg.Security.CORS)
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes(corsConfig config.CORSConfig) {
	if corsConfig.Enabled {
		s.router.Use(cors.New(cors.Config{
			AllowOrigins:     corsConfig.AllowedOrigins,
			AllowMethods:     corsConfig.AllowedMethods,
			AllowHeaders:     corsConfig.AllowedHeaders,
			ExposeHeaders:    []string{"Content-Length", "Content-Type"},
			AllowCredentials: corsConfig.AllowCredentials,
			MaxAge:           corsConfig.MaxAge,
		}))
	}

	s.router.GET(network.HealthPath, s.healthCheck)

	v1 := s.router.Group("/api/v1")
	v1.Use(s.limiter.Handler())
	{
		v1.GET("/node", s.getNode)
		v1.POST("/arrangements", s.proposeArrangement)

		kfrags := v1.Group("/kfrags")
		{
			kfrags.POST("/:hrac", s.enactPolicy)
			kfrags.DELETE("/:hrac", s.revokePolicy)
		}

		v1.POST("/work-orders/:hrac", s.serveWorkOrder)

		maps := v1.Group("/treasure-maps")
		{
			maps.PUT("/:key", s.storeTreasureMap)
			maps.GET("/:key", s.getTreasureMap)
		}

		v1.GET("/audit-logs", s.admin.Handler(), s.listAuditLogs)
	}
}

// Handler exposes the router, for tests and custom listeners.
func (s *Server) Handler() http.Handler { return s.router }

// Limiter returns the API rate limiter.
func (s *Server) Limiter() *middleware.RateLimiter { return s.limiter }

// NodeInfo describes this node as it announces itself.
func (s *Server) NodeInfo() models.NodeInfo {
	return models.NodeInfo{
		InterfaceKey: s.node.InterfaceKey(),
		PublicKey:    s.node.PublicKey(),
		Endpoint:     s.endpoint,
		LastSeen:     s.now().UTC(),
	}
}

// healthCheck returns the server health status
func (s *Server) healthCheck(c *gin.Context) {
	if err := s.repo.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"message": "database connection failed",
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "ursula",
		"node":    hex.EncodeToString(s.node.InterfaceKey()),
	})
}

func (s *Server) getNode(c *gin.Context) {
	c.JSON(http.StatusOK, s.NodeInfo())
}

// statusFor maps protocol errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrMalformedPayload),
		errors.Is(err, models.ErrInvalidPublicKey),
		errors.Is(err, models.ErrInvalidFragment):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrUnverifiedSender),
		errors.Is(err, models.ErrUnauthenticatedOrder):
		return http.StatusForbidden
	case errors.Is(err, models.ErrArrangementNotFound),
		errors.Is(err, models.ErrTreasureMapNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrArrangementConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as a JSON error with its mapped status.
func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error("%s %s: %v", c.Request.Method, c.FullPath(), err)
	} else {
		s.log.Debug("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// body reads the raw request payload.
func (s *Server) body(c *gin.Context) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
	data, err := c.GetRawData()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrMalformedPayload, err)
	}
	return data, nil
}

// digestParam decodes a hex digest path parameter.
func digestParam(c *gin.Context, name string) ([]byte, error) {
	raw, err := hex.DecodeString(c.Param(name))
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not hex", models.ErrMalformedPayload, name)
	}
	if err := hrac.ValidateDigest(name, raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (s *Server) audit(c *gin.Context, entityType models.EntityType, entityID *uuid.UUID, action models.AuditAction, actor, hracDigest []byte, details map[string]interface{}) {
	req := &models.CreateAuditLogRequest{
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Actor:      hex.EncodeToString(actor),
		HRAC:       hex.EncodeToString(hracDigest),
		Details:    details,
		RemoteAddr: c.ClientIP(),
	}

	if err := s.repo.Audit.Create(context.WithoutCancel(c.Request.Context()), req.ToAuditLog()); err != nil {
		s.log.Error("failed to create audit log: %v", err)
	}
}

// listAuditLogs lists the node's audit trail with optional filtering
func (s *Server) listAuditLogs(c *gin.Context) {
	var req models.ListAuditLogsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Limit <= 0 {
		req.Limit = 50
	}
	if req.Limit > 100 {
		req.Limit = 100
	}

	logs, err := s.repo.Audit.List(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to list audit logs: %v", err)})
		return
	}
	count, err := s.repo.Audit.Count(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to count audit logs: %v", err)})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"audit_logs": logs,
		"total":      count,
		"limit":      req.Limit,
		"offset":     req.Offset,
	})
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// within gracefulStop.
func (s *Server) Start(ctx context.Context, addr string, gracefulStop time.Duration) error {
	srv := &http.Server{Addr: addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		s.log.Startup("Starting ursula node API on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), gracefulStop)
	defer cancel()
	s.log.Info("Shutting down ursula node API")
	return srv.Shutdown(shutdownCtx)
}
