package ursula

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/AdalynJs/nucypher/logging"
	"github.com/AdalynJs/nucypher/pkg/models"
	"github.com/AdalynJs/nucypher/pkg/repository"
)

// DefaultSweepInterval is used when no sweep interval is configured.
const DefaultSweepInterval = time.Minute

// Sweeper removes arrangements whose expiration has passed.
type Sweeper struct {
	repo     *repository.Repository
	interval time.Duration
	log      *logging.Logger
	now      func() time.Time
}

// NewSweeper creates a sweeper running every interval.
func NewSweeper(repo *repository.Repository, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		repo:     repo,
		interval: interval,
		log:      logging.Component("sweeper"),
		now:      time.Now,
	}
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.log.Warn("expiration sweep failed: %v", err)
			}
		}
	}
}

// SweepOnce deletes every expired arrangement and returns how many went.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.now()
	expired, err := s.repo.Arrangement.ListExpired(ctx, now)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, a := range expired {
		if err := s.repo.Arrangement.Delete(ctx, a.ID); err != nil {
			s.log.Warn("failed to drop expired arrangement %s: %v", a.ID, err)
			continue
		}
		removed++

		entry := (&models.CreateAuditLogRequest{
			EntityType: models.EntityTypeArrangement,
			EntityID:   &a.ID,
			Action:     models.AuditActionExpire,
			Actor:      "sweeper",
			HRAC:       hex.EncodeToString(a.HRAC),
			Details:    map[string]interface{}{"expiration": a.Expiration, "status": string(a.Status)},
		}).ToAuditLog()
		if err := s.repo.Audit.Create(ctx, entry); err != nil {
			s.log.Error("failed to create audit log: %v", err)
		}
	}

	recordExpired(ctx, removed)
	if removed > 0 {
		s.log.Info("dropped %d expired arrangements", removed)
	}
	return removed, nil
}
