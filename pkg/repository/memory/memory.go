// Package memory is an in-process repository for nodes that run without a
// database. Transactions are not isolated: writes through a transaction are
// visible immediately and Rollback is a no-op.
package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AdalynJs/nucypher/pkg/models"
	"github.com/AdalynJs/nucypher/pkg/repository"
)

// DB implements repository.Database in memory
type DB struct {
	arrangements *ArrangementRepository
	audit        *AuditRepository
}

// NewDB creates an empty in-memory database
func NewDB() *DB {
	return &DB{
		arrangements: &ArrangementRepository{byID: make(map[uuid.UUID]*models.Arrangement)},
		audit:        &AuditRepository{byID: make(map[uuid.UUID]*models.AuditLog)},
	}
}

// Connect is a no-op
func (d *DB) Connect(ctx context.Context, connString string) error { return nil }

// Close is a no-op
func (d *DB) Close() error { return nil }

// Ping always succeeds
func (d *DB) Ping(ctx context.Context) error { return nil }

// BeginTx returns a transaction over the shared maps
func (d *DB) BeginTx(ctx context.Context) (repository.Transaction, error) {
	return &tx{db: d}, nil
}

type tx struct{ db *DB }

func (t *tx) Commit() error   { return nil }
func (t *tx) Rollback() error { return nil }

func (t *tx) ArrangementRepository() repository.ArrangementRepository { return t.db.arrangements }
func (t *tx) AuditRepository() repository.AuditRepository             { return t.db.audit }

// NewRepository returns a repository backed by a fresh in-memory database
func NewRepository() *repository.Repository {
	db := NewDB()
	repo := repository.NewRepository(db)
	repo.Arrangement = db.arrangements
	repo.Audit = db.audit
	return repo
}

// ArrangementRepository implements repository.ArrangementRepository in memory
type ArrangementRepository struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]*models.Arrangement
}

func copyArrangement(a *models.Arrangement) *models.Arrangement {
	c := *a
	c.KFrag = append([]byte(nil), a.KFrag...)
	return &c
}

// Create stores a newly accepted arrangement
func (r *ArrangementRepository) Create(ctx context.Context, arrangement *models.Arrangement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.byID {
		if a.ID == arrangement.ID || bytes.Equal(a.HRAC, arrangement.HRAC) {
			return models.ErrArrangementConflict
		}
	}
	r.byID[arrangement.ID] = copyArrangement(arrangement)
	return nil
}

// GetByID retrieves an arrangement by ID
func (r *ArrangementRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Arrangement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[id]
	if !ok {
		return nil, models.ErrArrangementNotFound
	}
	return copyArrangement(a), nil
}

// GetByHRAC retrieves the arrangement bound to a policy HRAC
func (r *ArrangementRepository) GetByHRAC(ctx context.Context, hrac []byte) (*models.Arrangement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.byID {
		if bytes.Equal(a.HRAC, hrac) {
			return copyArrangement(a), nil
		}
	}
	return nil, models.ErrArrangementNotFound
}

// Update persists status and fragment changes
func (r *ArrangementRepository) Update(ctx context.Context, arrangement *models.Arrangement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[arrangement.ID]
	if !ok {
		return models.ErrArrangementNotFound
	}
	a.KFrag = append([]byte(nil), arrangement.KFrag...)
	a.Status = arrangement.Status
	a.UpdatedAt = arrangement.UpdatedAt
	return nil
}

// Delete removes an arrangement by ID
func (r *ArrangementRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return models.ErrArrangementNotFound
	}
	delete(r.byID, id)
	return nil
}

// ListExpired retrieves arrangements whose expiration is before now
func (r *ArrangementRepository) ListExpired(ctx context.Context, now time.Time) ([]*models.Arrangement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Arrangement, 0)
	for _, a := range r.byID {
		if a.Expiration.Before(now) {
			out = append(out, copyArrangement(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Expiration.Before(out[j].Expiration) })
	return out, nil
}

// Count returns the number of arrangements with the given status
func (r *ArrangementRepository) Count(ctx context.Context, status models.ArrangementStatus) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if status == "" {
		return len(r.byID), nil
	}
	n := 0
	for _, a := range r.byID {
		if a.Status == status {
			n++
		}
	}
	return n, nil
}

// AuditRepository implements repository.AuditRepository in memory
type AuditRepository struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]*models.AuditLog
}

// Create creates a new audit log entry
func (r *AuditRepository) Create(ctx context.Context, auditLog *models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *auditLog
	r.byID[auditLog.ID] = &c
	return nil
}

// GetByID retrieves an audit log entry by ID
func (r *AuditRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.byID[id]
	if !ok {
		return nil, models.ErrAuditLogNotFound
	}
	c := *l
	return &c, nil
}

func matches(l *models.AuditLog, req *models.ListAuditLogsRequest) bool {
	switch {
	case req.EntityType != nil && l.EntityType != *req.EntityType:
		return false
	case req.Action != nil && l.Action != *req.Action:
		return false
	case req.HRAC != "" && l.HRAC != req.HRAC:
		return false
	case req.Since != nil && l.Timestamp.Before(*req.Since):
		return false
	}
	return true
}

// List retrieves audit logs with optional filtering, newest first
func (r *AuditRepository) List(ctx context.Context, req *models.ListAuditLogsRequest) ([]*models.AuditLog, error) {
	r.mu.RLock()
	out := make([]*models.AuditLog, 0)
	for _, l := range r.byID {
		if matches(l, req) {
			c := *l
			out = append(out, &c)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if req.Offset > 0 {
		if req.Offset >= len(out) {
			return []*models.AuditLog{}, nil
		}
		out = out[req.Offset:]
	}
	if req.Limit > 0 && req.Limit < len(out) {
		out = out[:req.Limit]
	}
	return out, nil
}

// Count returns the total count of audit logs matching the criteria
func (r *AuditRepository) Count(ctx context.Context, req *models.ListAuditLogsRequest) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, l := range r.byID {
		if matches(l, req) {
			n++
		}
	}
	return n, nil
}
