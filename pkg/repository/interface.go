package repository

import (
	"context"
	"time"

	"github.com/AdalynJs/nucypher/pkg/models"

	"github.com/google/uuid"
)

// Database is the interface that all database implementations must satisfy
// This allows us to swap between the in-memory store and PostgreSQL
type Database interface {
	// Connection management
	Connect(ctx context.Context, connString string) error
	Close() error
	Ping(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (Transaction, error)
}

// Transaction represents a database transaction
type Transaction interface {
	Commit() error
	Rollback() error
	ArrangementRepository() ArrangementRepository
	AuditRepository() AuditRepository
}

// ArrangementRepository defines operations on the arrangements a node holds
type ArrangementRepository interface {
	// Create stores a newly accepted arrangement. A second arrangement for
	// the same HRAC fails with models.ErrArrangementConflict.
	Create(ctx context.Context, arrangement *models.Arrangement) error

	// GetByID retrieves an arrangement by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.Arrangement, error)

	// GetByHRAC retrieves the arrangement bound to a policy HRAC
	GetByHRAC(ctx context.Context, hrac []byte) (*models.Arrangement, error)

	// Update persists status and fragment changes
	Update(ctx context.Context, arrangement *models.Arrangement) error

	// Delete removes an arrangement by ID
	Delete(ctx context.Context, id uuid.UUID) error

	// ListExpired retrieves arrangements whose expiration is before now
	ListExpired(ctx context.Context, now time.Time) ([]*models.Arrangement, error)

	// Count returns the number of arrangements with the given status, or all
	// arrangements when status is empty
	Count(ctx context.Context, status models.ArrangementStatus) (int, error)
}

// AuditRepository defines operations for audit log data access
type AuditRepository interface {
	// Create creates a new audit log entry
	Create(ctx context.Context, auditLog *models.AuditLog) error

	// GetByID retrieves an audit log entry by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.AuditLog, error)

	// List retrieves audit logs with optional filtering, newest first
	List(ctx context.Context, req *models.ListAuditLogsRequest) ([]*models.AuditLog, error)

	// Count returns the total count of audit logs matching the criteria
	Count(ctx context.Context, req *models.ListAuditLogsRequest) (int, error)
}

// Repository provides access to all repository interfaces
type Repository struct {
	Arrangement ArrangementRepository
	Audit       AuditRepository
	db          Database
}

// NewRepository creates a new repository with the given database implementation
func NewRepository(db Database) *Repository {
	return &Repository{
		db: db,
	}
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping checks the database connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// BeginTx starts a transaction on the underlying database
func (r *Repository) BeginTx(ctx context.Context) (Transaction, error) {
	return r.db.BeginTx(ctx)
}
