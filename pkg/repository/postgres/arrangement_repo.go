package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/AdalynJs/nucypher/pkg/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

const arrangementColumns = `id, hrac, policy_id, owner_key, kfrag, status, deposit, expiration, created_at, updated_at`

// ArrangementRepository implements repository.ArrangementRepository for PostgreSQL
type ArrangementRepository struct {
	db sqlx.ExtContext
}

// NewArrangementRepository creates a new PostgreSQL arrangement repository
func NewArrangementRepository(db sqlx.ExtContext) *ArrangementRepository {
	return &ArrangementRepository{db: db}
}

// Create stores a newly accepted arrangement
func (r *ArrangementRepository) Create(ctx context.Context, arrangement *models.Arrangement) error {
	query := `
		INSERT INTO arrangements (id, hrac, policy_id, owner_key, kfrag, status, deposit, expiration, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.ExecContext(ctx, query,
		arrangement.ID,
		arrangement.HRAC,
		arrangement.PolicyID,
		arrangement.OwnerKey,
		arrangement.KFrag,
		arrangement.Status,
		arrangement.Deposit,
		arrangement.Expiration,
		arrangement.CreatedAt,
		arrangement.UpdatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return models.ErrArrangementConflict
	}
	if err != nil {
		return fmt.Errorf("failed to create arrangement: %w", err)
	}
	return nil
}

// GetByID retrieves an arrangement by ID
func (r *ArrangementRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Arrangement, error) {
	return r.getOne(ctx, "id", id)
}

// GetByHRAC retrieves the arrangement bound to a policy HRAC
func (r *ArrangementRepository) GetByHRAC(ctx context.Context, hrac []byte) (*models.Arrangement, error) {
	return r.getOne(ctx, "hrac", hrac)
}

func (r *ArrangementRepository) getOne(ctx context.Context, column string, value interface{}) (*models.Arrangement, error) {
	var arrangement models.Arrangement
	query := fmt.Sprintf(`SELECT %s FROM arrangements WHERE %s = $1`, arrangementColumns, column)
	err := sqlx.GetContext(ctx, r.db, &arrangement, query, value)
	if err == sql.ErrNoRows {
		return nil, models.ErrArrangementNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get arrangement: %w", err)
	}
	return &arrangement, nil
}

// Update persists status and fragment changes
func (r *ArrangementRepository) Update(ctx context.Context, arrangement *models.Arrangement) error {
	query := `
		UPDATE arrangements
		SET kfrag = $1, status = $2, updated_at = $3
		WHERE id = $4
	`
	result, err := r.db.ExecContext(ctx, query,
		arrangement.KFrag,
		arrangement.Status,
		arrangement.UpdatedAt,
		arrangement.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update arrangement: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return models.ErrArrangementNotFound
	}
	return nil
}

// Delete removes an arrangement by ID
func (r *ArrangementRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM arrangements WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete arrangement: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return models.ErrArrangementNotFound
	}
	return nil
}

// ListExpired retrieves arrangements whose expiration is before now
func (r *ArrangementRepository) ListExpired(ctx context.Context, now time.Time) ([]*models.Arrangement, error) {
	arrangements := make([]*models.Arrangement, 0)
	query := fmt.Sprintf(`SELECT %s FROM arrangements WHERE expiration < $1 ORDER BY expiration ASC`, arrangementColumns)
	if err := sqlx.SelectContext(ctx, r.db, &arrangements, query, now); err != nil {
		return nil, fmt.Errorf("failed to list expired arrangements: %w", err)
	}
	return arrangements, nil
}

// Count returns the number of arrangements with the given status
func (r *ArrangementRepository) Count(ctx context.Context, status models.ArrangementStatus) (int, error) {
	query := "SELECT COUNT(*) FROM arrangements"
	args := []interface{}{}
	if status != "" {
		query += " WHERE status = $1"
		args = append(args, status)
	}

	var count int
	if err := sqlx.GetContext(ctx, r.db, &count, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count arrangements: %w", err)
	}
	return count, nil
}
