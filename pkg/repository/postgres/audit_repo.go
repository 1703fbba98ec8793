package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/AdalynJs/nucypher/pkg/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const auditColumns = `id, entity_type, entity_id, action, actor, hrac, details, timestamp, remote_addr`

// AuditRepository implements repository.AuditRepository for PostgreSQL
type AuditRepository struct {
	db sqlx.ExtContext
}

// NewAuditRepository creates a new PostgreSQL audit repository
func NewAuditRepository(db sqlx.ExtContext) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create creates a new audit log entry
func (r *AuditRepository) Create(ctx context.Context, auditLog *models.AuditLog) error {
	details, err := json.Marshal(auditLog.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal details: %w", err)
	}

	query := `
		INSERT INTO audit_logs (id, entity_type, entity_id, action, actor, hrac, details, timestamp, remote_addr)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = r.db.ExecContext(ctx, query,
		auditLog.ID,
		auditLog.EntityType,
		auditLog.EntityID,
		auditLog.Action,
		auditLog.Actor,
		auditLog.HRAC,
		details,
		auditLog.Timestamp,
		auditLog.RemoteAddr,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}

// GetByID retrieves an audit log entry by ID
func (r *AuditRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditLog, error) {
	query := fmt.Sprintf(`SELECT %s FROM audit_logs WHERE id = $1`, auditColumns)
	var row auditLogRow
	err := sqlx.GetContext(ctx, r.db, &row, query, id)
	if err == sql.ErrNoRows {
		return nil, models.ErrAuditLogNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit log: %w", err)
	}
	return row.toModel()
}

// filter appends the WHERE clause for req to query
func filter(query string, req *models.ListAuditLogsRequest) (string, []interface{}) {
	args := []interface{}{}
	argCount := 1

	if req.EntityType != nil {
		query += fmt.Sprintf(" AND entity_type = $%d", argCount)
		args = append(args, *req.EntityType)
		argCount++
	}
	if req.Action != nil {
		query += fmt.Sprintf(" AND action = $%d", argCount)
		args = append(args, *req.Action)
		argCount++
	}
	if req.HRAC != "" {
		query += fmt.Sprintf(" AND hrac = $%d", argCount)
		args = append(args, req.HRAC)
		argCount++
	}
	if req.Since != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argCount)
		args = append(args, *req.Since)
	}
	return query, args
}

// List retrieves audit logs with optional filtering
func (r *AuditRepository) List(ctx context.Context, req *models.ListAuditLogsRequest) ([]*models.AuditLog, error) {
	query, args := filter(fmt.Sprintf(`SELECT %s FROM audit_logs WHERE 1=1`, auditColumns), req)
	argCount := len(args) + 1

	// Add ordering
	query += " ORDER BY timestamp DESC"

	// Add pagination
	if req.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, req.Limit)
		argCount++
	}
	if req.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, req.Offset)
	}

	var rows []auditLogRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	return auditLogRowsToModels(rows)
}

// Count returns the total count of audit logs matching the criteria
func (r *AuditRepository) Count(ctx context.Context, req *models.ListAuditLogsRequest) (int, error) {
	query, args := filter("SELECT COUNT(*) FROM audit_logs WHERE 1=1", req)

	var count int
	if err := sqlx.GetContext(ctx, r.db, &count, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count audit logs: %w", err)
	}
	return count, nil
}

// auditLogRow is a helper struct for scanning JSONB and nullable columns
type auditLogRow struct {
	ID         uuid.UUID          `db:"id"`
	EntityType models.EntityType  `db:"entity_type"`
	EntityID   *uuid.UUID         `db:"entity_id"`
	Action     models.AuditAction `db:"action"`
	Actor      string             `db:"actor"`
	HRAC       sql.NullString     `db:"hrac"`
	Details    []byte             `db:"details"`
	Timestamp  sql.NullTime       `db:"timestamp"`
	RemoteAddr sql.NullString     `db:"remote_addr"`
}

func (r *auditLogRow) toModel() (*models.AuditLog, error) {
	var details map[string]interface{}
	if len(r.Details) > 0 {
		if err := json.Unmarshal(r.Details, &details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal details: %w", err)
		}
	}

	return &models.AuditLog{
		ID:         r.ID,
		EntityType: r.EntityType,
		EntityID:   r.EntityID,
		Action:     r.Action,
		Actor:      r.Actor,
		HRAC:       r.HRAC.String,
		Details:    details,
		Timestamp:  r.Timestamp.Time,
		RemoteAddr: r.RemoteAddr.String,
	}, nil
}

func auditLogRowsToModels(rows []auditLogRow) ([]*models.AuditLog, error) {
	auditLogs := make([]*models.AuditLog, 0, len(rows))
	for _, row := range rows {
		auditLog, err := row.toModel()
		if err != nil {
			return nil, err
		}
		auditLogs = append(auditLogs, auditLog)
	}
	return auditLogs, nil
}
