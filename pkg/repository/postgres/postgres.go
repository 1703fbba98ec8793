package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/AdalynJs/nucypher/pkg/repository"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Schema creates the tables a node persists its arrangements and audit trail in
const Schema = `
	CREATE TABLE IF NOT EXISTS arrangements (
		id UUID PRIMARY KEY,
		hrac BYTEA NOT NULL UNIQUE,
		policy_id BYTEA NOT NULL,
		owner_key BYTEA NOT NULL,
		kfrag BYTEA,
		status VARCHAR(16) NOT NULL,
		deposit BIGINT NOT NULL DEFAULT 0,
		expiration TIMESTAMP WITH TIME ZONE NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_arrangements_expiration ON arrangements(expiration);
	CREATE INDEX IF NOT EXISTS idx_arrangements_status ON arrangements(status);

	CREATE TABLE IF NOT EXISTS audit_logs (
		id UUID PRIMARY KEY,
		entity_type VARCHAR(32) NOT NULL,
		entity_id UUID,
		action VARCHAR(32) NOT NULL,
		actor VARCHAR(128) NOT NULL,
		hrac VARCHAR(64),
		details JSONB,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		remote_addr VARCHAR(64)
	);

	CREATE INDEX IF NOT EXISTS idx_audit_logs_hrac ON audit_logs(hrac);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp);
`

// PostgresDB implements the Database interface for PostgreSQL
type PostgresDB struct {
	db *sqlx.DB
}

// NewPostgresDB creates a new PostgreSQL database instance
func NewPostgresDB() *PostgresDB {
	return &PostgresDB{}
}

// Connect establishes a connection to the PostgreSQL database
func (p *PostgresDB) Connect(ctx context.Context, connString string) error {
	db, err := sqlx.ConnectContext(ctx, "postgres", connString)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	p.db = db
	return nil
}

// Migrate applies Schema
func (p *PostgresDB) Migrate(ctx context.Context) error {
	if p.db == nil {
		return fmt.Errorf("database not connected")
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := p.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (p *PostgresDB) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// Ping checks if the database connection is alive
func (p *PostgresDB) Ping(ctx context.Context) error {
	if p.db == nil {
		return fmt.Errorf("database not connected")
	}
	return p.db.PingContext(ctx)
}

// BeginTx starts a new transaction
func (p *PostgresDB) BeginTx(ctx context.Context) (repository.Transaction, error) {
	tx, err := p.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &PostgresTx{
		tx:          tx,
		arrangement: NewArrangementRepository(tx),
		audit:       NewAuditRepository(tx),
	}, nil
}

// DB returns the underlying sqlx.DB instance
func (p *PostgresDB) DB() *sqlx.DB {
	return p.db
}

// PostgresTx implements the Transaction interface for PostgreSQL
type PostgresTx struct {
	tx          *sqlx.Tx
	arrangement *ArrangementRepository
	audit       *AuditRepository
}

// Commit commits the transaction
func (t *PostgresTx) Commit() error {
	return t.tx.Commit()
}

// Rollback rolls back the transaction
func (t *PostgresTx) Rollback() error {
	return t.tx.Rollback()
}

// ArrangementRepository returns the arrangement repository for this transaction
func (t *PostgresTx) ArrangementRepository() repository.ArrangementRepository {
	return t.arrangement
}

// AuditRepository returns the audit repository for this transaction
func (t *PostgresTx) AuditRepository() repository.AuditRepository {
	return t.audit
}

// NewRepository connects, applies the schema and returns a repository
// backed by PostgreSQL
func NewRepository(ctx context.Context, connString string) (*repository.Repository, error) {
	db := NewPostgresDB()

	if err := db.Connect(ctx, connString); err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	repo := repository.NewRepository(db)
	repo.Arrangement = NewArrangementRepository(db.DB())
	repo.Audit = NewAuditRepository(db.DB())

	return repo, nil
}
