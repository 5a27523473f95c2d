package warehouse

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/spendguard/spendguard/internal/domain"
)

// AuditLogger records execution batches for the audit trail. The
// simulator never mutates advertising accounts, but every run it
// performs is still recorded.
type AuditLogger interface {
	LogExecution(ctx context.Context, tenant, sessionID string, results []domain.ExecutionResult, dryRun bool) error
}

// PostgresAudit appends execution audit records over the warehouse's
// existing connection.
type PostgresAudit struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPostgresAudit wires the audit repository onto an open connection.
func NewPostgresAudit(db *sqlx.DB, timeout time.Duration) *PostgresAudit {
	return &PostgresAudit{db: db, timeout: timeout}
}

// LogExecution implements AuditLogger.
func (a *PostgresAudit) LogExecution(ctx context.Context, tenant, sessionID string, results []domain.ExecutionResult, dryRun bool) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	payload, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO execution_audit (tenant, session_id, dry_run, item_count, results, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW() AT TIME ZONE 'UTC')`,
		tenant, sessionID, dryRun, len(results), payload)
	if err != nil {
		return fmt.Errorf("insert execution audit: %w", err)
	}
	return nil
}

// NopAudit discards audit records; used offline and in tests.
type NopAudit struct{}

// LogExecution implements AuditLogger.
func (NopAudit) LogExecution(ctx context.Context, tenant, sessionID string, results []domain.ExecutionResult, dryRun bool) error {
	return nil
}
