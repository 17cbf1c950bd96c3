package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/famledger/famledger/internal/ledger"
)

// AuditStore persists gateway validation decisions. Writes are best-effort
// from the gateway's perspective; a failed audit insert is logged upstream
// and does not fail the user's request.
type AuditStore struct {
	db *sql.DB
}

func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) RecordQueryDecision(ctx context.Context, entry ledger.QueryAudit) error {
	auditID := entry.AuditID
	if auditID == "" {
		auditID = uuid.NewString()
	}

	query := `
INSERT INTO query_audit (audit_id, user_id, household_id, role, question, candidate_sql, final_sql, outcome, failed_check, reason)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	if _, err := s.db.ExecContext(ctx, query,
		auditID,
		entry.UserID,
		entry.HouseholdID,
		string(entry.Role),
		entry.Question,
		entry.CandidateSQL,
		entry.FinalSQL,
		entry.Outcome,
		entry.FailedCheck,
		entry.Reason,
	); err != nil {
		return fmt.Errorf("insert query audit: %w", err)
	}
	return nil
}
