package postgres

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/famledger/famledger/internal/ledger"
)

func TestRecordQueryDecisionGeneratesAuditID(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewAuditStore(db)

	mock.ExpectExec(regexp.QuoteMeta(`
INSERT INTO query_audit (audit_id, user_id, household_id, role, question, candidate_sql, final_sql, outcome, failed_check, reason)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`)).
		WithArgs(sqlmock.AnyArg(), int64(7), int64(3), "member", "food spend", "SELECT 1", "SELECT 1 LIMIT 200", "rewritten", "", "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.RecordQueryDecision(context.Background(), ledger.QueryAudit{
		UserID:       7,
		HouseholdID:  3,
		Role:         ledger.RoleMember,
		Question:     "food spend",
		CandidateSQL: "SELECT 1",
		FinalSQL:     "SELECT 1 LIMIT 200",
		Outcome:      "rewritten",
	})
	if err != nil {
		t.Fatalf("RecordQueryDecision() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestRecordQueryDecisionKeepsRejectionDetail(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewAuditStore(db)

	mock.ExpectExec(regexp.QuoteMeta(`
INSERT INTO query_audit (audit_id, user_id, household_id, role, question, candidate_sql, final_sql, outcome, failed_check, reason)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`)).
		WithArgs("11111111-2222-3333-4444-555555555555", int64(7), int64(3), "member",
			"drop it", "DROP TABLE expenses", "", "rejected", "statement_kind", `forbidden keyword "DROP"`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.RecordQueryDecision(context.Background(), ledger.QueryAudit{
		AuditID:      "11111111-2222-3333-4444-555555555555",
		UserID:       7,
		HouseholdID:  3,
		Role:         ledger.RoleMember,
		Question:     "drop it",
		CandidateSQL: "DROP TABLE expenses",
		Outcome:      "rejected",
		FailedCheck:  "statement_kind",
		Reason:       `forbidden keyword "DROP"`,
	})
	if err != nil {
		t.Fatalf("RecordQueryDecision() error = %v", err)
	}
	assertSQLMock(t, mock)
}
