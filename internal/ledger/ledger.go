package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("ledger: not found")

// Role is the authorization level attached to a caller. It is resolved by the
// auth layer before any gateway or repository code runs and is never derived
// from user-supplied text.
type Role string

const (
	RoleMember     Role = "member"
	RoleAdmin      Role = "admin"
	RoleSuperadmin Role = "superadmin"
)

func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleMember:
		return RoleMember, true
	case RoleAdmin:
		return RoleAdmin, true
	case RoleSuperadmin:
		return RoleSuperadmin, true
	default:
		return "", false
	}
}

// CallerContext is the trusted (user, household, role) triple for one request.
type CallerContext struct {
	UserID      int64
	HouseholdID int64
	Role        Role
}

type Household struct {
	HouseholdID int64
	Name        string
	CreatedAt   time.Time
}

type Member struct {
	UserID      int64
	HouseholdID int64
	Name        string
	Role        Role
	CreatedAt   time.Time
}

type IncomeRecord struct {
	IncomeID   int64
	UserID     int64
	Amount     decimal.Decimal
	Source     string
	ReceivedOn time.Time
	CreatedAt  time.Time
}

type AllocationRecord struct {
	AllocationID int64
	UserID       int64
	Amount       decimal.Decimal
	Category     string
	Month        string
	CreatedAt    time.Time
}

type ExpenseRecord struct {
	ExpenseID   int64
	UserID      int64
	Amount      decimal.Decimal
	Category    string
	Subcategory string
	Note        string
	SpentOn     time.Time
	CreatedAt   time.Time
}

type CreateIncomeInput struct {
	UserID     int64
	Amount     decimal.Decimal
	Source     string
	ReceivedOn time.Time
}

type CreateAllocationInput struct {
	UserID   int64
	Amount   decimal.Decimal
	Category string
	Month    string
}

type CreateExpenseInput struct {
	UserID      int64
	Amount      decimal.Decimal
	Category    string
	Subcategory string
	Note        string
	SpentOn     time.Time
}

// QueryAudit is one validation decision of the query gateway, kept for
// review. The audit row holds the full candidate SQL and failed check even
// though end users only ever see a generic message.
type QueryAudit struct {
	AuditID      string
	UserID       int64
	HouseholdID  int64
	Role         Role
	Question     string
	CandidateSQL string
	FinalSQL     string
	Outcome      string
	FailedCheck  string
	Reason       string
	CreatedAt    time.Time
}

// CategoryTotal is one row of a monthly category summary.
type CategoryTotal struct {
	Category string
	Total    decimal.Decimal
}

// Repository is the household bookkeeping store. Listing operations take the
// caller context so that row visibility matches the caller's role: members see
// their own rows, admins see their household, superadmins see everything.
type Repository interface {
	HealthCheck(ctx context.Context) error
	CreateIncome(ctx context.Context, in CreateIncomeInput) (IncomeRecord, error)
	ListIncomes(ctx context.Context, caller CallerContext, limit int) ([]IncomeRecord, error)
	DeleteIncome(ctx context.Context, caller CallerContext, incomeID int64) (bool, error)
	CreateAllocation(ctx context.Context, in CreateAllocationInput) (AllocationRecord, error)
	ListAllocations(ctx context.Context, caller CallerContext, limit int) ([]AllocationRecord, error)
	DeleteAllocation(ctx context.Context, caller CallerContext, allocationID int64) (bool, error)
	CreateExpense(ctx context.Context, in CreateExpenseInput) (ExpenseRecord, error)
	ListExpenses(ctx context.Context, caller CallerContext, limit int) ([]ExpenseRecord, error)
	DeleteExpense(ctx context.Context, caller CallerContext, expenseID int64) (bool, error)
	MonthlySummary(ctx context.Context, caller CallerContext, year int, month int) ([]CategoryTotal, error)
}
