package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/famledger/famledger/internal/ledger"
)

const defaultListLimit = 100

// Repository implements ledger.Repository over Postgres. All statements are
// parameterized; the caller context decides row visibility for reads and
// deletes.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping ledger db: %w", err)
	}
	return nil
}

func (r *Repository) CreateIncome(ctx context.Context, in ledger.CreateIncomeInput) (ledger.IncomeRecord, error) {
	query := `
INSERT INTO incomes (user_id, amount, source, received_on)
VALUES ($1, $2, $3, $4)
RETURNING income_id, created_at`

	record := ledger.IncomeRecord{
		UserID:     in.UserID,
		Amount:     in.Amount,
		Source:     in.Source,
		ReceivedOn: in.ReceivedOn,
	}
	if err := r.db.QueryRowContext(ctx, query, in.UserID, in.Amount, in.Source, in.ReceivedOn).
		Scan(&record.IncomeID, &record.CreatedAt); err != nil {
		return ledger.IncomeRecord{}, fmt.Errorf("create income: %w", err)
	}
	return record, nil
}

func (r *Repository) ListIncomes(ctx context.Context, caller ledger.CallerContext, limit int) ([]ledger.IncomeRecord, error) {
	clause, args := scopeClause(caller, 1)
	query := `
SELECT income_id, user_id, amount, source, received_on, created_at
FROM incomes` + clause + `
ORDER BY received_on DESC, income_id DESC
LIMIT $` + strconv.Itoa(len(args)+1)
	args = append(args, normalizeLimit(limit))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incomes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]ledger.IncomeRecord, 0)
	for rows.Next() {
		var record ledger.IncomeRecord
		if err := rows.Scan(&record.IncomeID, &record.UserID, &record.Amount, &record.Source, &record.ReceivedOn, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan income row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate income rows: %w", err)
	}
	return records, nil
}

func (r *Repository) DeleteIncome(ctx context.Context, caller ledger.CallerContext, incomeID int64) (bool, error) {
	return r.deleteScoped(ctx, caller, "incomes", "income_id", incomeID)
}

func (r *Repository) CreateAllocation(ctx context.Context, in ledger.CreateAllocationInput) (ledger.AllocationRecord, error) {
	query := `
INSERT INTO allocations (user_id, amount, category, month)
VALUES ($1, $2, $3, $4)
RETURNING allocation_id, created_at`

	record := ledger.AllocationRecord{
		UserID:   in.UserID,
		Amount:   in.Amount,
		Category: in.Category,
		Month:    in.Month,
	}
	if err := r.db.QueryRowContext(ctx, query, in.UserID, in.Amount, in.Category, in.Month).
		Scan(&record.AllocationID, &record.CreatedAt); err != nil {
		return ledger.AllocationRecord{}, fmt.Errorf("create allocation: %w", err)
	}
	return record, nil
}

func (r *Repository) ListAllocations(ctx context.Context, caller ledger.CallerContext, limit int) ([]ledger.AllocationRecord, error) {
	clause, args := scopeClause(caller, 1)
	query := `
SELECT allocation_id, user_id, amount, category, month, created_at
FROM allocations` + clause + `
ORDER BY month DESC, allocation_id DESC
LIMIT $` + strconv.Itoa(len(args)+1)
	args = append(args, normalizeLimit(limit))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]ledger.AllocationRecord, 0)
	for rows.Next() {
		var record ledger.AllocationRecord
		if err := rows.Scan(&record.AllocationID, &record.UserID, &record.Amount, &record.Category, &record.Month, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan allocation row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate allocation rows: %w", err)
	}
	return records, nil
}

func (r *Repository) DeleteAllocation(ctx context.Context, caller ledger.CallerContext, allocationID int64) (bool, error) {
	return r.deleteScoped(ctx, caller, "allocations", "allocation_id", allocationID)
}

func (r *Repository) CreateExpense(ctx context.Context, in ledger.CreateExpenseInput) (ledger.ExpenseRecord, error) {
	query := `
INSERT INTO expenses (user_id, amount, category, subcategory, note, spent_on)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING expense_id, created_at`

	record := ledger.ExpenseRecord{
		UserID:      in.UserID,
		Amount:      in.Amount,
		Category:    in.Category,
		Subcategory: in.Subcategory,
		Note:        in.Note,
		SpentOn:     in.SpentOn,
	}
	if err := r.db.QueryRowContext(ctx, query, in.UserID, in.Amount, in.Category, in.Subcategory, in.Note, in.SpentOn).
		Scan(&record.ExpenseID, &record.CreatedAt); err != nil {
		return ledger.ExpenseRecord{}, fmt.Errorf("create expense: %w", err)
	}
	return record, nil
}

func (r *Repository) ListExpenses(ctx context.Context, caller ledger.CallerContext, limit int) ([]ledger.ExpenseRecord, error) {
	clause, args := scopeClause(caller, 1)
	query := `
SELECT expense_id, user_id, amount, category, subcategory, note, spent_on, created_at
FROM expenses` + clause + `
ORDER BY spent_on DESC, expense_id DESC
LIMIT $` + strconv.Itoa(len(args)+1)
	args = append(args, normalizeLimit(limit))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]ledger.ExpenseRecord, 0)
	for rows.Next() {
		var record ledger.ExpenseRecord
		if err := rows.Scan(&record.ExpenseID, &record.UserID, &record.Amount, &record.Category, &record.Subcategory, &record.Note, &record.SpentOn, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan expense row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expense rows: %w", err)
	}
	return records, nil
}

func (r *Repository) DeleteExpense(ctx context.Context, caller ledger.CallerContext, expenseID int64) (bool, error) {
	return r.deleteScoped(ctx, caller, "expenses", "expense_id", expenseID)
}

// MonthlySummary aggregates expenses by category for one calendar month
// within the caller's scope.
func (r *Repository) MonthlySummary(ctx context.Context, caller ledger.CallerContext, year int, month int) ([]ledger.CategoryTotal, error) {
	if month < 1 || month > 12 {
		return nil, fmt.Errorf("invalid month %d", month)
	}

	clause, args := scopeClause(caller, 3)
	query := `
SELECT category, SUM(amount) AS total
FROM expenses
WHERE EXTRACT(YEAR FROM spent_on) = $1 AND EXTRACT(MONTH FROM spent_on) = $2` +
		andScope(clause) + `
GROUP BY category
ORDER BY total DESC`
	queryArgs := append([]any{year, month}, args...)

	rows, err := r.db.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("monthly summary: %w", err)
	}
	defer func() { _ = rows.Close() }()

	totals := make([]ledger.CategoryTotal, 0)
	for rows.Next() {
		var total ledger.CategoryTotal
		if err := rows.Scan(&total.Category, &total.Total); err != nil {
			return nil, fmt.Errorf("scan summary row: %w", err)
		}
		totals = append(totals, total)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summary rows: %w", err)
	}
	return totals, nil
}

func (r *Repository) deleteScoped(ctx context.Context, caller ledger.CallerContext, table, idColumn string, id int64) (bool, error) {
	clause, args := scopeClause(caller, 2)
	query := `DELETE FROM ` + table + ` WHERE ` + idColumn + ` = $1` + andScope(clause)
	queryArgs := append([]any{id}, args...)

	result, err := r.db.ExecContext(ctx, query, queryArgs...)
	if err != nil {
		return false, fmt.Errorf("delete from %s: %w", table, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete from %s: rows affected: %w", table, err)
	}
	return affected > 0, nil
}

// scopeClause renders the role's visibility predicate as a WHERE fragment
// whose placeholders start at argIndex. Only superadmins get no predicate;
// an unrecognized role falls back to member scope.
func scopeClause(caller ledger.CallerContext, argIndex int) (string, []any) {
	switch caller.Role {
	case ledger.RoleSuperadmin:
		return "", nil
	case ledger.RoleAdmin:
		return "\nWHERE user_id IN (SELECT user_id FROM household_members WHERE household_id = $" +
			strconv.Itoa(argIndex) + ")", []any{caller.HouseholdID}
	default:
		return "\nWHERE user_id = $" + strconv.Itoa(argIndex), []any{caller.UserID}
	}
}

// andScope converts a scopeClause fragment into an AND conjunct for queries
// that already carry a WHERE clause.
func andScope(clause string) string {
	if clause == "" {
		return ""
	}
	return " AND" + clause[len("\nWHERE"):]
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}
