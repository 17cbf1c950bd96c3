package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/famledger/famledger/internal/ledger"
)

const dateLayout = "2006-01-02"

var reMonth = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

type recordKind struct {
	path   string
	create func(Dependencies, http.ResponseWriter, *http.Request)
	list   func(Dependencies, http.ResponseWriter, *http.Request)
	delete func(Dependencies, http.ResponseWriter, *http.Request)
}

var recordKinds = []recordKind{
	{path: "incomes", create: handleCreateIncome, list: handleListIncomes, delete: handleDeleteIncome},
	{path: "allocations", create: handleCreateAllocation, list: handleListAllocations, delete: handleDeleteAllocation},
	{path: "expenses", create: handleCreateExpense, list: handleListExpenses, delete: handleDeleteExpense},
}

type incomePayload struct {
	Amount     string `json:"amount"`
	Source     string `json:"source"`
	ReceivedOn string `json:"received_on"`
}

type incomeResponse struct {
	IncomeID   int64  `json:"income_id"`
	UserID     int64  `json:"user_id"`
	Amount     string `json:"amount"`
	Source     string `json:"source"`
	ReceivedOn string `json:"received_on"`
	CreatedAt  string `json:"created_at"`
}

func handleCreateIncome(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	caller, ok := requireRepository(deps, w, r)
	if !ok {
		return
	}

	var payload incomePayload
	if !decodeBody(w, r, &payload) {
		return
	}
	amount, err := parseAmount(payload.Amount)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_AMOUNT", err.Error(), false, nil)
		return
	}
	receivedOn, err := parseDate(payload.ReceivedOn, "received_on")
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_DATE", err.Error(), false, nil)
		return
	}
	if strings.TrimSpace(payload.Source) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SOURCE_REQUIRED", "source is required", false, nil)
		return
	}

	record, err := deps.Repository.CreateIncome(r.Context(), ledger.CreateIncomeInput{
		UserID:     caller.UserID,
		Amount:     amount,
		Source:     strings.TrimSpace(payload.Source),
		ReceivedOn: receivedOn,
	})
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "STORE_ERROR", "failed to record income", true, nil)
		return
	}
	writeJSON(w, http.StatusCreated, toIncomeResponse(record))
}

func handleListIncomes(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	caller, ok := requireRepository(deps, w, r)
	if !ok {
		return
	}

	records, err := deps.Repository.ListIncomes(r.Context(), caller, limitFromQuery(r))
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "STORE_ERROR", "failed to list incomes", true, nil)
		return
	}
	items := make([]incomeResponse, 0, len(records))
	for _, record := range records {
		items = append(items, toIncomeResponse(record))
	}
	writeJSON(w, http.StatusOK, map[string]any{"incomes": items})
}

func handleDeleteIncome(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	caller, ok := requireRepository(deps, w, r)
	if !ok {
		return
	}
	deleteRecord(w, r, "income", func(ctx context.Context, id int64) (bool, error) {
		return deps.Repository.DeleteIncome(ctx, caller, id)
	})
}

type allocationPayload struct {
	Amount   string `json:"amount"`
	Category string `json:"category"`
	Month    string `json:"month"`
}

type allocationResponse struct {
	AllocationID int64  `json:"allocation_id"`
	UserID       int64  `json:"user_id"`
	Amount       string `json:"amount"`
	Category     string `json:"category"`
	Month        string `json:"month"`
	CreatedAt    string `json:"created_at"`
}

func handleCreateAllocation(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	caller, ok := requireRepository(deps, w, r)
	if !ok {
		return
	}

	var payload allocationPayload
	if !decodeBody(w, r, &payload) {
		return
	}
	amount, err := parseAmount(payload.Amount)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_AMOUNT", err.Error(), false, nil)
		return
	}
	category := canonicalCategory(deps, payload.Category)
	if category == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "CATEGORY_REQUIRED", "category is required", false, nil)
		return
	}
	if !reMonth.MatchString(payload.Month) {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_MONTH", "month must look like 2026-08", false, nil)
		return
	}

	record, err := deps.Repository.CreateAllocation(r.Context(), ledger.CreateAllocationInput{
		UserID:   caller.UserID,
		Amount:   amount,
		Category: category,
		Month:    payload.Month,
	})
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "STORE_ERROR", "failed to record allocation", true, nil)
		return
	}
	writeJSON(w, http.StatusCreated, toAllocationResponse(record))
}

func handleListAllocations(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	caller, ok := requireRepository(deps, w, r)
	if !ok {
		return
	}

	records, err := deps.Repository.ListAllocations(r.Context(), caller, limitFromQuery(r))
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "STORE_ERROR", "failed to list allocations", true, nil)
		return
	}
	items := make([]allocationResponse, 0, len(records))
	for _, record := range records {
		items = append(items, toAllocationResponse(record))
	}
	writeJSON(w, http.StatusOK, map[string]any{"allocations": items})
}

func handleDeleteAllocation(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	caller, ok := requireRepository(deps, w, r)
	if !ok {
		return
	}
	deleteRecord(w, r, "allocation", func(ctx context.Context, id int64) (bool, error) {
		return deps.Repository.DeleteAllocation(ctx, caller, id)
	})
}

type expensePayload struct {
	Amount      string `json:"amount"`
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`
	Note        string `json:"note"`
	SpentOn     string `json:"spent_on"`
}

type expenseResponse struct {
	ExpenseID   int64  `json:"expense_id"`
	UserID      int64  `json:"user_id"`
	Amount      string `json:"amount"`
	Category    string `json:"category"`
	Subcategory string `json:"subcategory,omitempty"`
	Note        string `json:"note,omitempty"`
	SpentOn     string `json:"spent_on"`
	CreatedAt   string `json:"created_at"`
}

func handleCreateExpense(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	caller, ok := requireRepository(deps, w, r)
	if !ok {
		return
	}

	var payload expensePayload
	if !decodeBody(w, r, &payload) {
		return
	}
	amount, err := parseAmount(payload.Amount)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_AMOUNT", err.Error(), false, nil)
		return
	}
	category := canonicalCategory(deps, payload.Category)
	if category == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "CATEGORY_REQUIRED", "category is required", false, nil)
		return
	}
	spentOn, err := parseDate(payload.SpentOn, "spent_on")
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_DATE", err.Error(), false, nil)
		return
	}

	record, err := deps.Repository.CreateExpense(r.Context(), ledger.CreateExpenseInput{
		UserID:      caller.UserID,
		Amount:      amount,
		Category:    category,
		Subcategory: strings.TrimSpace(payload.Subcategory),
		Note:        strings.TrimSpace(payload.Note),
		SpentOn:     spentOn,
	})
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "STORE_ERROR", "failed to record expense", true, nil)
		return
	}
	writeJSON(w, http.StatusCreated, toExpenseResponse(record))
}

func handleListExpenses(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	caller, ok := requireRepository(deps, w, r)
	if !ok {
		return
	}

	records, err := deps.Repository.ListExpenses(r.Context(), caller, limitFromQuery(r))
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "STORE_ERROR", "failed to list expenses", true, nil)
		return
	}
	items := make([]expenseResponse, 0, len(records))
	for _, record := range records {
		items = append(items, toExpenseResponse(record))
	}
	writeJSON(w, http.StatusOK, map[string]any{"expenses": items})
}

func handleDeleteExpense(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	caller, ok := requireRepository(deps, w, r)
	if !ok {
		return
	}
	deleteRecord(w, r, "expense", func(ctx context.Context, id int64) (bool, error) {
		return deps.Repository.DeleteExpense(ctx, caller, id)
	})
}

func deleteRecord(w http.ResponseWriter, r *http.Request, noun string, del func(ctx context.Context, id int64) (bool, error)) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_ID", "id must be a positive integer", false, nil)
		return
	}

	deleted, err := del(r.Context(), id)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "STORE_ERROR", fmt.Sprintf("failed to delete %s", noun), true, nil)
		return
	}
	if !deleted {
		writeError(r.Context(), w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("%s was not found in your scope", noun), false, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

// requireRepository resolves the caller and checks the store is wired; every
// record handler starts here.
func requireRepository(deps Dependencies, w http.ResponseWriter, r *http.Request) (ledger.CallerContext, bool) {
	if deps.Repository == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "STORE_NOT_CONFIGURED", "ledger store is not configured", false, nil)
		return ledger.CallerContext{}, false
	}
	caller, err := callerFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "CALLER_REQUIRED", err.Error(), false, nil)
		return ledger.CallerContext{}, false
	}
	return caller, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid request body", false, map[string]any{"details": err.Error()})
		return false
	}
	return true
}

func parseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("amount must be a decimal number")
	}
	if amount.IsNegative() || amount.IsZero() {
		return decimal.Decimal{}, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

func parseDate(raw, field string) (time.Time, error) {
	parsed, err := time.Parse(dateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must look like 2026-08-29", field)
	}
	return parsed, nil
}

// canonicalCategory folds user spellings onto the descriptor's category
// vocabulary; unmapped spellings are stored verbatim.
func canonicalCategory(deps Dependencies, raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	return deps.Descriptor.Category(trimmed)
}

func limitFromQuery(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0
	}
	return limit
}

func toIncomeResponse(record ledger.IncomeRecord) incomeResponse {
	return incomeResponse{
		IncomeID:   record.IncomeID,
		UserID:     record.UserID,
		Amount:     record.Amount.String(),
		Source:     record.Source,
		ReceivedOn: record.ReceivedOn.Format(dateLayout),
		CreatedAt:  record.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toAllocationResponse(record ledger.AllocationRecord) allocationResponse {
	return allocationResponse{
		AllocationID: record.AllocationID,
		UserID:       record.UserID,
		Amount:       record.Amount.String(),
		Category:     record.Category,
		Month:        record.Month,
		CreatedAt:    record.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toExpenseResponse(record ledger.ExpenseRecord) expenseResponse {
	return expenseResponse{
		ExpenseID:   record.ExpenseID,
		UserID:      record.UserID,
		Amount:      record.Amount.String(),
		Category:    record.Category,
		Subcategory: record.Subcategory,
		Note:        record.Note,
		SpentOn:     record.SpentOn.Format(dateLayout),
		CreatedAt:   record.CreatedAt.UTC().Format(time.RFC3339),
	}
}
