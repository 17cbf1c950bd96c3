package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/famledger/famledger/internal/compose"
	"github.com/famledger/famledger/internal/config"
	"github.com/famledger/famledger/internal/gate"
	"github.com/famledger/famledger/internal/gateway"
	"github.com/famledger/famledger/internal/ledger"
	"github.com/famledger/famledger/internal/nlsql"
	"github.com/famledger/famledger/internal/schema"
)

type fakeRepo struct {
	incomes     []ledger.IncomeRecord
	allocations []ledger.AllocationRecord
	expenses    []ledger.ExpenseRecord
	totals      []ledger.CategoryTotal
	deleted     bool
	err         error

	lastCaller ledger.CallerContext
}

func (f *fakeRepo) HealthCheck(context.Context) error { return f.err }

func (f *fakeRepo) CreateIncome(_ context.Context, in ledger.CreateIncomeInput) (ledger.IncomeRecord, error) {
	if f.err != nil {
		return ledger.IncomeRecord{}, f.err
	}
	return ledger.IncomeRecord{IncomeID: 1, UserID: in.UserID, Amount: in.Amount, Source: in.Source, ReceivedOn: in.ReceivedOn}, nil
}

func (f *fakeRepo) ListIncomes(_ context.Context, caller ledger.CallerContext, _ int) ([]ledger.IncomeRecord, error) {
	f.lastCaller = caller
	return f.incomes, f.err
}

func (f *fakeRepo) DeleteIncome(_ context.Context, caller ledger.CallerContext, _ int64) (bool, error) {
	f.lastCaller = caller
	return f.deleted, f.err
}

func (f *fakeRepo) CreateAllocation(_ context.Context, in ledger.CreateAllocationInput) (ledger.AllocationRecord, error) {
	if f.err != nil {
		return ledger.AllocationRecord{}, f.err
	}
	return ledger.AllocationRecord{AllocationID: 2, UserID: in.UserID, Amount: in.Amount, Category: in.Category, Month: in.Month}, nil
}

func (f *fakeRepo) ListAllocations(_ context.Context, caller ledger.CallerContext, _ int) ([]ledger.AllocationRecord, error) {
	f.lastCaller = caller
	return f.allocations, f.err
}

func (f *fakeRepo) DeleteAllocation(_ context.Context, caller ledger.CallerContext, _ int64) (bool, error) {
	f.lastCaller = caller
	return f.deleted, f.err
}

func (f *fakeRepo) CreateExpense(_ context.Context, in ledger.CreateExpenseInput) (ledger.ExpenseRecord, error) {
	if f.err != nil {
		return ledger.ExpenseRecord{}, f.err
	}
	return ledger.ExpenseRecord{ExpenseID: 3, UserID: in.UserID, Amount: in.Amount, Category: in.Category, Subcategory: in.Subcategory, Note: in.Note, SpentOn: in.SpentOn}, nil
}

func (f *fakeRepo) ListExpenses(_ context.Context, caller ledger.CallerContext, _ int) ([]ledger.ExpenseRecord, error) {
	f.lastCaller = caller
	return f.expenses, f.err
}

func (f *fakeRepo) DeleteExpense(_ context.Context, caller ledger.CallerContext, _ int64) (bool, error) {
	f.lastCaller = caller
	return f.deleted, f.err
}

func (f *fakeRepo) MonthlySummary(_ context.Context, caller ledger.CallerContext, _ int, _ int) ([]ledger.CategoryTotal, error) {
	f.lastCaller = caller
	return f.totals, f.err
}

type stubSynthesizer struct {
	sql string
	err error
}

func (s stubSynthesizer) Synthesize(context.Context, nlsql.Request) (nlsql.Candidate, error) {
	if s.err != nil {
		return nlsql.Candidate{}, s.err
	}
	return nlsql.Candidate{SQL: s.sql, Model: "stub"}, nil
}

type stubExecutor struct {
	columns []string
	rows    [][]any
	err     error
}

func (s stubExecutor) Execute(context.Context, string) ([]string, [][]any, error) {
	return s.columns, s.rows, s.err
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("famledger-api", func(key string) (string, bool) {
		if key == "FAMLEDGER_PROFILE" {
			return "test", true
		}
		return "", false
	})
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	return cfg
}

func newTestHandler(t *testing.T, repo ledger.Repository, synth nlsql.Synthesizer, executor gateway.Executor) http.Handler {
	t.Helper()
	descriptor := schema.Default()
	g, err := gateway.New(gateway.Config{
		Synthesizer: synth,
		Validator:   gate.New(descriptor, gate.Config{DefaultLimit: 200, LimitCeiling: 1000}),
		Executor:    executor,
		Composer:    compose.New(nil),
		Descriptor:  descriptor,
	})
	if err != nil {
		t.Fatalf("gateway.New() error = %v", err)
	}
	return NewHandler(testConfig(t), Dependencies{
		Repository: repo,
		Gateway:    g,
		Descriptor: descriptor,
	})
}

func asMember(req *http.Request) *http.Request {
	req.Header.Set("X-User-ID", "7")
	req.Header.Set("X-Household-ID", "3")
	req.Header.Set("X-Role", "member")
	return req
}

func TestHealthEndpoint(t *testing.T) {
	handler := newTestHandler(t, &fakeRepo{}, stubSynthesizer{sql: "SELECT 1"}, stubExecutor{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestReadyReportsFailingDependency(t *testing.T) {
	descriptor := schema.Default()
	g, err := gateway.New(gateway.Config{
		Synthesizer: stubSynthesizer{sql: "SELECT 1"},
		Validator:   gate.New(descriptor, gate.Config{}),
		Executor:    stubExecutor{},
		Descriptor:  descriptor,
	})
	if err != nil {
		t.Fatalf("gateway.New() error = %v", err)
	}
	handler := NewHandler(testConfig(t), Dependencies{
		Repository: &fakeRepo{},
		Gateway:    g,
		Descriptor: descriptor,
		Readiness: func(context.Context) error {
			return errors.New("db unreachable")
		},
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "NOT_READY") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestAskReturnsAnswerAndFinalSQL(t *testing.T) {
	handler := newTestHandler(t, &fakeRepo{},
		stubSynthesizer{sql: "SELECT SUM(amount) FROM expenses WHERE category = 'Food'"},
		stubExecutor{columns: []string{"sum"}, rows: [][]any{{"80.00"}}})

	body := strings.NewReader(`{"question": "how much on food this month?"}`)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, asMember(httptest.NewRequest(http.MethodPost, "/v1/ask", body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var response askResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if response.Answer != "The result is 80.00." {
		t.Fatalf("Answer = %q", response.Answer)
	}
	if !strings.Contains(response.SQL, "user_id = 7") {
		t.Fatalf("SQL = %q, want caller scope", response.SQL)
	}
}

func TestAskRejectionMapsTo422(t *testing.T) {
	handler := newTestHandler(t, &fakeRepo{},
		stubSynthesizer{sql: "SELECT amount FROM expenses WHERE user_id = 9"},
		stubExecutor{})

	body := strings.NewReader(`{"question": "what did user 9 spend?"}`)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, asMember(httptest.NewRequest(http.MethodPost, "/v1/ask", body)))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "QUERY_REJECTED") {
		t.Fatalf("body = %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "you can only view your own data") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestAskSynthesisOutageMapsTo502(t *testing.T) {
	handler := newTestHandler(t, &fakeRepo{}, stubSynthesizer{err: nlsql.ErrUnavailable}, stubExecutor{})

	body := strings.NewReader(`{"question": "anything"}`)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, asMember(httptest.NewRequest(http.MethodPost, "/v1/ask", body)))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "SYNTHESIS_UNAVAILABLE") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestAskWithoutCallerContextIs401(t *testing.T) {
	handler := newTestHandler(t, &fakeRepo{}, stubSynthesizer{sql: "SELECT 1"}, stubExecutor{})

	body := strings.NewReader(`{"question": "anything"}`)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/ask", body))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCreateExpenseNormalizesCategory(t *testing.T) {
	repo := &fakeRepo{}
	handler := newTestHandler(t, repo, stubSynthesizer{sql: "SELECT 1"}, stubExecutor{})

	body := strings.NewReader(`{"amount": "42.75", "category": "groceries", "spent_on": "2026-08-20"}`)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, asMember(httptest.NewRequest(http.MethodPost, "/v1/expenses", body)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var response expenseResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if response.Category != "Grocery" {
		t.Fatalf("Category = %q, want stored form", response.Category)
	}
	if response.UserID != 7 {
		t.Fatalf("UserID = %d, must come from the caller context", response.UserID)
	}
}

func TestCreateExpenseRejectsBadAmount(t *testing.T) {
	handler := newTestHandler(t, &fakeRepo{}, stubSynthesizer{sql: "SELECT 1"}, stubExecutor{})

	for _, amount := range []string{"-5.00", "0", "abc"} {
		body := strings.NewReader(`{"amount": "` + amount + `", "category": "food", "spent_on": "2026-08-20"}`)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, asMember(httptest.NewRequest(http.MethodPost, "/v1/expenses", body)))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("amount %q: status = %d", amount, rec.Code)
		}
	}
}

func TestListExpensesPassesCallerScope(t *testing.T) {
	repo := &fakeRepo{expenses: []ledger.ExpenseRecord{{ExpenseID: 3, UserID: 7, Amount: decimal.RequireFromString("10.00"), Category: "Food"}}}
	handler := newTestHandler(t, repo, stubSynthesizer{sql: "SELECT 1"}, stubExecutor{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, asMember(httptest.NewRequest(http.MethodGet, "/v1/expenses", nil)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if repo.lastCaller.UserID != 7 || repo.lastCaller.Role != ledger.RoleMember {
		t.Fatalf("lastCaller = %+v", repo.lastCaller)
	}
}

func TestDeleteExpenseOutsideScopeIs404(t *testing.T) {
	handler := newTestHandler(t, &fakeRepo{deleted: false}, stubSynthesizer{sql: "SELECT 1"}, stubExecutor{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, asMember(httptest.NewRequest(http.MethodDelete, "/v1/expenses/44", nil)))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSchemaEndpointListsQueryableTables(t *testing.T) {
	handler := newTestHandler(t, &fakeRepo{}, stubSynthesizer{sql: "SELECT 1"}, stubExecutor{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, asMember(httptest.NewRequest(http.MethodGet, "/v1/schema", nil)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	for _, table := range []string{"incomes", "allocations", "expenses", "household_members"} {
		if !strings.Contains(rec.Body.String(), table) {
			t.Fatalf("schema response missing %q: %s", table, rec.Body.String())
		}
	}
	if strings.Contains(rec.Body.String(), "app_user") {
		t.Fatalf("schema response exposes app_user: %s", rec.Body.String())
	}
}

func TestSummaryEndpoint(t *testing.T) {
	repo := &fakeRepo{totals: []ledger.CategoryTotal{
		{Category: "Food", Total: decimal.RequireFromString("420.10")},
	}}
	handler := newTestHandler(t, repo, stubSynthesizer{sql: "SELECT 1"}, stubExecutor{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, asMember(httptest.NewRequest(http.MethodGet, "/v1/summary?year=2026&month=8", nil)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"total":"420.10"`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestSummaryRejectsInvalidMonth(t *testing.T) {
	handler := newTestHandler(t, &fakeRepo{}, stubSynthesizer{sql: "SELECT 1"}, stubExecutor{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, asMember(httptest.NewRequest(http.MethodGet, "/v1/summary?month=13", nil)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}
