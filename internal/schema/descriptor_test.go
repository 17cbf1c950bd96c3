package schema

import (
	"strings"
	"testing"
)

func TestDefaultAllowsOnlyQueryableTables(t *testing.T) {
	descriptor := Default()

	for _, table := range []string{"incomes", "allocations", "expenses", "household_members"} {
		if !descriptor.Allows(table) {
			t.Fatalf("Allows(%q) = false", table)
		}
	}
	for _, table := range []string{"app_user", "users", "query_audit", "household", "famledger_schema_migrations"} {
		if descriptor.Allows(table) {
			t.Fatalf("Allows(%q) = true", table)
		}
	}
}

func TestAllowsIsCaseAndSpaceInsensitive(t *testing.T) {
	descriptor := Default()
	if !descriptor.Allows("  Expenses ") {
		t.Fatal("Allows should normalize case and whitespace")
	}
}

func TestCategoryMapsColloquialNames(t *testing.T) {
	descriptor := Default()

	cases := map[string]string{
		"groceries": "Grocery",
		"GROCERY":   "Grocery",
		"rent":      "Housing",
		"fun":       "Entertainment",
		"Pets":      "Pets", // unknown names pass through
	}
	for input, want := range cases {
		if got := descriptor.Category(input); got != want {
			t.Fatalf("Category(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestDescribeCoversTablesAndVocabulary(t *testing.T) {
	text := Default().Describe()

	for _, fragment := range []string{
		"incomes(income_id, user_id, amount, source, received_on)",
		"expenses(expense_id, user_id, amount, category, subcategory, spent_on)",
		"household_members",
		"groceries -> Grocery",
		"Relative date conventions",
	} {
		if !strings.Contains(text, fragment) {
			t.Fatalf("Describe() missing %q:\n%s", fragment, text)
		}
	}
	if strings.Contains(text, "app_user") {
		t.Fatal("Describe() must not mention app_user")
	}
}

func TestMemberTable(t *testing.T) {
	if got := Default().MemberTable(); got != "household_members" {
		t.Fatalf("MemberTable() = %q", got)
	}
}
