// Package schema holds the static description of the tables the query
// gateway may touch. It is the single source of truth shared by the
// synthesizer prompt and the safety validator's allow-list; the two must
// never disagree about what is queryable.
package schema

import (
	"sort"
	"strings"
)

// Version is bumped whenever the queryable surface changes so that audit
// rows can be correlated with the descriptor the validator was using.
const Version = 2

type Table struct {
	Name        string
	Columns     []string
	Description string
}

// Descriptor is immutable after construction. Build it once at process start
// and pass it by value into the synthesizer and validator.
type Descriptor struct {
	tables      []Table
	allowed     map[string]struct{}
	categories  map[string]string
	dateIdioms  []string
	memberTable string
}

// Default returns the queryable surface of the household ledger: the three
// financial record tables plus the sanctioned membership relation used to
// resolve household scope. The raw users table, credentials and audit tables
// are deliberately absent.
func Default() Descriptor {
	tables := []Table{
		{
			Name:        "incomes",
			Columns:     []string{"income_id", "user_id", "amount", "source", "received_on"},
			Description: "money received by a household member",
		},
		{
			Name:        "allocations",
			Columns:     []string{"allocation_id", "user_id", "amount", "category", "month"},
			Description: "planned budget per category and month (month is 'YYYY-MM')",
		},
		{
			Name:        "expenses",
			Columns:     []string{"expense_id", "user_id", "amount", "category", "subcategory", "spent_on"},
			Description: "money spent by a household member",
		},
		{
			Name:        "household_members",
			Columns:     []string{"user_id", "household_id"},
			Description: "maps a member to their household; join through user_id to scope by household",
		},
	}

	allowed := make(map[string]struct{}, len(tables))
	for _, table := range tables {
		allowed[table.Name] = struct{}{}
	}

	return Descriptor{
		tables:  tables,
		allowed: allowed,
		categories: map[string]string{
			"food":      "Food",
			"grocery":   "Grocery",
			"groceries": "Grocery",
			"transport": "Transport",
			"travel":    "Transport",
			"rent":      "Housing",
			"housing":   "Housing",
			"utilities": "Utilities",
			"health":    "Health",
			"education": "Education",
			"fun":       "Entertainment",
			"movies":    "Entertainment",
		},
		dateIdioms: []string{
			"this month -> date_trunc('month', CURRENT_DATE) <= spent_on",
			"this year  -> date_trunc('year', CURRENT_DATE) <= spent_on",
			"last month -> spent_on >= date_trunc('month', CURRENT_DATE) - INTERVAL '1 month' AND spent_on < date_trunc('month', CURRENT_DATE)",
		},
		memberTable: "household_members",
	}
}

// Allows reports whether a table name may appear in a candidate query.
func (d Descriptor) Allows(table string) bool {
	_, ok := d.allowed[strings.ToLower(strings.TrimSpace(table))]
	return ok
}

// MemberTable is the relation the validator uses to express household scope.
func (d Descriptor) MemberTable() string {
	return d.memberTable
}

func (d Descriptor) Tables() []Table {
	out := make([]Table, len(d.tables))
	copy(out, d.tables)
	return out
}

// Category maps a colloquial category name to its stored form. Unknown names
// are returned unchanged so the model can still filter on them verbatim.
func (d Descriptor) Category(name string) string {
	if stored, ok := d.categories[strings.ToLower(strings.TrimSpace(name))]; ok {
		return stored
	}
	return name
}

// Describe renders the schema as prompt text for the synthesizer.
func (d Descriptor) Describe() string {
	var b strings.Builder
	b.WriteString("Queryable tables (PostgreSQL):\n")
	for _, table := range d.tables {
		b.WriteString("- ")
		b.WriteString(table.Name)
		b.WriteString("(")
		b.WriteString(strings.Join(table.Columns, ", "))
		b.WriteString("): ")
		b.WriteString(table.Description)
		b.WriteString("\n")
	}

	b.WriteString("\nCategory vocabulary (use the stored form on the right):\n")
	names := make([]string, 0, len(d.categories))
	for name := range d.categories {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.WriteString("- ")
		b.WriteString(name)
		b.WriteString(" -> ")
		b.WriteString(d.categories[name])
		b.WriteString("\n")
	}

	b.WriteString("\nRelative date conventions:\n")
	for _, idiom := range d.dateIdioms {
		b.WriteString("- ")
		b.WriteString(idiom)
		b.WriteString("\n")
	}
	return b.String()
}
