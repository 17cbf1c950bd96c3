// Package gate is the deterministic safety gate between the language model
// and the database. It accepts, rewrites, or rejects a candidate SQL string
// with zero knowledge of how the candidate was produced; a hand-written
// statement and a model-produced one go through the identical pipeline.
//
// The validator is a pure function over (sql, caller) and performs no I/O,
// which is what makes its invariants exhaustively unit-testable.
package gate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/famledger/famledger/internal/ledger"
	"github.com/famledger/famledger/internal/schema"
)

type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeRewritten Outcome = "rewritten"
	OutcomeRejected  Outcome = "rejected"
)

// Check identifies which pipeline stage produced a rejection.
type Check string

const (
	CheckStatementKind Check = "statement_kind"
	CheckTableAllow    Check = "table_allow_list"
	CheckScope         Check = "scope_predicate"
	CheckResourceBound Check = "resource_bound"
	CheckLiteralSmell  Check = "literal_smell"
)

// Result is the tagged outcome of validation. SQL carries the statement to
// execute for accepted/rewritten outcomes; Reason and FailedCheck are audit
// detail for rejections and must not be shown verbatim to end users.
type Result struct {
	Outcome     Outcome
	SQL         string
	Reason      string
	FailedCheck Check
}

func (r Result) Rejected() bool {
	return r.Outcome == OutcomeRejected
}

type Config struct {
	// DefaultLimit is appended when a candidate carries no LIMIT clause.
	DefaultLimit int
	// LimitCeiling caps an explicit LIMIT larger than the ceiling.
	LimitCeiling int
}

type Validator struct {
	schema       schema.Descriptor
	defaultLimit int
	limitCeiling int
}

func New(descriptor schema.Descriptor, cfg Config) *Validator {
	defaultLimit := cfg.DefaultLimit
	if defaultLimit <= 0 {
		defaultLimit = 200
	}
	limitCeiling := cfg.LimitCeiling
	if limitCeiling <= 0 {
		limitCeiling = 1000
	}
	if defaultLimit > limitCeiling {
		defaultLimit = limitCeiling
	}
	return &Validator{
		schema:       descriptor,
		defaultLimit: defaultLimit,
		limitCeiling: limitCeiling,
	}
}

var (
	reForbidden = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|create|truncate|grant|revoke)\b`)
	reComment   = regexp.MustCompile(`--|/\*`)
	reLeading   = regexp.MustCompile(`(?i)^select\b`)
	reFromKw    = regexp.MustCompile(`(?i)\bfrom\b`)
	reTableRef  = regexp.MustCompile(`(?i)\b(from|join)\s+([A-Za-z_][A-Za-z0-9_.]*)(?:\s+(?:as\s+)?([A-Za-z_][A-Za-z0-9_]*))?`)
	reFromParen = regexp.MustCompile(`(?i)\b(?:from|join)\s*\(`)
	reSetOp     = regexp.MustCompile(`(?i)\b(union|intersect|except)\b`)
	reSelect    = regexp.MustCompile(`(?i)\bselect\b`)
	reUserEq    = regexp.MustCompile(`(?i)\b(?:[A-Za-z_][A-Za-z0-9_]*\.)?user_id\s*=\s*(\d+)`)
	reHouseEq   = regexp.MustCompile(`(?i)\b(?:[A-Za-z_][A-Za-z0-9_]*\.)?household_id\s*=\s*(\d+)`)
	reLimit     = regexp.MustCompile(`(?i)\blimit\s+(\d+)`)
	reWhere     = regexp.MustCompile(`(?i)\bwhere\b`)
	reTail      = regexp.MustCompile(`(?i)\b(group\s+by|order\s+by|having|limit|offset|for\s+(?:update|share))\b`)
	reOr        = regexp.MustCompile(`(?i)\bor\b`)
)

// aliasStopWords are clause keywords that the table-reference regex can
// mistake for an alias.
var aliasStopWords = map[string]struct{}{
	"where": {}, "group": {}, "order": {}, "limit": {}, "having": {},
	"on": {}, "join": {}, "inner": {}, "left": {}, "right": {}, "full": {},
	"cross": {}, "union": {}, "natural": {}, "using": {}, "offset": {},
	"intersect": {}, "except": {}, "as": {},
}

const scopeMask = "__scope_ok__"

type tableRef struct {
	name  string
	alias string
}

// Validate runs the fail-fast check pipeline from the gateway design:
// statement kind, table allow-list, scope predicate (with at most one safe
// rewrite), resource bound, then the foreign-literal smell check. Ambiguity
// always resolves to rejection, never to a best-effort patch.
func (v *Validator) Validate(sqlText string, caller ledger.CallerContext) Result {
	stmt, result := v.checkStatementKind(sqlText)
	if result.Rejected() {
		return result
	}

	// The canonical household-scope predicate the rewriter itself emits is
	// masked out before structural inspection so that a previously rewritten
	// statement re-validates cleanly. Only the caller's own household id is
	// masked; a look-alike subquery for any other household stays visible
	// and trips the complexity check.
	masked := maskCanonicalScope(stmt, caller.HouseholdID)

	refs, rejected := v.checkTables(masked)
	if rejected.Rejected() {
		return rejected
	}

	rewritten := false
	if caller.Role != ledger.RoleSuperadmin {
		scoped, didRewrite, scopeResult := v.checkScope(stmt, masked, refs, caller)
		if scopeResult.Rejected() {
			return scopeResult
		}
		stmt = scoped
		rewritten = rewritten || didRewrite
	}

	bounded, didRewrite, boundResult := v.checkResourceBound(stmt)
	if boundResult.Rejected() {
		return boundResult
	}
	stmt = bounded
	rewritten = rewritten || didRewrite

	if smell := v.checkLiteralSmell(stmt, caller); smell.Rejected() {
		return smell
	}

	if rewritten {
		return Result{Outcome: OutcomeRewritten, SQL: stmt}
	}
	return Result{Outcome: OutcomeAccepted, SQL: stmt}
}

func (v *Validator) checkStatementKind(sqlText string) (string, Result) {
	stmt := strings.TrimSpace(sqlText)
	stmt = strings.TrimSuffix(stmt, ";")
	stmt = strings.TrimSpace(stmt)

	if stmt == "" {
		return "", reject(CheckStatementKind, "empty statement")
	}
	if reComment.MatchString(stmt) {
		return "", reject(CheckStatementKind, "SQL comments are not allowed")
	}
	if strings.ContainsAny(stmt, "\"`") {
		return "", reject(CheckStatementKind, "quoted identifiers are not allowed")
	}
	if strings.Contains(stmt, ";") {
		return "", reject(CheckStatementKind, "non-read-only or multi-statement")
	}
	if !reLeading.MatchString(stmt) {
		return "", reject(CheckStatementKind, "non-read-only or multi-statement")
	}
	if match := reForbidden.FindString(stmt); match != "" {
		return "", reject(CheckStatementKind, fmt.Sprintf("forbidden keyword %q", strings.ToUpper(match)))
	}
	return stmt, Result{}
}

func (v *Validator) checkTables(masked string) ([]tableRef, Result) {
	if fromClauseHasComma(masked) {
		return nil, reject(CheckTableAllow, "comma-separated table list")
	}
	refs := extractTableRefs(masked)
	for _, ref := range refs {
		if !v.schema.Allows(ref.name) {
			return nil, reject(CheckTableAllow, fmt.Sprintf("disallowed table %q", ref.name))
		}
	}
	return refs, Result{}
}

// checkScope enforces the role's row-visibility predicate. The statement must
// be structurally simple enough that the owning table is unambiguous; anything
// else is rejected rather than patched.
func (v *Validator) checkScope(stmt, masked string, refs []tableRef, caller ledger.CallerContext) (string, bool, Result) {
	if reSetOp.MatchString(masked) {
		return "", false, reject(CheckScope, "cannot establish safe scope: set operation")
	}
	if reFromParen.MatchString(masked) {
		return "", false, reject(CheckScope, "cannot establish safe scope: derived table")
	}
	if len(reSelect.FindAllStringIndex(masked, -1)) > 1 {
		return "", false, reject(CheckScope, "cannot establish safe scope: subquery")
	}

	target, memberJoined, ok := v.scopeTarget(refs)
	if !ok {
		return "", false, reject(CheckScope, "cannot establish safe scope: ambiguous owning table")
	}
	if target == nil {
		// No table referenced at all; nothing to scope.
		return stmt, false, Result{}
	}

	cond := whereCondition(masked)
	hasCanonical := strings.Contains(masked, scopeMask)

	switch caller.Role {
	case ledger.RoleMember:
		ownEq := false
		for _, match := range reUserEq.FindAllStringSubmatch(masked, -1) {
			id, err := strconv.ParseInt(match[1], 10, 64)
			if err != nil || id != caller.UserID {
				return "", false, reject(CheckScope, "cannot establish safe scope")
			}
			ownEq = true
		}
		predicate := scopeColumn(target, memberJoined, "user_id") + " = " + strconv.FormatInt(caller.UserID, 10)
		if ownEq && scopeHolds(cond, predicate) {
			return stmt, false, Result{}
		}
		return injectPredicate(stmt, predicate), true, Result{}

	case ledger.RoleAdmin:
		for _, match := range reHouseEq.FindAllStringSubmatch(masked, -1) {
			id, err := strconv.ParseInt(match[1], 10, 64)
			if err != nil || id != caller.HouseholdID {
				return "", false, reject(CheckScope, "cannot establish safe scope")
			}
		}
		ownHouseEq := reHouseEq.MatchString(masked)
		satisfied := hasCanonical || (memberJoined && ownHouseEq)
		if satisfied && scopeHolds(cond, scopeMask) {
			return stmt, false, Result{}
		}
		predicate := scopeColumn(target, memberJoined, "user_id") +
			" IN (SELECT user_id FROM " + v.schema.MemberTable() +
			" WHERE household_id = " + strconv.FormatInt(caller.HouseholdID, 10) + ")"
		return injectPredicate(stmt, predicate), true, Result{}
	}

	return "", false, reject(CheckScope, fmt.Sprintf("unknown role %q", caller.Role))
}

func (v *Validator) checkResourceBound(stmt string) (string, bool, Result) {
	match := reLimit.FindStringSubmatchIndex(stmt)
	if match == nil {
		return stmt + " LIMIT " + strconv.Itoa(v.defaultLimit), true, Result{}
	}
	value, err := strconv.Atoi(stmt[match[2]:match[3]])
	if err != nil {
		return "", false, reject(CheckResourceBound, "unparseable LIMIT value")
	}
	if value <= v.limitCeiling {
		return stmt, false, Result{}
	}
	capped := stmt[:match[0]] + "LIMIT " + strconv.Itoa(v.limitCeiling) + stmt[match[1]:]
	return capped, true, Result{}
}

// checkLiteralSmell is a secondary defense: after scoping, no identifier
// literal belonging to another party may survive in the statement.
func (v *Validator) checkLiteralSmell(stmt string, caller ledger.CallerContext) Result {
	if caller.Role == ledger.RoleSuperadmin {
		return Result{}
	}
	masked := maskCanonicalScope(stmt, caller.HouseholdID)
	for _, match := range reHouseEq.FindAllStringSubmatch(masked, -1) {
		id, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil || id != caller.HouseholdID {
			return reject(CheckLiteralSmell, "foreign household_id literal")
		}
	}
	if caller.Role == ledger.RoleMember {
		for _, match := range reUserEq.FindAllStringSubmatch(masked, -1) {
			id, err := strconv.ParseInt(match[1], 10, 64)
			if err != nil || id != caller.UserID {
				return reject(CheckLiteralSmell, "foreign user_id literal")
			}
		}
	}
	return Result{}
}

// scopeTarget picks the single table the scope predicate attaches to. Exactly
// one financial table may be referenced, optionally joined with the membership
// relation; any other shape is ambiguous.
func (v *Validator) scopeTarget(refs []tableRef) (*tableRef, bool, bool) {
	var financial []tableRef
	memberJoined := false
	for _, ref := range refs {
		if strings.EqualFold(ref.name, v.schema.MemberTable()) {
			memberJoined = true
			continue
		}
		financial = append(financial, ref)
	}

	switch {
	case len(financial) == 1:
		target := financial[0]
		return &target, memberJoined, true
	case len(financial) == 0 && memberJoined && len(refs) == 1:
		target := refs[0]
		return &target, false, true
	case len(financial) == 0 && !memberJoined:
		return nil, false, true
	default:
		return nil, false, false
	}
}

func scopeColumn(target *tableRef, qualify bool, column string) string {
	if !qualify {
		return column
	}
	prefix := target.alias
	if prefix == "" {
		prefix = target.name
	}
	return prefix + "." + column
}

// injectPredicate conjoins predicate with the existing WHERE clause, wrapping
// the original condition in parentheses so an OR cannot escape the scope, or
// creates a WHERE clause before any trailing GROUP BY/ORDER BY/LIMIT.
func injectPredicate(stmt, predicate string) string {
	if loc := reWhere.FindStringIndex(stmt); loc != nil {
		condStart := loc[1]
		condEnd := len(stmt)
		if tail := reTail.FindStringIndex(stmt[condStart:]); tail != nil {
			condEnd = condStart + tail[0]
		}
		cond := strings.TrimSpace(stmt[condStart:condEnd])
		var b strings.Builder
		b.WriteString(stmt[:loc[0]])
		b.WriteString("WHERE (")
		b.WriteString(cond)
		b.WriteString(") AND ")
		b.WriteString(predicate)
		rest := strings.TrimSpace(stmt[condEnd:])
		if rest != "" {
			b.WriteString(" ")
			b.WriteString(rest)
		}
		return b.String()
	}

	if tail := reTail.FindStringIndex(stmt); tail != nil {
		return strings.TrimSpace(stmt[:tail[0]]) + " WHERE " + predicate + " " + stmt[tail[0]:]
	}
	return stmt + " WHERE " + predicate
}

// scopeHolds reports whether an existing WHERE condition already confines the
// statement to predicate. A condition without OR is a plain conjunction and
// any scope equality in it binds the whole clause; with OR present only the
// rewriter's own shape "(original) AND predicate" is trusted, since there the
// trailing conjunct cannot be escaped.
func scopeHolds(cond, predicate string) bool {
	if !reOr.MatchString(cond) {
		return true
	}
	cond = strings.TrimSpace(cond)
	if !strings.HasPrefix(cond, "(") {
		return false
	}
	depth := 0
	for i, r := range cond {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				rest := strings.TrimSpace(cond[i+1:])
				return rest == "AND "+predicate
			}
		}
	}
	return false
}

func whereCondition(stmt string) string {
	loc := reWhere.FindStringIndex(stmt)
	if loc == nil {
		return ""
	}
	cond := stmt[loc[1]:]
	if tail := reTail.FindStringIndex(cond); tail != nil {
		cond = cond[:tail[0]]
	}
	return cond
}

// fromClauseHasComma reports whether any FROM clause carries a comma-joined
// table list. The reference extractor only sees the first name of such a
// list, so the whole shape is rejected instead of being partially checked.
func fromClauseHasComma(stmt string) bool {
	for _, loc := range reFromKw.FindAllStringIndex(stmt, -1) {
		clause := stmt[loc[1]:]
		if w := reWhere.FindStringIndex(clause); w != nil {
			clause = clause[:w[0]]
		}
		if tail := reTail.FindStringIndex(clause); tail != nil {
			clause = clause[:tail[0]]
		}
		// a FROM inside parentheses ends at its closing paren
		if p := strings.IndexByte(clause, ')'); p >= 0 {
			clause = clause[:p]
		}
		if strings.Contains(clause, ",") {
			return true
		}
	}
	return false
}

func extractTableRefs(stmt string) []tableRef {
	matches := reTableRef.FindAllStringSubmatch(stmt, -1)
	refs := make([]tableRef, 0, len(matches))
	for _, match := range matches {
		name := strings.ToLower(match[2])
		alias := match[3]
		if _, stop := aliasStopWords[strings.ToLower(alias)]; stop {
			alias = ""
		}
		refs = append(refs, tableRef{name: name, alias: alias})
	}
	return refs
}

func canonicalScopePattern(householdID int64) *regexp.Regexp {
	return regexp.MustCompile(
		`(?i)(?:[A-Za-z_][A-Za-z0-9_]*\.)?user_id\s+IN\s*\(\s*SELECT\s+user_id\s+FROM\s+household_members\s+WHERE\s+household_id\s*=\s*` +
			strconv.FormatInt(householdID, 10) + `\s*\)`)
}

func maskCanonicalScope(stmt string, householdID int64) string {
	return canonicalScopePattern(householdID).ReplaceAllString(stmt, scopeMask)
}

func reject(check Check, reason string) Result {
	return Result{Outcome: OutcomeRejected, Reason: reason, FailedCheck: check}
}
