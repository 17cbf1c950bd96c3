// Package auth resolves a trusted caller context before any gateway code
// runs. The (user, household, role) triple comes exclusively from the
// configured key registry, never from request bodies or question text.
package auth

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/famledger/famledger/internal/ledger"
)

type APIKeyValidator interface {
	Validate(ctx context.Context, apiKey string) (ledger.CallerContext, bool)
}

// StaticAPIKeyValidator maps opaque API keys to caller contexts. The spec
// format is a comma-separated list of key:user_id:household_id:role entries.
type StaticAPIKeyValidator struct {
	keys map[string]ledger.CallerContext
}

func NewStaticAPIKeyValidator(spec string) (*StaticAPIKeyValidator, error) {
	validator := &StaticAPIKeyValidator{keys: map[string]ledger.CallerContext{}}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return validator, nil
	}

	for _, entry := range strings.Split(spec, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 4 {
			return nil, fmt.Errorf("invalid static key entry %q: expected key:user_id:household_id:role", entry)
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			return nil, fmt.Errorf("invalid static key entry %q: empty key", entry)
		}
		userID, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid static key entry %q: bad user id: %w", entry, err)
		}
		householdID, err := strconv.ParseInt(strings.TrimSpace(parts[2]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid static key entry %q: bad household id: %w", entry, err)
		}
		role, ok := ledger.ParseRole(parts[3])
		if !ok {
			return nil, fmt.Errorf("invalid static key entry %q: unknown role %q", entry, parts[3])
		}
		validator.keys[key] = ledger.CallerContext{
			UserID:      userID,
			HouseholdID: householdID,
			Role:        role,
		}
	}

	return validator, nil
}

func (v *StaticAPIKeyValidator) Validate(_ context.Context, apiKey string) (ledger.CallerContext, bool) {
	caller, ok := v.keys[apiKey]
	return caller, ok
}
