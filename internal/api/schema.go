package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/famledger/famledger/internal/schema"
)

type schemaTableResponse struct {
	Name        string   `json:"name"`
	Columns     []string `json:"columns"`
	Description string   `json:"description"`
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if _, err := callerFromRequest(r); err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "CALLER_REQUIRED", err.Error(), false, nil)
		return
	}

	tables := deps.Descriptor.Tables()
	items := make([]schemaTableResponse, 0, len(tables))
	for _, table := range tables {
		items = append(items, schemaTableResponse{
			Name:        table.Name,
			Columns:     table.Columns,
			Description: table.Description,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": schema.Version,
		"tables":  items,
	})
}

type summaryRowResponse struct {
	Category string `json:"category"`
	Total    string `json:"total"`
}

// handleSummary returns per-category expense totals for one calendar month,
// scoped to the caller. Defaults to the current month.
func handleSummary(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	caller, ok := requireRepository(deps, w, r)
	if !ok {
		return
	}

	now := time.Now().UTC()
	year, month := now.Year(), int(now.Month())
	if raw := r.URL.Query().Get("year"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1970 || parsed > 9999 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_YEAR", "year must be a four-digit year", false, nil)
			return
		}
		year = parsed
	}
	if raw := r.URL.Query().Get("month"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 12 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_MONTH", "month must be between 1 and 12", false, nil)
			return
		}
		month = parsed
	}

	totals, err := deps.Repository.MonthlySummary(r.Context(), caller, year, month)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "STORE_ERROR", "failed to compute summary", true, nil)
		return
	}

	rows := make([]summaryRowResponse, 0, len(totals))
	for _, total := range totals {
		rows = append(rows, summaryRowResponse{Category: total.Category, Total: total.Total.String()})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"year":       year,
		"month":      month,
		"categories": rows,
	})
}
