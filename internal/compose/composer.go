// Package compose turns raw query rows back into a natural-language answer.
// It is best-effort: when the model is unavailable it falls back to a
// templated rendering so the user always gets some answer.
package compose

import (
	"context"
	"fmt"
	"strings"

	"github.com/famledger/famledger/internal/observability"
)

// Summarizer is the model-backed half; nlsql.OpenAISynthesizer satisfies it.
type Summarizer interface {
	Summarize(ctx context.Context, question string, columns []string, rows [][]any) (string, error)
}

type Composer struct {
	summarizer Summarizer
}

// New builds a composer. A nil summarizer is valid and means the templated
// fallback is always used.
func New(summarizer Summarizer) *Composer {
	return &Composer{summarizer: summarizer}
}

func (c *Composer) Compose(ctx context.Context, question string, columns []string, rows [][]any) string {
	if c.summarizer != nil {
		answer, err := c.summarizer.Summarize(ctx, question, columns, rows)
		if err == nil && strings.TrimSpace(answer) != "" {
			return answer
		}
		observability.IncrementCompositionFallback()
	}
	return Fallback(columns, rows)
}

// Fallback renders rows deterministically. Single-cell results read as a
// plain value, everything else as "column=value" pairs per row.
func Fallback(columns []string, rows [][]any) string {
	if len(rows) == 0 {
		return "No matching records were found."
	}
	if len(rows) == 1 && len(rows[0]) == 1 {
		return fmt.Sprintf("The result is %s.", formatValue(rows[0][0]))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d row(s):", len(rows))
	shown := rows
	const maxShown = 10
	if len(shown) > maxShown {
		shown = shown[:maxShown]
	}
	for _, row := range shown {
		b.WriteString(" [")
		for i, value := range row {
			if i > 0 {
				b.WriteString(", ")
			}
			if i < len(columns) {
				b.WriteString(columns[i])
				b.WriteString("=")
			}
			b.WriteString(formatValue(value))
		}
		b.WriteString("]")
	}
	if len(rows) > maxShown {
		fmt.Fprintf(&b, " and %d more", len(rows)-maxShown)
	}
	b.WriteString(".")
	return b.String()
}

func formatValue(value any) string {
	if value == nil {
		return "null"
	}
	switch v := value.(type) {
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
