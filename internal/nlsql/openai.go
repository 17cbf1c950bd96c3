package nlsql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/famledger/famledger/internal/ledger"
)

type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// OpenAISynthesizer calls an OpenAI-compatible chat-completions endpoint to
// turn a financial question into a single SELECT statement. The prompt states
// the caller's restriction explicitly, but the output is never trusted to
// have obeyed it; enforcement belongs to the gate package.
type OpenAISynthesizer struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	client      *http.Client
}

func NewOpenAISynthesizer(cfg OpenAIConfig) (*OpenAISynthesizer, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-5"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &OpenAISynthesizer{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       model,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

func (s *OpenAISynthesizer) Synthesize(ctx context.Context, req Request) (Candidate, error) {
	content, err := s.complete(ctx, synthesisPrompt(req))
	if err != nil {
		return Candidate{}, err
	}

	sql := stripMarkdownSQL(content)
	if strings.TrimSpace(sql) == "" {
		return Candidate{}, fmt.Errorf("%w: model returned empty SQL", ErrUnavailable)
	}
	return Candidate{
		SQL:         sql,
		Explanation: "generated from: " + strings.TrimSpace(req.Question),
		Model:       s.model,
	}, nil
}

// Summarize turns result rows back into a sentence. It shares the HTTP client
// and failure semantics with Synthesize; the compose package wraps it with a
// templated fallback.
func (s *OpenAISynthesizer) Summarize(ctx context.Context, question string, columns []string, rows [][]any) (string, error) {
	content, err := s.complete(ctx, summaryPrompt(question, columns, rows))
	if err != nil {
		return "", err
	}
	answer := strings.TrimSpace(content)
	if answer == "" {
		return "", fmt.Errorf("%w: model returned empty summary", ErrUnavailable)
	}
	return answer, nil
}

func (s *OpenAISynthesizer) complete(ctx context.Context, messages []chatMessage) (string, error) {
	payload := map[string]any{
		"model":       s.model,
		"messages":    messages,
		"temperature": s.temperature,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal chat payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response body: %v", ErrUnavailable, err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("%w: chat completion failed status=%d", ErrUnavailable, resp.StatusCode)
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rawBody, &parsed); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: empty chat completion choices", ErrUnavailable)
	}
	return parsed.Choices[0].Message.Content, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func synthesisPrompt(req Request) []chatMessage {
	system := "You convert a household finance question into a single PostgreSQL SELECT statement. " +
		"Return ONLY SQL. No markdown, no explanation."
	user := fmt.Sprintf(
		"%s\nCaller restriction:\n%s\n\nQuestion:\n%s\n\nRules:\n"+
			"- Use only the listed tables with their bare names.\n"+
			"- A single SELECT statement; no CTEs, subqueries, unions, or comments.\n"+
			"- Add LIMIT 200 unless the question asks otherwise.\n"+
			"- Output the SQL only.",
		req.SchemaText,
		restrictionText(req.Caller),
		strings.TrimSpace(req.Question),
	)
	return []chatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}

func summaryPrompt(question string, columns []string, rows [][]any) []chatMessage {
	rowsJSON, _ := json.Marshal(rows)
	system := "You summarize query results as one short, friendly sentence for a family budget app. " +
		"Do not invent numbers; use only the rows provided."
	user := fmt.Sprintf("Question:\n%s\n\nColumns: %s\nRows (JSON):\n%s",
		strings.TrimSpace(question), strings.Join(columns, ", "), string(rowsJSON))
	return []chatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}

// restrictionText states the caller's scope for the prompt. This is advisory
// only; the validator enforces the same restriction deterministically.
func restrictionText(caller ledger.CallerContext) string {
	switch caller.Role {
	case ledger.RoleAdmin:
		return "This caller may only see rows belonging to household " + strconv.FormatInt(caller.HouseholdID, 10) +
			"; scope financial tables with user_id IN (SELECT user_id FROM household_members WHERE household_id = " +
			strconv.FormatInt(caller.HouseholdID, 10) + ")."
	case ledger.RoleSuperadmin:
		return "This caller may read across all households."
	default:
		return "This caller may only see rows where user_id = " + strconv.FormatInt(caller.UserID, 10) + "."
	}
}

func stripMarkdownSQL(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}
