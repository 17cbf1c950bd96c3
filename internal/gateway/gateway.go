// Package gateway orchestrates one natural-language query request through
// synthesis, validation, execution, and composition. The validator is the
// only stage trusted for safety; synthesis and composition are best-effort
// collaborators.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/famledger/famledger/internal/compose"
	"github.com/famledger/famledger/internal/gate"
	"github.com/famledger/famledger/internal/ledger"
	"github.com/famledger/famledger/internal/nlsql"
	"github.com/famledger/famledger/internal/observability"
	"github.com/famledger/famledger/internal/schema"
)

type ErrorKind string

const (
	KindSynthesisUnavailable ErrorKind = "synthesis_unavailable"
	KindRejected             ErrorKind = "rejected"
	KindExecutionFailed      ErrorKind = "execution_failed"
)

// Error carries the request's failure taxonomy. Message is safe to show to
// the user; the underlying error stays in logs and audit rows.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Executor runs a validated statement read-only and returns all rows or an
// error; partial results are never surfaced.
type Executor interface {
	Execute(ctx context.Context, sql string) (columns []string, rows [][]any, err error)
}

// AuditSink records validation decisions for later review. Candidate SQL and
// the failed check are kept verbatim in the audit trail even though the user
// only ever sees a generic message.
type AuditSink interface {
	RecordQueryDecision(ctx context.Context, entry ledger.QueryAudit) error
}

type Answer struct {
	Answer string
	SQL    string
}

type Gateway struct {
	synthesizer nlsql.Synthesizer
	validator   *gate.Validator
	executor    Executor
	composer    *compose.Composer
	descriptor  schema.Descriptor
	audit       AuditSink
	logger      *slog.Logger
}

type Config struct {
	Synthesizer nlsql.Synthesizer
	Validator   *gate.Validator
	Executor    Executor
	Composer    *compose.Composer
	Descriptor  schema.Descriptor
	Audit       AuditSink
	Logger      *slog.Logger
}

func New(cfg Config) (*Gateway, error) {
	if cfg.Synthesizer == nil {
		return nil, fmt.Errorf("synthesizer is required")
	}
	if cfg.Validator == nil {
		return nil, fmt.Errorf("validator is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	composer := cfg.Composer
	if composer == nil {
		composer = compose.New(nil)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Gateway{
		synthesizer: cfg.Synthesizer,
		validator:   cfg.Validator,
		executor:    cfg.Executor,
		composer:    composer,
		descriptor:  cfg.Descriptor,
		audit:       cfg.Audit,
		logger:      logger,
	}, nil
}

// Ask drives the request through the fixed state order: synthesize, validate
// (with at most one rewrite pass), execute, compose. No state is skipped and
// no stage retries internally.
func (g *Gateway) Ask(ctx context.Context, question string, caller ledger.CallerContext) (Answer, error) {
	observability.ObserveAskRequest(string(caller.Role))
	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, &Error{Kind: KindRejected, Message: "question is required"}
	}

	synthesisStart := time.Now()
	candidate, err := g.synthesizer.Synthesize(ctx, nlsql.Request{
		Question:   question,
		Caller:     caller,
		SchemaText: g.descriptor.Describe(),
	})
	observability.ObserveSynthesisLatency(time.Since(synthesisStart), err == nil)
	if err != nil {
		return Answer{}, &Error{Kind: KindSynthesisUnavailable, Message: "could not interpret the question", Err: err}
	}

	final, vErr := g.validateOnce(ctx, question, caller, candidate.SQL)
	if vErr != nil {
		return Answer{}, vErr
	}

	columns, rows, err := g.executor.Execute(ctx, final)
	if err != nil {
		g.logger.ErrorContext(ctx, "query execution failed",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.Int64("user_id", caller.UserID),
			slog.Any("error", err),
		)
		return Answer{}, &Error{Kind: KindExecutionFailed, Message: "the query could not be completed", Err: err}
	}

	answer := g.composer.Compose(ctx, question, columns, rows)
	return Answer{Answer: answer, SQL: final}, nil
}

// validateOnce applies the gate and, when it rewrites, re-validates the
// rewritten statement exactly once. The second pass must come back clean;
// anything else fails the request rather than looping.
func (g *Gateway) validateOnce(ctx context.Context, question string, caller ledger.CallerContext, candidateSQL string) (string, *Error) {
	result := g.validator.Validate(candidateSQL, caller)
	observability.ObserveValidation(string(result.Outcome), string(result.FailedCheck))
	g.recordDecision(ctx, ledger.QueryAudit{
		UserID:       caller.UserID,
		HouseholdID:  caller.HouseholdID,
		Role:         caller.Role,
		Question:     question,
		CandidateSQL: candidateSQL,
		FinalSQL:     result.SQL,
		Outcome:      string(result.Outcome),
		FailedCheck:  string(result.FailedCheck),
		Reason:       result.Reason,
	})

	switch result.Outcome {
	case gate.OutcomeAccepted:
		return result.SQL, nil
	case gate.OutcomeRewritten:
		recheck := g.validator.Validate(result.SQL, caller)
		if recheck.Outcome != gate.OutcomeAccepted {
			g.logger.WarnContext(ctx, "rewritten statement failed re-validation",
				slog.String("trace_id", observability.TraceIDFromContext(ctx)),
				slog.String("check", string(recheck.FailedCheck)),
				slog.String("candidate_sql", result.SQL),
			)
			return "", &Error{Kind: KindRejected, Message: rejectionMessage(caller)}
		}
		return recheck.SQL, nil
	default:
		g.logger.WarnContext(ctx, "candidate query rejected",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.Int64("user_id", caller.UserID),
			slog.String("role", string(caller.Role)),
			slog.String("check", string(result.FailedCheck)),
			slog.String("reason", result.Reason),
			slog.String("candidate_sql", candidateSQL),
		)
		return "", &Error{Kind: KindRejected, Message: rejectionMessage(caller)}
	}
}

func (g *Gateway) recordDecision(ctx context.Context, entry ledger.QueryAudit) {
	if g.audit == nil {
		return
	}
	if err := g.audit.RecordQueryDecision(ctx, entry); err != nil {
		g.logger.WarnContext(ctx, "audit write failed",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.Any("error", err),
		)
	}
}

// rejectionMessage keeps user-facing rejection text generic; the specific
// failed check lives only in logs and the audit table.
func rejectionMessage(caller ledger.CallerContext) string {
	if caller.Role == ledger.RoleMember {
		return "you can only view your own data"
	}
	return "this question cannot be answered within your data scope"
}

// KindOf extracts the gateway error kind, if any.
func KindOf(err error) (ErrorKind, bool) {
	var gatewayErr *Error
	if errors.As(err, &gatewayErr) {
		return gatewayErr.Kind, true
	}
	return "", false
}
