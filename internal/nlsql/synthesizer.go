package nlsql

import (
	"context"
	"errors"

	"github.com/famledger/famledger/internal/ledger"
)

// ErrUnavailable is returned whenever the language model could not produce a
// usable candidate: outage, timeout, or empty/malformed output. The caller
// decides whether to retry; the gateway never retries on its own.
var ErrUnavailable = errors.New("nlsql: synthesis unavailable")

type Request struct {
	Question   string
	Caller     ledger.CallerContext
	SchemaText string
}

// Candidate is the model's proposal. It is untrusted input to the safety
// gate; Explanation is display material only and never influences validation.
type Candidate struct {
	SQL         string
	Explanation string
	Model       string
}

type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (Candidate, error)
}

// Unavailable is the synthesizer used when no model is configured. Every
// request fails with ErrUnavailable so the gateway reports the outage
// uniformly instead of guessing at SQL itself.
type Unavailable struct{}

func (Unavailable) Synthesize(context.Context, Request) (Candidate, error) {
	return Candidate{}, ErrUnavailable
}
