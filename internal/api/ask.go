package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/famledger/famledger/internal/gateway"
)

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	Answer string `json:"answer"`
	SQL    string `json:"sql"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Gateway == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASK_NOT_CONFIGURED", "query gateway is not configured", false, nil)
		return
	}

	caller, err := callerFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "CALLER_REQUIRED", err.Error(), false, nil)
		return
	}

	var request askRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}

	answer, err := deps.Gateway.Ask(r.Context(), request.Question, caller)
	if err != nil {
		writeAskError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, askResponse{Answer: answer.Answer, SQL: answer.SQL})
}

// writeAskError maps the gateway failure taxonomy onto HTTP. Rejections carry
// the gateway's generic message; upstream failures never leak details to the
// caller.
func writeAskError(w http.ResponseWriter, r *http.Request, err error) {
	kind, ok := gateway.KindOf(err)
	if !ok {
		writeError(r.Context(), w, http.StatusInternalServerError, "ASK_FAILED", "the question could not be answered", true, nil)
		return
	}

	message := "the question could not be answered"
	var gatewayErr *gateway.Error
	if errors.As(err, &gatewayErr) && gatewayErr.Message != "" {
		message = gatewayErr.Message
	}

	switch kind {
	case gateway.KindRejected:
		writeError(r.Context(), w, http.StatusUnprocessableEntity, "QUERY_REJECTED", message, false, nil)
	case gateway.KindSynthesisUnavailable:
		writeError(r.Context(), w, http.StatusBadGateway, "SYNTHESIS_UNAVAILABLE", "the question could not be interpreted right now", true, nil)
	case gateway.KindExecutionFailed:
		writeError(r.Context(), w, http.StatusBadGateway, "EXECUTION_FAILED", "the query could not be completed", true, nil)
	default:
		writeError(r.Context(), w, http.StatusInternalServerError, "ASK_FAILED", message, true, nil)
	}
}
