package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/famledger/famledger/internal/auth"
	"github.com/famledger/famledger/internal/config"
	"github.com/famledger/famledger/internal/gateway"
	"github.com/famledger/famledger/internal/ledger"
	"github.com/famledger/famledger/internal/observability"
	"github.com/famledger/famledger/internal/schema"
)

type ReadinessCheck func(ctx context.Context) error

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Repository        ledger.Repository
	Gateway           *gateway.Gateway
	Descriptor        schema.Descriptor
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := http.NewServeMux()
	protected.HandleFunc("POST /v1/ask", func(w http.ResponseWriter, r *http.Request) {
		handleAsk(deps, w, r)
	})
	protected.HandleFunc("GET /v1/schema", func(w http.ResponseWriter, r *http.Request) {
		handleSchema(deps, w, r)
	})
	protected.HandleFunc("GET /v1/summary", func(w http.ResponseWriter, r *http.Request) {
		handleSummary(deps, w, r)
	})

	for _, kind := range recordKinds {
		kind := kind
		protected.HandleFunc("POST /v1/"+kind.path, func(w http.ResponseWriter, r *http.Request) {
			kind.create(deps, w, r)
		})
		protected.HandleFunc("GET /v1/"+kind.path, func(w http.ResponseWriter, r *http.Request) {
			kind.list(deps, w, r)
		})
		protected.HandleFunc("DELETE /v1/"+kind.path+"/{id}", func(w http.ResponseWriter, r *http.Request) {
			kind.delete(deps, w, r)
		})
	}

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	mux.Handle("POST /v1/ask", protectedHandler)
	mux.Handle("GET /v1/schema", protectedHandler)
	mux.Handle("GET /v1/summary", protectedHandler)
	for _, kind := range recordKinds {
		mux.Handle("POST /v1/"+kind.path, protectedHandler)
		mux.Handle("GET /v1/"+kind.path, protectedHandler)
		mux.Handle("DELETE /v1/"+kind.path+"/{id}", protectedHandler)
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CheckDatabaseDSN(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.Database.DSN == "" {
			return errors.New("database dsn is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

// callerFromRequest resolves the trusted caller context. With auth disabled
// (dev/test profiles), the context can be supplied through headers instead.
func callerFromRequest(r *http.Request) (ledger.CallerContext, error) {
	if caller, ok := auth.CallerFromContext(r.Context()); ok {
		return caller, nil
	}

	var caller ledger.CallerContext
	if _, err := fmt.Sscanf(r.Header.Get("X-User-ID"), "%d", &caller.UserID); err != nil {
		return ledger.CallerContext{}, errors.New("caller context is required")
	}
	if _, err := fmt.Sscanf(r.Header.Get("X-Household-ID"), "%d", &caller.HouseholdID); err != nil {
		return ledger.CallerContext{}, errors.New("caller context is required")
	}
	role, ok := ledger.ParseRole(r.Header.Get("X-Role"))
	if !ok {
		return ledger.CallerContext{}, errors.New("caller context is required")
	}
	caller.Role = role
	return caller, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
