package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ragsql/ragsql/internal/config"
	"github.com/ragsql/ragsql/internal/observability"
	"github.com/ragsql/ragsql/internal/pipeline"
	"github.com/ragsql/ragsql/internal/schema"
	"github.com/ragsql/ragsql/internal/storage"
	"github.com/ragsql/ragsql/internal/vectorstore"
)

const defaultMaxBodyBytes int64 = 8 << 20

type ReadinessCheck func(ctx context.Context) error

// Pipeline is the slice of *pipeline.Service the handlers call.
type Pipeline interface {
	Ingest(ctx context.Context, source string, doc schema.Document) (pipeline.IngestSummary, error)
	IngestLive(ctx context.Context, source, schemaName string) (pipeline.IngestSummary, error)
	IngestObject(ctx context.Context, source, key string) (pipeline.IngestSummary, error)
	Clear(ctx context.Context, source string) error
	ClearAll(ctx context.Context) error
	Sources(ctx context.Context) ([]vectorstore.SourceSummary, error)
	ListDocuments(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
	Retrieve(ctx context.Context, question string, k int) ([]vectorstore.Match, error)
	Ask(ctx context.Context, req pipeline.AskRequest) (pipeline.Answer, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	DependencyTimeout time.Duration
	Pipeline          Pipeline
	// IntrospectSchema is used when an introspect request names no schema.
	IntrospectSchema string
	MaxBodyBytes     int64
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

	mux.HandleFunc("GET /v1/schemas", func(w http.ResponseWriter, r *http.Request) {
		handleListSources(deps, w, r)
	})
	mux.HandleFunc("PUT /v1/schemas/{source}", func(w http.ResponseWriter, r *http.Request) {
		handlePutSchema(deps, w, r)
	})
	mux.HandleFunc("POST /v1/schemas/{source}/introspect", func(w http.ResponseWriter, r *http.Request) {
		handleIntrospectSchema(deps, w, r)
	})
	mux.HandleFunc("POST /v1/schemas/{source}/fetch", func(w http.ResponseWriter, r *http.Request) {
		handleFetchSchema(deps, w, r)
	})
	mux.HandleFunc("DELETE /v1/schemas/{source}", func(w http.ResponseWriter, r *http.Request) {
		handleClearSource(deps, w, r)
	})
	mux.HandleFunc("DELETE /v1/schemas", func(w http.ResponseWriter, r *http.Request) {
		handleClearAll(deps, w, r)
	})
	mux.HandleFunc("GET /v1/documents", func(w http.ResponseWriter, r *http.Request) {
		handleListDocuments(deps, w, r)
	})
	mux.HandleFunc("POST /v1/retrieve", func(w http.ResponseWriter, r *http.Request) {
		handleRetrieve(deps, w, r)
	})
	mux.HandleFunc("POST /v1/ask", func(w http.ResponseWriter, r *http.Request) {
		handleAsk(deps, w, r)
	})

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

// NamedCheck prefixes failures of check with the dependency name.
func NamedCheck(name string, check func(ctx context.Context) error) ReadinessCheck {
	if check == nil {
		return nil
	}
	return func(ctx context.Context) error {
		if err := check(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
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

func requirePipeline(deps Dependencies, w http.ResponseWriter, r *http.Request) bool {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PIPELINE_NOT_CONFIGURED", "pipeline dependencies are not configured", false, nil)
		return false
	}
	return true
}

func limitBody(deps Dependencies, w http.ResponseWriter, r *http.Request) io.Reader {
	limit := deps.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	return http.MaxBytesReader(w, r.Body, limit)
}

// decodeRequest decodes a small JSON request body. An empty body leaves
// dst untouched.
func decodeRequest(deps Dependencies, w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(limitBody(deps, w, r))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
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
