package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ragsql/ragsql/internal/schema"
	"github.com/ragsql/ragsql/internal/storage"
	"github.com/ragsql/ragsql/internal/vectorstore"
)

type introspectRequest struct {
	Schema string `json:"schema"`
}

type fetchRequest struct {
	Key string `json:"key"`
}

func handleListSources(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requirePipeline(deps, w, r) {
		return
	}
	sources, err := deps.Pipeline.Sources(r.Context())
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	if sources == nil {
		sources = []vectorstore.SourceSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": sources})
}

// handlePutSchema ingests the request body as a schema document. YAML is
// chosen by Content-Type, JSON otherwise.
func handlePutSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requirePipeline(deps, w, r) {
		return
	}
	source := strings.TrimSpace(r.PathValue("source"))

	doc, err := schema.Decode(limitBody(deps, w, r), schema.FormatFromContentType(r.Header.Get("Content-Type")))
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "DOCUMENT_TOO_LARGE", "schema document is too large", false, map[string]any{"limit_bytes": maxBytesErr.Limit})
			return
		}
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_DOCUMENT", "invalid schema document", false, map[string]any{"details": err.Error()})
		return
	}

	summary, err := deps.Pipeline.Ingest(r.Context(), source, doc)
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func handleIntrospectSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requirePipeline(deps, w, r) {
		return
	}
	var request introspectRequest
	if err := decodeRequest(deps, w, r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "invalid introspect request body", false, map[string]any{"details": err.Error()})
		return
	}
	schemaName := strings.TrimSpace(request.Schema)
	if schemaName == "" {
		schemaName = deps.IntrospectSchema
	}

	summary, err := deps.Pipeline.IngestLive(r.Context(), r.PathValue("source"), schemaName)
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func handleFetchSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requirePipeline(deps, w, r) {
		return
	}
	var request fetchRequest
	if err := decodeRequest(deps, w, r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "invalid fetch request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Key) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "key is required", false, nil)
		return
	}

	summary, err := deps.Pipeline.IngestObject(r.Context(), r.PathValue("source"), request.Key)
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func handleClearSource(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requirePipeline(deps, w, r) {
		return
	}
	source := r.PathValue("source")
	if err := deps.Pipeline.Clear(r.Context(), source); err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "cleared", "source": strings.TrimSpace(source)})
}

func handleClearAll(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requirePipeline(deps, w, r) {
		return
	}
	if err := deps.Pipeline.ClearAll(r.Context()); err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "cleared"})
}

func handleListDocuments(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requirePipeline(deps, w, r) {
		return
	}
	documents, err := deps.Pipeline.ListDocuments(r.Context(), r.URL.Query().Get("prefix"))
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	if documents == nil {
		documents = []storage.ObjectInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": documents})
}
