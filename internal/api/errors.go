package api

import (
	"errors"
	"net/http"

	"github.com/ragsql/ragsql/internal/embedding"
	"github.com/ragsql/ragsql/internal/llm"
	"github.com/ragsql/ragsql/internal/pipeline"
	"github.com/ragsql/ragsql/internal/retrieval"
	"github.com/ragsql/ragsql/internal/storage"
	"github.com/ragsql/ragsql/internal/target"
	"github.com/ragsql/ragsql/internal/vectorstore"
)

// writePipelineError maps a pipeline failure onto the error envelope.
func writePipelineError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	stage := pipeline.StageOf(err)
	details := map[string]any{"details": err.Error()}
	if stage != "" {
		details["stage"] = stage
	}

	var (
		embedErr     *embedding.Error
		genErr       *llm.GenerationError
		rejection    *pipeline.SafetyRejection
		execErr      *target.ExecutionError
		maxBytesErr  *http.MaxBytesError
		vectorErr    *vectorstore.Error
		invalidInput = errors.Is(err, pipeline.ErrInvalidSource) ||
			errors.Is(err, retrieval.ErrEmptyQuestion) ||
			errors.Is(err, vectorstore.ErrInvalidK)
	)

	switch {
	case invalidInput:
		writeError(ctx, w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), false, details)
	case errors.As(err, &maxBytesErr), errors.Is(err, storage.ErrObjectTooLarge):
		writeError(ctx, w, http.StatusRequestEntityTooLarge, "DOCUMENT_TOO_LARGE", "schema document is too large", false, details)
	case errors.Is(err, pipeline.ErrDocumentsUnavailable):
		writeError(ctx, w, http.StatusNotImplemented, "OBJECT_STORE_NOT_CONFIGURED", "object store is not configured", false, nil)
	case errors.Is(err, pipeline.ErrTargetUnavailable):
		writeError(ctx, w, http.StatusNotImplemented, "TARGET_NOT_CONFIGURED", "target database is not configured", false, nil)
	case errors.As(err, &rejection):
		writeError(ctx, w, http.StatusUnprocessableEntity, "SQL_REJECTED", "generated sql was rejected by the safety validator", false, map[string]any{
			"reason": rejection.Reason,
			"sql":    rejection.SQL,
		})
	case errors.Is(err, pipeline.ErrNoSQLGenerated):
		writeError(ctx, w, http.StatusUnprocessableEntity, "NO_SQL_GENERATED", "model output contained no sql statement", false, nil)
	case errors.As(err, &genErr):
		writeError(ctx, w, http.StatusBadGateway, "GENERATION_FAILED", "sql generation failed", generationRetryable(genErr), map[string]any{
			"provider":    genErr.Provider,
			"kind":        string(genErr.Kind),
			"status_code": genErr.StatusCode,
			"details":     errText(genErr.Err),
		})
	case errors.As(err, &embedErr):
		writeError(ctx, w, http.StatusBadGateway, "EMBEDDING_FAILED", "embedding failed", errors.Is(err, embedding.ErrModelUnavailable), map[string]any{
			"provider": embedErr.Provider,
			"stage":    stage,
			"details":  errText(embedErr.Err),
		})
	case errors.As(err, &execErr):
		writeError(ctx, w, http.StatusBadRequest, "EXECUTION_FAILED", "query execution failed", false, map[string]any{"details": execErr.Error()})
	case stage == pipeline.StageFetch && errors.Is(err, storage.ErrObjectNotFound):
		writeError(ctx, w, http.StatusNotFound, "DOCUMENT_NOT_FOUND", "schema document was not found", false, details)
	case stage == pipeline.StageFetch:
		writeError(ctx, w, http.StatusBadGateway, "FETCH_FAILED", "failed to fetch schema document", true, details)
	case stage == pipeline.StageChunk, errors.Is(err, vectorstore.ErrInvalidChunk):
		writeError(ctx, w, http.StatusBadRequest, "INVALID_DOCUMENT", "invalid schema document", false, details)
	case stage == pipeline.StageIntrospect:
		writeError(ctx, w, http.StatusBadGateway, "INTROSPECTION_FAILED", "failed to introspect target schema", true, details)
	case stage == pipeline.StageRetrieve:
		writeError(ctx, w, http.StatusServiceUnavailable, "RETRIEVAL_FAILED", "schema retrieval failed", true, details)
	case stage == pipeline.StageStore, errors.As(err, &vectorErr):
		writeError(ctx, w, http.StatusServiceUnavailable, "VECTOR_STORE_FAILED", "vector store operation failed", true, details)
	default:
		writeError(ctx, w, http.StatusInternalServerError, "INTERNAL", "internal error", false, details)
	}
}

func generationRetryable(err *llm.GenerationError) bool {
	switch err.Kind {
	case llm.KindNetwork, llm.KindTimeout, llm.KindRateLimit, llm.KindServer:
		return true
	default:
		return false
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
