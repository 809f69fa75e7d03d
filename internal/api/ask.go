package api

import (
	"net/http"

	"github.com/ragsql/ragsql/internal/pipeline"
	"github.com/ragsql/ragsql/internal/vectorstore"
)

type retrieveRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
}

type askRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
	// Execute defaults to true when omitted.
	Execute *bool `json:"execute"`
}

type contextChunk struct {
	Source      string  `json:"source"`
	SourceTable string  `json:"source_table"`
	Key         string  `json:"chunk_key"`
	Kind        string  `json:"kind"`
	Text        string  `json:"text"`
	Score       float64 `json:"score"`
}

type verdictResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

type resultResponse struct {
	Columns    []string `json:"columns"`
	Rows       [][]any  `json:"rows"`
	RowCount   int      `json:"row_count"`
	Truncated  bool     `json:"truncated"`
	DurationMs int64    `json:"duration_ms"`
}

type askResponse struct {
	Question  string           `json:"question"`
	Context   []contextChunk   `json:"context"`
	Prompt    string           `json:"prompt"`
	RawOutput string           `json:"raw_output"`
	SQL       *string          `json:"sql"`
	Provider  string           `json:"provider"`
	Model     string           `json:"model"`
	Verdict   *verdictResponse `json:"verdict"`
	Result    *resultResponse  `json:"result"`
}

func handleRetrieve(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requirePipeline(deps, w, r) {
		return
	}
	var request retrieveRequest
	if err := decodeRequest(deps, w, r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "invalid retrieve request body", false, map[string]any{"details": err.Error()})
		return
	}

	matches, err := deps.Pipeline.Retrieve(r.Context(), request.Question, request.TopK)
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"question": request.Question, "context": toContextChunks(matches)})
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requirePipeline(deps, w, r) {
		return
	}
	var request askRequest
	if err := decodeRequest(deps, w, r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	execute := true
	if request.Execute != nil {
		execute = *request.Execute
	}

	answer, err := deps.Pipeline.Ask(r.Context(), pipeline.AskRequest{
		Question: request.Question,
		TopK:     request.TopK,
		Execute:  execute,
	})
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAskResponse(answer))
}

func toContextChunks(matches []vectorstore.Match) []contextChunk {
	out := make([]contextChunk, 0, len(matches))
	for _, match := range matches {
		out = append(out, contextChunk{
			Source:      match.Chunk.Source,
			SourceTable: match.Chunk.SourceTable,
			Key:         match.Chunk.Key,
			Kind:        match.Chunk.Kind,
			Text:        match.Chunk.Text,
			Score:       match.Score,
		})
	}
	return out
}

func toAskResponse(answer pipeline.Answer) askResponse {
	response := askResponse{
		Question: answer.Question,
		Context:  toContextChunks(answer.Context),
		Prompt:   answer.Prompt,
	}
	if answer.Generation != nil {
		response.RawOutput = answer.Generation.RawText
		response.SQL = answer.Generation.SQL
		response.Provider = answer.Generation.Provider
		response.Model = answer.Generation.Model
	}
	if answer.Verdict != nil {
		response.Verdict = &verdictResponse{Allowed: answer.Verdict.Allowed, Reason: answer.Verdict.Reason}
	}
	if answer.Result != nil {
		rows := answer.Result.Rows
		if rows == nil {
			rows = [][]any{}
		}
		response.Result = &resultResponse{
			Columns:    answer.Result.Columns,
			Rows:       rows,
			RowCount:   len(rows),
			Truncated:  answer.Result.Truncated,
			DurationMs: answer.Result.Duration.Milliseconds(),
		}
	}
	return response
}
