package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ragsql/ragsql/internal/observability"
	"github.com/ragsql/ragsql/internal/prompt"
	"github.com/ragsql/ragsql/internal/sqlguard"
	"github.com/ragsql/ragsql/internal/target"
	"github.com/ragsql/ragsql/internal/vectorstore"
)

const (
	OutcomeExecuted  = "executed"
	OutcomeGenerated = "generated"
	OutcomeRejected  = "rejected"
	OutcomeNoSQL     = "no_sql"
	OutcomeFailed    = "failed"
)

type AskRequest struct {
	Question string
	TopK     int
	// Execute runs an allowed statement against the target database.
	Execute bool
}

// GenerationRequest is built once per question and consumed by one
// generate call.
type GenerationRequest struct {
	Question string
	Context  []vectorstore.Match
	Provider string
}

func (r GenerationRequest) Prompt() string {
	return prompt.Build(r.Question, r.Context)
}

// Generation is the model output. SQL is nil when no statement was found.
type Generation struct {
	RawText  string
	SQL      *string
	Provider string
	Model    string
}

// Answer is filled up to the stage that failed.
type Answer struct {
	Question   string
	Context    []vectorstore.Match
	Prompt     string
	Generation *Generation
	Verdict    *sqlguard.Verdict
	Result     *target.Result
}

// Ask runs retrieve, generate, extract, validate and, when requested,
// execute, in that order. The executor only sees statements that passed
// validation, byte for byte. Asking to execute without a target fails
// before any model call.
func (s *Service) Ask(ctx context.Context, req AskRequest) (Answer, error) {
	logger := observability.WithTrace(ctx, s.Logger)
	answer := Answer{Question: req.Question}

	if req.Execute && s.Executor == nil {
		observability.ObserveAsk(OutcomeFailed)
		return answer, stageErr(StageExecute, ErrTargetUnavailable)
	}

	matches, err := s.Retrieve(ctx, req.Question, req.TopK)
	if err != nil {
		logger.ErrorContext(ctx, "retrieve schema context failed", slog.Any("error", err))
		observability.ObserveAsk(OutcomeFailed)
		return answer, err
	}
	answer.Context = matches
	logger.DebugContext(ctx, "schema context retrieved", slog.Int("matches", len(matches)))

	request := GenerationRequest{Question: req.Question, Context: matches, Provider: s.Generator.Name()}
	answer.Prompt = request.Prompt()

	start := time.Now()
	result, err := s.Generator.Generate(ctx, answer.Prompt)
	observability.ObserveStage(StageGenerate, time.Since(start))
	if err != nil {
		logger.ErrorContext(ctx, "generate sql failed", slog.String("provider", request.Provider), slog.Any("error", err))
		observability.ObserveAsk(OutcomeFailed)
		return answer, stageErr(StageGenerate, err)
	}
	generation := &Generation{RawText: result.Text, Provider: result.Provider, Model: result.Model}
	answer.Generation = generation
	logger.DebugContext(ctx, "sql generated", slog.String("provider", result.Provider), slog.String("model", result.Model))

	sql, ok := sqlguard.Extract(result.Text)
	if !ok {
		logger.WarnContext(ctx, "model output contained no sql", slog.String("provider", result.Provider))
		observability.ObserveAsk(OutcomeNoSQL)
		return answer, stageErr(StageExtract, ErrNoSQLGenerated)
	}
	generation.SQL = &sql

	start = time.Now()
	verdict := sqlguard.Validate(sql)
	observability.ObserveStage(StageValidate, time.Since(start))
	answer.Verdict = &verdict
	if !verdict.Allowed {
		observability.IncrementSafetyRejection(verdict.Reason)
		observability.ObserveAsk(OutcomeRejected)
		logger.WarnContext(ctx, "generated sql rejected", slog.String("reason", verdict.Reason), slog.String("sql", sql))
		return answer, stageErr(StageValidate, &SafetyRejection{Reason: verdict.Reason, SQL: sql})
	}

	if !req.Execute {
		observability.ObserveAsk(OutcomeGenerated)
		return answer, nil
	}

	start = time.Now()
	rows, err := s.Executor.Execute(ctx, verdict.SQL)
	observability.ObserveStage(StageExecute, time.Since(start))
	if err != nil {
		logger.ErrorContext(ctx, "execute sql failed", slog.Any("error", err))
		observability.ObserveAsk(OutcomeFailed)
		var execErr *target.ExecutionError
		if !errors.As(err, &execErr) {
			err = &target.ExecutionError{Err: err}
		}
		return answer, stageErr(StageExecute, err)
	}
	answer.Result = &rows
	logger.DebugContext(ctx, "sql executed", slog.Int("rows", len(rows.Rows)), slog.Bool("truncated", rows.Truncated))
	observability.ObserveAsk(OutcomeExecuted)
	return answer, nil
}
