package pipeline

import (
	"errors"
	"fmt"
)

const (
	StageChunk      = "chunk"
	StageEmbed      = "embed"
	StageStore      = "store"
	StageIntrospect = "introspect"
	StageFetch      = "fetch"
	StageRetrieve   = "retrieve"
	StageGenerate   = "generate"
	StageExtract    = "extract"
	StageValidate   = "validate"
	StageExecute    = "execute"
)

var (
	ErrNoSQLGenerated       = errors.New("no sql statement found in model output")
	ErrEmptyDocument        = errors.New("schema document has no tables")
	ErrInvalidSource        = errors.New("invalid schema source name")
	ErrDocumentsUnavailable = errors.New("object store is not configured")
	ErrTargetUnavailable    = errors.New("target database is not configured")
)

// StageError names the pipeline stage that failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// SafetyRejection is returned when a generated statement fails validation.
// SQL is the rejected statement as extracted from the model output.
type SafetyRejection struct {
	Reason string
	SQL    string
}

func (e *SafetyRejection) Error() string {
	return "sql rejected: " + e.Reason
}

// StageOf returns the failing stage carried by err, or "" when err did not
// come from the pipeline.
func StageOf(err error) string {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage
	}
	return ""
}

func stageErr(stage string, err error) error {
	return &StageError{Stage: stage, Err: err}
}
