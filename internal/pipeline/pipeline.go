// Package pipeline drives one question through the generate, validate,
// execute, correct loop as an explicit state machine with a bounded number
// of generation attempts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Iriajul/LLM-model/internal/cache"
	"github.com/Iriajul/LLM-model/internal/executor"
	"github.com/Iriajul/LLM-model/internal/llm"
	"github.com/Iriajul/LLM-model/internal/observability"
	"github.com/Iriajul/LLM-model/internal/schema"
	"github.com/Iriajul/LLM-model/internal/sqlcheck"
)

type state int

const (
	stateFetchSchema state = iota
	stateGenerate
	stateValidate
	stateExecute
	stateFormat
	stateCorrect
	stateDone
	stateAborted
)

// Status of a finished run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusAborted Status = "aborted"
)

// AbortReason explains a run that produced no answer.
type AbortReason string

const (
	AbortSchemaFetchFailed   AbortReason = "SCHEMA_FETCH_FAILED"
	AbortCorrectionExhausted AbortReason = "CORRECTION_EXHAUSTED"
	AbortCancelled           AbortReason = "CANCELLED"
)

var ErrCorrectionExhausted = errors.New("correction attempts exhausted")

// Attempt records one generation round for the response and the logs.
type Attempt struct {
	SQL     string `json:"sql"`
	Stage   string `json:"stage"`
	Failure string `json:"failure,omitempty"`
}

// Result is the outcome of one pipeline run.
type Result struct {
	Answer      string
	SQL         string
	Columns     []string
	Rows        [][]any
	RowCount    int
	Truncated   bool
	Attempts    int
	Status      Status
	AbortReason AbortReason
	Degraded    bool
	Cached      bool
	History     []Attempt
}

// SchemaSource yields the schema snapshot a run is pinned to.
type SchemaSource interface {
	Fetch(ctx context.Context, force bool) (*schema.Snapshot, error)
}

// QueryExecutor runs validated SQL.
type QueryExecutor interface {
	Execute(ctx context.Context, sqlText string) (executor.Result, error)
}

type Config struct {
	MaxAttempts int
	ConfigEpoch string
}

// Dependencies wires the pipeline's collaborators.
type Dependencies struct {
	Schema    SchemaSource
	Generator llm.Client
	Validator *sqlcheck.Validator
	Executor  QueryExecutor
	Cache     cache.Store
	Logger    Logger
}

// Logger is the slice of slog the pipeline uses.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type Runner struct {
	deps        Dependencies
	maxAttempts int
	configEpoch string
}

func New(deps Dependencies, cfg Config) (*Runner, error) {
	if deps.Schema == nil || deps.Generator == nil || deps.Validator == nil || deps.Executor == nil {
		return nil, errors.New("pipeline requires schema source, generator, validator, and executor")
	}
	if deps.Cache == nil {
		deps.Cache = cache.Noop{}
	}
	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Runner{deps: deps, maxAttempts: maxAttempts, configEpoch: cfg.ConfigEpoch}, nil
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// run carries the mutable state of one question across machine steps.
type run struct {
	question string
	snap     *schema.Snapshot
	key      string

	attempt int
	sql     string
	failure string
	stage   string

	execResult executor.Result
	cached     *cache.Entry
	history    []Attempt
	abort      AbortReason
	abortErr   error
}

// Ask answers one natural-language question. The loop below is the whole
// machine; every transition is a case, and correction re-enters generation
// with the previous SQL and failure attached.
func (r *Runner) Ask(ctx context.Context, question string) (Result, error) {
	current := stateFetchSchema
	rc := &run{question: question}

	for {
		switch current {
		case stateFetchSchema:
			current = r.stepFetchSchema(ctx, rc)
		case stateGenerate:
			current = r.stepGenerate(ctx, rc)
		case stateValidate:
			current = r.stepValidate(rc)
		case stateExecute:
			current = r.stepExecute(ctx, rc)
		case stateCorrect:
			current = r.stepCorrect(ctx, rc)
		case stateFormat:
			return r.finish(ctx, rc)
		case stateDone:
			// cache hits jump straight here
			return r.cachedResult(rc), nil
		case stateAborted:
			observability.ObservePipelineRun(string(StatusAborted), rc.attempt)
			return Result{
				Status:      StatusAborted,
				AbortReason: rc.abort,
				Attempts:    rc.attempt,
				History:     rc.history,
			}, rc.abortErr
		}
	}
}

func (r *Runner) stepFetchSchema(ctx context.Context, rc *run) state {
	snap, err := r.deps.Schema.Fetch(ctx, false)
	if err != nil {
		rc.abort = AbortSchemaFetchFailed
		rc.abortErr = fmt.Errorf("fetch schema: %w", err)
		return stateAborted
	}
	rc.snap = snap
	rc.key = cache.Fingerprint(rc.question, snap.Version, r.configEpoch)

	if entry, ok := r.deps.Cache.Get(ctx, rc.key); ok && entry.SchemaVersion == snap.Version {
		rc.cached = &entry
		return stateDone
	}
	return stateGenerate
}

func (r *Runner) stepGenerate(ctx context.Context, rc *run) state {
	if rc.attempt >= r.maxAttempts {
		rc.abort = AbortCorrectionExhausted
		rc.abortErr = ErrCorrectionExhausted
		return stateAborted
	}
	rc.attempt++

	prompt := llm.PromptSpec{
		Role:       llm.RoleGenerate,
		Question:   rc.question,
		SchemaName: rc.snap.SchemaName,
		SchemaDDL:  rc.snap.DDL(),
	}
	if rc.failure != "" {
		prompt.Role = llm.RoleCorrect
		prompt.PriorSQL = rc.sql
		prompt.FailureReason = rc.failure
	}

	start := time.Now()
	sqlText, err := r.deps.Generator.Generate(ctx, prompt)
	observability.ObserveGenerationLatency(time.Since(start))
	if err != nil {
		rc.sql = ""
		rc.failure = fmt.Sprintf("generation failed: %v", err)
		rc.stage = "generate"
		r.deps.Logger.Warn("sql generation failed",
			"attempt", rc.attempt, "error", err.Error())
		return stateCorrect
	}
	rc.sql = sqlText
	return stateValidate
}

func (r *Runner) stepValidate(rc *run) state {
	verdict := r.deps.Validator.Validate(rc.sql, rc.snap)
	if !verdict.OK {
		observability.ObserveValidationReject(string(verdict.Reason))
		rc.failure = verdict.Err().Error()
		rc.stage = "validate"
		r.deps.Logger.Warn("sql validation rejected",
			"attempt", rc.attempt, "reason", string(verdict.Reason), "detail", verdict.Detail)
		return stateCorrect
	}
	return stateExecute
}

func (r *Runner) stepExecute(ctx context.Context, rc *run) state {
	result, err := r.deps.Executor.Execute(ctx, rc.sql)
	if err != nil {
		rc.failure = err.Error()
		rc.stage = "execute"
		r.deps.Logger.Warn("sql execution failed",
			"attempt", rc.attempt, "error", err.Error())
		return stateCorrect
	}
	rc.execResult = result
	rc.history = append(rc.history, Attempt{SQL: rc.sql, Stage: "execute"})
	return stateFormat
}

func (r *Runner) stepCorrect(ctx context.Context, rc *run) state {
	rc.history = append(rc.history, Attempt{SQL: rc.sql, Stage: rc.stage, Failure: rc.failure})
	// A gone caller gets no further generation rounds.
	if ctx.Err() != nil {
		rc.abort = AbortCancelled
		rc.abortErr = ctx.Err()
		return stateAborted
	}
	return stateGenerate
}

func (r *Runner) finish(ctx context.Context, rc *run) (Result, error) {
	result := Result{
		SQL:       rc.sql,
		Columns:   rc.execResult.Columns,
		Rows:      rc.execResult.Rows,
		RowCount:  rc.execResult.RowCount,
		Truncated: rc.execResult.Truncated,
		Attempts:  rc.attempt,
		Status:    StatusSuccess,
		History:   rc.history,
	}

	answer, err := r.deps.Generator.Generate(ctx, llm.PromptSpec{
		Role:       llm.RoleFormatAnswer,
		Question:   rc.question,
		SchemaName: rc.snap.SchemaName,
		PriorSQL:   rc.sql,
		ResultJSON: resultJSON(rc.execResult),
	})
	if err != nil {
		// the data is already in hand, a formatting failure never loses it
		result.Degraded = true
		result.Answer = fallbackAnswer(rc.execResult)
		r.deps.Logger.Warn("answer formatting degraded", "error", err.Error())
	} else {
		result.Answer = answer
	}

	observability.ObservePipelineRun(string(StatusSuccess), rc.attempt)

	if ctx.Err() == nil {
		r.deps.Cache.Put(ctx, rc.key, cache.Entry{
			Answer:        result.Answer,
			SQL:           result.SQL,
			Columns:       result.Columns,
			Rows:          result.Rows,
			Truncated:     result.Truncated,
			SchemaVersion: rc.snap.Version,
			Attempts:      result.Attempts,
			Degraded:      result.Degraded,
			CreatedAt:     time.Now().UTC(),
		})
	}
	return result, nil
}

func (r *Runner) cachedResult(rc *run) Result {
	entry := rc.cached
	observability.ObservePipelineRun("cached", 0)
	return Result{
		Answer:    entry.Answer,
		SQL:       entry.SQL,
		Columns:   entry.Columns,
		Rows:      entry.Rows,
		RowCount:  len(entry.Rows),
		Truncated: entry.Truncated,
		Attempts:  entry.Attempts,
		Status:    StatusSuccess,
		Degraded:  entry.Degraded,
		Cached:    true,
	}
}
