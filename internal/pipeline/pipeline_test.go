package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/Iriajul/LLM-model/internal/cache"
	"github.com/Iriajul/LLM-model/internal/executor"
	"github.com/Iriajul/LLM-model/internal/llm"
	"github.com/Iriajul/LLM-model/internal/schema"
	"github.com/Iriajul/LLM-model/internal/sqlcheck"
)

func testSnapshot() *schema.Snapshot {
	return schema.NewSnapshot("info", []schema.Table{
		{
			Name: "products",
			Columns: []schema.Column{
				{Name: "id", DataType: "integer", PrimaryKey: true},
				{Name: "name", DataType: "text"},
				{Name: "stock_level", DataType: "integer"},
			},
		},
	}, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
}

type fakeSchemaSource struct {
	snap  *schema.Snapshot
	err   error
	calls int
}

func (f *fakeSchemaSource) Fetch(ctx context.Context, force bool) (*schema.Snapshot, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.snap, nil
}

// fakeGenerator replays scripted completions per role and records every
// prompt it was handed.
type fakeGenerator struct {
	completions []string
	errs        []error
	answer      string
	answerErr   error
	prompts     []llm.PromptSpec
	calls       int
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt llm.PromptSpec) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if prompt.Role == llm.RoleFormatAnswer {
		if f.answerErr != nil {
			return "", f.answerErr
		}
		return f.answer, nil
	}
	index := f.calls
	f.calls++
	if index < len(f.errs) && f.errs[index] != nil {
		return "", f.errs[index]
	}
	if index < len(f.completions) {
		return f.completions[index], nil
	}
	return "", fmt.Errorf("no scripted completion for call %d", index)
}

type fakeExecutor struct {
	results []executor.Result
	errs    []error
	calls   int
	seenSQL []string
}

func (f *fakeExecutor) Execute(ctx context.Context, sqlText string) (executor.Result, error) {
	index := f.calls
	f.calls++
	f.seenSQL = append(f.seenSQL, sqlText)
	if index < len(f.errs) && f.errs[index] != nil {
		return executor.Result{}, f.errs[index]
	}
	if index < len(f.results) {
		return f.results[index], nil
	}
	return executor.Result{}, errors.New("no scripted result")
}

type memoryCache struct {
	entries map[string]cache.Entry
	gets    int
	puts    int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string]cache.Entry{}}
}

func (m *memoryCache) Get(ctx context.Context, key string) (cache.Entry, bool) {
	m.gets++
	entry, ok := m.entries[key]
	return entry, ok
}

func (m *memoryCache) Put(ctx context.Context, key string, entry cache.Entry) {
	m.puts++
	m.entries[key] = entry
}

const goodSQL = "SELECT name, stock_level FROM info.products WHERE stock_level < 50 LIMIT 20"

func goodResult() executor.Result {
	return executor.Result{
		Columns:  []string{"name", "stock_level"},
		Rows:     [][]any{{"widget", int64(12)}},
		RowCount: 1,
		Duration: 5 * time.Millisecond,
	}
}

func newTestRunner(t *testing.T, deps Dependencies) *Runner {
	t.Helper()
	if deps.Validator == nil {
		deps.Validator = sqlcheck.New(sqlcheck.DefaultPolicy())
	}
	runner, err := New(deps, Config{MaxAttempts: 3, ConfigEpoch: "1"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return runner
}

func TestAskSucceedsFirstAttempt(t *testing.T) {
	gen := &fakeGenerator{completions: []string{goodSQL}, answer: "One product is low on stock."}
	exec := &fakeExecutor{results: []executor.Result{goodResult()}}
	store := newMemoryCache()
	runner := newTestRunner(t, Dependencies{
		Schema:    &fakeSchemaSource{snap: testSnapshot()},
		Generator: gen,
		Executor:  exec,
		Cache:     store,
	})

	result, err := runner.Ask(context.Background(), "which products are low on stock?")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if result.Status != StatusSuccess || result.Attempts != 1 {
		t.Fatalf("Status = %s, Attempts = %d", result.Status, result.Attempts)
	}
	if result.Answer != "One product is low on stock." {
		t.Fatalf("Answer = %q", result.Answer)
	}
	if result.SQL != goodSQL || result.RowCount != 1 {
		t.Fatalf("SQL = %q, RowCount = %d", result.SQL, result.RowCount)
	}
	if result.Cached || result.Degraded {
		t.Fatalf("Cached = %v, Degraded = %v", result.Cached, result.Degraded)
	}
	if store.puts != 1 {
		t.Fatalf("cache puts = %d, want 1", store.puts)
	}
	if gen.prompts[0].Role != llm.RoleGenerate {
		t.Fatalf("first prompt role = %s", gen.prompts[0].Role)
	}
	if !strings.Contains(gen.prompts[0].SchemaDDL, "CREATE TABLE info.products") {
		t.Fatalf("SchemaDDL = %q", gen.prompts[0].SchemaDDL)
	}
}

func TestAskCorrectsAfterValidationReject(t *testing.T) {
	gen := &fakeGenerator{
		completions: []string{"DELETE FROM info.products", goodSQL},
		answer:      "Fixed on the second try.",
	}
	exec := &fakeExecutor{results: []executor.Result{goodResult()}}
	runner := newTestRunner(t, Dependencies{
		Schema:    &fakeSchemaSource{snap: testSnapshot()},
		Generator: gen,
		Executor:  exec,
		Cache:     newMemoryCache(),
	})

	result, err := runner.Ask(context.Background(), "remove everything")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if result.Attempts != 2 {
		t.Fatalf("Attempts = %d, want 2", result.Attempts)
	}

	correction := gen.prompts[1]
	if correction.Role != llm.RoleCorrect {
		t.Fatalf("second prompt role = %s, want %s", correction.Role, llm.RoleCorrect)
	}
	if correction.PriorSQL != "DELETE FROM info.products" {
		t.Fatalf("PriorSQL = %q", correction.PriorSQL)
	}
	if !strings.Contains(correction.FailureReason, "forbidden_statement") {
		t.Fatalf("FailureReason = %q", correction.FailureReason)
	}

	if len(result.History) != 2 {
		t.Fatalf("History = %d entries, want 2", len(result.History))
	}
	if result.History[0].Stage != "validate" || result.History[0].Failure == "" {
		t.Fatalf("History[0] = %+v", result.History[0])
	}
}

func TestAskCorrectsAfterExecutionError(t *testing.T) {
	badSQL := "SELECT nope FROM info.products LIMIT 1"
	gen := &fakeGenerator{
		completions: []string{badSQL, goodSQL},
		answer:      "Recovered.",
	}
	exec := &fakeExecutor{
		errs:    []error{&executor.ExecError{Kind: executor.KindSyntaxOrSemantic, Code: "42703", Message: `column "nope" does not exist`}},
		results: []executor.Result{{}, goodResult()},
	}
	runner := newTestRunner(t, Dependencies{
		Schema:    &fakeSchemaSource{snap: testSnapshot()},
		Generator: gen,
		Executor:  exec,
		Cache:     newMemoryCache(),
	})

	result, err := runner.Ask(context.Background(), "what is in stock?")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if result.Attempts != 2 {
		t.Fatalf("Attempts = %d, want 2", result.Attempts)
	}
	if !strings.Contains(gen.prompts[1].FailureReason, `column "nope" does not exist`) {
		t.Fatalf("FailureReason = %q", gen.prompts[1].FailureReason)
	}
	if exec.seenSQL[1] != goodSQL {
		t.Fatalf("second executed SQL = %q", exec.seenSQL[1])
	}
}

func TestAskAbortsWhenAttemptsExhausted(t *testing.T) {
	gen := &fakeGenerator{
		completions: []string{
			"DELETE FROM info.products",
			"DROP TABLE info.products",
			"UPDATE info.products SET stock_level = 0",
		},
	}
	store := newMemoryCache()
	runner := newTestRunner(t, Dependencies{
		Schema:    &fakeSchemaSource{snap: testSnapshot()},
		Generator: gen,
		Executor:  &fakeExecutor{},
		Cache:     store,
	})

	result, err := runner.Ask(context.Background(), "destroy the data")
	if !errors.Is(err, ErrCorrectionExhausted) {
		t.Fatalf("err = %v, want ErrCorrectionExhausted", err)
	}
	if result.Status != StatusAborted || result.AbortReason != AbortCorrectionExhausted {
		t.Fatalf("Status = %s, AbortReason = %s", result.Status, result.AbortReason)
	}
	if result.Attempts != 3 {
		t.Fatalf("Attempts = %d, want 3", result.Attempts)
	}
	if len(result.History) != 3 {
		t.Fatalf("History = %d entries, want 3", len(result.History))
	}
	if store.puts != 0 {
		t.Fatalf("cache puts = %d, want 0", store.puts)
	}
}

func TestAskAbortsWhenSchemaFetchFails(t *testing.T) {
	gen := &fakeGenerator{}
	runner := newTestRunner(t, Dependencies{
		Schema:    &fakeSchemaSource{err: errors.New("connection refused")},
		Generator: gen,
		Executor:  &fakeExecutor{},
		Cache:     newMemoryCache(),
	})

	result, err := runner.Ask(context.Background(), "anything")
	if err == nil {
		t.Fatal("Ask() error = nil")
	}
	if result.Status != StatusAborted || result.AbortReason != AbortSchemaFetchFailed {
		t.Fatalf("Status = %s, AbortReason = %s", result.Status, result.AbortReason)
	}
	if len(gen.prompts) != 0 {
		t.Fatalf("generator was called %d times before abort", len(gen.prompts))
	}
}

func TestAskGenerationErrorConsumesAttempt(t *testing.T) {
	gen := &fakeGenerator{
		errs:        []error{&llm.GenerationError{Status: 429, Err: errors.New("rate limited")}},
		completions: []string{"", goodSQL},
		answer:      "Done after a retry.",
	}
	exec := &fakeExecutor{results: []executor.Result{goodResult()}}
	runner := newTestRunner(t, Dependencies{
		Schema:    &fakeSchemaSource{snap: testSnapshot()},
		Generator: gen,
		Executor:  exec,
		Cache:     newMemoryCache(),
	})

	result, err := runner.Ask(context.Background(), "what is in stock?")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if result.Attempts != 2 {
		t.Fatalf("Attempts = %d, want 2", result.Attempts)
	}
	if result.History[0].Stage != "generate" {
		t.Fatalf("History[0].Stage = %q", result.History[0].Stage)
	}
}

func TestAskServesCachedAnswer(t *testing.T) {
	snap := testSnapshot()
	store := newMemoryCache()
	key := cache.Fingerprint("which products are low on stock?", snap.Version, "1")
	store.entries[key] = cache.Entry{
		Answer:        "One product is low on stock.",
		SQL:           goodSQL,
		Columns:       []string{"name", "stock_level"},
		Rows:          [][]any{{"widget", int64(12)}},
		SchemaVersion: snap.Version,
		Attempts:      1,
	}

	gen := &fakeGenerator{}
	runner := newTestRunner(t, Dependencies{
		Schema:    &fakeSchemaSource{snap: snap},
		Generator: gen,
		Executor:  &fakeExecutor{},
		Cache:     store,
	})

	result, err := runner.Ask(context.Background(), "Which products are LOW on stock?")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if !result.Cached {
		t.Fatal("Cached = false, want true")
	}
	if result.Answer != "One product is low on stock." || result.RowCount != 1 {
		t.Fatalf("Answer = %q, RowCount = %d", result.Answer, result.RowCount)
	}
	if len(gen.prompts) != 0 {
		t.Fatalf("generator was called %d times on a cache hit", len(gen.prompts))
	}
}

func TestAskIgnoresEntryFromOtherSchemaVersion(t *testing.T) {
	snap := testSnapshot()
	store := newMemoryCache()
	key := cache.Fingerprint("which products are low on stock?", snap.Version, "1")
	store.entries[key] = cache.Entry{Answer: "stale", SchemaVersion: "deadbeefdeadbeef"}

	gen := &fakeGenerator{completions: []string{goodSQL}, answer: "Fresh answer."}
	runner := newTestRunner(t, Dependencies{
		Schema:    &fakeSchemaSource{snap: snap},
		Generator: gen,
		Executor:  &fakeExecutor{results: []executor.Result{goodResult()}},
		Cache:     store,
	})

	result, err := runner.Ask(context.Background(), "which products are low on stock?")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if result.Cached {
		t.Fatal("Cached = true for a stale schema version")
	}
	if result.Answer != "Fresh answer." {
		t.Fatalf("Answer = %q", result.Answer)
	}
}

func TestAskDegradesWhenFormattingFails(t *testing.T) {
	gen := &fakeGenerator{
		completions: []string{goodSQL},
		answerErr:   &llm.GenerationError{Status: 500, Err: errors.New("upstream error")},
	}
	runner := newTestRunner(t, Dependencies{
		Schema:    &fakeSchemaSource{snap: testSnapshot()},
		Generator: gen,
		Executor:  &fakeExecutor{results: []executor.Result{goodResult()}},
		Cache:     newMemoryCache(),
	})

	result, err := runner.Ask(context.Background(), "which products are low on stock?")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if !result.Degraded {
		t.Fatal("Degraded = false, want true")
	}
	if !strings.Contains(result.Answer, "1 row(s)") {
		t.Fatalf("fallback answer = %q", result.Answer)
	}
	if result.RowCount != 1 {
		t.Fatalf("RowCount = %d", result.RowCount)
	}
}

type cancellingExecutor struct {
	cancel context.CancelFunc
}

func (c *cancellingExecutor) Execute(ctx context.Context, sqlText string) (executor.Result, error) {
	c.cancel()
	return goodResult(), nil
}

func TestAskCancelledRunWritesNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := newMemoryCache()
	runner := newTestRunner(t, Dependencies{
		Schema:    &fakeSchemaSource{snap: testSnapshot()},
		Generator: &fakeGenerator{completions: []string{goodSQL}, answer: "Too late."},
		Executor:  &cancellingExecutor{cancel: cancel},
		Cache:     store,
	})

	if _, err := runner.Ask(ctx, "which products are low on stock?"); err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if store.puts != 0 {
		t.Fatalf("cache puts = %d, want 0 after cancellation", store.puts)
	}
}

type cancelFailingExecutor struct {
	cancel context.CancelFunc
}

func (c *cancelFailingExecutor) Execute(ctx context.Context, sqlText string) (executor.Result, error) {
	c.cancel()
	return executor.Result{}, &executor.ExecError{Kind: executor.KindCancelled, Message: "canceled"}
}

func TestAskAbortsImmediatelyOnClientCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gen := &fakeGenerator{completions: []string{goodSQL, goodSQL, goodSQL}}
	store := newMemoryCache()
	runner := newTestRunner(t, Dependencies{
		Schema:    &fakeSchemaSource{snap: testSnapshot()},
		Generator: gen,
		Executor:  &cancelFailingExecutor{cancel: cancel},
		Cache:     store,
	})

	result, err := runner.Ask(ctx, "which products are low on stock?")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Ask() error = %v, want context.Canceled", err)
	}
	if result.Status != StatusAborted || result.AbortReason != AbortCancelled {
		t.Fatalf("result = %+v, want aborted/CANCELLED", result)
	}
	if result.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", result.Attempts)
	}
	if len(gen.prompts) != 1 {
		t.Fatalf("generator called %d times, want 1", len(gen.prompts))
	}
	if store.puts != 0 {
		t.Fatalf("cache puts = %d, want 0 after cancellation", store.puts)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Dependencies{}, Config{})
	if err == nil {
		t.Fatal("New() accepted empty dependencies")
	}
}
