// Package sqlcheck is the static safety gate for model-generated SQL.
// Nothing reaches the executor without an accepting Verdict.
package sqlcheck

import "fmt"

type Reason string

const (
	ReasonForbiddenStatement Reason = "forbidden_statement"
	ReasonUnknownTable       Reason = "unknown_table"
	ReasonSchemaMismatch     Reason = "schema_mismatch"
	ReasonForbiddenConstruct Reason = "forbidden_construct"
	ReasonComplexityExceeded Reason = "complexity_exceeded"
)

// Verdict is the outcome of one validation pass. Complexity is populated on
// accept; Reason and Detail on reject.
type Verdict struct {
	OK         bool
	Reason     Reason
	Detail     string
	Complexity int
}

func accept(complexity int) Verdict {
	return Verdict{OK: true, Complexity: complexity}
}

func reject(reason Reason, detail string) Verdict {
	return Verdict{Reason: reason, Detail: detail}
}

// Err converts a rejecting verdict to an error for logs and attempt history.
func (v Verdict) Err() error {
	if v.OK {
		return nil
	}
	return &ValidationError{Reason: v.Reason, Detail: v.Detail}
}

type ValidationError struct {
	Reason Reason
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation rejected (%s): %s", e.Reason, e.Detail)
}
