// Package llm is the boundary to the external text-generation service.
// Anything it returns is untrusted text; callers must validate before use.
package llm

import (
	"context"
	"fmt"
)

type Role string

const (
	RoleGenerate     Role = "generate"
	RoleCorrect      Role = "correct"
	RoleFormatAnswer Role = "format_answer"
)

// PromptSpec bundles everything one generation call needs. PriorSQL and
// FailureReason are set only for RoleCorrect; ResultJSON only for
// RoleFormatAnswer.
type PromptSpec struct {
	Role          Role
	Question      string
	SchemaName    string
	SchemaDDL     string
	PriorSQL      string
	FailureReason string
	ResultJSON    string
}

type Client interface {
	Generate(ctx context.Context, prompt PromptSpec) (string, error)
}

// GenerationError covers transport failures, rate limiting, and
// empty or malformed completions. It is recoverable: the pipeline
// counts it as one failed attempt.
type GenerationError struct {
	Status int
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("generation failed (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}
