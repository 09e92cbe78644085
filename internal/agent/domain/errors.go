package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrLanguageModel matches every LanguageModelError via errors.Is.
	ErrLanguageModel = errors.New("language model failure")
	// ErrIterationCapExceeded is returned when a turn needs more Deciding
	// steps than the configured maximum.
	ErrIterationCapExceeded = errors.New("exceeded iteration cap")
	// ErrTurnCancelled is returned when the caller's context ends mid-turn.
	ErrTurnCancelled = errors.New("turn cancelled")
)

// LanguageModelError wraps a failed completion call. It is fatal to the turn.
type LanguageModelError struct {
	Model string
	Step  int
	Err   error
}

func (e *LanguageModelError) Error() string {
	return fmt.Sprintf("language model %q failed at step %d: %v", e.Model, e.Step, e.Err)
}

func (e *LanguageModelError) Unwrap() []error {
	return []error{ErrLanguageModel, e.Err}
}
