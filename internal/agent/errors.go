package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrNoProvider indicates no LLM provider is configured.
	ErrNoProvider = errors.New("no provider configured")

	// ErrRoundsExhausted indicates the loop hit its round limit before the
	// model produced a final answer.
	ErrRoundsExhausted = errors.New("tool rounds exhausted")

	// ErrToolTimeout indicates a tool call exceeded its time bound and the
	// exchange was aborted.
	ErrToolTimeout = errors.New("tool execution timed out")
)

// LoopPhase is a distinct phase of one exchange.
type LoopPhase string

const (
	PhaseInit         LoopPhase = "init"
	PhaseStream       LoopPhase = "stream"
	PhaseExecuteTools LoopPhase = "execute_tools"
	PhaseGate         LoopPhase = "gate"
	PhaseComplete     LoopPhase = "complete"
)

// LoopError reports where an exchange stopped.
type LoopError struct {
	Phase LoopPhase

	// Round is the 1-based model round, zero before the first call.
	Round int

	Message string
	Cause   error
}

// Error implements the error interface.
func (e *LoopError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("loop error at %s (round %d): %s", e.Phase, e.Round, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("loop error at %s (round %d): %v", e.Phase, e.Round, e.Cause)
	}
	return fmt.Sprintf("loop error at %s (round %d)", e.Phase, e.Round)
}

// Unwrap returns the underlying error.
func (e *LoopError) Unwrap() error {
	return e.Cause
}

// ModelError is a failed or timed out language-model call. ErrorID is the
// correlation token shown to the user.
type ModelError struct {
	Provider string
	ErrorID  string
	Cause    error
}

// Error implements the error interface.
func (e *ModelError) Error() string {
	return fmt.Sprintf("model %s failed (error id %s): %v", e.Provider, e.ErrorID, e.Cause)
}

// Unwrap returns the underlying error.
func (e *ModelError) Unwrap() error {
	return e.Cause
}

// IsModelError reports whether err carries a ModelError.
func IsModelError(err error) bool {
	var me *ModelError
	return errors.As(err, &me)
}
