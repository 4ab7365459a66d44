package memory

import (
	"errors"
	"fmt"
)

// Sentinel errors for the memory engine.
var (
	ErrValidation     = errors.New("memory: validation failed")
	ErrInvalidConcept = errors.New("memory: invalid concept")
	ErrAlreadyStarted = errors.New("memory: engine already started")
)

// ValidationError reports a rejected input at the API boundary.
// It matches ErrValidation with errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("memory: invalid %s: %s", e.Field, e.Reason)
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
