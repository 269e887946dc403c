package schemas

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across packages. Callers match them with errors.Is.
var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrInvalidTransition   = errors.New("invalid state transition")
	ErrDuplicateRun        = errors.New("duplicate run id")
	ErrCollaboratorFailure = errors.New("collaborator failure")
	ErrEmptyFindings       = errors.New("no findings")
	ErrFindingsFrozen      = errors.New("findings are frozen")
	ErrQueueFull           = errors.New("work queue is full")
	ErrRunNotTerminal      = errors.New("run has not finished")
	ErrArtifactMissing     = errors.New("report artifact missing after write")
)

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrValidation) match any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
