package service

import (
	"errors"
	"fmt"

	"github.com/bitfantasy/formflow/internal/form/repository"
)

// Fault kinds. Every error returned by this package matches at most one of
// them with errors.Is.
var (
	ErrValidation         = errors.New("validation fault")
	ErrPersistence        = errors.New("persistence fault")
	ErrArtifactGeneration = errors.New("artifact generation fault")
	ErrConsistency        = errors.New("consistency fault")
)

// Validation causes
var (
	ErrProgressIncomplete = errors.New("progress is below 100")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrTaskLocked         = errors.New("task is locked after submission")
	ErrUnknownFormType    = errors.New("unknown form type")
	ErrTaskTypeMismatch   = errors.New("task belongs to another form type")
	ErrUnknownField       = errors.New("unknown field")
	ErrInvalidDecision    = errors.New("invalid review decision")
)

var (
	// ErrDuplicateOperation an identical operation ran within its cooldown.
	ErrDuplicateOperation = errors.New("duplicate operation within cooldown")
	// ErrSubmissionInProgress another submission of the same task is running.
	ErrSubmissionInProgress = errors.New("submission already in progress")
	ErrNotFound             = repository.ErrNotFound
)

// Fault an operation failure of a given kind.
type Fault struct {
	Kind error
	Op   string
	Err  error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %v", f.Op, f.Err)
}

func (f *Fault) Unwrap() []error {
	return []error{f.Kind, f.Err}
}

func validationFault(op string, cause error, format string, args ...interface{}) error {
	err := cause
	if format != "" {
		err = fmt.Errorf("%w: %s", cause, fmt.Sprintf(format, args...))
	}
	return &Fault{Kind: ErrValidation, Op: op, Err: err}
}

func persistenceFault(op string, err error) error {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) || errors.Is(err, repository.ErrNotFound) {
		return err
	}
	return &Fault{Kind: ErrPersistence, Op: op, Err: err}
}

func artifactFault(op string, err error) error {
	return &Fault{Kind: ErrArtifactGeneration, Op: op, Err: err}
}

// IsValidation reports whether err is a validation fault.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
