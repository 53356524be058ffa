package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies why a run failed.
type Kind string

const (
	KindMissingCredential Kind = "missing_credential"
	KindMissingInput      Kind = "missing_input"
	KindInvalidInput      Kind = "invalid_input"
	KindSchemaValidation  Kind = "schema_validation_failure"
	KindExternalService   Kind = "external_service_failure"
)

// Sentinels matched by errors.Is against a *StageError of the same Kind.
var (
	ErrMissingCredential = errors.New("pipeline: missing credential")
	ErrMissingInput      = errors.New("pipeline: missing input")
	ErrInvalidInput      = errors.New("pipeline: invalid input")
	ErrSchemaValidation  = errors.New("pipeline: schema validation failure")
	ErrExternalService   = errors.New("pipeline: external service failure")
)

var kindSentinel = map[Kind]error{
	KindMissingCredential: ErrMissingCredential,
	KindMissingInput:      ErrMissingInput,
	KindInvalidInput:      ErrInvalidInput,
	KindSchemaValidation:  ErrSchemaValidation,
	KindExternalService:   ErrExternalService,
}

// StageError is the error returned for any failed run.
type StageError struct {
	Kind  Kind
	Stage State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline: %s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e.Kind.
func (e *StageError) Is(target error) bool {
	s, ok := kindSentinel[e.Kind]
	return ok && s == target
}

// KindOf returns the Kind of the first *StageError in err's chain, or "".
func KindOf(err error) Kind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
