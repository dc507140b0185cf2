// Package failure defines the error kinds surfaced by the browser engine.
//
// Every failure is caught at the orchestration boundary and turned into a
// notification, so callers classify with KindOf rather than matching strings.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindLoad
	KindValidation
	KindPartial
	KindProtocol
	KindHard
)

func (k Kind) String() string {
	switch k {
	case KindLoad:
		return "load"
	case KindValidation:
		return "validation"
	case KindPartial:
		return "partial"
	case KindProtocol:
		return "protocol"
	case KindHard:
		return "hard"
	default:
		return "unknown"
	}
}

// LoadError means a read failed. Prior state is left intact.
type LoadError struct {
	Op  string
	Err error
}

func (e *LoadError) Error() string { return fmt.Sprintf("load %s: %v", e.Op, e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

// ValidationError means required input was missing. No request was sent.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// PartialFailure means some items in a batch succeeded and others did not.
type PartialFailure struct {
	Op        string
	Succeeded int
	Errors    []string
}

func (e *PartialFailure) Error() string {
	return fmt.Sprintf("%s: %d succeeded, %d failed: %s",
		e.Op, e.Succeeded, len(e.Errors), strings.Join(e.Errors, "; "))
}

// Phase names a step of the two-step move.
type Phase string

const (
	PhaseAddToLibrary Phase = "add-to-library"
	PhaseMoveToFolder Phase = "move-to-folder"
)

// ProtocolFailure means a phase of the two-step move failed.
type ProtocolFailure struct {
	Phase  Phase
	Errors []string
	Err    error
}

func (e *ProtocolFailure) Error() string {
	msg := fmt.Sprintf("two-step move %s failed", e.Phase)
	if len(e.Errors) > 0 {
		msg += ": " + strings.Join(e.Errors, ", ")
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolFailure) Unwrap() error { return e.Err }

// HardFailure means the operation was rejected outright with no state change.
type HardFailure struct {
	Op     string
	Errors []string
	Err    error
}

func (e *HardFailure) Error() string {
	msg := e.Op + " failed"
	if len(e.Errors) > 0 {
		msg += ": " + strings.Join(e.Errors, "; ")
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *HardFailure) Unwrap() error { return e.Err }

// Load wraps err as a LoadError. A nil err returns nil.
func Load(op string, err error) error {
	if err == nil {
		return nil
	}
	return &LoadError{Op: op, Err: err}
}

// Validation returns a ValidationError with the given message.
func Validation(msg string) error {
	return &ValidationError{Message: msg}
}

// Partial returns a PartialFailure.
func Partial(op string, succeeded int, errs []string) error {
	return &PartialFailure{Op: op, Succeeded: succeeded, Errors: errs}
}

// Protocol returns a ProtocolFailure for the given phase.
func Protocol(phase Phase, errs []string, err error) error {
	return &ProtocolFailure{Phase: phase, Errors: errs, Err: err}
}

// Hard returns a HardFailure.
func Hard(op string, errs []string, err error) error {
	return &HardFailure{Op: op, Errors: errs, Err: err}
}

// KindOf reports the kind of the first failure found in err's chain.
func KindOf(err error) Kind {
	var (
		le *LoadError
		ve *ValidationError
		pf *PartialFailure
		pr *ProtocolFailure
		hf *HardFailure
	)
	switch {
	case err == nil:
		return KindUnknown
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &pf):
		return KindPartial
	case errors.As(err, &pr):
		return KindProtocol
	case errors.As(err, &hf):
		return KindHard
	case errors.As(err, &le):
		return KindLoad
	}
	return KindUnknown
}

// Messages returns the per-item error list carried by err, if any.
func Messages(err error) []string {
	var (
		pf *PartialFailure
		pr *ProtocolFailure
		hf *HardFailure
	)
	switch {
	case errors.As(err, &pf):
		return pf.Errors
	case errors.As(err, &pr):
		return pr.Errors
	case errors.As(err, &hf):
		return hf.Errors
	}
	return nil
}
