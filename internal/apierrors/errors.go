// Package apierrors defines the orchestrator's error taxonomy as one
// structured error type, OrchestratorError, tagged with a Kind and built by
// one constructor per kind rather than sentinel strings, so callers can
// recover the kind with errors.As (see Is) and branch on it.
package apierrors

import (
	"errors"
	"fmt"
)

// Kind identifies one of the orchestrator-internal error categories.
type Kind string

const (
	KindUnknownTemplate    Kind = "UNKNOWN_TEMPLATE"
	KindInvalidTemplate    Kind = "INVALID_TEMPLATE"
	KindCyclicTemplate     Kind = "CYCLIC_TEMPLATE"
	KindAmbiguousReference Kind = "AMBIGUOUS_REFERENCE"
	KindDanglingReference  Kind = "DANGLING_REFERENCE"
	KindIDCollision        Kind = "ID_COLLISION"
	KindUnknownTask        Kind = "UNKNOWN_TASK"
	KindUnknownScenario    Kind = "UNKNOWN_SCENARIO"
	KindInvalidTransition  Kind = "INVALID_TRANSITION"
	KindStoreUnavailable   Kind = "STORE_UNAVAILABLE"
)

// OrchestratorError is the common shape behind every taxonomy entry below.
type OrchestratorError struct {
	ErrKind Kind
	Subject string // template name, task id, scenario id, etc.
	Message string
	Cause   error
}

func (e *OrchestratorError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s: %s", e.ErrKind, e.Subject, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.ErrKind, e.Subject)
}

func (e *OrchestratorError) Unwrap() error { return e.Cause }

// Kind returns the taxonomy entry this error belongs to.
func (e *OrchestratorError) Kind() Kind { return e.ErrKind }

func newErr(kind Kind, subject, message string) *OrchestratorError {
	return &OrchestratorError{ErrKind: kind, Subject: subject, Message: message}
}

// Constructors, one per taxonomy entry in the error handling design.

func NewUnknownTemplateError(name string) *OrchestratorError {
	return newErr(KindUnknownTemplate, name, "template not registered")
}

func NewInvalidTemplateError(name, reason string) *OrchestratorError {
	return newErr(KindInvalidTemplate, name, reason)
}

func NewCyclicTemplateError(name string) *OrchestratorError {
	return newErr(KindCyclicTemplate, name, "expansion produced a cycle")
}

func NewAmbiguousReferenceError(label, field string) *OrchestratorError {
	return newErr(KindAmbiguousReference, label, fmt.Sprintf("field %q references a multiplied label without an index", field))
}

func NewDanglingReferenceError(label string) *OrchestratorError {
	return newErr(KindDanglingReference, label, "reference to a non-existent or zero-count label")
}

func NewIDCollisionError(id string) *OrchestratorError {
	return newErr(KindIDCollision, id, "identifier generator produced a duplicate id")
}

func NewUnknownTaskError(id string) *OrchestratorError {
	return newErr(KindUnknownTask, id, "task not found")
}

func NewUnknownScenarioError(id string) *OrchestratorError {
	return newErr(KindUnknownScenario, id, "scenario not found")
}

func NewInvalidTransitionError(id, from, to string) *OrchestratorError {
	return newErr(KindInvalidTransition, id, fmt.Sprintf("invalid transition %s -> %s", from, to))
}

func NewStoreUnavailableError(cause error) *OrchestratorError {
	return &OrchestratorError{ErrKind: KindStoreUnavailable, Subject: "store", Message: "backing store error, retryable", Cause: cause}
}

// Is reports whether err is an OrchestratorError of the given kind, or a
// ValidationErrorCollection containing one.
func Is(err error, kind Kind) bool {
	var c *ValidationErrorCollection
	if errors.As(err, &c) {
		for _, e := range c.Errors {
			if e.ErrKind == kind {
				return true
			}
		}
		return false
	}
	var oe *OrchestratorError
	if errors.As(err, &oe) {
		return oe.ErrKind == kind
	}
	return false
}

// IsUnknownTask, IsUnknownScenario, IsInvalidTransition, IsStoreUnavailable are
// convenience predicates for the kinds callers branch on most often.
func IsUnknownTask(err error) bool       { return Is(err, KindUnknownTask) }
func IsUnknownScenario(err error) bool   { return Is(err, KindUnknownScenario) }
func IsInvalidTransition(err error) bool { return Is(err, KindInvalidTransition) }
func IsStoreUnavailable(err error) bool  { return Is(err, KindStoreUnavailable) }

// ValidationErrorCollection aggregates multiple expansion-time validation
// failures (e.g. several DANGLING_REFERENCE labels) so a submitter sees the
// full list of problems in one structured response instead of the first one
// found. The Expander returns one whenever a validation pass finds any
// problem.
type ValidationErrorCollection struct {
	Errors []*OrchestratorError
}

func NewValidationErrorCollection() *ValidationErrorCollection {
	return &ValidationErrorCollection{Errors: make([]*OrchestratorError, 0)}
}

func (c *ValidationErrorCollection) Add(err *OrchestratorError) {
	c.Errors = append(c.Errors, err)
}

func (c *ValidationErrorCollection) HasErrors() bool { return len(c.Errors) > 0 }

// Unwrap exposes the collected errors to errors.Is/errors.As traversal.
func (c *ValidationErrorCollection) Unwrap() []error {
	out := make([]error, len(c.Errors))
	for i, e := range c.Errors {
		out[i] = e
	}
	return out
}

func (c *ValidationErrorCollection) Count() int { return len(c.Errors) }

func (c *ValidationErrorCollection) Error() string {
	switch len(c.Errors) {
	case 0:
		return "no validation errors"
	case 1:
		return c.Errors[0].Error()
	default:
		return fmt.Sprintf("%d validation errors: %s (and %d more)", len(c.Errors), c.Errors[0].Error(), len(c.Errors)-1)
	}
}

// ByKind groups the collected errors by taxonomy kind, for summaries that
// report per-kind counts.
func (c *ValidationErrorCollection) ByKind() map[Kind][]*OrchestratorError {
	grouped := make(map[Kind][]*OrchestratorError)
	for _, e := range c.Errors {
		grouped[e.ErrKind] = append(grouped[e.ErrKind], e)
	}
	return grouped
}
