package domain

import (
	"errors"
	"fmt"
)

// NotFoundError is returned when a referenced record does not exist.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// ImmutabilityViolation is returned for any mutation attempted against a
// record that has passed its point of no return.
type ImmutabilityViolation struct {
	InspectionID string
	Status       InspectionStatus
	Op           string
	Reason       string
}

func (e ImmutabilityViolation) Error() string {
	msg := fmt.Sprintf("inspection %s is %s: %s rejected", e.InspectionID, e.Status, e.Op)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

// IncompleteDataError is returned when an inspection is submitted before
// every indicator in its snapshot has a response.
type IncompleteDataError struct {
	InspectionID string
	Got          int
	Want         int
}

func (e IncompleteDataError) Error() string {
	return fmt.Sprintf("inspection %s incomplete: got %d of %d indicator responses", e.InspectionID, e.Got, e.Want)
}

// PersistenceError wraps a storage failure. Reads may be retried; writes are not.
type PersistenceError struct {
	Op  string
	Err error
}

func (e PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e PersistenceError) Unwrap() error { return e.Err }

// ValidationError reports malformed caller input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ErrorKind classifies errors so callers can branch without parsing messages.
type ErrorKind string

// Error kinds returned by KindOf.
const (
	KindNone         ErrorKind = ""
	KindNotFound     ErrorKind = "not_found"
	KindImmutable    ErrorKind = "immutability_violation"
	KindIncomplete   ErrorKind = "incomplete_data"
	KindPersistence  ErrorKind = "persistence"
	KindValidation   ErrorKind = "validation"
	KindRuleBlocked  ErrorKind = "rule_blocked"
	KindUnclassified ErrorKind = "unclassified"
)

// KindOf returns the taxonomy kind of err, looking through wrapping.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var (
		notFound   NotFoundError
		immutable  ImmutabilityViolation
		incomplete IncompleteDataError
		validation ValidationError
		persist    PersistenceError
		blocked    RuleViolationError
	)
	switch {
	case errors.As(err, &immutable):
		return KindImmutable
	case errors.As(err, &incomplete):
		return KindIncomplete
	case errors.As(err, &notFound):
		return KindNotFound
	case errors.As(err, &validation):
		return KindValidation
	case errors.As(err, &persist):
		return KindPersistence
	case errors.As(err, &blocked):
		return KindRuleBlocked
	}
	return KindUnclassified
}
