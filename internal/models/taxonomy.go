package models

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/maruel/ksid"
)

var (
	// ErrSaveInProgress is returned when a schema save or edit is started
	// while a save is outstanding.
	ErrSaveInProgress = NewAPIError(http.StatusConflict, ErrorCodeConflict, "schema save already in progress")
	// ErrSubmitInProgress is returned when a submission is started while another
	// one is outstanding.
	ErrSubmitInProgress = NewAPIError(http.StatusConflict, ErrorCodeConflict, "submission already in progress")
)

// FieldProblem is one reason an authored field failed static validation.
type FieldProblem struct {
	Index  int    `json:"index"`
	Label  string `json:"label,omitempty"`
	Reason string `json:"reason"`
}

// SchemaInvalidError reports authored fields that failed static validation.
// It is raised before any store call.
type SchemaInvalidError struct {
	Problems []FieldProblem
}

func (e *SchemaInvalidError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, fmt.Sprintf("field %d: %s", p.Index, p.Reason))
	}
	return "schema invalid: " + strings.Join(parts, "; ")
}

// StatusCode implements ErrorWithStatus.
func (e *SchemaInvalidError) StatusCode() int { return http.StatusBadRequest }

// Code implements ErrorWithStatus.
func (e *SchemaInvalidError) Code() ErrorCode { return ErrorCodeSchemaInvalid }

// Details implements ErrorWithStatus.
func (e *SchemaInvalidError) Details() map[string]any {
	return map[string]any{"fields": e.Problems}
}

// StoreUnavailableError wraps a failed store call.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable: %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// StatusCode implements ErrorWithStatus.
func (e *StoreUnavailableError) StatusCode() int { return http.StatusServiceUnavailable }

// Code implements ErrorWithStatus.
func (e *StoreUnavailableError) Code() ErrorCode { return ErrorCodeStoreUnavailable }

// Details implements ErrorWithStatus.
func (e *StoreUnavailableError) Details() map[string]any {
	return map[string]any{"op": e.Op}
}

// Unavailable wraps err as a StoreUnavailableError unless it already is one.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	var su *StoreUnavailableError
	if errors.As(err, &su) {
		return err
	}
	return &StoreUnavailableError{Op: op, Err: err}
}

// SlotFailure is one blocking validation failure of a submission.
type SlotFailure struct {
	FieldID  ksid.ID      `json:"field_id"`
	Label    string       `json:"label,omitempty"`
	Instance int          `json:"instance,omitempty"`
	SubField SubFieldType `json:"sub_field,omitempty"`
	Reason   string       `json:"reason"`
}

// ValidationFailedError blocks a submission before any store call.
type ValidationFailedError struct {
	Failures []SlotFailure
}

func (e *ValidationFailedError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		if f.SubField != "" {
			parts = append(parts, fmt.Sprintf("%s[%d].%s: %s", f.FieldID, f.Instance, f.SubField, f.Reason))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", f.FieldID, f.Reason))
		}
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// StatusCode implements ErrorWithStatus.
func (e *ValidationFailedError) StatusCode() int { return http.StatusUnprocessableEntity }

// Code implements ErrorWithStatus.
func (e *ValidationFailedError) Code() ErrorCode { return ErrorCodeValidationFailed }

// Details implements ErrorWithStatus.
func (e *ValidationFailedError) Details() map[string]any {
	return map[string]any{"fields": e.Failures}
}

// PartialSaveError reports a replace-all save whose delete phase succeeded but
// whose create phase did not complete. The store may hold fewer definitions
// than the author intended.
type PartialSaveError struct {
	Deleted int
	Created int
	Err     error
}

func (e *PartialSaveError) Error() string {
	return fmt.Sprintf("partial save: deleted %d, created %d: %v", e.Deleted, e.Created, e.Err)
}

func (e *PartialSaveError) Unwrap() error { return e.Err }

// StatusCode implements ErrorWithStatus.
func (e *PartialSaveError) StatusCode() int { return http.StatusInternalServerError }

// Code implements ErrorWithStatus.
func (e *PartialSaveError) Code() ErrorCode { return ErrorCodePartialSaveFailure }

// Details implements ErrorWithStatus.
func (e *PartialSaveError) Details() map[string]any {
	return map[string]any{"deleted": e.Deleted, "created": e.Created}
}
