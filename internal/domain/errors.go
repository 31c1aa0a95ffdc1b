// Package domain contains the core business entities and logic.
package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors for common domain error cases.
// These allow handlers to check error types without coupling to infrastructure.
var (
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists indicates a resource with the same identifier already exists.
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrConflict indicates a concurrent modification prevented the write.
	ErrConflict = errors.New("concurrent modification")
)

// Creation-time validation errors.
var (
	ErrInvalidIDFormat = errors.New("must be exactly 6 digits")
	ErrDuplicateID     = errors.New("book with this id already exists")
	ErrMissingField    = errors.New("this field is required")
	ErrFieldTooLong    = errors.New("must be at most 100 characters")
)

// Transition-time errors.
var (
	ErrAlreadyBorrowed       = errors.New("book is already borrowed")
	ErrNotBorrowed           = errors.New("book is not borrowed")
	ErrBorrowerRequired      = errors.New("borrower is required")
	ErrInvalidBorrowerFormat = errors.New("borrower must be exactly 6 digits")
	ErrCannotDeleteBorrowed  = errors.New("cannot delete borrowed book")
)

var kindCodes = map[error]string{
	ErrInvalidIDFormat:       "invalid_id_format",
	ErrDuplicateID:           "duplicate_id",
	ErrMissingField:          "missing_field",
	ErrFieldTooLong:          "field_too_long",
	ErrAlreadyBorrowed:       "already_borrowed",
	ErrNotBorrowed:           "not_borrowed",
	ErrBorrowerRequired:      "borrower_required",
	ErrInvalidBorrowerFormat: "invalid_borrower_format",
	ErrCannotDeleteBorrowed:  "cannot_delete_borrowed",
}

// Kind returns a stable short code for a validation or lending error,
// or "unknown" when err does not wrap one of the domain kinds.
// For a ValidationError with several fields the first field wins.
func Kind(err error) string {
	var verr *ValidationError
	if errors.As(err, &verr) && len(verr.Fields) > 0 {
		err = verr.Fields[0].Err
	}
	for sentinel, code := range kindCodes {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return "unknown"
}

// FieldError ties a validation failure to the field that caused it.
type FieldError struct {
	Field string
	Err   error
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Err.Error()
}

// ValidationError collects every field failure found while validating a new book.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) add(field string, err error) {
	e.Fields = append(e.Fields, FieldError{Field: field, Err: err})
}

func (e *ValidationError) empty() bool {
	return len(e.Fields) == 0
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Error()
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes the per-field sentinels to errors.Is.
func (e *ValidationError) Unwrap() []error {
	errs := make([]error, len(e.Fields))
	for i, f := range e.Fields {
		errs[i] = f.Err
	}
	return errs
}

// FieldMessages groups the messages by field name, in field order.
func (e *ValidationError) FieldMessages() map[string][]string {
	out := make(map[string][]string, len(e.Fields))
	for _, f := range e.Fields {
		out[f.Field] = append(out[f.Field], f.Err.Error())
	}
	return out
}

// FieldNames returns the sorted, de-duplicated names of the offending fields.
func (e *ValidationError) FieldNames() []string {
	seen := make(map[string]struct{}, len(e.Fields))
	names := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		if _, ok := seen[f.Field]; ok {
			continue
		}
		seen[f.Field] = struct{}{}
		names = append(names, f.Field)
	}
	sort.Strings(names)
	return names
}

// LendingError reports a rejected borrow, return or delete.
type LendingError struct {
	Op     string
	BookID string
	Field  string
	Err    error
}

func (e *LendingError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s book %s: %s: %v", e.Op, e.BookID, e.Field, e.Err)
	}
	return fmt.Sprintf("%s book %s: %v", e.Op, e.BookID, e.Err)
}

func (e *LendingError) Unwrap() error {
	return e.Err
}
