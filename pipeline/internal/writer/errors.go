package writer

import (
	"errors"
	"fmt"
)

// Error categories recorded on DLQ entries and metrics. MalformedInput is
// counter-only: an unparseable payload inside a valid envelope is stored
// raw, never dead-lettered. Undecodable envelopes are schema errors.
const (
	CategoryMalformedInput  = "malformed_input"
	CategorySchemaError     = "schema_error"
	CategoryValidationError = "validation_error"
	CategoryStorageError    = "storage_error"
)

// CategorizedError carries the DLQ error category alongside the cause.
type CategorizedError struct {
	Category string
	Err      error
}

func (e *CategorizedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *CategorizedError) Unwrap() error { return e.Err }

// NewSchemaError marks a missing or mistyped envelope field.
func NewSchemaError(format string, args ...any) error {
	return &CategorizedError{Category: CategorySchemaError, Err: fmt.Errorf(format, args...)}
}

// NewValidationError marks a present but semantically invalid field.
func NewValidationError(format string, args ...any) error {
	return &CategorizedError{Category: CategoryValidationError, Err: fmt.Errorf(format, args...)}
}

// Categorize returns the error's DLQ category, defaulting to storage_error
// for uncategorized failures out of the store client.
func Categorize(err error) string {
	var ce *CategorizedError
	if errors.As(err, &ce) {
		return ce.Category
	}
	return CategoryStorageError
}
