package storage

import (
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
)

// ValidationError reports rejected input. It exposes an InvalidInput marker
// method so callers can match it without importing this package's concrete
// type hierarchy.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvalidInput marks the error as a validation failure.
func (ValidationError) InvalidInput() {}

// NotFoundError reports an operation targeting a record that does not exist
// (or is not visible to the requesting owner).
type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// NotFound marks the error as a missing-record failure.
func (NotFoundError) NotFound() {}

// ConflictError reports an insert that collided with an existing record.
type ConflictError struct {
	Kind string
	Key  string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Kind, e.Key)
}

// Conflict marks the error as an already-exists failure.
func (ConflictError) Conflict() {}

func hasStatus(err error, code int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == code
}
