package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned by stores when a unique constraint rejects a write.
	ErrDuplicate = errors.New("already exists")
)

// TransportError means the remote platform could not be reached or failed
// while serving the request.
type TransportError struct {
	Op  string
	Err error
}

// NewTransportError wraps err as a TransportError for the given operation.
func NewTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return e.Op + ": transport failure"
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ValidationError reports bad user input. It is shown next to the input and
// never logged as a failure.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError creates a ValidationError for field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	return e.Message
}

// PermissionError reports a write that the current identity is not allowed
// to perform.
type PermissionError struct {
	Message string
}

// NewPermissionError creates a PermissionError.
func NewPermissionError(message string) *PermissionError {
	return &PermissionError{Message: message}
}

func (e *PermissionError) Error() string {
	return e.Message
}

// NotFoundError reports that a referenced record is absent.
type NotFoundError struct {
	Resource string
	ID       string
}

// NewNotFoundError creates a NotFoundError for resource with the given id.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// UserMessage returns the human-readable message of err suitable for a toast.
// Transport failures expose the provider's own message.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var transport *TransportError
	if errors.As(err, &transport) && transport.Err != nil {
		return transport.Err.Error()
	}

	var validation *ValidationError
	if errors.As(err, &validation) {
		return validation.Message
	}

	var permission *PermissionError
	if errors.As(err, &permission) {
		return permission.Message
	}

	var notFound *NotFoundError
	if errors.As(err, &notFound) {
		return notFound.Error()
	}

	return err.Error()
}
