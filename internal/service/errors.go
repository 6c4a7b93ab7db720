package service

import "fmt"

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Resource, e.ID)
}

func notFound(resource string, id interface{}) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: fmt.Sprint(id)}
}

// ValidationError represents a validation error on one input field
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation error: %s", e.Reason)
	}
	return fmt.Sprintf("validation error: %s %s", e.Field, e.Reason)
}

// ResolutionError is returned when a target audience cannot be resolved
type ResolutionError struct {
	DriveID int
	// NotFound is set when the drive does not exist
	NotFound bool
	Err      error
}

func (e *ResolutionError) Error() string {
	if e.NotFound {
		return fmt.Sprintf("resolution error: drive %d not found", e.DriveID)
	}
	return fmt.Sprintf("resolution error: drive %d: %v", e.DriveID, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// RenderError is returned for a malformed template
type RenderError struct {
	Offset int
	Reason string
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render error at offset %d: %s", e.Offset, e.Reason)
}

// BusinessLogicError represents a business logic error
type BusinessLogicError struct {
	Message string
}

func (e *BusinessLogicError) Error() string {
	return fmt.Sprintf("business logic error: %s", e.Message)
}

// ConflictError represents a conflict error (e.g., concurrent status change)
type ConflictError struct {
	Resource string
	Message  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict with %s: %s", e.Resource, e.Message)
}
