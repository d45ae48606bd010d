package domain

import (
	"fmt"
	"strings"
)

// Error types for consistent error handling across the service.

// ErrNotFound indicates a resource was not found. Repositories return a nil
// entity instead; this is used by services and handlers.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrExternalService indicates a failure in an external service call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrBackend is the backend's own error object, carried unchanged.
type ErrBackend struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (e *ErrBackend) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend error %s (status %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("backend error (status %d): %s", e.Status, e.Message)
}

// MissingColumn reports whether e says that column does not exist.
// Postgres reports 42703, PostgREST reports PGRST204 for unknown payload columns.
func (e *ErrBackend) MissingColumn(column string) bool {
	if e == nil || column == "" {
		return false
	}
	text := strings.ToLower(e.Message + " " + e.Details)
	if !strings.Contains(text, strings.ToLower(column)) {
		return false
	}
	switch e.Code {
	case "42703", "PGRST204":
		return true
	}
	return strings.Contains(text, "does not exist") || strings.Contains(text, "could not find")
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrForbidden indicates the user lacks permission for the operation.
type ErrForbidden struct {
	Action string
}

func (e *ErrForbidden) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Action)
}

// ErrUnauthorized indicates a missing session or a session without a profile.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrConflict indicates a resource already exists.
type ErrConflict struct {
	Message string
}

func (e *ErrConflict) Error() string {
	return e.Message
}

// ErrPartialReorder reports a reorder loop that stopped after some updates
// had already been committed.
type ErrPartialReorder struct {
	Committed int
	Total     int
	Err       error
}

func (e *ErrPartialReorder) Error() string {
	return fmt.Sprintf("reorder stopped after %d of %d updates: %v", e.Committed, e.Total, e.Err)
}

func (e *ErrPartialReorder) Unwrap() error {
	return e.Err
}
