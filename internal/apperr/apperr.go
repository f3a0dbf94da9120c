package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Match with errors.Is.
var (
	ErrUnknownColumn       = errors.New("unknown column")
	ErrUnknownRelation     = errors.New("unknown relation")
	ErrInvalidPath         = errors.New("invalid json path")
	ErrInactiveTransaction = errors.New("transaction is not active")
	ErrTransactionConflict = errors.New("transaction conflict")
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
)

// Error is the envelope returned to callers of the repository layer. It carries
// enough information for an outer controller to render a response without
// inspecting the message text.
type Error struct {
	Kind        error
	StatusCode  int
	MessageCode string
	Message     string
	Payload     map[string]any
	Cause       error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

// UnknownColumn reports a filter, projection, order or payload key that is not
// declared on the entity.
func UnknownColumn(entity, column string) *Error {
	return &Error{
		Kind:        ErrUnknownColumn,
		StatusCode:  http.StatusBadRequest,
		MessageCode: "unknown_column",
		Message:     fmt.Sprintf("column %q is not defined on %q", column, entity),
		Payload:     map[string]any{"entity": entity, "column": column},
	}
}

func UnknownRelation(entity, relation string) *Error {
	return &Error{
		Kind:        ErrUnknownRelation,
		StatusCode:  http.StatusBadRequest,
		MessageCode: "unknown_relation",
		Message:     fmt.Sprintf("relation %q is not defined on %q", relation, entity),
		Payload:     map[string]any{"entity": entity, "relation": relation},
	}
}

func InvalidPath(path, reason string) *Error {
	return &Error{
		Kind:        ErrInvalidPath,
		StatusCode:  http.StatusBadRequest,
		MessageCode: "invalid_path",
		Message:     fmt.Sprintf("path %q: %s", path, reason),
		Payload:     map[string]any{"path": path},
	}
}

func InactiveTransaction(id, state string) *Error {
	return &Error{
		Kind:        ErrInactiveTransaction,
		StatusCode:  http.StatusConflict,
		MessageCode: "inactive_transaction",
		Message:     fmt.Sprintf("transaction %s is %s", id, state),
		Payload:     map[string]any{"transaction": id, "state": state},
	}
}

func TransactionConflict(cause error) *Error {
	return &Error{
		Kind:        ErrTransactionConflict,
		StatusCode:  http.StatusConflict,
		MessageCode: "transaction_conflict",
		Message:     "concurrent write detected",
		Cause:       cause,
	}
}

// Validation reports a malformed filter or a payload that fails the entity schema.
func Validation(format string, args ...any) *Error {
	return &Error{
		Kind:        ErrValidation,
		StatusCode:  http.StatusBadRequest,
		MessageCode: "validation_failed",
		Message:     fmt.Sprintf(format, args...),
	}
}

func NotFound(entity string, id any) *Error {
	return &Error{
		Kind:        ErrNotFound,
		StatusCode:  http.StatusNotFound,
		MessageCode: "not_found",
		Message:     fmt.Sprintf("%s with id %v not found", entity, id),
		Payload:     map[string]any{"entity": entity, "id": id},
	}
}

// WithPayload attaches extra context to the error and returns it.
func (e *Error) WithPayload(key string, value any) *Error {
	if e.Payload == nil {
		e.Payload = make(map[string]any)
	}
	e.Payload[key] = value
	return e
}

// StatusCode extracts the status code from err, defaulting to 500.
func StatusCode(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}
