// Package errors provides the application error type used across Plumbot.
// It carries a machine-readable code, a handling Kind and HTTP status mapping.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code represents an application error code.
type Code string

// Error codes for different error categories.
const (
	// Authentication/authorization
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeForbidden          Code = "FORBIDDEN"
	CodeVerificationFailed Code = "VERIFICATION_FAILED"
	CodeSignatureInvalid   Code = "SIGNATURE_INVALID"

	// Validation
	CodeValidation   Code = "VALIDATION_ERROR"
	CodeInvalidInput Code = "INVALID_INPUT"
	CodeMalformed    Code = "MALFORMED_PAYLOAD"
	CodeTooLarge     Code = "PAYLOAD_TOO_LARGE"

	// Resources
	CodeNotFound Code = "NOT_FOUND"
	CodeConflict Code = "CONFLICT"

	// External services
	CodeTransport     Code = "TRANSPORT_ERROR"
	CodeAIUnavailable Code = "AI_UNAVAILABLE"
	CodeCircuitOpen   Code = "CIRCUIT_OPEN"
	CodeRateLimited   Code = "RATE_LIMITED"
	CodeTimeout       Code = "TIMEOUT"
	CodeStorage       Code = "STORAGE_ERROR"

	// Internal
	CodeInternal Code = "INTERNAL_ERROR"
	CodeDatabase Code = "DATABASE_ERROR"
	CodeConfig   Code = "CONFIG_ERROR"
)

// Kind represents the kind of error for classification.
type Kind int

const (
	// KindUnknown is an unknown error kind.
	KindUnknown Kind = iota
	// KindUser indicates a caller-caused error (bad input, bad token).
	KindUser
	// KindSystem indicates a system error (database down, misconfiguration).
	KindSystem
	// KindTransient indicates a temporary error that may succeed on retry.
	KindTransient
)

// Error is the base application error type.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Kind    Kind   `json:"-"`
	// Op is the operation being performed (e.g., "whatsapp.SendText").
	Op  string `json:"-"`
	Err error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// HTTPStatus returns the HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeUnauthorized, CodeSignatureInvalid:
		return http.StatusUnauthorized
	case CodeForbidden, CodeVerificationFailed:
		return http.StatusForbidden
	case CodeValidation, CodeInvalidInput, CodeMalformed:
		return http.StatusBadRequest
	case CodeTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeTransport, CodeAIUnavailable, CodeCircuitOpen:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// IsRetriable returns true if the error may succeed on retry.
func (e *Error) IsRetriable() bool {
	return e.Kind == KindTransient
}

// ErrorResponse is the JSON envelope for API errors.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error details in API responses.
type ErrorDetail struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// ToResponse converts an Error to an API response.
func (e *Error) ToResponse() ErrorResponse {
	return ErrorResponse{Error: ErrorDetail{Code: e.Code, Message: e.Message}}
}

// New creates a new Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Kind: kindForCode(code)}
}

// Wrap wraps an existing error with an operation and code.
func Wrap(err error, op string, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Kind: kindForCode(code), Op: op, Err: err}
}

func kindForCode(code Code) Kind {
	switch code {
	case CodeUnauthorized, CodeForbidden, CodeVerificationFailed, CodeSignatureInvalid,
		CodeValidation, CodeInvalidInput, CodeMalformed, CodeTooLarge, CodeNotFound, CodeConflict:
		return KindUser
	case CodeTransport, CodeAIUnavailable, CodeCircuitOpen, CodeRateLimited, CodeTimeout:
		return KindTransient
	default:
		return KindSystem
	}
}

// Sentinel errors.
var (
	ErrNotFound           = New(CodeNotFound, "resource not found")
	ErrUnauthorized       = New(CodeUnauthorized, "authentication required")
	ErrVerificationFailed = New(CodeVerificationFailed, "webhook verification failed")
	ErrSignatureInvalid   = New(CodeSignatureInvalid, "invalid webhook signature")
	ErrCircuitOpen        = New(CodeCircuitOpen, "service temporarily unavailable")
)

// NotFound creates a not found error for a specific resource.
func NotFound(resource string) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf("%s not found", resource), Kind: KindUser}
}

// ValidationFailed creates a validation error.
func ValidationFailed(message string) *Error {
	return &Error{Code: CodeValidation, Message: message, Kind: KindUser}
}

// DatabaseError creates a database error with the underlying cause.
func DatabaseError(op string, err error) *Error {
	return &Error{Code: CodeDatabase, Message: "database operation failed", Kind: KindSystem, Op: op, Err: err}
}

// TransportError creates a messaging transport error. Server-side and
// network failures are transient; a 4xx from the provider is not.
func TransportError(op string, status int, err error) *Error {
	kind := KindTransient
	if status >= 400 && status < 500 && status != http.StatusTooManyRequests && status != http.StatusRequestTimeout {
		kind = KindSystem
	}
	return &Error{Code: CodeTransport, Message: "messaging transport error", Kind: kind, Op: op, Err: err}
}

// AIError creates a language model service error.
func AIError(op string, err error) *Error {
	return &Error{Code: CodeAIUnavailable, Message: "language model unavailable", Kind: KindTransient, Op: op, Err: err}
}

// StorageError creates a media storage error.
func StorageError(op string, err error) *Error {
	return &Error{Code: CodeStorage, Message: "media storage failed", Kind: KindSystem, Op: op, Err: err}
}

// GetCode extracts the error code, returning CodeInternal for foreign errors.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// GetHTTPStatus extracts the HTTP status, returning 500 for foreign errors.
func GetHTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// IsRetriable checks if an error is retriable.
func IsRetriable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.IsRetriable()
	}
	return false
}

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == CodeNotFound
	}
	return false
}
