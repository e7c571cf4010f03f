package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode represents a specific error type for categorization
type ErrorCode string

const (
	// Source errors
	ErrSourceUnavailable ErrorCode = "SOURCE_UNAVAILABLE"
	ErrMalformedRecord   ErrorCode = "MALFORMED_RECORD"

	// Directory API errors
	ErrRemoteListFailed    ErrorCode = "REMOTE_LIST_FAILED"
	ErrAlreadyExists       ErrorCode = "ALREADY_EXISTS"
	ErrNotAuthorized       ErrorCode = "NOT_AUTHORIZED"
	ErrRemoteAPIFailed     ErrorCode = "REMOTE_API_FAILED"
	ErrDirectoryAuthFailed ErrorCode = "DIRECTORY_AUTH_FAILED"

	// Trigger errors
	ErrUnauthorizedTrigger ErrorCode = "UNAUTHORIZED_TRIGGER"
	ErrInvalidInput        ErrorCode = "INVALID_INPUT"
	ErrRunInProgress       ErrorCode = "RUN_IN_PROGRESS"

	// System errors
	ErrConfigurationError ErrorCode = "CONFIGURATION_ERROR"
	ErrInternalServer     ErrorCode = "INTERNAL_SERVER_ERROR"
)

// ErrorSeverity indicates the severity level of an error
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "LOW"
	SeverityMedium   ErrorSeverity = "MEDIUM"
	SeverityHigh     ErrorSeverity = "HIGH"
	SeverityCritical ErrorSeverity = "CRITICAL"
)

// AppError represents a structured application error with rich context
type AppError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	Severity   ErrorSeverity          `json:"severity"`
	HTTPStatus int                    `json:"http_status"`
	StatusCode int                    `json:"remote_status,omitempty"` // Status reported by the remote service, if any
	Reason     string                 `json:"reason,omitempty"`        // Reason reported by the remote service, if any
	Context    map[string]interface{} `json:"context,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Retryable  bool                   `json:"retryable"`
	Cause      error                  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds contextual information to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithAccount adds the affected primary email to the error
func (e *AppError) WithAccount(email string) *AppError {
	return e.WithContext("primary_email", email)
}

// IsRetryable returns whether this error may be retried.
// Only read-only operations consult it.
func (e *AppError) IsRetryable() bool {
	return e.Retryable
}

// NewError creates a new AppError with the given code and message
func NewError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Severity:   getDefaultSeverity(code),
		HTTPStatus: getDefaultHTTPStatus(code),
		Timestamp:  time.Now(),
	}
}

// NewErrorWithCause creates a new AppError wrapping an existing error
func NewErrorWithCause(code ErrorCode, message string, cause error) *AppError {
	appErr := NewError(code, message)
	appErr.Cause = cause
	return appErr
}

// NewSourceError creates a SOURCE_UNAVAILABLE error for the given stage
// (fetch, credentials, decompress, decode)
func NewSourceError(stage string, cause error) *AppError {
	return NewErrorWithCause(ErrSourceUnavailable, fmt.Sprintf("authoritative source %s failed", stage), cause).
		WithContext("stage", stage)
}

// NewRemoteError creates a directory API error from a non-success response.
// Callers pick the code after classifying the reason.
func NewRemoteError(code ErrorCode, operation string, statusCode int, reason, message string) *AppError {
	appErr := NewError(code, fmt.Sprintf("directory API %s failed", operation))
	appErr.Details = fmt.Sprintf("HTTP %d: %s", statusCode, message)
	appErr.StatusCode = statusCode
	appErr.Reason = reason
	appErr.Retryable = statusCode == http.StatusTooManyRequests || statusCode >= 500
	return appErr
}

// HasCode reports whether any error in err's chain is an AppError with code
func HasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsAlreadyExists reports whether err is the benign create-on-existing error
func IsAlreadyExists(err error) bool {
	return HasCode(err, ErrAlreadyExists)
}

// IsNotAuthorized reports whether err is the benign disable-on-protected error
func IsNotAuthorized(err error) bool {
	return HasCode(err, ErrNotAuthorized)
}

// AsAppError extracts the AppError from err's chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	ok := stderrors.As(err, &appErr)
	return appErr, ok
}

func getDefaultSeverity(code ErrorCode) ErrorSeverity {
	switch code {
	case ErrAlreadyExists, ErrNotAuthorized, ErrMalformedRecord, ErrInvalidInput:
		return SeverityLow
	case ErrRunInProgress, ErrUnauthorizedTrigger:
		return SeverityMedium
	case ErrSourceUnavailable, ErrRemoteListFailed, ErrRemoteAPIFailed, ErrDirectoryAuthFailed:
		return SeverityHigh
	case ErrConfigurationError, ErrInternalServer:
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

func getDefaultHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrInvalidInput, ErrMalformedRecord:
		return http.StatusBadRequest
	case ErrUnauthorizedTrigger:
		return http.StatusUnauthorized
	case ErrAlreadyExists, ErrRunInProgress:
		return http.StatusConflict
	case ErrNotAuthorized:
		return http.StatusForbidden
	case ErrSourceUnavailable, ErrRemoteListFailed, ErrRemoteAPIFailed, ErrDirectoryAuthFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
