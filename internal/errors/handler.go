package errors

import (
	"github.com/gofiber/fiber/v2"
	"github.com/mozilla-iam/gsuite-cloud-users-driver/internal/logging"
	"go.uber.org/zap"
)

// ErrorResponse represents the standardized error response format
type ErrorResponse struct {
	Error     string                 `json:"error"`
	Code      ErrorCode              `json:"code"`
	Details   string                 `json:"details,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	Timestamp string                 `json:"timestamp"`
}

// Handler provides centralized error handling for HTTP responses
type Handler struct {
	// Include sensitive details in responses (dev mode)
	IncludeSensitiveDetails bool
}

// NewHandler creates a new error handler with production defaults
func NewHandler() *Handler {
	return &Handler{IncludeSensitiveDetails: false}
}

// HandleError converts err to an AppError and writes it as JSON
func (h *Handler) HandleError(c *fiber.Ctx, err error) error {
	if err == nil {
		return nil
	}

	appErr := h.toAppError(err)

	requestID := c.Get("X-Request-ID")
	if requestID == "" {
		requestID = c.Get("X-Correlation-ID")
	}

	h.logError(appErr, requestID, c)

	return c.Status(appErr.HTTPStatus).JSON(h.createErrorResponse(appErr, requestID))
}

// FiberErrorHandler creates a Fiber-compatible error handler
func (h *Handler) FiberErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		return h.HandleError(c, err)
	}
}

func (h *Handler) toAppError(err error) *AppError {
	if appErr, ok := AsAppError(err); ok {
		return appErr
	}

	// Routing errors from fiber keep their status
	if fiberErr, ok := err.(*fiber.Error); ok {
		appErr := NewErrorWithCause(ErrInvalidInput, fiberErr.Message, err)
		appErr.HTTPStatus = fiberErr.Code
		return appErr
	}

	return NewErrorWithCause(ErrInternalServer, "Internal server error", err)
}

func (h *Handler) createErrorResponse(appErr *AppError, requestID string) ErrorResponse {
	response := ErrorResponse{
		Error:     appErr.Message,
		Code:      appErr.Code,
		RequestID: requestID,
		Timestamp: appErr.Timestamp.UTC().Format("2006-01-02T15:04:05Z"),
	}

	// Client errors and dev mode get details
	if h.IncludeSensitiveDetails || (appErr.HTTPStatus >= 400 && appErr.HTTPStatus < 500) {
		response.Details = appErr.Details
		response.Context = appErr.Context
	}

	if !h.IncludeSensitiveDetails {
		safeMessages := map[ErrorCode]string{
			ErrDirectoryAuthFailed: "Unable to access directory API",
			ErrInternalServer:      "Internal server error",
			ErrConfigurationError:  "Service configuration error",
		}
		if safeMsg, exists := safeMessages[appErr.Code]; exists {
			response.Error = safeMsg
			response.Details = ""
			response.Context = nil
		}
	}

	return response
}

func (h *Handler) logError(appErr *AppError, requestID string, c *fiber.Ctx) {
	logger := logging.GetLogger()
	if logger == nil {
		return
	}

	fields := []zap.Field{
		zap.String("error_code", string(appErr.Code)),
		zap.String("severity", string(appErr.Severity)),
		zap.Int("http_status", appErr.HTTPStatus),
	}
	if requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	if c != nil {
		fields = append(fields, zap.String("method", c.Method()), zap.String("path", c.Path()))
	}
	for key, value := range appErr.Context {
		fields = append(fields, zap.Any(key, value))
	}
	if appErr.Cause != nil {
		fields = append(fields, zap.Error(appErr.Cause))
	}

	switch appErr.Severity {
	case SeverityLow:
		logger.Structured(logging.INFO, appErr.Message, fields...)
	case SeverityMedium:
		logger.Structured(logging.WARN, appErr.Message, fields...)
	default:
		logger.Structured(logging.ERROR, appErr.Message, fields...)
	}
}
