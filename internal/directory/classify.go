package directory

import (
	"encoding/json"
	"net/http"
	"strings"

	apperrors "github.com/mozilla-iam/gsuite-cloud-users-driver/internal/errors"
)

// Reasons reported in the directory API error envelope
const (
	reasonDuplicate               = "duplicate"
	reasonForbidden               = "forbidden"
	reasonInsufficientPermissions = "insufficientPermissions"
)

// Message fragments matched only when the envelope carries no usable
// reason. Older API versions and some proxies drop the errors array.
const (
	messageAlreadyExists = "entity already exists"
	messageNotAuthorized = "not authorized to access this resource"
)

// Operations, used for error messages and classification
const (
	opList    = "list"
	opCreate  = "create"
	opDisable = "disable"
	opDelete  = "delete"
)

// parseAPIError extracts the first reason and the message from a response body
func parseAPIError(body []byte) (reason, message string) {
	var envelope apiErrorResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", strings.TrimSpace(string(body))
	}

	message = envelope.Error.Message
	for _, detail := range envelope.Error.Errors {
		if detail.Reason != "" {
			reason = detail.Reason
			break
		}
	}
	if message == "" && len(envelope.Error.Errors) > 0 {
		message = envelope.Error.Errors[0].Message
	}
	if message == "" {
		message = strings.TrimSpace(string(body))
	}
	return reason, message
}

// classifyError maps a non-success response to an AppError code for operation
func classifyError(operation string, statusCode int, body []byte) *apperrors.AppError {
	reason, message := parseAPIError(body)
	lowerMessage := strings.ToLower(message)

	code := apperrors.ErrRemoteAPIFailed
	switch operation {
	case opList:
		code = apperrors.ErrRemoteListFailed

	case opCreate:
		if reason == reasonDuplicate ||
			(statusCode == http.StatusConflict && reason == "") ||
			strings.Contains(lowerMessage, messageAlreadyExists) {
			code = apperrors.ErrAlreadyExists
		}

	case opDisable:
		if statusCode == http.StatusForbidden &&
			(reason == reasonForbidden || reason == reasonInsufficientPermissions) {
			code = apperrors.ErrNotAuthorized
		} else if strings.Contains(lowerMessage, messageNotAuthorized) {
			code = apperrors.ErrNotAuthorized
		}
	}

	if statusCode == http.StatusUnauthorized {
		code = apperrors.ErrDirectoryAuthFailed
	}

	return apperrors.NewRemoteError(code, operation, statusCode, reason, message)
}
