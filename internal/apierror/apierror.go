package apierror

import (
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

type ErrorCode string

const (
	ErrNotFound          ErrorCode = "NOT_FOUND"
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrUnauthorized      ErrorCode = "UNAUTHORIZED"
	ErrUnavailable       ErrorCode = "UNAVAILABLE"
	ErrTransientStore    ErrorCode = "TRANSIENT_STORE_FAILURE"
	ErrBadRequest        ErrorCode = "BAD_REQUEST"
	ErrInternalServer    ErrorCode = "INTERNAL_SERVER_ERROR"
)

type APIError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAPIError(code ErrorCode, message string, details interface{}) APIError {
	logrus.Error(details)
	return APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Is lets callers match taxonomy codes with errors.Is against a bare
// APIError{Code: ...} target.
func (e APIError) Is(target error) bool {
	t, ok := target.(APIError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Code extracts the taxonomy code from an error, or INTERNAL_SERVER_ERROR
// for anything outside the taxonomy.
func Code(err error) ErrorCode {
	if apiErr, ok := err.(APIError); ok {
		return apiErr.Code
	}
	return ErrInternalServer
}

func MapErrorToHTTPStatus(err error) int {
	if apiErr, ok := err.(APIError); ok {
		switch apiErr.Code {
		case ErrNotFound:
			return http.StatusNotFound
		case ErrInvalidTransition:
			return http.StatusConflict
		case ErrUnauthorized:
			return http.StatusForbidden
		case ErrUnavailable:
			return http.StatusUnprocessableEntity
		case ErrTransientStore:
			return http.StatusServiceUnavailable
		case ErrBadRequest:
			return http.StatusBadRequest
		case ErrInternalServer:
			return http.StatusInternalServerError
		default:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}
