package apierror

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAPIErrorError(t *testing.T) {
	err := NewAPIError(ErrNotFound, "order not found", nil)
	assert.Equal(t, "NOT_FOUND: order not found", err.Error())
}

func TestErrorsIsMatchesCode(t *testing.T) {
	err := NewAPIError(ErrUnauthorized, "not the current offeree", "agent-2")
	assert.True(t, errors.Is(err, APIError{Code: ErrUnauthorized}))
	assert.False(t, errors.Is(err, APIError{Code: ErrNotFound}))
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	cases := map[ErrorCode]int{
		ErrNotFound:          http.StatusNotFound,
		ErrInvalidTransition: http.StatusConflict,
		ErrUnauthorized:      http.StatusForbidden,
		ErrUnavailable:       http.StatusUnprocessableEntity,
		ErrTransientStore:    http.StatusServiceUnavailable,
		ErrBadRequest:        http.StatusBadRequest,
		ErrInternalServer:    http.StatusInternalServerError,
	}
	for code, status := range cases {
		assert.Equal(t, status, MapErrorToHTTPStatus(APIError{Code: code}))
	}

	assert.Equal(t, http.StatusInternalServerError, MapErrorToHTTPStatus(errors.New("plain error")))
}

func TestCode(t *testing.T) {
	assert.Equal(t, ErrUnavailable, Code(APIError{Code: ErrUnavailable}))
	assert.Equal(t, ErrInternalServer, Code(errors.New("boom")))
}
