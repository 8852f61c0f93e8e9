package api

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApiError(t *testing.T) {
	cause := errors.New("connection refused")
	apiErr := NewInternalServerError(cause)

	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "internal server error: connection refused", apiErr.Error())
	assert.ErrorIs(t, apiErr, cause)

	notFound := NewNotFoundError()
	assert.Equal(t, http.StatusNotFound, notFound.StatusCode)
	assert.Equal(t, "not found", notFound.Error())
	assert.Nil(t, notFound.Unwrap())
}
