package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsMatchesThroughWrapping(t *testing.T) {
	err := NotFound("no room matches %q", "general")
	assert.True(t, Is(err, CodeNotFound))
	assert.False(t, Is(err, CodeForbidden))

	wrapped := fmt.Errorf("resolving room: %w", err)
	assert.True(t, Is(wrapped, CodeNotFound))

	assert.False(t, Is(errors.New("plain"), CodeNotFound))
	assert.False(t, Is(nil, CodeNotFound))
}

func TestFromWrapsUnknownErrorsAsInternal(t *testing.T) {
	tagged := From(Forbidden("nope"))
	assert.Equal(t, CodeForbidden, tagged.Code)

	plain := From(errors.New("disk on fire"))
	assert.Equal(t, CodeInternal, plain.Code)
	assert.Equal(t, "disk on fire", plain.Message)
}

func TestErrorStringIncludesCode(t *testing.T) {
	err := Conflict("room name already taken")
	assert.Equal(t, "conflict: room name already taken", err.Error())
}

func TestWithDetails(t *testing.T) {
	err := HistoryPruned("floor is %d", 40).WithDetails(map[string]any{"floor_seq": 40})
	require.NotNil(t, err.Details)
	assert.Equal(t, 40, err.Details["floor_seq"])
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		code Code
		want int
	}{
		{CodeBadRequest, http.StatusBadRequest},
		{CodeUnauthorized, http.StatusUnauthorized},
		{CodeOTPRequired, http.StatusUnauthorized},
		{CodeForbidden, http.StatusForbidden},
		{CodeNotFound, http.StatusNotFound},
		{CodeConflict, http.StatusConflict},
		{CodeHistoryPruned, http.StatusGone},
		{CodePayloadTooLarge, http.StatusRequestEntityTooLarge},
		{CodeRateLimited, http.StatusTooManyRequests},
		{CodeInternal, http.StatusInternalServerError},
		{Code("mystery"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, New(tc.code, "x").HTTPStatus(), string(tc.code))
	}
}
