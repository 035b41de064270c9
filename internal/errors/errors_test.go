package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategoryWrapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		category error
	}{
		{"not found", NotFound("skill tasks"), ErrNotFound},
		{"invalid input", InvalidInput("empty name"), ErrInvalidInput},
		{"unauthorized", Unauthorized("bad secret"), ErrUnauthorized},
		{"transport", Transport(nil, "connection refused"), ErrTransport},
		{"transient", Transient("busy"), ErrTransient},
		{"internal", Internal("unexpected state"), ErrInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, IsCategory(tt.err, tt.category))
			assert.NotEmpty(t, tt.err.Error())
		})
	}
}

func TestIsCategory_Negative(t *testing.T) {
	assert.False(t, IsCategory(nil, ErrNotFound))
	assert.False(t, IsCategory(NotFound("x"), ErrTransport))
	assert.False(t, IsCategory(fmt.Errorf("plain"), ErrInternal))
}

func TestIsCategory_SurvivesFurtherWrapping(t *testing.T) {
	err := fmt.Errorf("outer context: %w", Unauthorized("bad secret"))
	assert.True(t, IsCategory(err, ErrUnauthorized))
}

func TestTransport_CarriesCause(t *testing.T) {
	cause := fmt.Errorf("dial tcp: connection refused")
	err := Transport(cause, "call skill host")
	assert.True(t, IsCategory(err, ErrTransport))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(Transient("busy")))
	assert.True(t, IsRetryable(Transport(nil, "refused")))

	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(Unauthorized("bad secret")))
	assert.False(t, IsRetryable(NotFound("skill")))
	assert.False(t, IsRetryable(fmt.Errorf("wrapped: %w", context.Canceled)))
}
