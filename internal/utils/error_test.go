package utils

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorMatchesSentinelByCode(t *testing.T) {
	err := NewConnectionError("postgres", errors.New("dial tcp: refused"))
	wrapped := fmt.Errorf("execute: %w", err)

	assert.True(t, errors.Is(wrapped, ErrConnection))
	assert.False(t, errors.Is(wrapped, ErrNotConnected))
	assert.Equal(t, ErrCodeConnectionFailed, ErrorCode(wrapped))
	assert.Contains(t, err.Error(), "engine=postgres")
	assert.Contains(t, err.Error(), "dial tcp: refused")
}

func TestErrorBuilderDefaults(t *testing.T) {
	err := NewErrorBuilder(ErrCodeDangerousOperation).
		WithMessage("Dangerous SQL operation detected: DROP").
		Build()
	assert.Equal(t, "Dangerous SQL operation detected: DROP", err.Error())

	plain := NewErrorBuilder(ErrCodeEmptySQL).Build()
	assert.Equal(t, "SQL query is empty", plain.Error())
}

func TestUnsupportedEngineError(t *testing.T) {
	err := NewUnsupportedEngineError("oracle", []string{"mysql", "postgres"})
	assert.True(t, errors.Is(err, ErrUnsupportedEngine))
	assert.Contains(t, err.Error(), "unsupported database type: oracle")
	assert.Contains(t, err.Error(), "available=mysql,postgres")
}

func TestIsRecoverable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"empty sql", NewErrorBuilder(ErrCodeEmptySQL).Build(), true},
		{"dangerous", NewErrorBuilder(ErrCodeDangerousOperation).Build(), true},
		{"disallowed", NewErrorBuilder(ErrCodeDisallowedStatement).Build(), true},
		{"cte", NewErrorBuilder(ErrCodeMalformedCTE).Build(), true},
		{"connection", NewConnectionError("mysql", nil), false},
		{"plain", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRecoverable(tt.err))
		})
	}
}

func TestRedact(t *testing.T) {
	cause := NewConnectionError("postgres", errors.New(`password authentication failed for "s3cret"`))
	err := Redact(cause, "s3cret", "")

	require.Error(t, err)
	assert.NotContains(t, err.Error(), "s3cret")
	assert.Contains(t, err.Error(), "****")
	assert.True(t, errors.Is(err, ErrConnection))

	var appErr *AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, ErrCodeConnectionFailed, appErr.Code)

	untouched := errors.New("no secrets here")
	assert.Same(t, untouched, Redact(untouched, "s3cret"))
	assert.NoError(t, Redact(nil, "x"))
}
