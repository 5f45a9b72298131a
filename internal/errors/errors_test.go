package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		expected string
	}{
		{
			name: "error with wrapped error",
			appError: &AppError{
				Type:    ErrorTypeRemote,
				Message: "failed to poll task",
				Err:     errors.New("connection refused"),
			},
			expected: "remote: failed to poll task: connection refused",
		},
		{
			name: "error without wrapped error",
			appError: &AppError{
				Type:    ErrorTypeConfiguration,
				Message: "API key is required",
				Err:     nil,
			},
			expected: "configuration: API key is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.appError.Error()
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	wrappedErr := errors.New("wrapped error")
	appErr := &AppError{
		Type:    ErrorTypeInput,
		Message: "test message",
		Err:     wrappedErr,
	}

	result := appErr.Unwrap()
	assert.Equal(t, wrappedErr, result)
}

func TestAppError_Is(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		target   error
		expected bool
	}{
		{
			name: "same type",
			appError: &AppError{
				Type:    ErrorTypeInput,
				Message: "test message",
				Err:     nil,
			},
			target: &AppError{
				Type:    ErrorTypeInput,
				Message: "different message",
				Err:     errors.New("some error"),
			},
			expected: true,
		},
		{
			name: "different type",
			appError: &AppError{
				Type:    ErrorTypeInput,
				Message: "test message",
				Err:     nil,
			},
			target: &AppError{
				Type:    ErrorTypeRemote,
				Message: "test message",
				Err:     nil,
			},
			expected: false,
		},
		{
			name: "not an AppError",
			appError: &AppError{
				Type:    ErrorTypeInput,
				Message: "test message",
				Err:     nil,
			},
			target:   errors.New("standard error"),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.appError.Is(tt.target)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestUserFriendlyError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "configuration error",
			err:      NewConfigurationError("WORKSPACE environment variable is required", ErrMissingConfig),
			expected: "Configuration error: WORKSPACE environment variable is required",
		},
		{
			name:     "remote error with cause",
			err:      NewRemoteError("failed to create generate task", ErrUnexpectedStatus),
			expected: "Remote error: failed to create generate task (unexpected HTTP status)",
		},
		{
			name:     "input error",
			err:      NewInputError("failed to read file", nil),
			expected: "Input error: failed to read file",
		},
		{
			name:     "parsing error",
			err:      NewParsingError("line 3: invalid JSON syntax", ErrInvalidJSON),
			expected: "JSON parsing error: line 3: invalid JSON syntax",
		},
		{
			name:     "output error",
			err:      NewOutputError("failed to write output", nil),
			expected: "Output error: failed to write output",
		},
		{
			name:     "wrapped app error",
			err:      fmt.Errorf("fetch: %w", NewRemoteError("task failed", nil)),
			expected: "Remote error: task failed",
		},
		{
			name:     "standard error - empty input",
			err:      ErrEmptyInput,
			expected: "Error: The input is empty. Please provide valid JSON Lines data.",
		},
		{
			name:     "standard error - invalid JSON",
			err:      ErrInvalidJSON,
			expected: "Error: The input contains invalid JSON. Please check your JSON syntax.",
		},
		{
			name:     "unknown error",
			err:      errors.New("some unknown error"),
			expected: "Error: some unknown error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := UserFriendlyError(tt.err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestIsType(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewParsingError("bad line", ErrInvalidJSON))

	assert.True(t, IsType(err, ErrorTypeParsing))
	assert.False(t, IsType(err, ErrorTypeRemote))
	assert.True(t, errors.Is(err, ErrInvalidJSON))
	assert.False(t, IsType(errors.New("plain"), ErrorTypeParsing))
}
