package errors

import (
	"errors"
	"fmt"
)

// Standard application errors
var (
	ErrEmptyInput       = errors.New("input is empty or contains only whitespace")
	ErrInvalidJSON      = errors.New("invalid JSON format")
	ErrTrailingData     = errors.New("more than one JSON value on a single line")
	ErrFileNotFound     = errors.New("file not found")
	ErrInvalidFilePath  = errors.New("invalid file path")
	ErrMissingConfig    = errors.New("required configuration value is missing")
	ErrTaskFailed       = errors.New("remote task reported an error")
	ErrNoDataURL        = errors.New("no data URL returned from the remote task")
	ErrUnexpectedStatus = errors.New("unexpected HTTP status")
)

// ErrorType categorizes errors
type ErrorType string

const (
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeRemote        ErrorType = "remote"
	ErrorTypeInput         ErrorType = "input"
	ErrorTypeParsing       ErrorType = "parsing"
	ErrorTypeOutput        ErrorType = "output"
	ErrorTypeUnknown       ErrorType = "unknown"
)

// AppError is an application-specific error with context
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for comparison
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// NewConfigurationError creates an error for missing or invalid configuration
func NewConfigurationError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeConfiguration,
		Message: message,
		Err:     err,
	}
}

// NewRemoteError creates an error for a failed remote task or HTTP exchange
func NewRemoteError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeRemote,
		Message: message,
		Err:     err,
	}
}

// NewInputError creates a new error related to input processing
func NewInputError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeInput,
		Message: message,
		Err:     err,
	}
}

// NewParsingError creates a new error related to JSON parsing
func NewParsingError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeParsing,
		Message: message,
		Err:     err,
	}
}

// NewOutputError creates a new error related to output processing
func NewOutputError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeOutput,
		Message: message,
		Err:     err,
	}
}

// IsType reports whether err is, or wraps, an AppError of type t
func IsType(err error, t ErrorType) bool {
	return errors.Is(err, &AppError{Type: t})
}

// UserFriendlyError returns a user-friendly error message
func UserFriendlyError(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		detail := appErr.Message
		if appErr.Err != nil {
			detail = fmt.Sprintf("%s (%v)", appErr.Message, appErr.Err)
		}
		switch appErr.Type {
		case ErrorTypeConfiguration:
			return fmt.Sprintf("Configuration error: %s", appErr.Message)
		case ErrorTypeRemote:
			return fmt.Sprintf("Remote error: %s", detail)
		case ErrorTypeInput:
			return fmt.Sprintf("Input error: %s", detail)
		case ErrorTypeParsing:
			return fmt.Sprintf("JSON parsing error: %s", appErr.Message)
		case ErrorTypeOutput:
			return fmt.Sprintf("Output error: %s", detail)
		default:
			return fmt.Sprintf("Error: %s", appErr.Message)
		}
	}

	// Handle standard errors
	if errors.Is(err, ErrEmptyInput) {
		return "Error: The input is empty. Please provide valid JSON Lines data."
	}
	if errors.Is(err, ErrInvalidJSON) {
		return "Error: The input contains invalid JSON. Please check your JSON syntax."
	}
	if errors.Is(err, ErrFileNotFound) {
		return "Error: The specified file could not be found. Please check the file path."
	}
	if errors.Is(err, ErrMissingConfig) {
		return "Error: Required configuration is missing. Set it in the environment, a .env file or the config file."
	}

	// Generic error message for unknown errors
	return fmt.Sprintf("Error: %v", err)
}
