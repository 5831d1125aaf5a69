package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// ConfigurationError indicates invalid configuration or API misuse (bad budget, duplicate repo)
	ConfigurationError ErrorCode = "CONFIGURATION_ERROR"
	// NotFound indicates an unknown repository, item or node
	NotFound ErrorCode = "NOT_FOUND"
	// ValidationError indicates a submitted graph failed validation (dangling edge endpoint)
	ValidationError ErrorCode = "VALIDATION_ERROR"
	// PartialResult indicates a scan was cancelled or truncated
	PartialResult ErrorCode = "PARTIAL_RESULT"
	// ProviderUnavailable indicates a symbol graph provider cannot run in this build or environment
	ProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	// StorageError indicates the snapshot store failed
	StorageError ErrorCode = "STORAGE_ERROR"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// FixActionType represents the type of fix action
type FixActionType string

const (
	// RunCommand suggests running a command
	RunCommand FixActionType = "run-command"
	// OpenDocs suggests opening documentation
	OpenDocs FixActionType = "open-docs"
)

// FixAction represents a suggested fix for an error
type FixAction struct {
	Type        FixActionType `json:"type"`
	Command     string        `json:"command,omitempty"`
	Safe        bool          `json:"safe,omitempty"`
	Description string        `json:"description,omitempty"`
	URL         string        `json:"url,omitempty"`
}

// Error is a coded error with an optional cause and suggested fixes
type Error struct {
	Code           ErrorCode   `json:"code"`
	Message        string      `json:"message"`
	Details        interface{} `json:"details,omitempty"`
	SuggestedFixes []FixAction `json:"suggestedFixes,omitempty"`
	cause          error       // Underlying error (not exported to JSON)
}

// New creates a new Error with the default suggested fixes for its code
func New(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:           code,
		Message:        message,
		cause:          cause,
		SuggestedFixes: GetSuggestedFixes(code),
	}
}

// Newf creates a new Error without a cause, formatting the message
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *Error) WithDetails(details interface{}) *Error {
	e.Details = details
	return e
}

// CodeOf returns the code of the first Error in err's chain, or "" if there is none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// ErrorActions maps error codes to suggested fix actions
var ErrorActions = map[ErrorCode][]FixAction{
	NotFound: {
		{
			Type:        RunCommand,
			Command:     "xrepo repo list",
			Safe:        true,
			Description: "List registered repositories",
		},
	},
	ProviderUnavailable: {
		{
			Type:        RunCommand,
			Command:     "xrepo graph build --provider file",
			Safe:        true,
			Description: "Build from exported graph files instead",
		},
	},
	StorageError: {
		{
			Type:        RunCommand,
			Command:     "xrepo graph build --no-snapshot",
			Safe:        true,
			Description: "Rebuild without reading the snapshot",
		},
	},
}

// GetSuggestedFixes returns suggested fixes for an error code
func GetSuggestedFixes(code ErrorCode) []FixAction {
	if fixes, ok := ErrorActions[code]; ok {
		return fixes
	}
	return nil
}
