package cicd

import (
	"errors"
	"fmt"
)

var (
	// ErrWorkflowNotFound means the configured workflow file does not exist
	// in the target repository
	ErrWorkflowNotFound = errors.New("cicd: workflow not found")

	// ErrWorkflowTimeout means no run reached a terminal state within the
	// configured polling window
	ErrWorkflowTimeout = errors.New("cicd: timed out waiting for workflow conclusion")

	// ErrNotConfigured means the bridge is missing owner/repo/token settings
	ErrNotConfigured = errors.New("cicd: workflow bridge is not configured")
)

// APIError carries the status code of a failed CI provider request
type APIError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cicd: %s (status %d): %v", e.Message, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("cicd: %s (status %d)", e.Message, e.StatusCode)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func wrapRemoteError(statusCode int, message string, err error) error {
	return &APIError{StatusCode: statusCode, Message: message, Err: err}
}
