// Package npm implements a read-only client for an npm-compatible package
// registry. It resolves a package's latest published version and its tarball
// location, and downloads tarballs for structural inspection.
package npm

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the registry client. Callers branch on these to
// map registry failures onto the submission pipeline's error taxonomy.
var (
	// ErrPackageNotFound indicates the registry returned 404 for the package
	ErrPackageNotFound = errors.New("package not found in registry")

	// ErrRegistryShape indicates the package document was retrieved but is
	// missing the latest dist-tag or the corresponding version entry
	ErrRegistryShape = errors.New("registry document has unexpected shape")

	// ErrTransientFetch indicates a network failure or 5xx from the registry.
	// The caller may retry; the client does not retry automatically.
	ErrTransientFetch = errors.New("transient registry fetch failure")
)

// APIError wraps a registry error with HTTP status context
type APIError struct {
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("registry error (status %d): %s: %v", e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("registry error (status %d): %s", e.StatusCode, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *APIError) Unwrap() error {
	return e.Err
}

// wrapStatusError converts an HTTP status into the matching sentinel error
func wrapStatusError(statusCode int, message string) error {
	switch {
	case statusCode == 404:
		return &APIError{StatusCode: statusCode, Message: message, Err: ErrPackageNotFound}
	case statusCode >= 500:
		return &APIError{StatusCode: statusCode, Message: message, Err: ErrTransientFetch}
	default:
		return &APIError{StatusCode: statusCode, Message: message}
	}
}
