package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// HTTPError represents an HTTP status error from a remote source.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d from %s", e.StatusCode, e.URL)
}

// RefError represents a source reference that can never be fetched as given.
type RefError struct {
	Ref    string
	Reason string
}

func (e *RefError) Error() string {
	return fmt.Sprintf("bad source ref %q: %s", e.Ref, e.Reason)
}

// isTransient reports whether a fetch error is worth retrying.
func isTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		// 5xx server errors are transient
		if httpErr.StatusCode >= 500 && httpErr.StatusCode < 600 {
			return true
		}
		// 429 rate limit is transient
		if httpErr.StatusCode == 429 {
			return true
		}
	}

	// Network errors (connection issues, timeouts)
	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "eof") {
		return true
	}

	return false
}

// isFatal reports whether a fetch error should not be retried at all.
func isFatal(err error) bool {
	if err == nil {
		return false
	}

	var refErr *RefError
	if errors.As(err, &refErr) {
		return true
	}

	// HTTP 4xx errors (except 429)
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 && httpErr.StatusCode != 429 {
			return true
		}
	}

	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "no such key") ||
		strings.Contains(errStr, "not found") ||
		strings.Contains(errStr, "access denied") ||
		strings.Contains(errStr, "decryption failed") {
		return true
	}

	return false
}
