package zoraxy

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNotConfigured is returned when the API URL or credentials are missing.
// The whitelist feature degrades to a no-op in that case.
var ErrNotConfigured = errors.New("zoraxy: api url, username or password not configured")

// errMissingCSRF is the handshake failure when neither the login page meta
// marker nor the zoraxy_csrf cookie yielded a token.
var errMissingCSRF = errors.New("failed to get CSRF token")

// AuthError reports a failed login handshake (network failure, rejected
// credentials, or an unparseable login page).
type AuthError struct {
	Cause error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("zoraxy: login failed: %v", e.Cause)
}

func (e *AuthError) Unwrap() error { return e.Cause }

// RemoteError reports an authenticated whitelist call that failed after the
// single re-authentication retry.
type RemoteError struct {
	Op     string // "add" or "remove"
	Target string
	Status int // 0 when no response was received
	Cause  error
}

func (e *RemoteError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("zoraxy: %s on whitelist %q failed with status %d: %v", e.Op, e.Target, e.Status, e.Cause)
	}
	return fmt.Sprintf("zoraxy: %s on whitelist %q failed: %v", e.Op, e.Target, e.Cause)
}

func (e *RemoteError) Unwrap() error { return e.Cause }

// StatusError is a non-2xx response from the remote API.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Status)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

// APIError is a 2xx response whose JSON body carries an "error" field.
// Zoraxy reports most validation failures this way.
type APIError struct {
	Message string
}

func (e *APIError) Error() string {
	return "api error: " + e.Message
}

// isAuthFailure reports whether an authenticated call was rejected with 401
// or 403. A failed login handshake is not an auth failure of the call.
func isAuthFailure(err error) bool {
	var ae *AuthError
	if errors.As(err, &ae) {
		return false
	}
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.Status == http.StatusUnauthorized || se.Status == http.StatusForbidden
}

// IsNotFound reports whether a remove failed because the IP is already
// absent from the whitelist. Only a 2xx reply whose error message says so
// counts; a non-2xx status, 404 included, may be a missing route and is a
// failure.
func IsNotFound(err error) bool {
	var ae *APIError
	if !errors.As(err, &ae) {
		return false
	}
	msg := strings.ToLower(ae.Message)
	return strings.Contains(msg, "not found") || strings.Contains(msg, "not exist")
}

// statusOf extracts the HTTP status carried by err, or 0.
func statusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}
