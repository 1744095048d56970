package csg

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure kinds a caller is expected to act on.
// Match with errors.Is.
var (
	// ErrNetwork wraps transport-level failures (connection reset,
	// timeout). These are transient; the client retries them once
	// internally before surfacing.
	ErrNetwork = errors.New("csg: network failure")

	// ErrSessionExpired means the server rejected the session token
	// (sta "04"). The client never re-authenticates on its own; the
	// caller decides what to do.
	ErrSessionExpired = errors.New("csg: session expired")

	// ErrInvalidCredentials means the username/password combination was
	// rejected at login.
	ErrInvalidCredentials = errors.New("csg: invalid credentials")

	// ErrCaptchaRequired means the vendor wants a one-time SMS
	// verification code appended to the credential before it will issue
	// a session.
	ErrCaptchaRequired = errors.New("csg: verification code required")

	// ErrMalformedPayload covers ciphertext that fails to decrypt as
	// well as decrypted payloads missing required fields. Never treated
	// as "no data".
	ErrMalformedPayload = errors.New("csg: malformed payload")
)

// APIError is an unexpected server-side result code. It is not
// retryable: the request reached the server and was understood, the
// server just refused it.
type APIError struct {
	Sta     string // vendor result code
	Message string // vendor-supplied message, may be empty
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("csg: api error sta=%s", e.Sta)
	}
	return fmt.Sprintf("csg: api error sta=%s: %s", e.Sta, e.Message)
}

// schemaErr reports a decrypted payload that is missing a required
// field. It satisfies errors.Is(err, ErrMalformedPayload).
func schemaErr(op, field string) error {
	return fmt.Errorf("%s: %w: missing or invalid %q", op, ErrMalformedPayload, field)
}
