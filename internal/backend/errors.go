package backend

import (
	"errors"
	"fmt"
	"strings"
)

// AuthError indicates bad credentials or a rejected refresh. The session
// store surfaces it from login, register and refresh.
type AuthError struct {
	Err error
}

func (e AuthError) Error() string {
	return fmt.Errorf("auth: %w", e.Err).Error()
}

func (e AuthError) Unwrap() error {
	return e.Err
}

// SessionExpiredError indicates a request that looked authenticated but was
// rejected because the token expired. It triggers the reauth flow.
type SessionExpiredError struct {
	Err error
}

func (e SessionExpiredError) Error() string {
	return fmt.Errorf("session expired: %w", e.Err).Error()
}

func (e SessionExpiredError) Unwrap() error {
	return e.Err
}

// RequestError is any non-2xx, non-auth response from the backend.
type RequestError struct {
	StatusCode int
	Message    string
}

func (e RequestError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// ResponseFormatError indicates a successful response whose body was not
// valid JSON.
type ResponseFormatError struct {
	Err error
}

func (e ResponseFormatError) Error() string {
	return fmt.Errorf("malformed response: %w", e.Err).Error()
}

func (e ResponseFormatError) Unwrap() error {
	return e.Err
}

// expiryMarkers are the message fragments the backend uses for dead tokens.
// The classifier below is the single place they are matched; call sites must
// not string-match on their own.
var expiryMarkers = []string{
	"JWT expired",
	"Invalid JWT",
	"Token expired",
	"login expired",
}

// IsSessionExpired reports whether err, anywhere in its chain, represents an
// expired or invalid session.
func IsSessionExpired(err error) bool {
	if err == nil {
		return false
	}
	var expired SessionExpiredError
	if errors.As(err, &expired) {
		return true
	}
	msg := err.Error()
	for _, marker := range expiryMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsAuthError reports whether err is a credential failure.
func IsAuthError(err error) bool {
	var auth AuthError
	return errors.As(err, &auth)
}
