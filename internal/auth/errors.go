package auth

import (
	"errors"
	"fmt"
)

// AuthenticationError reports a rejected credential or a failed token
// refresh. It is fatal: the caller must not retry with the same credentials.
type AuthenticationError struct {
	Msg        string
	StatusCode int // HTTP status of the rejecting response, 0 if not applicable
	Err        error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Msg, e.Err)
	}
	return "authentication failed: " + e.Msg
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// IsAuthenticationError reports whether err is an AuthenticationError.
func IsAuthenticationError(err error) bool {
	var authErr *AuthenticationError
	return errors.As(err, &authErr)
}
