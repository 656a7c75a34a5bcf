package transport

import (
	"errors"
	"fmt"
)

// ErrClosed is returned for any operation attempted after the transport or
// its owning connection has been closed.
var ErrClosed = errors.New("tidepool: connection is closed")

// APIError is a generic transport-level failure: a non-auth error status,
// a malformed payload, or a network fault. It is surfaced immediately and
// never retried by the transport layer.
type APIError struct {
	// StatusCode is the HTTP status or numeric RPC code, 0 when the
	// failure never reached the server.
	StatusCode int
	// Code is the service error code when one was supplied.
	Code string
	// Msg is the human-readable failure description.
	Msg string
	// Err is the underlying cause, if any.
	Err error
}

func (e *APIError) Error() string {
	switch {
	case e.Code != "" && e.StatusCode != 0:
		return fmt.Sprintf("api error %d [%s]: %s", e.StatusCode, e.Code, e.Msg)
	case e.StatusCode != 0:
		return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Msg)
	case e.Err != nil && e.Msg == "":
		return "api error: " + e.Err.Error()
	default:
		return "api error: " + e.Msg
	}
}

func (e *APIError) Unwrap() error {
	return e.Err
}
