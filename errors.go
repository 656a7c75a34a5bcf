package tidepool

import (
	"fmt"
	"time"

	"github.com/coral-mesh/tidepool/internal/auth"
	"github.com/coral-mesh/tidepool/internal/transport"
)

// AuthenticationError means credentials were rejected, or a call kept
// failing with an auth-expiry signal after one forced token refresh.
type AuthenticationError = auth.AuthenticationError

// APIError is a generic transport-level failure: malformed response or a
// non-auth HTTP/RPC error. It is surfaced immediately, never retried.
type APIError = transport.APIError

// ErrConnectionClosed is returned by every operation attempted after the
// connection or cursor has been closed.
var ErrConnectionClosed = transport.ErrClosed

// QueryError means the server reported that the query itself failed. It is
// terminal for the cursor that submitted the query.
type QueryError struct {
	QueryID string
	Message string
}

func (e *QueryError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("tidepool: query %s failed", e.QueryID)
	}
	return fmt.Sprintf("tidepool: query %s failed: %s", e.QueryID, e.Message)
}

// QueryTimeoutError means the poll loop exceeded its wall-clock ceiling.
// The remote query may still complete server-side; the cursor just stopped
// waiting.
type QueryTimeoutError struct {
	QueryID string
	Elapsed time.Duration
}

func (e *QueryTimeoutError) Error() string {
	return fmt.Sprintf("tidepool: query %s still running after %s", e.QueryID, e.Elapsed)
}
