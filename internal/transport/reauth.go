package transport

import (
	"context"

	"github.com/coral-mesh/tidepool/internal/auth"
)

// DoWithReauth executes call with headers from the strategy, recovering
// from exactly one auth-expiry signal: the token is invalidated, the
// strategy re-authenticates, and the call is retried once. A second
// consecutive auth-expiry is fatal and becomes an AuthenticationError,
// which bounds the retry loop when credentials are genuinely invalid.
//
// isAuthExpired decides whether an error is the transport's auth-expiry
// signal (HTTP 401/403, gRPC Unauthenticated, ...). Every other error is
// returned unchanged on the first occurrence.
func DoWithReauth(
	ctx context.Context,
	strategy auth.Strategy,
	isAuthExpired func(error) bool,
	call func(headers map[string]string) error,
) error {
	headers, err := strategy.Headers(ctx)
	if err != nil {
		return err
	}

	err = call(headers)
	if err == nil || !isAuthExpired(err) {
		return err
	}

	strategy.Invalidate()
	headers, hdrErr := strategy.Headers(ctx)
	if hdrErr != nil {
		return hdrErr
	}

	err = call(headers)
	if err != nil && isAuthExpired(err) {
		return &auth.AuthenticationError{
			Msg: "request rejected again after forced token refresh",
			Err: err,
		}
	}
	return err
}
