// Package auth implements the token lifecycle for the Tidepool query service.
//
// A Strategy acquires a data-plane bearer token through one of three OAuth2
// flows (password grant, refresh-token exchange, signed JWT assertion) and
// keeps it silently refreshed. All flows share the same two-step shape: a
// core-token grant against the login endpoint, followed by an RFC 8693 style
// token exchange that returns the bearer token, its lifetime, and the
// instance URL all subsequent query calls must target.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	xerrors "github.com/coral-mesh/tidepool/internal/errors"
	"github.com/coral-mesh/tidepool/internal/retry"
)

const (
	tokenPath    = "/services/oauth2/token"
	exchangePath = "/services/query/v1/token"
	revokePath   = "/services/oauth2/revoke"

	grantPassword      = "password"
	grantRefreshToken  = "refresh_token"
	grantJWTBearer     = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	grantTokenExchange = "urn:ietf:params:oauth:grant-type:token-exchange"

	subjectTokenTypeAccessToken = "urn:ietf:params:oauth:token-type:access_token"

	// expirySkew is subtracted from the server-reported lifetime so a token
	// is refreshed slightly before it actually lapses.
	expirySkew = 30 * time.Second
)

// Token is the driver's token store entry: the current bearer token, the
// instance endpoint it is valid for, and its expiry. If AccessToken is set,
// InstanceURL is set.
type Token struct {
	AccessToken  string
	InstanceURL  string
	ExpiresAt    time.Time // zero means the server disclosed no expiry
	RefreshToken string    // empty unless the exchange returned one
}

// valid reports whether the token can still be presented.
func (t Token) valid(now time.Time) bool {
	if t.AccessToken == "" {
		return false
	}
	if t.ExpiresAt.IsZero() {
		return true
	}
	return now.Before(t.ExpiresAt)
}

// Strategy produces and silently refreshes a Token.
//
// EnsureValid is idempotent: called while the token is still valid it
// performs no network call. Invalidate discards the current token so the
// next EnsureValid re-authenticates; transports call it when the service
// answers with an auth-expiry signal.
type Strategy interface {
	Authenticate(ctx context.Context) (Token, error)
	EnsureValid(ctx context.Context) (Token, error)
	Headers(ctx context.Context) (map[string]string, error)
	InstanceURL(ctx context.Context) (string, error)
	Invalidate()
}

// Config carries the settings shared by every strategy.
type Config struct {
	// LoginURL is the base URL of the token endpoint, e.g.
	// "https://login.example.com". Required.
	LoginURL string

	// Dataspace optionally scopes the exchanged token to one dataspace.
	Dataspace string

	// HTTPClient is used for all token endpoint calls. Defaults to a
	// client with a 30s timeout.
	HTTPClient *http.Client

	// Logger receives debug logging. Defaults to a disabled logger.
	Logger zerolog.Logger

	// Retry bounds the token endpoint retry loop for transient failures.
	// Credential rejections are never retried.
	Retry retry.Config
}

func (c *Config) withDefaults() {
	c.LoginURL = CleanLoginURL(c.LoginURL)
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = retry.Config{
			MaxAttempts:    3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
			Jitter:         0.5,
		}
	}
}

// CleanLoginURL normalizes a login URL: lowercased scheme/host, https
// prepended when no scheme is given, trailing slash removed.
func CleanLoginURL(loginURL string) string {
	cleaned := strings.TrimSpace(loginURL)
	cleaned = strings.TrimSuffix(cleaned, "/")
	if cleaned == "" {
		return ""
	}
	if !strings.HasPrefix(cleaned, "http://") && !strings.HasPrefix(cleaned, "https://") {
		cleaned = "https://" + cleaned
	}
	return cleaned
}

// coreFlow is the per-strategy step that obtains a core token from the
// login endpoint. The shared Authenticator handles the exchange.
type coreFlow interface {
	// name identifies the flow in logs.
	name() string
	// coreToken returns the core access token and the org URL that hosts
	// the exchange endpoint.
	coreToken(ctx context.Context, a *Authenticator) (token, orgURL string, err error)
}

// Authenticator is the shared strategy implementation. One Authenticator is
// owned by exactly one connection; the mutex serializes token mutation so
// cursors sharing the connection can re-authenticate safely.
type Authenticator struct {
	cfg  Config
	flow coreFlow

	mu    sync.Mutex
	token Token
}

func newAuthenticator(cfg Config, flow coreFlow) *Authenticator {
	cfg.withDefaults()
	return &Authenticator{cfg: cfg, flow: flow}
}

// Authenticate forces a fresh token acquisition regardless of the current
// token's validity.
func (a *Authenticator) Authenticate(ctx context.Context) (Token, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.authenticateLocked(ctx)
}

// EnsureValid returns the current token, re-authenticating only when it is
// missing or expired.
func (a *Authenticator) EnsureValid(ctx context.Context) (Token, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token.valid(time.Now()) {
		return a.token, nil
	}
	return a.authenticateLocked(ctx)
}

// Headers returns the request headers for an authenticated call, refreshing
// the token first if needed.
func (a *Authenticator) Headers(ctx context.Context) (map[string]string, error) {
	tok, err := a.EnsureValid(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"Authorization": "Bearer " + tok.AccessToken,
	}, nil
}

// InstanceURL returns the instance endpoint for query calls, authenticating
// first if no token has been acquired yet.
func (a *Authenticator) InstanceURL(ctx context.Context) (string, error) {
	tok, err := a.EnsureValid(ctx)
	if err != nil {
		return "", err
	}
	return tok.InstanceURL, nil
}

// Invalidate discards the current token. The next EnsureValid performs a
// full re-authentication.
func (a *Authenticator) Invalidate() {
	a.mu.Lock()
	a.token = Token{}
	a.mu.Unlock()
}

// authenticateLocked runs the flow plus exchange with bounded retries on
// transient failures. The stored token is only replaced on success, so a
// rejected credential never clobbers a previously valid token.
func (a *Authenticator) authenticateLocked(ctx context.Context) (Token, error) {
	var tok Token

	err := retry.Do(ctx, a.cfg.Retry, func() error {
		var err error
		tok, err = a.acquire(ctx)
		return err
	}, func(err error) bool {
		return !IsAuthenticationError(err)
	})
	if err != nil {
		return Token{}, err
	}

	a.token = tok
	a.cfg.Logger.Debug().
		Str("flow", a.flow.name()).
		Str("instance_url", tok.InstanceURL).
		Time("expires_at", tok.ExpiresAt).
		Msg("authenticated")
	return tok, nil
}

// acquire performs one full flow: core token grant, then exchange.
func (a *Authenticator) acquire(ctx context.Context) (Token, error) {
	core, orgURL, err := a.flow.coreToken(ctx, a)
	if err != nil {
		return Token{}, err
	}
	return a.exchange(ctx, orgURL, core)
}

// exchange trades a core token for the data-plane bearer token. The core
// token is revoked afterwards; it has served its purpose.
func (a *Authenticator) exchange(ctx context.Context, orgURL, coreToken string) (Token, error) {
	params := url.Values{}
	params.Set("grant_type", grantTokenExchange)
	params.Set("subject_token_type", subjectTokenTypeAccessToken)
	params.Set("subject_token", coreToken)
	if a.cfg.Dataspace != "" {
		params.Set("dataspace", a.cfg.Dataspace)
	}

	now := time.Now()
	resp, err := a.postForm(ctx, orgURL+exchangePath, params)
	if err != nil {
		return Token{}, fmt.Errorf("token exchange: %w", err)
	}

	tok := Token{
		AccessToken:  resp.AccessToken,
		InstanceURL:  strings.TrimSuffix(resp.InstanceURL, "/"),
		RefreshToken: resp.RefreshToken,
	}
	if tok.AccessToken == "" || tok.InstanceURL == "" {
		return Token{}, &AuthenticationError{Msg: "exchange response missing access_token or instance_url"}
	}
	if resp.ExpiresIn > 0 {
		tok.ExpiresAt = now.Add(time.Duration(resp.ExpiresIn)*time.Second - expirySkew)
	}

	a.revoke(ctx, orgURL, coreToken)
	return tok, nil
}

// revoke invalidates a spent core token, best effort.
func (a *Authenticator) revoke(ctx context.Context, orgURL, coreToken string) {
	params := url.Values{}
	params.Set("token", coreToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, orgURL+revokePath,
		strings.NewReader(params.Encode()))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.cfg.HTTPClient.Do(req)
	if err != nil {
		a.cfg.Logger.Debug().Err(err).Msg("core token revocation failed")
		return
	}
	xerrors.DeferClose(a.cfg.Logger, resp.Body, "revoke response body close failed")
}

// tokenResponse is the JSON body of both the login and exchange endpoints.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	InstanceURL      string `json:"instance_url"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshToken     string `json:"refresh_token"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// postForm posts URL-encoded params and decodes the token response.
// 4xx answers become AuthenticationError (credential rejected, not
// retryable); everything else transient surfaces as a plain error.
func (a *Authenticator) postForm(ctx context.Context, endpoint string, params url.Values) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := a.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token endpoint request: %w", err)
	}
	defer xerrors.DeferClose(a.cfg.Logger, resp.Body, "token response body close failed")

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("token endpoint read: %w", err)
	}

	var tr tokenResponse
	if resp.StatusCode == http.StatusOK {
		if err := json.Unmarshal(body, &tr); err != nil {
			return nil, fmt.Errorf("token endpoint response parse: %w", err)
		}
		return &tr, nil
	}

	msg := fmt.Sprintf("token endpoint returned %d", resp.StatusCode)
	if json.Unmarshal(body, &tr) == nil && tr.Error != "" {
		msg += " - " + tr.Error
		if tr.ErrorDescription != "" {
			msg += ": " + tr.ErrorDescription
		}
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, &AuthenticationError{Msg: msg, StatusCode: resp.StatusCode}
	}
	return nil, fmt.Errorf("%s", msg)
}
