package auth

import (
	"context"
	"net/url"
)

// PasswordCredentials holds the username-password grant inputs.
// Immutable once constructed.
type PasswordCredentials struct {
	Username     string
	Password     string
	ClientID     string
	ClientSecret string
}

// NewPasswordGrant returns a Strategy that exchanges username/password plus
// client credentials for a bearer token. There is no refresh token in this
// mode; expiry re-runs the same exchange.
func NewPasswordGrant(cfg Config, creds PasswordCredentials) Strategy {
	return newAuthenticator(cfg, &passwordFlow{creds: creds})
}

type passwordFlow struct {
	creds PasswordCredentials
}

func (f *passwordFlow) name() string { return "password" }

func (f *passwordFlow) coreToken(ctx context.Context, a *Authenticator) (string, string, error) {
	params := url.Values{}
	params.Set("grant_type", grantPassword)
	params.Set("client_id", f.creds.ClientID)
	params.Set("client_secret", f.creds.ClientSecret)
	params.Set("username", f.creds.Username)
	params.Set("password", f.creds.Password)

	resp, err := a.postForm(ctx, a.cfg.LoginURL+tokenPath, params)
	if err != nil {
		return "", "", err
	}
	if resp.AccessToken == "" {
		return "", "", &AuthenticationError{Msg: "login response missing access_token"}
	}

	orgURL := resp.InstanceURL
	if orgURL == "" {
		orgURL = a.cfg.LoginURL
	}
	return resp.AccessToken, CleanLoginURL(orgURL), nil
}
