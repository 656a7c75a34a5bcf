package auth

import (
	"context"
	"net/url"
	"sync"
)

// ClientCredentials holds a pre-obtained core token plus the refresh token
// used to renew it. Immutable once constructed.
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
	CoreToken    string
	RefreshToken string
}

// NewClientCredentials returns a Strategy seeded with an existing core
// token. The first authentication exchanges the core token directly; once
// it lapses, the refresh token is exchanged for a new core token. Primary
// credentials are never prompted for again.
func NewClientCredentials(cfg Config, creds ClientCredentials) Strategy {
	return newAuthenticator(cfg, &refreshFlow{creds: creds})
}

type refreshFlow struct {
	creds ClientCredentials

	mu            sync.Mutex
	coreTokenUsed bool
}

func (f *refreshFlow) name() string { return "client_credentials" }

func (f *refreshFlow) coreToken(ctx context.Context, a *Authenticator) (string, string, error) {
	// The seeded core token is only good for the first exchange; after
	// that (or if the exchange rejected it) we go through the refresh
	// token grant.
	f.mu.Lock()
	useSeed := !f.coreTokenUsed && f.creds.CoreToken != ""
	f.coreTokenUsed = true
	f.mu.Unlock()

	if useSeed {
		return f.creds.CoreToken, a.cfg.LoginURL, nil
	}
	return f.renew(ctx, a)
}

// renew exchanges the refresh token for a fresh core token.
func (f *refreshFlow) renew(ctx context.Context, a *Authenticator) (string, string, error) {
	if f.creds.RefreshToken == "" {
		return "", "", &AuthenticationError{Msg: "no refresh token available for renewal"}
	}

	params := url.Values{}
	params.Set("grant_type", grantRefreshToken)
	params.Set("client_id", f.creds.ClientID)
	params.Set("client_secret", f.creds.ClientSecret)
	params.Set("refresh_token", f.creds.RefreshToken)

	resp, err := a.postForm(ctx, a.cfg.LoginURL+tokenPath, params)
	if err != nil {
		return "", "", err
	}
	if resp.AccessToken == "" {
		return "", "", &AuthenticationError{Msg: "refresh response missing access_token"}
	}

	orgURL := resp.InstanceURL
	if orgURL == "" {
		orgURL = a.cfg.LoginURL
	}
	return resp.AccessToken, CleanLoginURL(orgURL), nil
}
