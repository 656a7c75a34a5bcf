package auth

import (
	"context"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// assertionTTL bounds the validity of a signed JWT assertion. Assertions
// are single-use, so a short window is all the token endpoint needs.
const assertionTTL = 5 * time.Minute

// JWTCredentials holds the JWT bearer grant inputs. PrivateKey is the
// PEM-encoded RSA key of the connected app. Immutable once constructed.
type JWTCredentials struct {
	ClientID   string
	Username   string
	PrivateKey []byte
}

// NewJWTBearer returns a Strategy that signs a short-lived RS256 assertion
// (issuer=clientID, subject=username, audience=loginURL) and exchanges it
// for a bearer token. Expiry re-signs and re-exchanges.
func NewJWTBearer(cfg Config, creds JWTCredentials) Strategy {
	return newAuthenticator(cfg, &jwtFlow{creds: creds})
}

type jwtFlow struct {
	creds JWTCredentials
}

func (f *jwtFlow) name() string { return "jwt_bearer" }

func (f *jwtFlow) coreToken(ctx context.Context, a *Authenticator) (string, string, error) {
	assertion, err := f.signAssertion(a.cfg.LoginURL)
	if err != nil {
		return "", "", err
	}

	params := url.Values{}
	params.Set("grant_type", grantJWTBearer)
	params.Set("assertion", assertion)

	resp, err := a.postForm(ctx, a.cfg.LoginURL+tokenPath, params)
	if err != nil {
		return "", "", err
	}
	if resp.AccessToken == "" {
		return "", "", &AuthenticationError{Msg: "jwt bearer response missing access_token"}
	}

	orgURL := resp.InstanceURL
	if orgURL == "" {
		orgURL = a.cfg.LoginURL
	}
	return resp.AccessToken, CleanLoginURL(orgURL), nil
}

// signAssertion builds and signs the RS256 assertion presented to the
// token endpoint.
func (f *jwtFlow) signAssertion(audience string) (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(f.creds.PrivateKey)
	if err != nil {
		return "", &AuthenticationError{Msg: "invalid RSA private key", Err: err}
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    f.creds.ClientID,
		Subject:   f.creds.Username,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(assertionTTL)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return "", &AuthenticationError{Msg: "failed to sign assertion", Err: err}
	}
	return signed, nil
}
