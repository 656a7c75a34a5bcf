package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/tidepool/internal/retry"
)

func generateTestKey(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	return key, pemBytes
}

func TestJWTBearer_Authenticate(t *testing.T) {
	key, pemBytes := generateTestKey(t)

	var seenAssertion string
	mux := http.NewServeMux()
	mux.HandleFunc(tokenPath, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, grantJWTBearer, r.Form.Get("grant_type"))
		seenAssertion = r.Form.Get("assertion")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "core-jwt"})
	})
	mux.HandleFunc(exchangePath, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "core-jwt", r.Form.Get("subject_token"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "data-jwt",
			"instance_url": "https://instance.example.com",
			"expires_in":   7200,
		})
	})
	mux.HandleFunc(revokePath, func(w http.ResponseWriter, r *http.Request) {})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := Config{
		LoginURL: srv.URL,
		Retry:    retry.Config{MaxAttempts: 1, InitialBackoff: 1},
	}
	s := NewJWTBearer(cfg, JWTCredentials{
		ClientID:   "client-id",
		Username:   "user@example.com",
		PrivateKey: pemBytes,
	})

	tok, err := s.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "data-jwt", tok.AccessToken)
	assert.Equal(t, "https://instance.example.com", tok.InstanceURL)

	// The assertion must be a valid RS256 token with the expected claims.
	require.NotEmpty(t, seenAssertion)
	parsed, err := jwt.ParseWithClaims(seenAssertion, &jwt.RegisteredClaims{}, func(tk *jwt.Token) (any, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	require.NoError(t, err)

	claims := parsed.Claims.(*jwt.RegisteredClaims)
	assert.Equal(t, "client-id", claims.Issuer)
	assert.Equal(t, "user@example.com", claims.Subject)
	assert.Equal(t, jwt.ClaimStrings{srv.URL}, claims.Audience)
	require.NotNil(t, claims.ExpiresAt)
	require.NotNil(t, claims.IssuedAt)
	assert.Equal(t, assertionTTL, claims.ExpiresAt.Sub(claims.IssuedAt.Time))
}

func TestJWTBearer_InvalidKey(t *testing.T) {
	cfg := Config{
		LoginURL: "https://login.example.com",
		Retry:    retry.Config{MaxAttempts: 1, InitialBackoff: 1},
	}
	s := NewJWTBearer(cfg, JWTCredentials{
		ClientID:   "client-id",
		Username:   "user@example.com",
		PrivateKey: []byte("not a pem key"),
	})

	_, err := s.Authenticate(context.Background())
	require.Error(t, err)
	assert.True(t, IsAuthenticationError(err))
}
