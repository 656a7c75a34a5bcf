package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, cfg.Version)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: "1"
login_url: https://login.example.com
auth:
  username: ana@example.com
  client_id: app
query:
  transport: grpc
  endpoint: grpcs://db.example.com:443
  page_size: 500
  poll_timeout: 2m
log:
  level: debug
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://login.example.com", cfg.LoginURL)
	assert.Equal(t, "ana@example.com", cfg.Auth.Username)
	assert.Equal(t, "grpc", cfg.Query.Transport)
	assert.EqualValues(t, 500, cfg.Query.PageSize)
	assert.Equal(t, 2*time.Minute, cfg.Query.PollTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
login_url: https://login.example.com
auth:
  password: from-file
`), 0o600))

	t.Setenv("TIDEPOOL_PASSWORD", "from-env")
	t.Setenv("TIDEPOOL_TRANSPORT", "connect")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Auth.Password)
	assert.Equal(t, "connect", cfg.Query.Transport)
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("\tnot yaml"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestClientConfig_JWTKeyFile(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "key.pem")
	require.NoError(t, os.WriteFile(keyPath, []byte("PEM BYTES"), 0o600))

	f := Default()
	f.LoginURL = "https://login.example.com"
	f.Auth.JWTKeyFile = keyPath

	cfg, err := f.ClientConfig()
	require.NoError(t, err)
	assert.Equal(t, []byte("PEM BYTES"), cfg.JWTPrivateKey)

	f.Auth.JWTKeyFile = filepath.Join(t.TempDir(), "missing.pem")
	_, err = f.ClientConfig()
	require.Error(t, err)
}

func TestPath_EnvOverride(t *testing.T) {
	t.Setenv("TIDEPOOL_CONFIG", "/etc/tidepool/config.yaml")
	assert.Equal(t, "/etc/tidepool/config.yaml", Path())
}
