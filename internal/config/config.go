// Package config loads the CLI configuration file and turns it into a
// driver configuration. Precedence, lowest to highest: built-in defaults,
// ~/.tidepool/config.yaml, TIDEPOOL_* environment variables, then whatever
// flags the CLI applies on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coral-mesh/tidepool"
)

const (
	defaultDir = ".tidepool"
	configFile = "config.yaml"

	// SchemaVersion is the configuration file schema version.
	SchemaVersion = "1"
)

// File is the on-disk configuration shape.
type File struct {
	Version   string `yaml:"version"`
	LoginURL  string `yaml:"login_url"`
	Dataspace string `yaml:"dataspace,omitempty"`

	Auth  AuthConfig  `yaml:"auth"`
	Query QueryConfig `yaml:"query"`
	Log   LogConfig   `yaml:"log"`
}

// AuthConfig selects one credential strategy. Secrets are better supplied
// through the environment than stored in the file.
type AuthConfig struct {
	Username     string `yaml:"username,omitempty"`
	Password     string `yaml:"password,omitempty"`
	ClientID     string `yaml:"client_id,omitempty"`
	ClientSecret string `yaml:"client_secret,omitempty"`
	CoreToken    string `yaml:"core_token,omitempty"`
	RefreshToken string `yaml:"refresh_token,omitempty"`
	// JWTKeyFile is the path to a PEM-encoded RSA private key for the
	// signed-assertion strategy.
	JWTKeyFile string `yaml:"jwt_key_file,omitempty"`
}

// QueryConfig tunes the transport and pagination.
type QueryConfig struct {
	Transport           string        `yaml:"transport,omitempty"`
	Endpoint            string        `yaml:"endpoint,omitempty"`
	PageSize            int64         `yaml:"page_size,omitempty"`
	PollInitialInterval time.Duration `yaml:"poll_initial_interval,omitempty"`
	PollMaxInterval     time.Duration `yaml:"poll_max_interval,omitempty"`
	PollTimeout         time.Duration `yaml:"poll_timeout,omitempty"`
}

// LogConfig controls CLI logging.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Pretty bool   `yaml:"pretty,omitempty"`
}

// Default returns the built-in configuration.
func Default() *File {
	return &File{
		Version: SchemaVersion,
		Log:     LogConfig{Level: "info", Pretty: true},
	}
}

// Path resolves the configuration file location: TIDEPOOL_CONFIG wins,
// otherwise ~/.tidepool/config.yaml.
func Path() string {
	if p := os.Getenv("TIDEPOOL_CONFIG"); p != "" {
		return p
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "/tmp/tidepool-fallback"
	}
	return filepath.Join(homeDir, defaultDir, configFile)
}

// Load reads the file at path, falling back to defaults when it does not
// exist, and applies environment overrides.
func Load(path string) (*File, error) {
	cfg := Default()

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.mergeEnv()
	return cfg, nil
}

func (f *File) mergeEnv() {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&f.LoginURL, "TIDEPOOL_LOGIN_URL")
	setString(&f.Dataspace, "TIDEPOOL_DATASPACE")
	setString(&f.Auth.Username, "TIDEPOOL_USERNAME")
	setString(&f.Auth.Password, "TIDEPOOL_PASSWORD")
	setString(&f.Auth.ClientID, "TIDEPOOL_CLIENT_ID")
	setString(&f.Auth.ClientSecret, "TIDEPOOL_CLIENT_SECRET")
	setString(&f.Auth.CoreToken, "TIDEPOOL_CORE_TOKEN")
	setString(&f.Auth.RefreshToken, "TIDEPOOL_REFRESH_TOKEN")
	setString(&f.Auth.JWTKeyFile, "TIDEPOOL_JWT_KEY_FILE")
	setString(&f.Query.Transport, "TIDEPOOL_TRANSPORT")
	setString(&f.Query.Endpoint, "TIDEPOOL_ENDPOINT")
}

// ClientConfig converts the file into a driver configuration, reading the
// JWT key file if one is configured.
func (f *File) ClientConfig() (tidepool.Config, error) {
	cfg := tidepool.Config{
		LoginURL:            f.LoginURL,
		Dataspace:           f.Dataspace,
		Username:            f.Auth.Username,
		Password:            f.Auth.Password,
		ClientID:            f.Auth.ClientID,
		ClientSecret:        f.Auth.ClientSecret,
		CoreToken:           f.Auth.CoreToken,
		RefreshToken:        f.Auth.RefreshToken,
		Transport:           f.Query.Transport,
		Endpoint:            f.Query.Endpoint,
		PageSize:            f.Query.PageSize,
		PollInitialInterval: f.Query.PollInitialInterval,
		PollMaxInterval:     f.Query.PollMaxInterval,
		PollTimeout:         f.Query.PollTimeout,
	}

	if f.Auth.JWTKeyFile != "" {
		key, err := os.ReadFile(f.Auth.JWTKeyFile)
		if err != nil {
			return tidepool.Config{}, fmt.Errorf("read jwt key file: %w", err)
		}
		cfg.JWTPrivateKey = key
	}
	return cfg, nil
}
