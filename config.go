package tidepool

import (
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/tidepool/internal/auth"
	"github.com/coral-mesh/tidepool/internal/logging"
)

// Transport names accepted by Config.Transport. The factory always
// resolves to exactly one of these; there is no first-registered fallback.
const (
	// TransportREST issues one HTTP/JSON call per operation. The default.
	TransportREST = "rest"
	// TransportGRPC issues one grpc-go unary call per operation.
	TransportGRPC = "grpc"
	// TransportConnect speaks the gRPC protocol via connect-go over HTTP/2.
	TransportConnect = "connect"
)

// Defaults applied by Connect when the corresponding Config field is zero.
const (
	DefaultPageSize            = 1000
	DefaultPollInitialInterval = 250 * time.Millisecond
	DefaultPollMaxInterval     = 5 * time.Second
	DefaultPollTimeout         = 10 * time.Minute
)

// Config is everything Connect needs: the login endpoint, exactly one
// credential set, and optional transport and pagination tuning.
type Config struct {
	// LoginURL is the base URL of the OAuth2 token endpoint. Required.
	LoginURL string

	// Dataspace optionally scopes the session to one dataspace.
	Dataspace string

	// Username and Password select the password grant. ClientID and
	// ClientSecret are required with it.
	Username string
	Password string

	// ClientID identifies the connected app. Used by every strategy.
	ClientID string
	// ClientSecret is required for the password grant.
	ClientSecret string

	// CoreToken plus RefreshToken select the refresh-token strategy: the
	// core token is used once, then renewal goes through the refresh token
	// without ever re-prompting for primary credentials.
	CoreToken    string
	RefreshToken string

	// JWTPrivateKey is a PEM-encoded RSA key. Together with ClientID and
	// Username it selects the signed-assertion strategy.
	JWTPrivateKey []byte

	// Transport names the wire protocol. Defaults to TransportREST.
	Transport string

	// Endpoint overrides the query service target. The REST transport
	// derives it from the token exchange when empty; the grpc and connect
	// transports require it.
	Endpoint string

	// PageSize is the row limit per results-page fetch.
	PageSize int64

	// PollInitialInterval, PollMaxInterval, and PollTimeout bound the
	// status poll loop: the wait starts at the initial interval, doubles
	// up to the max, and the whole wait is capped by the timeout.
	PollInitialInterval time.Duration
	PollMaxInterval     time.Duration
	PollTimeout         time.Duration

	// HTTPClient is used by HTTP-based transports and the token endpoint.
	HTTPClient *http.Client

	// Logger receives debug logging. Defaults to a disabled logger.
	Logger *zerolog.Logger
}

func (c *Config) withDefaults() {
	if c.Transport == "" {
		c.Transport = TransportREST
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.PollInitialInterval <= 0 {
		c.PollInitialInterval = DefaultPollInitialInterval
	}
	if c.PollMaxInterval <= 0 {
		c.PollMaxInterval = DefaultPollMaxInterval
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}
}

func (c *Config) logger() zerolog.Logger {
	if c.Logger != nil {
		return *c.Logger
	}
	return logging.Nop()
}

// strategy resolves the credential fields to exactly one auth strategy.
func (c *Config) strategy() (auth.Strategy, error) {
	if c.LoginURL == "" {
		return nil, errors.New("tidepool: LoginURL is required")
	}

	cfg := auth.Config{
		LoginURL:   c.LoginURL,
		Dataspace:  c.Dataspace,
		HTTPClient: c.HTTPClient,
		Logger:     c.logger(),
	}

	havePassword := c.Username != "" && c.Password != ""
	haveRefresh := c.CoreToken != "" || c.RefreshToken != ""
	haveJWT := len(c.JWTPrivateKey) > 0

	switch {
	case havePassword && !haveRefresh && !haveJWT:
		if c.ClientID == "" || c.ClientSecret == "" {
			return nil, errors.New("tidepool: password grant requires ClientID and ClientSecret")
		}
		return auth.NewPasswordGrant(cfg, auth.PasswordCredentials{
			Username:     c.Username,
			Password:     c.Password,
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
		}), nil

	case haveRefresh && !havePassword && !haveJWT:
		return auth.NewClientCredentials(cfg, auth.ClientCredentials{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			CoreToken:    c.CoreToken,
			RefreshToken: c.RefreshToken,
		}), nil

	case haveJWT && !havePassword && !haveRefresh:
		if c.ClientID == "" || c.Username == "" {
			return nil, errors.New("tidepool: jwt bearer requires ClientID and Username")
		}
		return auth.NewJWTBearer(cfg, auth.JWTCredentials{
			ClientID:   c.ClientID,
			Username:   c.Username,
			PrivateKey: c.JWTPrivateKey,
		}), nil

	case !havePassword && !haveRefresh && !haveJWT:
		return nil, errors.New("tidepool: no credentials configured")

	default:
		return nil, errors.New("tidepool: ambiguous credentials, configure exactly one strategy")
	}
}
