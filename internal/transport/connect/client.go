// Package connect implements the Tidepool transport with connect-go
// speaking the gRPC protocol over HTTP/2, using JSON message bodies.
// It exists for environments where the grpc-go channel machinery is
// unwanted but the server only exposes the gRPC endpoints.
package connect

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"

	"github.com/coral-mesh/tidepool/catalog"
	"github.com/coral-mesh/tidepool/internal/transport"
	"github.com/coral-mesh/tidepool/pkg/version"
)

const servicePath = "/tidepool.query.v1.QueryService/"

// Client is the connect transport. It implements transport.Client and the
// optional transport.MetadataProvider capability.
type Client struct {
	cfg    transport.Config
	logger zerolog.Logger
	closed atomic.Bool

	submit   *connect.Client[transport.SubmitRequest, transport.StatusEnvelope]
	status   *connect.Client[transport.StatusRequest, transport.StatusEnvelope]
	results  *connect.Client[transport.ResultsRequest, transport.RowsEnvelope]
	metadata *connect.Client[metadataRequest, metadataResponse]
}

type metadataRequest struct {
	EntityName     string `json:"entityName,omitempty"`
	EntityCategory string `json:"entityCategory,omitempty"`
	EntityType     string `json:"entityType,omitempty"`
}

type metadataResponse struct {
	Metadata []catalog.Table `json:"metadata"`
}

// New constructs the connect transport. The endpoint is a http:// or
// https:// base URL; plaintext endpoints are dialed h2c since the gRPC
// protocol requires HTTP/2.
func New(cfg transport.Config) (transport.Client, error) {
	if cfg.Strategy == nil {
		return nil, errors.New("connect: auth strategy is required")
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("connect: endpoint is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = newHTTP2Client(cfg.Endpoint)
	}

	base := strings.TrimSuffix(cfg.Endpoint, "/") + servicePath
	opts := []connect.ClientOption{
		connect.WithGRPC(),
		connect.WithCodec(jsonCodec{}),
	}

	return &Client{
		cfg:      cfg,
		logger:   cfg.Logger.With().Str("component", "transport.connect").Logger(),
		submit:   connect.NewClient[transport.SubmitRequest, transport.StatusEnvelope](httpClient, base+"SubmitQuery", opts...),
		status:   connect.NewClient[transport.StatusRequest, transport.StatusEnvelope](httpClient, base+"GetQueryStatus", opts...),
		results:  connect.NewClient[transport.ResultsRequest, transport.RowsEnvelope](httpClient, base+"GetQueryResults", opts...),
		metadata: connect.NewClient[metadataRequest, metadataResponse](httpClient, base+"GetMetadata", opts...),
	}, nil
}

// newHTTP2Client builds an HTTP/2 client for the endpoint scheme. http://
// endpoints get prior-knowledge h2c.
func newHTTP2Client(endpoint string) *http.Client {
	if strings.HasPrefix(endpoint, "http://") {
		return &http.Client{
			Transport: &http2.Transport{
				AllowHTTP: true,
				DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, network, addr)
				},
			},
		}
	}
	return &http.Client{Transport: &http2.Transport{}}
}

// SubmitQuery sends the SQL for asynchronous execution.
func (c *Client) SubmitQuery(ctx context.Context, sql string, params []any) (transport.QueryStatus, error) {
	envelope, err := callUnary(ctx, c, c.submit, &transport.SubmitRequest{SQL: sql, Params: params})
	if err != nil {
		return transport.QueryStatus{}, err
	}

	st := envelope.ToStatus()
	if st.QueryID == "" {
		return transport.QueryStatus{}, &transport.APIError{Msg: "submit response missing queryId"}
	}
	c.logger.Debug().Str("query_id", st.QueryID).Stringer("phase", st.Phase).Msg("query submitted")
	return st, nil
}

// GetQueryStatus fetches the phase and, once disclosed, column metadata.
func (c *Client) GetQueryStatus(ctx context.Context, queryID string) (transport.QueryStatus, error) {
	envelope, err := callUnary(ctx, c, c.status, &transport.StatusRequest{QueryID: queryID})
	if err != nil {
		return transport.QueryStatus{}, err
	}

	st := envelope.ToStatus()
	if st.QueryID == "" {
		st.QueryID = queryID
	}
	return st, nil
}

// GetQueryResults fetches one page of rows.
func (c *Client) GetQueryResults(ctx context.Context, queryID string, offset, limit int64) (*transport.ResultPage, error) {
	envelope, err := callUnary(ctx, c, c.results,
		&transport.ResultsRequest{QueryID: queryID, Offset: offset, RowLimit: limit})
	if err != nil {
		return nil, err
	}
	return envelope.ToPage(offset), nil
}

// GetMetadata lists catalog tables, optionally filtered.
func (c *Client) GetMetadata(ctx context.Context, filter catalog.Filter) ([]catalog.Table, error) {
	resp, err := callUnary(ctx, c, c.metadata, &metadataRequest{
		EntityName:     filter.EntityName,
		EntityCategory: filter.EntityCategory,
		EntityType:     filter.EntityType,
	})
	if err != nil {
		return nil, err
	}
	return resp.Metadata, nil
}

// Close marks the transport closed. Idempotent.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	if c.cfg.HTTPClient != nil {
		c.cfg.HTTPClient.CloseIdleConnections()
	}
	return nil
}

// callUnary runs one authenticated call with the single forced
// re-authentication retry on an unauthenticated response.
func callUnary[Req, Res any](ctx context.Context, c *Client, rpc *connect.Client[Req, Res], req *Req) (*Res, error) {
	if c.closed.Load() {
		return nil, transport.ErrClosed
	}

	var msg *Res
	err := transport.DoWithReauth(ctx, c.cfg.Strategy, isAuthExpired, func(headers map[string]string) error {
		creq := connect.NewRequest(req)
		for k, v := range headers {
			creq.Header().Set(k, v)
		}
		creq.Header().Set("User-Agent", version.UserAgent())
		creq.Header().Set("X-Request-Id", uuid.NewString())

		start := time.Now()
		resp, err := rpc.CallUnary(ctx, creq)

		c.logger.Debug().
			Str("procedure", creq.Spec().Procedure).
			Dur("elapsed", time.Since(start)).
			Err(err).
			Msg("rpc call")

		if err != nil {
			return apiErrorFrom(err)
		}
		msg = resp.Msg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// apiErrorFrom maps a connect error onto the shared API error shape.
func apiErrorFrom(err error) error {
	var cerr *connect.Error
	if !errors.As(err, &cerr) {
		return &transport.APIError{Msg: err.Error(), Err: err}
	}
	return &transport.APIError{
		StatusCode: httpStatus(cerr.Code()),
		Code:       cerr.Code().String(),
		Msg:        cerr.Message(),
		Err:        err,
	}
}

func httpStatus(code connect.Code) int {
	switch code {
	case connect.CodeUnauthenticated:
		return http.StatusUnauthorized
	case connect.CodePermissionDenied:
		return http.StatusForbidden
	case connect.CodeNotFound:
		return http.StatusNotFound
	case connect.CodeInvalidArgument:
		return http.StatusBadRequest
	case connect.CodeUnavailable:
		return http.StatusServiceUnavailable
	case connect.CodeDeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// isAuthExpired mirrors the 401/403 handling on the other transports.
func isAuthExpired(err error) bool {
	var cerr *connect.Error
	if !errors.As(err, &cerr) {
		return false
	}
	return cerr.Code() == connect.CodeUnauthenticated || cerr.Code() == connect.CodePermissionDenied
}
