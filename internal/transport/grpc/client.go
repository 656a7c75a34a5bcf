// Package grpc implements the Tidepool transport over gRPC. Calls are
// unary invocations against the query service with JSON message bodies.
package grpc

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/coral-mesh/tidepool/catalog"
	"github.com/coral-mesh/tidepool/internal/transport"
	"github.com/coral-mesh/tidepool/pkg/version"
)

const serviceName = "tidepool.query.v1.QueryService"

const (
	methodSubmitQuery     = "/" + serviceName + "/SubmitQuery"
	methodGetQueryStatus  = "/" + serviceName + "/GetQueryStatus"
	methodGetQueryResults = "/" + serviceName + "/GetQueryResults"
	methodGetMetadata     = "/" + serviceName + "/GetMetadata"
)

// Client is the gRPC transport. It implements transport.Client and the
// optional transport.MetadataProvider capability.
type Client struct {
	cfg    transport.Config
	conn   *grpc.ClientConn
	logger zerolog.Logger
	closed atomic.Bool
}

// New dials the endpoint and constructs the gRPC transport. The endpoint
// is host:port, optionally prefixed with grpc:// (plaintext) or grpcs://
// (TLS, the default for bare host:port).
func New(cfg transport.Config) (transport.Client, error) {
	if cfg.Strategy == nil {
		return nil, errors.New("grpc: auth strategy is required")
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("grpc: endpoint is required")
	}

	target, creds := dialTarget(cfg.Endpoint)
	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
		grpc.WithUserAgent(version.UserAgent()),
	)
	if err != nil {
		return nil, err
	}
	return newWithConn(cfg, conn), nil
}

func newWithConn(cfg transport.Config, conn *grpc.ClientConn) *Client {
	return &Client{
		cfg:    cfg,
		conn:   conn,
		logger: cfg.Logger.With().Str("component", "transport.grpc").Logger(),
	}
}

// dialTarget maps the endpoint notation to a grpc target and credentials.
func dialTarget(endpoint string) (string, credentials.TransportCredentials) {
	switch {
	case strings.HasPrefix(endpoint, "grpc://"):
		return strings.TrimPrefix(endpoint, "grpc://"), insecure.NewCredentials()
	case strings.HasPrefix(endpoint, "grpcs://"):
		return strings.TrimPrefix(endpoint, "grpcs://"), credentials.NewTLS(&tls.Config{})
	default:
		return endpoint, credentials.NewTLS(&tls.Config{})
	}
}

// SubmitQuery sends the SQL for asynchronous execution.
func (c *Client) SubmitQuery(ctx context.Context, sql string, params []any) (transport.QueryStatus, error) {
	var envelope transport.StatusEnvelope
	err := c.invoke(ctx, methodSubmitQuery, &transport.SubmitRequest{SQL: sql, Params: params}, &envelope)
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
	var envelope transport.StatusEnvelope
	err := c.invoke(ctx, methodGetQueryStatus, &transport.StatusRequest{QueryID: queryID}, &envelope)
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
	var envelope transport.RowsEnvelope
	err := c.invoke(ctx, methodGetQueryResults,
		&transport.ResultsRequest{QueryID: queryID, Offset: offset, RowLimit: limit}, &envelope)
	if err != nil {
		return nil, err
	}
	return envelope.ToPage(offset), nil
}

type metadataRequest struct {
	EntityName     string `json:"entityName,omitempty"`
	EntityCategory string `json:"entityCategory,omitempty"`
	EntityType     string `json:"entityType,omitempty"`
}

type metadataResponse struct {
	Metadata []catalog.Table `json:"metadata"`
}

// GetMetadata lists catalog tables, optionally filtered.
func (c *Client) GetMetadata(ctx context.Context, filter catalog.Filter) ([]catalog.Table, error) {
	req := &metadataRequest{
		EntityName:     filter.EntityName,
		EntityCategory: filter.EntityCategory,
		EntityType:     filter.EntityType,
	}
	var resp metadataResponse
	if err := c.invoke(ctx, methodGetMetadata, req, &resp); err != nil {
		return nil, err
	}
	return resp.Metadata, nil
}

// Close tears down the underlying connection. Idempotent.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close()
}

// invoke runs one authenticated unary call with the single forced
// re-authentication retry on an Unauthenticated response.
func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	if c.closed.Load() {
		return transport.ErrClosed
	}

	return transport.DoWithReauth(ctx, c.cfg.Strategy, isAuthExpired, func(headers map[string]string) error {
		md := metadata.New(headers)
		md.Set("x-request-id", uuid.NewString())
		callCtx := metadata.NewOutgoingContext(ctx, md)

		start := time.Now()
		err := c.conn.Invoke(callCtx, method, req, resp)

		c.logger.Debug().
			Str("method", method).
			Dur("elapsed", time.Since(start)).
			Err(err).
			Msg("rpc call")

		if err != nil {
			return apiErrorFrom(err)
		}
		return nil
	})
}

// apiErrorFrom maps a grpc status error onto the shared API error shape.
func apiErrorFrom(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return &transport.APIError{Msg: err.Error(), Err: err}
	}
	return &transport.APIError{
		StatusCode: httpStatus(st.Code()),
		Code:       st.Code().String(),
		Msg:        st.Message(),
		Err:        err,
	}
}

func httpStatus(code codes.Code) int {
	switch code {
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// isAuthExpired treats Unauthenticated and PermissionDenied as the
// auth-expiry signal, mirroring the 401/403 handling on the REST path.
// status.Code unwraps the APIError chain down to the status error.
func isAuthExpired(err error) bool {
	switch status.Code(err) {
	case codes.Unauthenticated, codes.PermissionDenied:
		return true
	default:
		return false
	}
}
