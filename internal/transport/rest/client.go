// Package rest implements the Tidepool transport over plain HTTP/JSON: one
// HTTP call per remote operation against the instance's query API.
package rest

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/coral-mesh/tidepool/catalog"
	xerrors "github.com/coral-mesh/tidepool/internal/errors"
	"github.com/coral-mesh/tidepool/internal/transport"
	"github.com/coral-mesh/tidepool/pkg/version"
)

const apiPrefix = "/api/v1"

// Client is the REST transport. It implements transport.Client and the
// optional transport.MetadataProvider capability.
type Client struct {
	cfg        transport.Config
	httpClient *http.Client
	logger     zerolog.Logger
	closed     atomic.Bool
}

// New constructs the REST transport.
func New(cfg transport.Config) (transport.Client, error) {
	if cfg.Strategy == nil {
		return nil, errors.New("rest: auth strategy is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     cfg.Logger.With().Str("component", "transport.rest").Logger(),
	}, nil
}

// SubmitQuery posts the SQL for asynchronous execution.
func (c *Client) SubmitQuery(ctx context.Context, sql string, params []any) (transport.QueryStatus, error) {
	var envelope transport.StatusEnvelope
	err := c.call(ctx, http.MethodPost, "/query-sql", nil,
		&transport.SubmitRequest{SQL: sql, Params: params}, &envelope)
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
	err := c.call(ctx, http.MethodGet, "/query-sql/"+url.PathEscape(queryID), nil, nil, &envelope)
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
	query := url.Values{}
	query.Set("offset", strconv.FormatInt(offset, 10))
	query.Set("rowLimit", strconv.FormatInt(limit, 10))

	var envelope transport.RowsEnvelope
	err := c.call(ctx, http.MethodGet, "/query-sql/"+url.PathEscape(queryID)+"/rows", query, nil, &envelope)
	if err != nil {
		return nil, err
	}
	return envelope.ToPage(offset), nil
}

// GetMetadata lists catalog tables, optionally filtered.
func (c *Client) GetMetadata(ctx context.Context, filter catalog.Filter) ([]catalog.Table, error) {
	query := url.Values{}
	if filter.EntityName != "" {
		query.Set("entityName", filter.EntityName)
	}
	if filter.EntityCategory != "" {
		query.Set("entityCategory", filter.EntityCategory)
	}
	if filter.EntityType != "" {
		query.Set("entityType", filter.EntityType)
	}

	var envelope struct {
		Metadata []catalog.Table `json:"metadata"`
	}
	if err := c.call(ctx, http.MethodGet, "/metadata", query, nil, &envelope); err != nil {
		return nil, err
	}
	return envelope.Metadata, nil
}

// Close releases idle connections. Idempotent.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.httpClient.CloseIdleConnections()
	return nil
}

// call runs one authenticated HTTP operation with the single forced
// re-authentication retry on a 401-class response.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if c.closed.Load() {
		return transport.ErrClosed
	}

	return transport.DoWithReauth(ctx, c.cfg.Strategy, isAuthExpired, func(headers map[string]string) error {
		instanceURL := c.cfg.Endpoint
		if instanceURL == "" {
			var err error
			instanceURL, err = c.cfg.Strategy.InstanceURL(ctx)
			if err != nil {
				return err
			}
		}

		endpoint := instanceURL + apiPrefix + path
		if len(query) > 0 {
			endpoint += "?" + query.Encode()
		}
		return c.do(ctx, method, endpoint, headers, body, out)
	})
}

// do issues a single HTTP request and decodes the JSON response.
func (c *Client) do(ctx context.Context, method, endpoint string, headers map[string]string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &transport.APIError{Msg: "request encode failed", Err: err}
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return &transport.APIError{Msg: "request build failed", Err: err}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("X-Request-Id", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &transport.APIError{Msg: "request failed", Err: err}
	}
	defer xerrors.DeferClose(c.logger, resp.Body, "response body close failed")

	c.logger.Debug().
		Str("method", method).
		Str("url", endpoint).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("api call")

	// Setting Accept-Encoding ourselves disables net/http's transparent
	// decompression, so a gzip body arrives compressed and must be unwrapped
	// here before decoding.
	reader := io.Reader(resp.Body)
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return &transport.APIError{StatusCode: resp.StatusCode, Msg: "gzip decode failed", Err: err}
		}
		defer xerrors.DeferClose(c.logger, gz, "gzip reader close failed")
		reader = gz
	}

	respBody, err := io.ReadAll(reader)
	if err != nil {
		return &transport.APIError{StatusCode: resp.StatusCode, Msg: "response read failed", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return apiErrorFrom(resp.StatusCode, respBody)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &transport.APIError{StatusCode: resp.StatusCode, Msg: "response parse failed", Err: err}
	}
	return nil
}

// apiErrorFrom extracts the service's error shape from a non-2xx body.
func apiErrorFrom(statusCode int, body []byte) *transport.APIError {
	var payload struct {
		Message   string `json:"message"`
		ErrorCode string `json:"errorCode"`
	}
	apiErr := &transport.APIError{StatusCode: statusCode}
	if json.Unmarshal(body, &payload) == nil && payload.Message != "" {
		apiErr.Msg = payload.Message
		apiErr.Code = payload.ErrorCode
	} else {
		apiErr.Msg = fmt.Sprintf("request failed with status %d", statusCode)
	}
	return apiErr
}

// isAuthExpired treats 401-class responses as the auth-expiry signal.
func isAuthExpired(err error) bool {
	var apiErr *transport.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden
}
