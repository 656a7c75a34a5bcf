package tidepool

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/tidepool/catalog"
	"github.com/coral-mesh/tidepool/internal/transport"
)

// Connection owns one transport channel and one authentication lifecycle,
// and hands out cursors that share both. Cursors on one Connection are
// independent query sessions; the shared token is mutation-guarded inside
// the auth strategy, so concurrent cursor use is safe.
type Connection struct {
	cfg    Config
	client transport.Client
	logger zerolog.Logger

	mu      sync.Mutex
	closed  bool
	cursors []*Cursor
}

// Cursor returns a new cursor sharing this connection's transport and
// authentication state.
func (c *Connection) Cursor() (*Cursor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrConnectionClosed
	}

	cur := &Cursor{
		conn:   c,
		client: c.client,
		cfg:    c.cfg,
		logger: c.logger.With().Str("component", "cursor").Logger(),
		total:  -1,
	}
	c.cursors = append(c.cursors, cur)
	return cur, nil
}

// Close closes every cursor and releases the transport channel. Idempotent;
// after Close every operation on the connection or its cursors returns
// ErrConnectionClosed.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cursors := c.cursors
	c.cursors = nil
	c.mu.Unlock()

	for _, cur := range cursors {
		_ = cur.Close()
	}
	return c.client.Close()
}

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ListTables returns catalog metadata for the queryable tables, optionally
// narrowed by the filter. The active transport must support the metadata
// endpoint.
func (c *Connection) ListTables(ctx context.Context, filter catalog.Filter) ([]catalog.Table, error) {
	if c.isClosed() {
		return nil, ErrConnectionClosed
	}

	provider, ok := c.client.(transport.MetadataProvider)
	if !ok {
		return nil, fmt.Errorf("tidepool: transport %q does not serve catalog metadata", c.cfg.Transport)
	}
	return provider.GetMetadata(ctx, filter)
}

// DescribeTable returns the catalog entry for one table.
func (c *Connection) DescribeTable(ctx context.Context, name string) (*catalog.Table, error) {
	tables, err := c.ListTables(ctx, catalog.Filter{EntityName: name})
	if err != nil {
		return nil, err
	}
	for i := range tables {
		if tables[i].Name == name || tables[i].DisplayName == name {
			return &tables[i], nil
		}
	}
	return nil, fmt.Errorf("tidepool: table %q not found", name)
}
