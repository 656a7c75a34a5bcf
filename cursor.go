package tidepool

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/tidepool/internal/retry"
	"github.com/coral-mesh/tidepool/internal/transport"
)

// cursorState tracks where a cursor is in the submit, poll, drain protocol.
type cursorState int

const (
	stateIdle cursorState = iota
	stateSubmitted
	statePolling
	stateReady
	stateDraining
	// stateExhausted means the server disclosed the final page. Buffered
	// rows may still be pending consumption.
	stateExhausted
	stateFailed
	stateClosed
)

var errNoQuery = errors.New("tidepool: no query has been executed")

// Cursor drives one query at a time through submit, poll, and pagination.
// Fetch calls invoked while the query is still running block and drive the
// poll loop to completion first. A cursor is not safe for concurrent use;
// open several cursors on the connection instead.
type Cursor struct {
	conn   *Connection
	client transport.Client
	cfg    Config
	logger zerolog.Logger

	state   cursorState
	queryID string
	columns []Column
	execErr error

	buffer   [][]any
	received int64 // rows fetched from the server, the next page offset
	consumed int64 // rows handed to the caller
	total    int64 // server-disclosed total, -1 while unknown
}

// Execute submits sql for asynchronous execution. Any undrained state from
// a previous query on this cursor is discarded first. The call returns once
// the server accepted the query; completion is awaited by the fetch calls.
func (c *Cursor) Execute(ctx context.Context, sql string, params ...any) error {
	if c.state == stateClosed || c.conn.isClosed() {
		return ErrConnectionClosed
	}
	c.reset()

	st, err := c.client.SubmitQuery(ctx, sql, params)
	if err != nil {
		c.fail(err)
		return err
	}
	c.queryID = st.QueryID

	switch st.Phase {
	case transport.PhaseFinished:
		c.columns = st.Columns
		c.state = stateReady
	case transport.PhaseFailed:
		qerr := &QueryError{QueryID: st.QueryID, Message: st.Error}
		c.fail(qerr)
		return qerr
	default:
		c.state = stateSubmitted
	}

	c.logger.Debug().Str("query_id", c.queryID).Msg("query accepted")
	return nil
}

// FetchOne returns the next row, or (nil, nil) once the result set is
// drained.
func (c *Cursor) FetchOne(ctx context.Context) ([]any, error) {
	rows, err := c.FetchMany(ctx, 1)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// FetchMany returns up to n rows, blocking through the poll loop if the
// query has not completed yet. n <= 0 means one page. At the end of the
// stream it returns an empty slice, never an error; fetching past the end
// is safe.
func (c *Cursor) FetchMany(ctx context.Context, n int) ([][]any, error) {
	if err := c.awaitReady(ctx); err != nil {
		return nil, err
	}
	if n <= 0 {
		n = int(c.cfg.PageSize)
	}

	out := make([][]any, 0, n)
	for len(out) < n {
		if len(c.buffer) == 0 {
			if c.state == stateExhausted {
				break
			}
			if err := c.fetchPage(ctx); err != nil {
				return nil, err
			}
			continue
		}
		take := n - len(out)
		if take > len(c.buffer) {
			take = len(c.buffer)
		}
		out = append(out, c.buffer[:take]...)
		c.buffer = c.buffer[take:]
		c.consumed += int64(take)
	}
	return out, nil
}

// FetchAll drains the remainder of the result set.
func (c *Cursor) FetchAll(ctx context.Context) ([][]any, error) {
	if err := c.awaitReady(ctx); err != nil {
		return nil, err
	}

	for c.state != stateExhausted {
		if err := c.fetchPage(ctx); err != nil {
			return nil, err
		}
	}

	out := c.buffer
	c.buffer = nil
	c.consumed += int64(len(out))
	if out == nil {
		out = [][]any{}
	}
	return out, nil
}

// Description returns the result columns. Before the query completes it
// returns nil, not an error.
func (c *Cursor) Description() []Column {
	if len(c.columns) == 0 {
		return nil
	}
	cols := make([]Column, len(c.columns))
	copy(cols, c.columns)
	return cols
}

// RowCount reports rows handed out so far while paging, and the final
// total once the stream is drained. -1 before the query completes.
func (c *Cursor) RowCount() int64 {
	switch c.state {
	case stateExhausted:
		if len(c.buffer) == 0 && c.total >= 0 {
			return c.total
		}
		return c.consumed
	case stateReady, stateDraining:
		return c.consumed
	default:
		return -1
	}
}

// QueryID returns the server-assigned identifier of the current query, if
// one has been submitted.
func (c *Cursor) QueryID() string { return c.queryID }

// Close discards the cursor's state. Safe from every state and idempotent;
// subsequent operations return ErrConnectionClosed.
func (c *Cursor) Close() error {
	if c.state == stateClosed {
		return nil
	}
	c.reset()
	c.state = stateClosed
	return nil
}

func (c *Cursor) reset() {
	c.queryID = ""
	c.columns = nil
	c.execErr = nil
	c.buffer = nil
	c.received = 0
	c.consumed = 0
	c.total = -1
	c.state = stateIdle
}

func (c *Cursor) fail(err error) {
	c.state = stateFailed
	c.execErr = err
}

// awaitReady blocks until the query reaches a fetchable state, polling the
// server with a capped doubling backoff. Exceeding the configured
// wall-clock ceiling is terminal for this cursor; the remote query is left
// to finish or not on its own.
func (c *Cursor) awaitReady(ctx context.Context) error {
	if c.state == stateClosed || c.conn.isClosed() {
		return ErrConnectionClosed
	}

	switch c.state {
	case stateReady, stateDraining, stateExhausted:
		return nil
	case stateFailed:
		return c.execErr
	case stateIdle:
		return errNoQuery
	}

	c.state = statePolling
	start := time.Now()
	deadline := start.Add(c.cfg.PollTimeout)
	backoff := retry.NewBackoff(c.cfg.PollInitialInterval, c.cfg.PollMaxInterval)

	for {
		st, err := c.client.GetQueryStatus(ctx, c.queryID)
		if err != nil {
			c.fail(err)
			return err
		}

		switch st.Phase {
		case transport.PhaseFinished:
			c.columns = st.Columns
			c.state = stateReady
			c.logger.Debug().
				Str("query_id", c.queryID).
				Dur("elapsed", time.Since(start)).
				Msg("query finished")
			return nil
		case transport.PhaseFailed:
			qerr := &QueryError{QueryID: c.queryID, Message: st.Error}
			c.fail(qerr)
			return qerr
		}

		if time.Now().After(deadline) {
			terr := &QueryTimeoutError{QueryID: c.queryID, Elapsed: time.Since(start)}
			c.fail(terr)
			return terr
		}
		if err := backoff.Wait(ctx); err != nil {
			c.fail(err)
			return err
		}
	}
}

// fetchPage pulls the next page into the buffer and advances the offset.
func (c *Cursor) fetchPage(ctx context.Context) error {
	page, err := c.client.GetQueryResults(ctx, c.queryID, c.received, c.cfg.PageSize)
	if err != nil {
		return err
	}

	if page.TotalRows >= 0 {
		c.total = page.TotalRows
	}
	c.buffer = append(c.buffer, page.Rows...)
	c.received += int64(len(page.Rows))

	if page.Last || len(page.Rows) == 0 {
		c.state = stateExhausted
	} else {
		c.state = stateDraining
	}
	return nil
}
