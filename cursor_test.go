package tidepool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/tidepool/catalog"
	"github.com/coral-mesh/tidepool/internal/transport"
)

// fakeClient scripts the transport: statuses are served in order (the last
// one repeats), result pages are served in call order.
type fakeClient struct {
	submitStatus transport.QueryStatus
	submitErr    error
	statuses     []transport.QueryStatus
	pages        []*transport.ResultPage
	tables       []catalog.Table

	submitCalls  int
	statusCalls  int
	resultsCalls int
	lastSQL      string
	closed       bool
}

func (f *fakeClient) SubmitQuery(ctx context.Context, sql string, params []any) (transport.QueryStatus, error) {
	f.submitCalls++
	f.lastSQL = sql
	if f.submitErr != nil {
		return transport.QueryStatus{}, f.submitErr
	}
	return f.submitStatus, nil
}

func (f *fakeClient) GetQueryStatus(ctx context.Context, queryID string) (transport.QueryStatus, error) {
	i := f.statusCalls
	f.statusCalls++
	if len(f.statuses) == 0 {
		return transport.QueryStatus{QueryID: queryID, Phase: transport.PhaseRunning}, nil
	}
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	return f.statuses[i], nil
}

func (f *fakeClient) GetQueryResults(ctx context.Context, queryID string, offset, limit int64) (*transport.ResultPage, error) {
	i := f.resultsCalls
	f.resultsCalls++
	if i >= len(f.pages) {
		return &transport.ResultPage{Offset: offset, TotalRows: -1, Last: true}, nil
	}
	return f.pages[i], nil
}

func (f *fakeClient) GetMetadata(ctx context.Context, filter catalog.Filter) ([]catalog.Table, error) {
	return f.tables, nil
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func newTestConn(t *testing.T, fake transport.Client, pageSize int64) (*Connection, *Cursor) {
	t.Helper()

	cfg := Config{
		PageSize:            pageSize,
		PollInitialInterval: time.Millisecond,
		PollMaxInterval:     2 * time.Millisecond,
		PollTimeout:         time.Second,
	}
	cfg.withDefaults()

	conn := &Connection{cfg: cfg, client: fake, logger: zerolog.Nop()}
	cur, err := conn.Cursor()
	require.NoError(t, err)
	return conn, cur
}

func running(id string) transport.QueryStatus {
	return transport.QueryStatus{QueryID: id, Phase: transport.PhaseRunning}
}

func finished(id string, cols ...transport.Column) transport.QueryStatus {
	return transport.QueryStatus{QueryID: id, Phase: transport.PhaseFinished, Columns: cols}
}

func TestCursor_ExecuteFetchAll(t *testing.T) {
	fake := &fakeClient{
		submitStatus: running("q-1"),
		statuses: []transport.QueryStatus{
			running("q-1"),
			finished("q-1", transport.Column{Name: "Id", Type: "TEXT"}),
		},
		pages: []*transport.ResultPage{
			{Rows: [][]any{{"001"}, {"002"}}, Offset: 0, TotalRows: 2, Last: true},
		},
	}
	_, cur := newTestConn(t, fake, 2)
	ctx := context.Background()

	require.NoError(t, cur.Execute(ctx, "SELECT Id FROM Contact LIMIT 2"))
	assert.Equal(t, "SELECT Id FROM Contact LIMIT 2", fake.lastSQL)

	rows, err := cur.FetchAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"001"}, {"002"}}, rows)
	assert.EqualValues(t, 2, cur.RowCount())

	desc := cur.Description()
	require.Len(t, desc, 1)
	assert.Equal(t, "Id", desc[0].Name)
	assert.Equal(t, "TEXT", desc[0].Type)

	// Fetching past the end is safe and empty, never an error.
	again, err := cur.FetchAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, again)
	assert.EqualValues(t, 2, cur.RowCount())
}

func TestCursor_PollCallCount(t *testing.T) {
	// Running x3 then Finished: the cursor must reach Ready after exactly
	// four status calls.
	fake := &fakeClient{
		submitStatus: running("q-1"),
		statuses: []transport.QueryStatus{
			running("q-1"), running("q-1"), running("q-1"), finished("q-1"),
		},
	}
	_, cur := newTestConn(t, fake, 10)
	ctx := context.Background()

	require.NoError(t, cur.Execute(ctx, "SELECT 1"))
	_, err := cur.FetchAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, fake.statusCalls)
}

func TestCursor_SubmitAlreadyFinished(t *testing.T) {
	// A query that completes at submit time needs no status call at all.
	fake := &fakeClient{
		submitStatus: finished("q-1", transport.Column{Name: "n", Type: "NUMBER"}),
		pages: []*transport.ResultPage{
			{Rows: [][]any{{float64(1)}}, TotalRows: 1, Last: true},
		},
	}
	_, cur := newTestConn(t, fake, 10)
	ctx := context.Background()

	require.NoError(t, cur.Execute(ctx, "SELECT 1"))
	rows, err := cur.FetchAll(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Zero(t, fake.statusCalls)
}

func TestCursor_PollTimeout(t *testing.T) {
	fake := &fakeClient{submitStatus: running("q-1")}
	conn, _ := newTestConn(t, fake, 10)
	conn.cfg.PollTimeout = 20 * time.Millisecond
	cur, err := conn.Cursor()
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, cur.Execute(ctx, "SELECT 1"))

	_, err = cur.FetchAll(ctx)
	var terr *QueryTimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "q-1", terr.QueryID)

	// The failure is terminal for this query.
	_, err = cur.FetchOne(ctx)
	require.ErrorAs(t, err, &terr)
}

func TestCursor_ServerReportedFailure(t *testing.T) {
	fake := &fakeClient{
		submitStatus: running("q-1"),
		statuses: []transport.QueryStatus{
			{QueryID: "q-1", Phase: transport.PhaseFailed, Error: "table not found"},
		},
	}
	_, cur := newTestConn(t, fake, 10)
	ctx := context.Background()

	require.NoError(t, cur.Execute(ctx, "SELECT * FROM Nope"))

	_, err := cur.FetchAll(ctx)
	var qerr *QueryError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, "q-1", qerr.QueryID)
	assert.Contains(t, qerr.Message, "table not found")
}

func TestCursor_FetchManyAcrossPages(t *testing.T) {
	fake := &fakeClient{
		submitStatus: finished("q-1", transport.Column{Name: "v", Type: "TEXT"}),
		pages: []*transport.ResultPage{
			{Rows: [][]any{{"a"}, {"b"}}, Offset: 0, TotalRows: 5},
			{Rows: [][]any{{"c"}, {"d"}}, Offset: 2, TotalRows: 5},
			{Rows: [][]any{{"e"}}, Offset: 4, TotalRows: 5, Last: true},
		},
	}
	_, cur := newTestConn(t, fake, 2)
	ctx := context.Background()

	require.NoError(t, cur.Execute(ctx, "SELECT v FROM T"))

	rows, err := cur.FetchMany(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"a"}, {"b"}, {"c"}}, rows)
	assert.EqualValues(t, 3, cur.RowCount())

	rows, err = cur.FetchMany(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"d"}, {"e"}}, rows)
	assert.EqualValues(t, 5, cur.RowCount())

	rows, err = cur.FetchMany(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCursor_FetchOne(t *testing.T) {
	fake := &fakeClient{
		submitStatus: finished("q-1"),
		pages: []*transport.ResultPage{
			{Rows: [][]any{{"only"}}, TotalRows: 1, Last: true},
		},
	}
	_, cur := newTestConn(t, fake, 10)
	ctx := context.Background()

	require.NoError(t, cur.Execute(ctx, "SELECT 1"))

	row, err := cur.FetchOne(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{"only"}, row)

	row, err = cur.FetchOne(ctx)
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestCursor_FetchBeforeExecute(t *testing.T) {
	_, cur := newTestConn(t, &fakeClient{}, 10)

	_, err := cur.FetchAll(context.Background())
	require.ErrorIs(t, err, errNoQuery)
}

func TestCursor_ReExecuteResets(t *testing.T) {
	fake := &fakeClient{
		submitStatus: finished("q-1", transport.Column{Name: "a", Type: "TEXT"}),
		pages: []*transport.ResultPage{
			{Rows: [][]any{{"x"}}, TotalRows: 1, Last: true},
			{Rows: [][]any{{"y"}, {"z"}}, TotalRows: 2, Last: true},
		},
	}
	_, cur := newTestConn(t, fake, 10)
	ctx := context.Background()

	require.NoError(t, cur.Execute(ctx, "SELECT a FROM T"))
	_, err := cur.FetchAll(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, cur.RowCount())

	fake.submitStatus = finished("q-2", transport.Column{Name: "b", Type: "TEXT"})
	require.NoError(t, cur.Execute(ctx, "SELECT b FROM U"))
	assert.Equal(t, "q-2", cur.QueryID())

	rows, err := cur.FetchAll(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.EqualValues(t, 2, cur.RowCount())
	assert.Equal(t, "b", cur.Description()[0].Name)
}

func TestCursor_SubmitErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	fake := &fakeClient{submitErr: boom}
	_, cur := newTestConn(t, fake, 10)

	err := cur.Execute(context.Background(), "SELECT 1")
	require.ErrorIs(t, err, boom)

	_, err = cur.FetchAll(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestCursor_CloseIdempotent(t *testing.T) {
	_, cur := newTestConn(t, &fakeClient{submitStatus: finished("q-1")}, 10)

	require.NoError(t, cur.Close())
	require.NoError(t, cur.Close())

	err := cur.Execute(context.Background(), "SELECT 1")
	require.ErrorIs(t, err, ErrConnectionClosed)

	_, err = cur.FetchAll(context.Background())
	require.ErrorIs(t, err, ErrConnectionClosed)
}

func TestConnection_CloseInvalidatesCursors(t *testing.T) {
	fake := &fakeClient{submitStatus: finished("q-1")}
	conn, cur := newTestConn(t, fake, 10)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.True(t, fake.closed)

	_, err := conn.Cursor()
	require.ErrorIs(t, err, ErrConnectionClosed)

	err = cur.Execute(context.Background(), "SELECT 1")
	require.ErrorIs(t, err, ErrConnectionClosed)

	_, err = conn.ListTables(context.Background(), catalog.Filter{})
	require.ErrorIs(t, err, ErrConnectionClosed)
}

func TestConnection_ListTables(t *testing.T) {
	fake := &fakeClient{
		tables: []catalog.Table{
			{Name: "Contact__dlm", DisplayName: "Contact"},
			{Name: "Orders__dlm", DisplayName: "Orders"},
		},
	}
	conn, _ := newTestConn(t, fake, 10)

	tables, err := conn.ListTables(context.Background(), catalog.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Contact", "Orders"}, catalog.Names(tables))

	table, err := conn.DescribeTable(context.Background(), "Orders")
	require.NoError(t, err)
	assert.Equal(t, "Orders__dlm", table.Name)

	_, err = conn.DescribeTable(context.Background(), "Nope")
	require.Error(t, err)
}
