// Package transport defines the capability set every Tidepool transport
// implements, plus the registry the connection factory selects them from.
//
// A transport executes three remote operations (submit, poll status, fetch
// page) and owns the retry-on-auth-expiry discipline: each call first
// obtains fresh headers from the auth strategy, and an auth-expiry signal
// triggers exactly one forced re-authentication before the call is retried
// once. Every other failure surfaces as an APIError without retry.
//
// All transports yield identical QueryStatus and ResultPage shapes, so the
// cursor layer above is transport-agnostic. Adding a transport means
// implementing Client and registering a Factory; nothing else changes.
package transport

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/tidepool/catalog"
	"github.com/coral-mesh/tidepool/internal/auth"
)

// Phase is the server-reported lifecycle stage of a submitted query.
type Phase int

const (
	// PhaseUnknown is reported before the server discloses a phase.
	PhaseUnknown Phase = iota
	// PhaseRunning covers queued and executing queries.
	PhaseRunning
	// PhaseFinished means results are ready to page through.
	PhaseFinished
	// PhaseFailed means the query itself failed server-side.
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseRunning:
		return "Running"
	case PhaseFinished:
		return "Finished"
	case PhaseFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// ParsePhase maps the server's completion status strings onto a Phase.
// Queued and unspecified states count as running: the query is on its way.
func ParsePhase(s string) Phase {
	switch strings.ToUpper(s) {
	case "RUNNING", "QUEUED", "UNSPECIFIED", "":
		return PhaseRunning
	case "FINISHED", "COMPLETED":
		return PhaseFinished
	case "FAILED":
		return PhaseFailed
	default:
		return PhaseUnknown
	}
}

// Column describes one result column: its name and the type the server
// declared for it.
type Column struct {
	Name     string
	Type     string
	Nullable bool
}

// QueryStatus is the transport-agnostic view of a submitted query.
type QueryStatus struct {
	QueryID string
	Phase   Phase
	// Columns is populated once the server discloses metadata, usually
	// when the phase reaches Finished.
	Columns []Column
	// Error carries the server-reported failure reason when Phase is
	// PhaseFailed.
	Error string
}

// ResultPage is one bounded slice of a result set.
type ResultPage struct {
	Rows [][]any
	// Offset is the zero-based row offset this page starts at.
	Offset int64
	// TotalRows is the server-disclosed total, or -1 when unknown.
	TotalRows int64
	// Last marks the final page.
	Last bool
}

// Client is the capability set all transports implement.
type Client interface {
	// SubmitQuery submits SQL for asynchronous execution and returns the
	// query identifier plus the initial phase.
	SubmitQuery(ctx context.Context, sql string, params []any) (QueryStatus, error)

	// GetQueryStatus returns the phase, and column metadata once known.
	GetQueryStatus(ctx context.Context, queryID string) (QueryStatus, error)

	// GetQueryResults fetches one page of rows at the given offset.
	GetQueryResults(ctx context.Context, queryID string, offset, limit int64) (*ResultPage, error)

	// Close releases the underlying channel or session. Safe to call
	// multiple times.
	Close() error
}

// MetadataProvider is an optional capability: transports that can serve the
// catalog metadata endpoint implement it in addition to Client.
type MetadataProvider interface {
	GetMetadata(ctx context.Context, filter catalog.Filter) ([]catalog.Table, error)
}

// Config carries everything a transport factory needs.
type Config struct {
	// Strategy supplies headers and the instance URL for every call.
	Strategy auth.Strategy

	// Endpoint overrides the call target. REST derives the target from
	// the strategy's instance URL when empty; grpc-based transports
	// require it.
	Endpoint string

	// HTTPClient is used by HTTP-based transports. A sensible default is
	// constructed when nil.
	HTTPClient *http.Client

	// Logger receives debug logging. Defaults to a disabled logger.
	Logger zerolog.Logger
}
