package transport

import "sort"

// Wire model shared by every transport. The REST transport sends these as
// HTTP JSON bodies; the grpc and connect transports send the same shapes as
// unary message payloads, so one conversion path serves all of them.

// SubmitRequest asks the service to execute sql asynchronously.
type SubmitRequest struct {
	SQL    string `json:"sql"`
	Params []any  `json:"sqlParameters,omitempty"`
}

// StatusRequest identifies the query whose status is wanted.
type StatusRequest struct {
	QueryID string `json:"queryId"`
}

// ResultsRequest asks for one page of rows.
type ResultsRequest struct {
	QueryID  string `json:"queryId"`
	Offset   int64  `json:"offset"`
	RowLimit int64  `json:"rowLimit"`
}

// WireStatus is the status block of submit and status responses.
type WireStatus struct {
	QueryID          string `json:"queryId"`
	CompletionStatus string `json:"completionStatus"`
	Error            string `json:"error,omitempty"`
}

// WireColumn is one column metadata entry. PlaceInOrder fixes the column
// order; the slice is not guaranteed to arrive sorted.
type WireColumn struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Nullable     bool   `json:"nullable"`
	PlaceInOrder int    `json:"placeInOrder"`
}

// StatusEnvelope is the response body of submit and status calls.
type StatusEnvelope struct {
	Status   WireStatus   `json:"status"`
	Metadata []WireColumn `json:"metadata,omitempty"`
}

// RowsEnvelope is the response body of a results-page call.
type RowsEnvelope struct {
	Data      [][]any `json:"data"`
	RowCount  int64   `json:"rowCount"`
	TotalRows *int64  `json:"totalRows,omitempty"`
	Done      bool    `json:"done"`
}

// ToStatus converts the wire envelope to the transport-agnostic shape.
func (e *StatusEnvelope) ToStatus() QueryStatus {
	st := QueryStatus{
		QueryID: e.Status.QueryID,
		Phase:   ParsePhase(e.Status.CompletionStatus),
		Error:   e.Status.Error,
	}
	if len(e.Metadata) > 0 {
		cols := make([]WireColumn, len(e.Metadata))
		copy(cols, e.Metadata)
		sort.SliceStable(cols, func(i, j int) bool {
			return cols[i].PlaceInOrder < cols[j].PlaceInOrder
		})
		st.Columns = make([]Column, len(cols))
		for i, c := range cols {
			st.Columns[i] = Column{Name: c.Name, Type: c.Type, Nullable: c.Nullable}
		}
	}
	return st
}

// ToPage converts the wire envelope to the transport-agnostic page shape.
func (e *RowsEnvelope) ToPage(offset int64) *ResultPage {
	page := &ResultPage{
		Rows:      e.Data,
		Offset:    offset,
		TotalRows: -1,
		Last:      e.Done,
	}
	if e.TotalRows != nil {
		page.TotalRows = *e.TotalRows
	}
	// An empty page always terminates pagination, whatever done says.
	if len(e.Data) == 0 {
		page.Last = true
	}
	return page
}
