// Package frame materializes a drained result set as an Arrow table. It is
// a pure conversion over the cursor's column metadata and row tuples; the
// query lifecycle stays entirely in the tidepool package.
package frame

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/coral-mesh/tidepool"
)

// timestampLayouts are tried in order when the server ships timestamps as
// strings.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// DataType maps a server-declared column type onto an Arrow type.
// Unrecognized types come through as strings.
func DataType(declared string) arrow.DataType {
	switch strings.ToUpper(declared) {
	case "NUMBER", "DECIMAL", "FLOAT", "DOUBLE", "PERCENT", "CURRENCY":
		return arrow.PrimitiveTypes.Float64
	case "INTEGER", "INT", "BIGINT", "LONG":
		return arrow.PrimitiveTypes.Int64
	case "BOOLEAN", "BOOL":
		return arrow.FixedWidthTypes.Boolean
	case "TIMESTAMP", "DATETIME", "DATE_TIME", "DATE":
		return arrow.FixedWidthTypes.Timestamp_us
	default:
		return arrow.BinaryTypes.String
	}
}

// Schema builds the Arrow schema for the given result columns. Every field
// is nullable; the service does not guarantee non-null values even for
// columns it declares as such.
func Schema(cols []tidepool.Column) *arrow.Schema {
	fields := make([]arrow.Field, len(cols))
	for i, c := range cols {
		fields[i] = arrow.Field{Name: c.Name, Type: DataType(c.Type), Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

// FromRows converts fully-drained rows into an Arrow table. The caller owns
// the returned table and must Release it.
func FromRows(cols []tidepool.Column, rows [][]any) (arrow.Table, error) {
	if len(cols) == 0 {
		return nil, fmt.Errorf("frame: no columns")
	}

	schema := Schema(cols)
	builder := array.NewRecordBuilder(memory.NewGoAllocator(), schema)
	defer builder.Release()

	for n, row := range rows {
		if len(row) != len(cols) {
			return nil, fmt.Errorf("frame: row %d has %d values, want %d", n, len(row), len(cols))
		}
		for i, v := range row {
			if err := appendValue(builder.Field(i), v); err != nil {
				return nil, fmt.Errorf("frame: column %q row %d: %w", cols[i].Name, n, err)
			}
		}
	}

	rec := builder.NewRecord()
	defer rec.Release()
	return array.NewTableFromRecords(schema, []arrow.Record{rec}), nil
}

// FromCursor drains the cursor and converts the result. The cursor must
// have a query executed on it; completion is awaited like any fetch.
func FromCursor(ctx context.Context, cur *tidepool.Cursor) (arrow.Table, error) {
	rows, err := cur.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	return FromRows(cur.Description(), rows)
}

func appendValue(fb array.Builder, v any) error {
	if v == nil {
		fb.AppendNull()
		return nil
	}

	switch b := fb.(type) {
	case *array.StringBuilder:
		b.Append(fmt.Sprintf("%v", v))

	case *array.Float64Builder:
		f, err := asFloat(v)
		if err != nil {
			return err
		}
		b.Append(f)

	case *array.Int64Builder:
		f, err := asFloat(v)
		if err != nil {
			return err
		}
		b.Append(int64(f))

	case *array.BooleanBuilder:
		switch x := v.(type) {
		case bool:
			b.Append(x)
		case string:
			parsed, err := strconv.ParseBool(x)
			if err != nil {
				return err
			}
			b.Append(parsed)
		default:
			return fmt.Errorf("cannot interpret %T as boolean", v)
		}

	case *array.TimestampBuilder:
		ts, err := asTime(v)
		if err != nil {
			return err
		}
		b.Append(arrow.Timestamp(ts.UnixMicro()))

	default:
		return fmt.Errorf("unsupported builder %T", fb)
	}
	return nil
}

func asFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case string:
		return strconv.ParseFloat(x, 64)
	default:
		return 0, fmt.Errorf("cannot interpret %T as number", v)
	}
}

func asTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case string:
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, x); err == nil {
				return ts, nil
			}
		}
		return time.Time{}, fmt.Errorf("unparseable timestamp %q", x)
	case float64:
		// Epoch seconds, fractional part preserved.
		sec := int64(x)
		nsec := int64((x - float64(sec)) * float64(time.Second))
		return time.Unix(sec, nsec).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("cannot interpret %T as timestamp", v)
	}
}
