package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/coral-mesh/tidepool"
	"github.com/coral-mesh/tidepool/catalog"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

func writeRows(w io.Writer, format string, cols []tidepool.Column, rows [][]any) error {
	switch format {
	case "table":
		return writeAligned(w, cols, rows)
	case "csv":
		return writeCSV(w, cols, rows)
	case "json":
		return writeJSON(w, cols, rows)
	default:
		return fmt.Errorf("unknown output format %q (want table, csv, or json)", format)
	}
}

// writeAligned renders a padded text table with styled headers.
func writeAligned(w io.Writer, cols []tidepool.Column, rows [][]any) error {
	if len(cols) == 0 {
		return nil
	}

	widths := make([]int, len(cols))
	for i, c := range cols {
		widths[i] = len(c.Name)
	}
	cells := make([][]string, len(rows))
	for r, row := range rows {
		cells[r] = make([]string, len(cols))
		for i := range cols {
			var s string
			if i < len(row) {
				s = formatValue(row[i])
			}
			cells[r][i] = s
			if len(s) > widths[i] {
				widths[i] = len(s)
			}
		}
	}

	header := make([]string, len(cols))
	rule := make([]string, len(cols))
	for i, c := range cols {
		header[i] = headerStyle.Render(pad(c.Name, widths[i]))
		rule[i] = dimStyle.Render(strings.Repeat("-", widths[i]))
	}
	fmt.Fprintln(w, strings.Join(header, "  "))
	fmt.Fprintln(w, strings.Join(rule, "  "))

	for _, row := range cells {
		for i, s := range row {
			row[i] = pad(s, widths[i])
		}
		fmt.Fprintln(w, strings.Join(row, "  "))
	}
	return nil
}

func writeCSV(w io.Writer, cols []tidepool.Column, rows [][]any) error {
	cw := csv.NewWriter(w)

	header := make([]string, len(cols))
	for i, c := range cols {
		header[i] = c.Name
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	record := make([]string, len(cols))
	for _, row := range rows {
		for i := range cols {
			record[i] = ""
			if i < len(row) {
				record[i] = formatValue(row[i])
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeJSON(w io.Writer, cols []tidepool.Column, rows [][]any) error {
	out := make([]map[string]any, len(rows))
	for r, row := range rows {
		obj := make(map[string]any, len(cols))
		for i, c := range cols {
			if i < len(row) {
				obj[c.Name] = row[i]
			}
		}
		out[r] = obj
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeTableList(w io.Writer, tables []catalog.Table) error {
	fmt.Fprintln(w, headerStyle.Render("TABLE"), " ", headerStyle.Render("CATEGORY"))
	for _, t := range tables {
		name := t.DisplayName
		if name == "" {
			name = t.Name
		}
		fmt.Fprintf(w, "%s  %s\n", name, dimStyle.Render(t.Category))
	}
	fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("%d tables", len(tables))))
	return nil
}

func writeTableDescription(w io.Writer, table *catalog.Table) error {
	fmt.Fprintln(w, headerStyle.Render(table.DisplayName), dimStyle.Render("("+table.Name+")"))
	for _, f := range table.Fields {
		fmt.Fprintf(w, "  %-32s %s\n", f.Name, f.Type)
	}
	if len(table.PrimaryKeys) > 0 {
		keys := make([]string, len(table.PrimaryKeys))
		for i, k := range table.PrimaryKeys {
			keys[i] = k.Name
		}
		fmt.Fprintln(w, dimStyle.Render("primary key: "+strings.Join(keys, ", ")))
	}
	return nil
}

func formatValue(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}
