package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"querybridge/internal/database"
	"querybridge/internal/database/drivers"
	"querybridge/internal/model"
)

const (
	formatTable = "table"
	formatJSON  = "json"
)

func renderResult(w io.Writer, result *model.QueryResult, format string) error {
	switch format {
	case formatJSON:
		return writeJSON(w, result)
	case formatTable:
	default:
		return fmt.Errorf("unknown output format %q (want table or json)", format)
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	columns := resultColumns(result)
	header := make(table.Row, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	t.AppendHeader(header)

	for _, row := range result.Rows {
		out := make(table.Row, len(columns))
		for i, c := range columns {
			if v, ok := row.Get(c); ok {
				out[i] = formatValue(v)
			}
		}
		t.AppendRow(out)
	}

	if len(columns) > 0 {
		t.Render()
	}
	fmt.Fprintf(w, "(%d rows)\n", result.RowCount)
	return nil
}

// resultColumns prefers the reported fields and falls back to the keys of
// the first row.
func resultColumns(result *model.QueryResult) []string {
	if len(result.Fields) > 0 {
		cols := make([]string, len(result.Fields))
		for i, f := range result.Fields {
			cols[i] = f.Name
		}
		return cols
	}
	if len(result.Rows) > 0 {
		return result.Rows[0].Columns()
	}
	return nil
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case bool:
		return strconv.FormatBool(t)
	case model.Row, []any, map[string]uint32:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

func renderEngines(w io.Writer, infos []drivers.DriverInfo) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Engine", "Category", "Default Port", "SQL", "Documents", "Schema"})
	for _, info := range infos {
		port := "-"
		if info.DefaultPort > 0 {
			port = strconv.Itoa(info.DefaultPort)
		}
		t.AppendRow(table.Row{
			info.Type,
			info.Category,
			port,
			yesNo(info.Capabilities.SupportsSQL),
			yesNo(info.Capabilities.SupportsDocumentQueries),
			yesNo(info.Capabilities.SupportsSchemaDiscovery),
		})
	}
	t.Render()
}

func renderHealth(w io.Writer, summary *database.DatabaseHealthSummary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Connection", "Engine", "Status", "Latency", "Message"})
	for _, r := range summary.Results {
		t.AppendRow(table.Row{r.ConnectionID, r.DatabaseType, r.Status, r.Latency.Round(time.Millisecond), r.Message})
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d/%d healthy", summary.HealthyConnections, summary.TotalConnections), "", ""})
	t.Render()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
