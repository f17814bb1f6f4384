package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/biodiversity-meets-data/occmirror/server/query"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var sqlCmd = &cobra.Command{
	Use:   "sql [query]",
	Short: "Execute a SQL query against mirrored snapshots",
	Long: `Execute a SQL query with the embedded DuckDB engine.

References to GBIF snapshot URLs are redirected to the local mirror when
the snapshot is fully mirrored, so repeated queries never re-read the
bucket. Use the latest alias to follow the newest complete snapshot:

  occmirror sql "SELECT count(*) FROM read_parquet('s3://gbif-open-data-eu-central-1/occurrence/latest/occurrence.parquet/*')"
  occmirror sql "SELECT kingdom, count(*) FROM read_parquet('s3://gbif-open-data-eu-central-1/occurrence/2025-10-01/occurrence.parquet/*') GROUP BY kingdom"`,
	Args: cobra.ExactArgs(1),
	RunE: runSQL,
}

type sqlOptions struct {
	maxRows int
	timing  bool
	format  string
}

var sqlOpts = &sqlOptions{}

func init() {
	rootCmd.AddCommand(sqlCmd)

	sqlCmd.Flags().IntVar(&sqlOpts.maxRows, "max-rows", 1000, "maximum number of rows to display")
	sqlCmd.Flags().BoolVar(&sqlOpts.timing, "timing", true, "show query execution time")
	sqlCmd.Flags().StringVar(&sqlOpts.format, "format", "table", "output format: table, csv or json")
}

func runSQL(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := cliLogger(cmd)

	cfg, err := findConfig()
	if err != nil {
		pterm.Error.Println("No mirror configuration found")
		pterm.Info.Println("Run 'occmirror init' first to create a mirror")
		return err
	}

	m, err := openMirror(cfg, logger)
	if err != nil {
		return err
	}
	defer m.Close()

	rewriter := query.NewRewriter(m.store, m.paths, cfg.Mirror.DatasetPrefix, logger)
	engine, err := query.NewEngine(cfg.Query, rewriter, logger)
	if err != nil {
		pterm.Error.Printf("Failed to create query engine: %v\n", err)
		return err
	}
	defer engine.Close()

	result, err := engine.ExecuteQuery(ctx, args[0])
	if err != nil {
		pterm.Error.Printf("Query failed: %v\n", err)
		return err
	}

	switch sqlOpts.format {
	case "", "table":
		printResult(result)
		return nil
	case "csv":
		return writeCSV(os.Stdout, result)
	case "json":
		return writeJSON(os.Stdout, result)
	default:
		return fmt.Errorf("unsupported output format %q (use table, csv or json)", sqlOpts.format)
	}
}

// writeCSV emits the full result set as CSV with a header row. NULL values
// become empty cells.
func writeCSV(w io.Writer, result *query.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(result.Columns); err != nil {
		return err
	}
	for _, row := range result.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			if v != nil {
				cells[i] = fmt.Sprint(v)
			}
		}
		if err := cw.Write(cells); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// writeJSON emits the result in the same shape the HTTP gateway uses
func writeJSON(w io.Writer, result *query.Result) error {
	payload := struct {
		QueryID    string          `json:"query_id"`
		Columns    []string        `json:"columns"`
		Rows       [][]interface{} `json:"rows"`
		RowCount   int64           `json:"row_count"`
		DurationMS int64           `json:"duration_ms"`
		Rewritten  []string        `json:"rewritten,omitempty"`
	}{
		QueryID:    result.QueryID,
		Columns:    result.Columns,
		Rows:       result.Rows,
		RowCount:   result.RowCount,
		DurationMS: result.Duration.Milliseconds(),
		Rewritten:  result.Rewritten,
	}

	out, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// printResult renders a query result as a terminal table
func printResult(result *query.Result) {
	if len(result.Rows) == 0 {
		pterm.Info.Printfln("Query returned no rows (%d columns)", len(result.Columns))
	} else {
		rows := pterm.TableData{result.Columns}
		limit := len(result.Rows)
		if sqlOpts.maxRows > 0 && limit > sqlOpts.maxRows {
			limit = sqlOpts.maxRows
		}
		for _, row := range result.Rows[:limit] {
			cells := make([]string, len(row))
			for i, v := range row {
				if v == nil {
					cells[i] = "NULL"
				} else {
					cells[i] = pterm.Sprintf("%v", v)
				}
			}
			rows = append(rows, cells)
		}
		if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
			pterm.Error.Printf("Failed to render results: %v\n", err)
		}
		if limit < len(result.Rows) {
			pterm.Info.Printfln("Showing %d of %d rows", limit, len(result.Rows))
		}
	}

	for _, ref := range result.Rewritten {
		pterm.Debug.Printfln("Served from mirror: %s", ref)
	}
	if sqlOpts.timing {
		pterm.Info.Printfln("%d rows in %v", result.RowCount, result.Duration)
	}
}
