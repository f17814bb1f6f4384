package query

import (
	"context"
	"time"
)

// ComponentType defines the query component type identifier
const ComponentType = "query"

// Engine names accepted in configuration
const (
	EngineDuckDB     = "duckdb"
	EngineClickHouse = "clickhouse"
)

// Result holds the outcome of one SQL query
type Result struct {
	Columns  []string
	Rows     [][]interface{}
	RowCount int64
	Duration time.Duration
	QueryID  string
	// Rewritten lists the remote references that were redirected to the
	// local mirror for this query
	Rewritten []string
}

// Engine executes SQL against mirrored snapshot data
type Engine interface {
	Name() string
	ExecuteQuery(ctx context.Context, query string) (*Result, error)
	Close() error
}
