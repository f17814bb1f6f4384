package query

import (
	"context"
	"reflect"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/biodiversity-meets-data/occmirror/pkg/errors"
	"github.com/biodiversity-meets-data/occmirror/pkg/ulid"
	"github.com/biodiversity-meets-data/occmirror/server/config"
	"github.com/rs/zerolog"
)

// ClickHouseEngine runs queries on an external ClickHouse server. GBIF
// publishes ClickHouse-flavored s3() examples, so hosts with an existing
// ClickHouse deployment can keep their queries and still benefit from the
// mirror for rewritable references.
type ClickHouseEngine struct {
	conn       driver.Conn
	validation Validation
	rewriter   *Rewriter
	logger     zerolog.Logger
}

// NewClickHouseEngine connects to the configured ClickHouse server
func NewClickHouseEngine(cfg config.ClickHouseConfig, rewriter *Rewriter, logger zerolog.Logger) (*ClickHouseEngine, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: 10 * time.Second,
	})
	if err != nil {
		return nil, errors.New(ErrEngineSetupFailed, "failed to connect to ClickHouse", err).AddContext("addr", cfg.Addr)
	}
	if err := conn.Ping(context.Background()); err != nil {
		conn.Close()
		return nil, errors.New(ErrEngineSetupFailed, "ClickHouse ping failed", err).AddContext("addr", cfg.Addr)
	}

	return &ClickHouseEngine{
		conn:       conn,
		validation: DefaultValidation(),
		rewriter:   rewriter,
		logger:     logger.With().Str("component", "query").Str("engine", EngineClickHouse).Logger(),
	}, nil
}

// Name returns the engine identifier
func (e *ClickHouseEngine) Name() string {
	return EngineClickHouse
}

// ExecuteQuery validates, rewrites, and runs one SQL query. Rewritten
// references point at paths on the ClickHouse host, so this engine is only
// useful when the mirror and ClickHouse share a filesystem.
func (e *ClickHouseEngine) ExecuteQuery(ctx context.Context, query string) (*Result, error) {
	queryID := ulid.NewString()

	if err := validateStatement(query, e.validation); err != nil {
		return nil, errors.AsError(err).AddContext("query_id", queryID)
	}

	var rewrittenRefs []string
	if e.rewriter != nil {
		rw, err := e.rewriter.Rewrite(ctx, query)
		if err != nil {
			return nil, err
		}
		query = rw.Query
		for _, hit := range rw.Hits {
			rewrittenRefs = append(rewrittenRefs, hit.Remote)
		}
	}

	start := time.Now()
	rows, err := e.conn.Query(ctx, query)
	if err != nil {
		return nil, errors.New(ErrQueryFailed, "query execution failed", err).AddContext("query_id", queryID)
	}
	defer rows.Close()

	columns := rows.Columns()
	columnTypes := rows.ColumnTypes()

	var resultRows [][]interface{}
	rowCount := int64(0)
	for rows.Next() {
		if rowCount >= maxResultRows {
			e.logger.Warn().Str("query_id", queryID).Msg("Result truncated at row limit")
			break
		}
		ptrs := make([]interface{}, len(columns))
		for i, ct := range columnTypes {
			ptrs[i] = reflect.New(ct.ScanType()).Interface()
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.New(ErrScanFailed, "failed to scan result row", err).AddContext("query_id", queryID)
		}

		values := make([]interface{}, len(columns))
		for i, p := range ptrs {
			values[i] = reflect.ValueOf(p).Elem().Interface()
		}
		resultRows = append(resultRows, values)
		rowCount++
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(ErrQueryFailed, "error iterating result rows", err).AddContext("query_id", queryID)
	}

	return &Result{
		Columns:   columns,
		Rows:      resultRows,
		RowCount:  rowCount,
		Duration:  time.Since(start),
		QueryID:   queryID,
		Rewritten: rewrittenRefs,
	}, nil
}

// Close shuts down the ClickHouse connection
func (e *ClickHouseEngine) Close() error {
	return e.conn.Close()
}
