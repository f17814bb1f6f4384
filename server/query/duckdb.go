package query

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/biodiversity-meets-data/occmirror/pkg/errors"
	"github.com/biodiversity-meets-data/occmirror/pkg/ulid"
	"github.com/biodiversity-meets-data/occmirror/server/config"
	"github.com/rs/zerolog"

	_ "github.com/marcboeker/go-duckdb/v2"
)

// maxResultRows caps how many rows a single query hands back
const maxResultRows = 100000

// Validation tunes the statement allow-list applied before execution
type Validation struct {
	AllowedStatements []string
	BlockedKeywords   []string
}

// DefaultValidation permits read-only statements and blocks statements
// that reach outside the query itself
func DefaultValidation() Validation {
	return Validation{
		AllowedStatements: []string{
			"SELECT", "SHOW", "DESCRIBE", "EXPLAIN", "WITH", "SUMMARIZE",
		},
		BlockedKeywords: []string{
			"COPY", "ATTACH", "DETACH", "INSTALL", "LOAD",
			"PRAGMA", "CALL", "EXPORT", "IMPORT", "CHECKPOINT", "VACUUM",
		},
	}
}

// validateStatement checks a query against the allow-list before execution
func validateStatement(query string, v Validation) error {
	normalized := strings.TrimSpace(strings.ToUpper(query))
	if normalized == "" {
		return errors.New(ErrQueryBlocked, "empty query not allowed", nil)
	}

	if len(v.AllowedStatements) > 0 {
		allowed := false
		for _, stmt := range v.AllowedStatements {
			if strings.HasPrefix(normalized, strings.ToUpper(stmt)) {
				allowed = true
				break
			}
		}
		if !allowed {
			return errors.New(ErrQueryBlocked, "statement type not allowed", nil)
		}
	}

	for _, keyword := range v.BlockedKeywords {
		if containsKeyword(normalized, strings.ToUpper(keyword)) {
			return errors.Newf(ErrQueryBlocked, "blocked keyword %q detected", keyword)
		}
	}
	return nil
}

// containsKeyword matches whole words only, so column names that merely
// embed a blocked keyword still pass
func containsKeyword(normalized, keyword string) bool {
	idx := 0
	for {
		i := strings.Index(normalized[idx:], keyword)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(keyword)
		beforeOK := start == 0 || !isWordChar(normalized[start-1])
		afterOK := end == len(normalized) || !isWordChar(normalized[end])
		if beforeOK && afterOK {
			return true
		}
		idx = end
	}
}

func isWordChar(c byte) bool {
	return c == '_' || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}

// metrics tracks engine counters
type metrics struct {
	mu             sync.Mutex
	queries        int64
	blocked        int64
	failed         int64
	totalQueryTime time.Duration
}

// Metrics is a point-in-time copy of engine counters
type Metrics struct {
	QueriesExecuted int64
	BlockedQueries  int64
	FailedQueries   int64
	TotalQueryTime  time.Duration
}

// DuckDBEngine executes queries on an embedded DuckDB instance. Rewritten
// queries read mirrored Parquet straight off the local filesystem; the
// httpfs extension, when available, lets unrewritten references fall
// through to the remote bucket.
type DuckDBEngine struct {
	db         *sql.DB
	cfg        config.DuckDBConfig
	validation Validation
	rewriter   *Rewriter
	logger     zerolog.Logger
	metrics    metrics

	mu     sync.RWMutex
	closed bool

	httpfsAvailable bool
}

// NewDuckDBEngine opens an in-memory DuckDB and prepares it for Parquet
// scans. The rewriter may be nil, in which case queries run unmodified.
func NewDuckDBEngine(cfg config.DuckDBConfig, rewriter *Rewriter, logger zerolog.Logger) (*DuckDBEngine, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, errors.New(ErrEngineSetupFailed, "failed to open DuckDB", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.New(ErrEngineSetupFailed, "failed to ping DuckDB", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	e := &DuckDBEngine{
		db:         db,
		cfg:        cfg,
		validation: DefaultValidation(),
		rewriter:   rewriter,
		logger:     logger.With().Str("component", "query").Str("engine", EngineDuckDB).Logger(),
	}
	if err := e.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return e, nil
}

func (e *DuckDBEngine) initialize() error {
	if e.cfg.MaxMemoryMB > 0 {
		if _, err := e.db.Exec(fmt.Sprintf("SET memory_limit = '%dMB'", e.cfg.MaxMemoryMB)); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to set memory limit")
		}
	}
	for _, opt := range []string{
		"SET enable_progress_bar = false",
		"SET enable_object_cache = true",
	} {
		if _, err := e.db.Exec(opt); err != nil {
			e.logger.Warn().Str("option", opt).Err(err).Msg("Failed to apply option")
		}
	}

	// httpfs covers remote fallthrough only; local Parquet scans work
	// without it, so an offline host still serves mirrored data
	if _, err := e.db.Exec("INSTALL httpfs"); err != nil {
		e.logger.Debug().Err(err).Msg("httpfs install skipped")
	}
	if _, err := e.db.Exec("LOAD httpfs"); err != nil {
		e.logger.Warn().Err(err).Msg("httpfs extension unavailable, remote references will fail")
	} else {
		e.httpfsAvailable = true
	}
	return nil
}

// Name returns the engine identifier
func (e *DuckDBEngine) Name() string {
	return EngineDuckDB
}

// ExecuteQuery validates, rewrites, and runs one SQL query
func (e *DuckDBEngine) ExecuteQuery(ctx context.Context, query string) (*Result, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, errors.New(ErrEngineClosed, "query engine is closed", nil)
	}
	e.mu.RUnlock()

	queryID := ulid.NewString()

	if err := validateStatement(query, e.validation); err != nil {
		e.metrics.mu.Lock()
		e.metrics.blocked++
		e.metrics.mu.Unlock()
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

	if e.cfg.QueryTimeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(e.cfg.QueryTimeoutSec)*time.Second)
		defer cancel()
	}

	start := time.Now()
	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		e.metrics.mu.Lock()
		e.metrics.failed++
		e.metrics.mu.Unlock()
		return nil, errors.New(ErrQueryFailed, "query execution failed", err).AddContext("query_id", queryID)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.New(ErrScanFailed, "failed to read result columns", err).AddContext("query_id", queryID)
	}

	var resultRows [][]interface{}
	rowCount := int64(0)
	for rows.Next() {
		if rowCount >= maxResultRows {
			e.logger.Warn().Str("query_id", queryID).Msg("Result truncated at row limit")
			break
		}
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.New(ErrScanFailed, "failed to scan result row", err).AddContext("query_id", queryID)
		}
		resultRows = append(resultRows, values)
		rowCount++
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(ErrQueryFailed, "error iterating result rows", err).AddContext("query_id", queryID)
	}

	duration := time.Since(start)
	e.metrics.mu.Lock()
	e.metrics.queries++
	e.metrics.totalQueryTime += duration
	e.metrics.mu.Unlock()

	return &Result{
		Columns:   columns,
		Rows:      resultRows,
		RowCount:  rowCount,
		Duration:  duration,
		QueryID:   queryID,
		Rewritten: rewrittenRefs,
	}, nil
}

// GetMetrics returns a copy of the engine counters
func (e *DuckDBEngine) GetMetrics() Metrics {
	e.metrics.mu.Lock()
	defer e.metrics.mu.Unlock()
	return Metrics{
		QueriesExecuted: e.metrics.queries,
		BlockedQueries:  e.metrics.blocked,
		FailedQueries:   e.metrics.failed,
		TotalQueryTime:  e.metrics.totalQueryTime,
	}
}

// Close shuts down the embedded database
func (e *DuckDBEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.db.Close()
}
