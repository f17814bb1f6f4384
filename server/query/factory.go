package query

import (
	"github.com/biodiversity-meets-data/occmirror/pkg/errors"
	"github.com/biodiversity-meets-data/occmirror/server/config"
	"github.com/rs/zerolog"
)

// NewEngine creates the query engine named in the configuration. An empty
// engine name selects the embedded DuckDB.
func NewEngine(cfg config.QueryConfig, rewriter *Rewriter, logger zerolog.Logger) (Engine, error) {
	switch cfg.Engine {
	case "", EngineDuckDB:
		return NewDuckDBEngine(cfg.DuckDB, rewriter, logger)
	case EngineClickHouse:
		return NewClickHouseEngine(cfg.ClickHouse, rewriter, logger)
	default:
		return nil, errors.Newf(ErrEngineSetupFailed, "unsupported query engine %q", cfg.Engine)
	}
}
