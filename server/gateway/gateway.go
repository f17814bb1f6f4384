package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/biodiversity-meets-data/occmirror/pkg/errors"
	"github.com/biodiversity-meets-data/occmirror/server/config"
	"github.com/biodiversity-meets-data/occmirror/server/query"
	"github.com/biodiversity-meets-data/occmirror/server/registry"
	mirrorsync "github.com/biodiversity-meets-data/occmirror/server/sync"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ComponentType defines the gateway component type identifier
const ComponentType = "gateway"

// Gateway exposes the mirror over HTTP: health and status probes, snapshot
// inventory, sync triggers, and SQL execution against the query engine.
type Gateway struct {
	app    *fiber.App
	engine query.Engine
	store  *registry.Store
	coord  *mirrorsync.Coordinator
	cfg    *config.Config
	logger zerolog.Logger

	mu      sync.RWMutex
	started bool
}

// NewGateway creates the HTTP gateway and registers its routes
func NewGateway(engine query.Engine, store *registry.Store, coord *mirrorsync.Coordinator, cfg *config.Config, logger zerolog.Logger) *Gateway {
	app := fiber.New(fiber.Config{
		AppName:               "occmirror",
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
	})

	g := &Gateway{
		app:    app,
		engine: engine,
		store:  store,
		coord:  coord,
		cfg:    cfg,
		logger: logger.With().Str("component", "gateway").Logger(),
	}

	app.Use(func(c *fiber.Ctx) error {
		requestID := uuid.NewString()
		c.Set("X-Request-Id", requestID)
		c.Locals("request_id", requestID)
		return c.Next()
	})

	app.Get("/health", g.handleHealth)
	app.Get("/status", g.handleStatus)
	app.Get("/snapshots", g.handleSnapshots)
	app.Post("/sync", g.handleSync)
	app.Post("/query", g.handleQuery)

	return g
}

// Start begins serving on the configured address. It returns once the
// listener is running.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return errors.New(ErrAlreadyStarted, "gateway is already started", nil)
	}

	addr := fmt.Sprintf("%s:%d", g.cfg.GetHTTPAddress(), g.cfg.GetHTTPPort())
	g.logger.Info().Str("address", addr).Msg("Starting HTTP gateway")

	go func() {
		if err := g.app.Listen(addr); err != nil {
			g.logger.Error().Err(err).Msg("HTTP gateway stopped")
		}
	}()

	g.started = true
	return nil
}

// Stop drains in-flight requests and shuts the listener down
func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.started {
		return nil
	}

	g.logger.Info().Msg("Stopping HTTP gateway")
	if err := g.app.ShutdownWithContext(ctx); err != nil {
		return errors.New(ErrShutdownFailed, "gateway shutdown failed", err)
	}
	g.started = false
	return nil
}

// GetType returns the component type
func (g *Gateway) GetType() string {
	return ComponentType
}

// Shutdown implements graceful component shutdown
func (g *Gateway) Shutdown(ctx context.Context) error {
	return g.Stop(ctx)
}

func (g *Gateway) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (g *Gateway) handleStatus(c *fiber.Ctx) error {
	status := fiber.Map{
		"status":       "running",
		"engine":       g.engine.Name(),
		"region":       g.cfg.Mirror.Region,
		"bucket":       g.cfg.Mirror.Bucket,
		"sync_running": g.coord.Running(),
	}

	latest, err := g.store.LatestCompleteSnapshot(c.Context())
	switch {
	case err == nil:
		status["latest_snapshot"] = latest.Date
		status["latest_snapshot_files"] = latest.FileCount
		status["latest_snapshot_bytes"] = latest.TotalSize
	case errors.HasCode(err, registry.ErrNoCompleteSnapshots):
		status["latest_snapshot"] = nil
	default:
		return g.fail(c, fiber.StatusInternalServerError, err)
	}

	return c.JSON(status)
}

func (g *Gateway) handleSnapshots(c *fiber.Ctx) error {
	snaps, err := g.store.ListSnapshots(c.Context())
	if err != nil {
		return g.fail(c, fiber.StatusInternalServerError, err)
	}

	out := make([]fiber.Map, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, fiber.Map{
			"date":       snap.Date,
			"state":      snap.State,
			"file_count": snap.FileCount,
			"total_size": snap.TotalSize,
			"updated_at": snap.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	return c.JSON(fiber.Map{"snapshots": out})
}

type syncRequest struct {
	Snapshot string `json:"snapshot"`
}

// handleSync starts a sync in the background. A second request while one is
// running gets a conflict instead of a queue.
func (g *Gateway) handleSync(c *fiber.Ctx) error {
	if g.coord.Running() {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "a sync is already running",
		})
	}

	var req syncRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return g.fail(c, fiber.StatusBadRequest, err)
		}
	}

	snapshot := req.Snapshot
	if snapshot == "" {
		snapshot = mirrorsync.LatestAlias
	}

	go func() {
		outcome, err := g.coord.Sync(context.Background(), snapshot, nil)
		if err != nil {
			g.logger.Error().Err(err).Str("snapshot", snapshot).Msg("Background sync failed")
			return
		}
		g.logger.Info().
			Str("snapshot", outcome.Snapshot).
			Int("downloaded", outcome.Result.Downloaded).
			Msg("Background sync finished")
	}()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status":   "started",
		"snapshot": snapshot,
	})
}

type queryRequest struct {
	Query string `json:"query"`
}

func (g *Gateway) handleQuery(c *fiber.Ctx) error {
	var req queryRequest
	if err := c.BodyParser(&req); err != nil {
		return g.fail(c, fiber.StatusBadRequest, err)
	}
	if req.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "query is required",
		})
	}

	result, err := g.engine.ExecuteQuery(c.Context(), req.Query)
	if err != nil {
		g.logger.Error().Err(err).
			Str("request_id", c.Locals("request_id").(string)).
			Msg("Query execution failed")
		status := fiber.StatusInternalServerError
		if errors.HasCode(err, query.ErrQueryBlocked) {
			status = fiber.StatusForbidden
		}
		return g.fail(c, status, err)
	}

	return c.JSON(fiber.Map{
		"query_id":    result.QueryID,
		"columns":     result.Columns,
		"rows":        result.Rows,
		"row_count":   result.RowCount,
		"duration_ms": result.Duration.Milliseconds(),
		"rewritten":   result.Rewritten,
	})
}

func (g *Gateway) fail(c *fiber.Ctx, status int, err error) error {
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}
