package server

import (
	"context"
	"sync"
	"time"

	"github.com/biodiversity-meets-data/occmirror/pkg/errors"
	"github.com/biodiversity-meets-data/occmirror/server/config"
	"github.com/biodiversity-meets-data/occmirror/server/fetcher"
	"github.com/biodiversity-meets-data/occmirror/server/gateway"
	"github.com/biodiversity-meets-data/occmirror/server/paths"
	"github.com/biodiversity-meets-data/occmirror/server/query"
	"github.com/biodiversity-meets-data/occmirror/server/registry"
	"github.com/biodiversity-meets-data/occmirror/server/remote"
	mirrorsync "github.com/biodiversity-meets-data/occmirror/server/sync"
	"github.com/biodiversity-meets-data/occmirror/server/verify"
	"github.com/rs/zerolog"
)

// Component is the contract every managed subsystem satisfies
type Component interface {
	GetType() string
	Shutdown(ctx context.Context) error
}

// Server wires the mirror together: remote discovery, the registry, the
// download pool, the query engine, and the HTTP gateway. While running it
// re-checks upstream freshness on a ticker and mirrors new releases as
// they appear.
type Server struct {
	cfg      *config.Config
	logger   zerolog.Logger
	paths    *paths.Manager
	store    *registry.Store
	remote   *remote.Client
	fetcher  *fetcher.Fetcher
	coord    *mirrorsync.Coordinator
	verifier *verify.Verifier
	engine   query.Engine
	gateway  *gateway.Gateway

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// New builds a server from configuration
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pm := paths.NewManager(cfg.Mirror.DataPath, cfg.Mirror.DatasetPrefix)

	store, err := registry.NewStore(pm.GetRegistryDBPath())
	if err != nil {
		return nil, err
	}

	remoteClient, err := remote.NewClient(&cfg.Mirror, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	f := fetcher.New(remoteClient, store, fetcher.Config{
		MaxConcurrent: cfg.Mirror.MaxConcurrentDownloads,
		Retries:       cfg.Mirror.DownloadRetries,
		TempDir:       pm.GetTempPath(),
	}, logger)

	coord := mirrorsync.New(remoteClient, store, pm, f, mirrorsync.Config{
		KeepSnapshots: cfg.Mirror.KeepSnapshots,
	}, logger)

	verifier := verify.New(store, logger)

	rewriter := query.NewRewriter(store, pm, cfg.Mirror.DatasetPrefix, logger)
	engine, err := query.NewEngine(cfg.Query, rewriter, logger)
	if err != nil {
		remoteClient.Close()
		store.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		logger:   logger.With().Str("component", "server").Logger(),
		paths:    pm,
		store:    store,
		remote:   remoteClient,
		fetcher:  f,
		coord:    coord,
		verifier: verifier,
		engine:   engine,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.gateway = gateway.NewGateway(engine, store, coord, cfg, logger)
	return s, nil
}

// Coordinator exposes the sync coordinator for CLI commands that drive
// syncs in-process
func (s *Server) Coordinator() *mirrorsync.Coordinator {
	return s.coord
}

// Verifier exposes the partition verifier
func (s *Server) Verifier() *verify.Verifier {
	return s.verifier
}

// Store exposes the mirror registry
func (s *Server) Store() *registry.Store {
	return s.store
}

// Engine exposes the query engine
func (s *Server) Engine() query.Engine {
	return s.engine
}

// Start brings the gateway up and begins the freshness loop
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New(ErrAlreadyStarted, "server is already started", nil)
	}

	if s.cfg.IsHTTPServerEnabled() {
		if err := s.gateway.Start(ctx); err != nil {
			return err
		}
	}

	s.wg.Add(1)
	go s.freshnessLoop()

	s.started = true
	s.logger.Info().
		Str("region", s.cfg.Mirror.Region).
		Str("bucket", s.cfg.Mirror.Bucket).
		Str("data_path", s.cfg.Mirror.DataPath).
		Msg("Mirror server started")
	return nil
}

// freshnessLoop re-checks upstream on the configured cadence, mirrors new
// releases, and applies retention after each successful sync
func (s *Server) freshnessLoop() {
	defer s.wg.Done()

	interval := s.cfg.GetCheckInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// First check immediately so a freshly started server catches up
	// without waiting a full interval
	s.checkAndSync()

	for {
		select {
		case <-ticker.C:
			s.checkAndSync()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Server) checkAndSync() {
	stale, upstream, err := s.coord.Stale(s.ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Freshness check failed")
		return
	}
	if !stale {
		s.logger.Debug().Str("upstream", upstream).Msg("Mirror is fresh")
		return
	}

	s.logger.Info().Str("upstream", upstream).Msg("Upstream has a newer snapshot, syncing")
	outcome, err := s.coord.Sync(s.ctx, upstream, nil)
	if err != nil {
		s.logger.Error().Err(err).Str("snapshot", upstream).Msg("Background sync failed")
		return
	}

	if s.cfg.Mirror.VerifyDownloads && outcome.Complete {
		snap, err := s.store.GetSnapshot(s.ctx, outcome.Snapshot)
		if err == nil {
			if report, err := s.verifier.VerifySnapshot(s.ctx, snap.ID); err != nil {
				s.logger.Warn().Err(err).Msg("Snapshot verification failed")
			} else if report.Failed > 0 {
				s.logger.Warn().Int("failed", report.Failed).Msg("Verification reset corrupt partitions")
				return
			}
		}
	}

	if _, err := s.coord.Prune(s.ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Retention pruning failed")
	}
}

// Shutdown stops the gateway, the freshness loop, and all components
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}

	s.logger.Info().Msg("Shutting down mirror server")
	s.cancel()

	if err := s.gateway.Stop(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Error stopping gateway")
	}
	if err := s.engine.Close(); err != nil {
		s.logger.Error().Err(err).Msg("Error closing query engine")
	}
	s.remote.Close()
	if err := s.store.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Error closing registry")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.New(ErrShutdownTimeout, "shutdown timed out waiting for background work", ctx.Err())
	}

	s.started = false
	s.logger.Info().Msg("Mirror server stopped")
	return nil
}
