package cli

import (
	"github.com/biodiversity-meets-data/occmirror/server/config"
	"github.com/biodiversity-meets-data/occmirror/server/fetcher"
	"github.com/biodiversity-meets-data/occmirror/server/paths"
	"github.com/biodiversity-meets-data/occmirror/server/registry"
	"github.com/biodiversity-meets-data/occmirror/server/remote"
	mirrorsync "github.com/biodiversity-meets-data/occmirror/server/sync"
	"github.com/rs/zerolog"
)

// mirror bundles the components CLI commands drive in-process, without the
// query engine or the HTTP gateway
type mirror struct {
	cfg    *config.Config
	paths  *paths.Manager
	store  *registry.Store
	remote *remote.Client
	coord  *mirrorsync.Coordinator
}

// openMirror wires up the mirror components from configuration
func openMirror(cfg *config.Config, logger zerolog.Logger) (*mirror, error) {
	pm := paths.NewManager(cfg.Mirror.DataPath, cfg.Mirror.DatasetPrefix)

	store, err := registry.NewStore(pm.GetRegistryDBPath())
	if err != nil {
		return nil, err
	}

	client, err := remote.NewClient(&cfg.Mirror, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	f := fetcher.New(client, store, fetcher.Config{
		MaxConcurrent: cfg.Mirror.MaxConcurrentDownloads,
		Retries:       cfg.Mirror.DownloadRetries,
		TempDir:       pm.GetTempPath(),
	}, logger)

	coord := mirrorsync.New(client, store, pm, f, mirrorsync.Config{
		KeepSnapshots: cfg.Mirror.KeepSnapshots,
	}, logger)

	return &mirror{
		cfg:    cfg,
		paths:  pm,
		store:  store,
		remote: client,
		coord:  coord,
	}, nil
}

// Close releases the mirror's resources
func (m *mirror) Close() {
	m.remote.Close()
	m.store.Close()
}
