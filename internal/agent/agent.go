// Package agent assembles the tidewatch device agent: the flash and version
// stores, the update orchestrator, the attribute bus and the local web
// surface, supervised as one unit.
package agent

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/tidewatch-io/tidewatch/internal/agent/bus"
	"github.com/tidewatch-io/tidewatch/internal/agent/creds"
	"github.com/tidewatch-io/tidewatch/internal/agent/flash"
	"github.com/tidewatch-io/tidewatch/internal/agent/hal"
	"github.com/tidewatch-io/tidewatch/internal/agent/ota"
	"github.com/tidewatch-io/tidewatch/internal/agent/timesync"
	"github.com/tidewatch-io/tidewatch/internal/agent/version"
	"github.com/tidewatch-io/tidewatch/internal/agent/web"
	"github.com/tidewatch-io/tidewatch/pkg/log"
)

// Server defines the common lifecycle of every sub-server the agent runs.
type Server interface {
	Start(ctx context.Context) error
}

// Agent owns the assembled sub-servers.
type Agent struct {
	servers []Server
}

// NewAgent wires the full device agent from its configuration.
func (cfg *Config) NewAgent() (*Agent, error) {
	if cfg.Mqtt == nil || cfg.HTTP == nil || cfg.OTA == nil {
		return nil, fmt.Errorf("incomplete agent configuration")
	}
	logger := log.Std()

	store, err := creds.NewStore(cfg.OTA.CredentialsDir, logger)
	if err != nil {
		return nil, fmt.Errorf("open credentials store: %w", err)
	}
	watcher := creds.NewWatcher(store.Dir(), logger)

	device, err := flash.OpenFileDevice(cfg.OTA.StateDir, logger)
	if err != nil {
		return nil, fmt.Errorf("open flash device: %w", err)
	}
	versions := version.NewStore(cfg.OTA.StateDir, logger)
	gate := timesync.NewGate(logger)

	registryURL := cfg.OTA.RegistryBaseURL
	if override, ok, err := store.RegistryOverride(); err != nil {
		return nil, fmt.Errorf("read registry override: %w", err)
	} else if ok {
		logger.Info("Using provisioned registry override", "url", override)
		registryURL = override
	}

	b := bus.New(bus.Config{
		Client:    *cfg.Mqtt.ToClientConfig(),
		TopicRoot: cfg.Mqtt.TopicRoot,
	}, store, watcher.Events(), versions, logger)

	fetcher := ota.NewFetcher(ota.FetcherConfig{
		RegistryBaseURL:  registryURL,
		ChunkSize:        cfg.OTA.ChunkSize,
		PreflightTimeout: cfg.OTA.PreflightTimeout,
		DownloadTimeout:  cfg.OTA.DownloadTimeout,
	}, store, device, versions, b, gate, logger)

	manager := ota.NewManager(ota.ManagerConfig{RetryDelay: cfg.OTA.RetryDelay},
		fetcher, versions, b, hal.NewSystem(), logger)
	b.AttachEngine(manager)

	webSrv := web.NewServer(cfg.HTTP, store, versions, device, manager, logger)

	return &Agent{
		servers: []Server{watcher, manager, b, webSrv},
	}, nil
}

// Run starts every sub-server and blocks until the first failure or until
// the context is canceled.
func (a *Agent) Run(ctx context.Context) error {
	log.Info("Starting tidewatch agent")

	g, ctx := errgroup.WithContext(ctx)
	for _, srv := range a.servers {
		g.Go(func() error {
			return srv.Start(ctx)
		})
	}
	return g.Wait()
}
