package meshprobe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/netmeasure/meshprobe/config"
	"github.com/netmeasure/meshprobe/internal/coordinator"
	"github.com/netmeasure/meshprobe/internal/handoff"
	"github.com/netmeasure/meshprobe/internal/probe"
	"github.com/netmeasure/meshprobe/internal/server"
)

// loopShutdownTimeout bounds how long Stop waits for the loops to observe the
// quit signal. A loop mid-round exits at its next iteration boundary; probes
// in flight are cancelled through their contexts.
const loopShutdownTimeout = 10 * time.Second

// Agent is the main orchestrator: three periodic loops (announce, ping,
// download), the handoff state between them, and the inbound HTTP server.
//
// The typical lifecycle is:
//
//	agent, err := meshprobe.New(meshprobe.WithConfig(cfg))
//	if err != nil {
//	    slog.Error("failed to create agent", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	agent.Start(ctx) // blocks until context cancelled
type Agent struct {
	version string
	logger  *slog.Logger
	clk     clock.Clock

	mu         sync.Mutex
	cfg        *config.Config
	configPath string
	settings   *config.Settings
	started    bool
}

// New creates an [Agent] from the given options. A configuration (via
// [WithConfig] or [WithConfigFile]) is required; everything else defaults.
func New(opts ...Option) (*Agent, error) {
	ac := &agentConfig{version: "dev"}
	for _, opt := range opts {
		if err := opt(ac); err != nil {
			return nil, err
		}
	}

	if ac.cfg == nil {
		return nil, errors.New("a configuration is required (use WithConfig or WithConfigFile)")
	}

	logger := ac.logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := ac.clk
	if clk == nil {
		clk = clock.New()
	}

	return &Agent{
		version:    ac.version,
		logger:     logger,
		clk:        clk,
		cfg:        ac.cfg,
		configPath: ac.configPath,
		settings:   config.NewSettings(),
	}, nil
}

// Start runs the agent until ctx is cancelled.
//
// Startup is the only place a failure is fatal: the agent must be able to
// determine its own identity and bind its inbound listener, or there is no
// point announcing. Everything after that is absorbed into loop statistics.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return errors.New("agent already started")
	}
	a.started = true
	cfg := a.cfg
	a.mu.Unlock()

	if ctx.Err() != nil {
		return nil
	}

	machineName, err := a.resolveMachineName(cfg)
	if err != nil {
		return err
	}

	identity := coordinator.Identity{
		MachineName:   machineName,
		InstanceID:    uuid.NewString(),
		NetworkID:     cfg.NetworkID,
		CloudProvider: cfg.CloudProvider,
		CloudRegion:   cfg.CloudRegion,
		ListenPort:    cfg.ListenPort,
		Version:       a.version,
	}

	a.logger.Info("meshprobe starting",
		"machine", machineName,
		"instance_id", identity.InstanceID,
		"listen_port", cfg.ListenPort,
		"coordinator", cfg.CoordinatorURL,
	)

	client := coordinator.New(cfg.CoordinatorURL, cfg.PingReportURL, cfg.DownloadReportURL, identity)
	defer client.Close()

	downloader := probe.NewDownloader()
	defer downloader.Close()

	board := handoff.NewBoard(a.clk)
	ping := newPingLoop(board, a.settings, client, cfg.PingReportURL, a.logger, a.clk)
	download := newDownloadLoop(a.settings, client, downloader, cfg.DownloadReportURL, a.logger, a.clk)
	// The queue wakes the download loop whenever an offer activates; the
	// loop is wired to the queue before anything starts.
	queue := handoff.NewQueue(download.Wake)
	download.queue = queue
	announce := newAnnounceLoop(client, a.settings, board, queue,
		cfg.AnnounceInterval.Duration(), a.logger, a.clk)

	srv := server.New(cfg.ListenPort, a.version, announce, ping, download,
		a.configStatusMap, a.reloadConfig, a.logger)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	ping.loop.Start(ctx)
	a.logger.Info("started ping loop", "report_url", cfg.PingReportURL)
	download.loop.Start(ctx)
	a.logger.Info("started download loop", "report_url", cfg.DownloadReportURL)
	announce.loop.Start(ctx)
	a.logger.Info("started announce loop", "announce_url", cfg.CoordinatorURL)

	<-ctx.Done()

	announce.loop.Quit()
	ping.loop.Quit()
	download.loop.Quit()

	deadline := time.After(loopShutdownTimeout)
	for _, l := range []*loopDone{
		{announce.loop.Name(), announce.loop.Done()},
		{ping.loop.Name(), ping.loop.Done()},
		{download.loop.Name(), download.loop.Done()},
	} {
		select {
		case <-l.done:
		case <-deadline:
			a.logger.Warn("loop did not stop in time", "loop", l.name)
		}
	}

	a.logger.Info("meshprobe stopped")
	return nil
}

type loopDone struct {
	name string
	done <-chan struct{}
}

// resolveMachineName prefers the configured name, falls back to the OS
// hostname, and fails startup when neither is available.
func (a *Agent) resolveMachineName(cfg *config.Config) (string, error) {
	if cfg.MachineName != "" {
		return cfg.MachineName, nil
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("cannot determine machine name: %w", err)
	}
	if hostname == "" {
		return "", errors.New("cannot determine machine name: empty hostname")
	}
	a.logger.Info("machine name not configured, using hostname", "hostname", hostname)
	return hostname, nil
}

// configStatusMap renders local configuration plus effective dynamic settings
// for the /config endpoint.
func (a *Agent) configStatusMap() map[string]any {
	a.mu.Lock()
	cfg := a.cfg
	path := a.configPath
	a.mu.Unlock()

	m := map[string]any{
		"coordinator_url":     cfg.CoordinatorURL,
		"ping_report_url":     cfg.PingReportURL,
		"download_report_url": cfg.DownloadReportURL,
		"listen_port":         cfg.ListenPort,
		"machine_name":        cfg.MachineName,
		"network_id":          cfg.NetworkID,
		"cloud_provider":      cfg.CloudProvider,
		"cloud_region":        cfg.CloudRegion,
		"agent_configuration": a.settings.StatusMap(),
	}
	if path != "" {
		m["config_file"] = path
	}
	return m
}

// reloadConfig re-reads the local configuration file in place. Identity and
// listen port changes take effect on the next process restart; the reload
// exists so label fixes show up without one.
func (a *Agent) reloadConfig() error {
	a.mu.Lock()
	path := a.configPath
	a.mu.Unlock()

	if path == "" {
		return errors.New("agent was configured programmatically, nothing to reload")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}

	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()
	a.logger.Info("config reloaded", "path", path)
	return nil
}
