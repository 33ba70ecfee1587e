package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/sanlockd/sanlockd/internal/logger"
	"github.com/sanlockd/sanlockd/pkg/config"
	"github.com/sanlockd/sanlockd/pkg/deltalease"
	"github.com/sanlockd/sanlockd/pkg/diskio"
	"github.com/sanlockd/sanlockd/pkg/lockspace"
	"github.com/sanlockd/sanlockd/pkg/metrics"
	"github.com/sanlockd/sanlockd/pkg/supervisor"
	"github.com/sanlockd/sanlockd/pkg/token"
	"github.com/sanlockd/sanlockd/pkg/watchdog"
)

const shutdownTimeout = 10 * time.Second

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the sanlockd lease runtime in the foreground",
	Long: `Start joins every lockspace named in the configuration, then runs
the supervisor loop until interrupted. sanlockd has no client-protocol
framing of its own; start exists
to exercise the lease runtime standalone and is the process a future
client transport would run inside.

Examples:
  sanlockd start
  sanlockd start --config /etc/sanlockd/config.yaml
  SANLOCKD_LOGGING_LEVEL=DEBUG sanlockd start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	logger.Info("sanlockd starting",
		"host_id", cfg.HostID,
		"host_name", cfg.HostName,
		"config_source", getConfigSource(GetConfigFile()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	var m *metrics.Metrics
	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		m = metrics.New(registry)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", logger.Err(err))
			}
		}()
		logger.Info("metrics endpoint enabled", "addr", cfg.Metrics.ListenAddr)
	} else {
		logger.Info("metrics disabled")
	}

	var wd watchdog.Client = watchdog.NullClient{}
	if cfg.Watchdog.Enabled {
		sc, err := watchdog.NewSocketClient(cfg.Watchdog.SocketPath)
		if err != nil {
			return fmt.Errorf("failed to connect to watchdog daemon: %w", err)
		}
		wd = sc
		logger.Info("watchdog fencing enabled", "socket", cfg.Watchdog.SocketPath)
	} else {
		logger.Info("watchdog fencing disabled")
	}

	lockspaces := lockspace.NewManager()
	tokens := token.NewManager(cfg.TokenManagerConfig())
	tokens.Metrics = m

	sup := supervisor.New(lockspaces, tokens)
	sup.Metrics = m

	backend := diskio.NewFileBackend()
	for _, lsCfg := range cfg.Lockspaces {
		disk := diskio.Disk{Path: lsCfg.Disk.Path, Offset: lsCfg.Disk.Offset}
		delta := deltalease.NewEngine(lsCfg.Name, cfg.HostID, cfg.HostName, backend, disk, cfg.SectorSize, cfg.DeltaConfig(), nil)

		ls := lockspace.New(lsCfg.Name, cfg.HostID, delta, cfg.LockspaceManagerConfig(), wd)
		ls.Metrics = m
		ls.OnFailing = sup.OnLockspaceFailing

		if err := lockspaces.Add(ctx, ls); err != nil {
			return fmt.Errorf("failed to join lockspace %q: %w", lsCfg.Name, err)
		}
		logger.Info("lockspace joined", logger.Lockspace(lsCfg.Name), "disk", lsCfg.Disk.Path)
	}

	supDone := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(supDone)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("sanlockd running, press Ctrl+C to stop")

	select {
	case <-sigCh:
		signal.Stop(sigCh)
		logger.Info("shutdown signal received, draining lockspaces")
	case <-supDone:
		logger.Warn("supervisor loop exited unexpectedly")
	}

	cancel()
	sup.Stop(shutdownTimeout)

	for _, name := range lockspaces.Names() {
		lockspaces.Remove(name, shutdownTimeout)
	}

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown error", logger.Err(err))
		}
	}

	logger.Info("sanlockd stopped")
	return nil
}
