package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/veles-go/master/pkg/config"
	"github.com/veles-go/master/pkg/dnscache"
	"github.com/veles-go/master/pkg/log"
	"github.com/veles-go/master/pkg/metrics"
	"github.com/veles-go/master/pkg/registry"
	"github.com/veles-go/master/pkg/router"
	"github.com/veles-go/master/pkg/tracing"
	"github.com/veles-go/master/pkg/workflow"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the master coordinator",
	Long: `start wires the control listener, the data-channel router, the
dispatcher, and the master registry together and blocks until the
workflow finishes or an OS signal arrives.`,
	RunE: runStart,
}

func init() {
	flags := startCmd.Flags()
	flags.String("control-addr", ":4050", "Control-channel listen address")
	flags.String("metrics-addr", ":9090", "Prometheus metrics listen address")
	flags.String("ipc-dir", "/tmp", "Directory for the ipc transport's unix socket")
	flags.String("mid", "", "This process's machine id (defaults to hostname)")
	flags.Int("pid", os.Getpid(), "This process's process id")
	flags.String("workflow-checksum", "", "Workflow checksum workers must present at handshake")
	flags.Duration("job-timeout", 2*time.Minute, "Drop-timer floor for in-flight jobs; <=0 disables it")
	flags.Bool("respawn", false, "Respawn disconnected workers over SSH while the workflow runs")
	flags.String("dns-suffix", "", "Local domain suffix stripped from resolved worker hostnames")
	flags.Int("thread-pool-size", 4, "Concurrent workflow callback budget")
	flags.String("config", "", "YAML config file (overridden by env and flags, overrides defaults)")
	flags.Bool("tracing", false, "Export OpenTelemetry spans to stdout")
}

func runStart(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	configFile, _ := flags.GetString("config")

	loader, err := config.NewLoader(configFile, flags)
	if err != nil {
		return err
	}
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	mid, _ := flags.GetString("mid")
	if mid == "" {
		mid, _ = os.Hostname()
	}
	pid, _ := flags.GetInt("pid")
	tracingEnabled, _ := flags.GetBool("tracing")

	logger := log.WithComponent("masterd")

	tracerProvider, err := tracing.NewProvider(tracing.Config{Enabled: tracingEnabled, ServiceName: "masterd"})
	if err != nil {
		return fmt.Errorf("start tracing: %w", err)
	}
	defer func() {
		if err := tracerProvider.Shutdown(cmd.Context()); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown failed")
		}
	}()

	engine := workflow.NewFake(cfg.WorkflowCksum)
	engine.Pool = workflow.NewThreadPool(cfg.ThreadPoolSize)
	// NewFake is the bundled reference workflow engine: the real engine is
	// an external collaborator (§1 Out of scope) swapped in by whoever
	// embeds pkg/registry/pkg/dispatcher directly instead of running this
	// binary as-is. Its Launcher() is similarly a stand-in for
	// pkg/launcher.Launcher, which a real engine wires in for respawn.

	endpoints, err := router.BindAll(cfg.IPCDir, mid, pid)
	if err != nil {
		return fmt.Errorf("bind data-channel endpoints: %w", err)
	}

	dns := dnscache.NewResolver(cfg.DNSSuffix, 0)

	reg := registry.New(engine, endpoints, router.NoCompression(), dns, registry.Config{
		JobTimeoutFloor: cfg.JobTimeout,
		MustRespawn:     cfg.Respawn,
		DNSSuffix:       cfg.DNSSuffix,
	})

	loader.WatchReload(func(next config.Config) {
		logger.Info().Dur("job_timeout", next.JobTimeout).Bool("respawn", next.Respawn).Msg("config reloaded")
	})

	controlLn, err := net.Listen("tcp", cfg.ControlAddr)
	if err != nil {
		return fmt.Errorf("listen control address %s: %w", cfg.ControlAddr, err)
	}

	collector := metrics.NewCollector(reg, 15*time.Second)
	collector.Start()

	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler()}
	metricsErrCh := make(chan error, 1)
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			metricsErrCh <- err
		}
	}()

	controlErrCh := make(chan error, 1)
	go func() {
		if err := reg.ControlServer().Serve(controlLn); err != nil {
			controlErrCh <- err
		}
	}()

	conns, acceptErrs := endpoints.Accept()
	go reg.Router().Serve(conns, acceptErrs, router.TransportOf)

	logger.Info().
		Str("control_addr", cfg.ControlAddr).
		Str("metrics_addr", cfg.MetricsAddr).
		Str("inproc", endpoints.Inproc).
		Str("ipc", endpoints.IPC).
		Str("tcp", endpoints.TCP).
		Msg("masterd started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down on signal")
	case <-reg.Done():
		logger.Info().Msg("workflow finished, shutting down")
	case err := <-controlErrCh:
		logger.Error().Err(err).Msg("control listener failed")
	case err := <-metricsErrCh:
		logger.Error().Err(err).Msg("metrics server failed")
	}

	collector.Stop()
	_ = metricsServer.Close()
	_ = controlLn.Close()
	if err := reg.Shutdown(); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info().Msg("shutdown complete")
	return nil
}
