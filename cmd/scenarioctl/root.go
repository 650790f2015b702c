package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/signalsfoundry/scenario-composer/internal/config"
	"github.com/signalsfoundry/scenario-composer/internal/logging"
	"github.com/signalsfoundry/scenario-composer/internal/observability"
	"github.com/signalsfoundry/scenario-composer/internal/remote"
	"github.com/signalsfoundry/scenario-composer/internal/scenario"
	"github.com/signalsfoundry/scenario-composer/internal/scenariofile"
	"github.com/signalsfoundry/scenario-composer/model"
	"github.com/spf13/cobra"
)

// app is the state shared by every subcommand for one invocation.
type app struct {
	stdout    io.Writer
	stderr    io.Writer
	lookupEnv func(string) (string, bool)

	configPath  string
	remoteURL   string
	logLevel    string
	logFormat   string
	metricsAddr string

	cfg             config.Config
	log             logging.Logger
	collector       *observability.Collector
	metricsSrv      *http.Server
	shutdownTracing func(context.Context) error
}

func newApp(stdout, stderr io.Writer, lookupEnv func(string) (string, bool)) *app {
	return &app{stdout: stdout, stderr: stderr, lookupEnv: lookupEnv}
}

// execute runs the command line args and then releases whatever setup
// acquired, whether or not the command succeeded.
func (a *app) execute(ctx context.Context, args []string) error {
	root := a.rootCmd()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	a.teardown(ctx)
	return err
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "scenarioctl",
		Short: "Compose network simulation scenarios and run them on a remote simulator",
		Long: `scenarioctl edits network simulation scenarios stored as YAML, exports them
to the simulator's XML format and submits them to a remote simulation service.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default ~/.scenarioctl.yaml)")
	flags.StringVar(&a.remoteURL, "remote", "", "simulator base URL")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&a.logFormat, "log-format", "", "log format: text or json")
	flags.StringVar(&a.metricsAddr, "metrics-addr", "", "serve Prometheus /metrics on this address while running")

	root.AddCommand(
		a.initCmd(),
		a.validateCmd(),
		a.exportCmd(),
		a.topologyCmd(),
		a.submitCmd(),
		a.stopCmd(),
		a.watchCmd(),
		versionCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	path := a.configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ApplyEnv(a.lookupEnv); err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("remote") {
		cfg.RemoteURL = a.remoteURL
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = a.logFormat
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = a.metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	a.log = logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: a.stderr})
	ctx := logging.ContextWithLogger(cmd.Context(), a.log)
	cmd.SetContext(ctx)

	a.collector, err = observability.NewCollector(prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("failed to initialise metrics collector: %w", err)
	}
	if cfg.MetricsAddr != "" {
		a.metricsSrv, err = serveMetrics(ctx, cfg.MetricsAddr, a.collector, a.log)
		if err != nil {
			return err
		}
	}

	a.shutdownTracing, err = observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
		Output:      a.stderr,
	}, a.log)
	if err != nil {
		return fmt.Errorf("failed to initialise tracing: %w", err)
	}
	return nil
}

func (a *app) teardown(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if a.log != nil {
		ctx = logging.ContextWithLogger(ctx, a.log)
	}
	if a.shutdownTracing != nil {
		observability.ShutdownWithTimeout(ctx, a.shutdownTracing, a.log)
		a.shutdownTracing = nil
	}
	if a.metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_ = a.metricsSrv.Shutdown(shutdownCtx)
		a.metricsSrv = nil
	}
}

func serveMetrics(ctx context.Context, addr string, collector *observability.Collector, log logging.Logger) (*http.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for metrics on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(ctx, "metrics server exited", logging.Err(err))
		}
	}()
	log.Info(ctx, "serving Prometheus metrics", logging.String("addr", lis.Addr().String()))
	return srv, nil
}

// loadStore reads a scenario file into a fresh store, which validates it.
func (a *app) loadStore(ctx context.Context, path string) (*scenario.Store, error) {
	sc, err := scenariofile.Load(path)
	if err != nil {
		return nil, err
	}
	store, err := scenario.NewStore(model.DefaultScenario(), a.log, scenario.WithMetricsRecorder(a.collector))
	if err != nil {
		return nil, err
	}
	if err := store.Reset(ctx, sc); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for _, ref := range sc.DanglingInterfaces() {
		a.log.Warn(ctx, "connection references unknown interface", logging.String("interface", ref))
	}
	return store, nil
}

func (a *app) client() (*remote.Client, error) {
	return remote.NewClient(a.cfg.RemoteURL,
		remote.WithHTTPClient(&http.Client{Timeout: a.cfg.RequestTimeout}),
		remote.WithLogger(a.log),
		remote.WithRequestRecorder(a.collector),
	)
}

func (a *app) watcher() (*remote.Watcher, error) {
	url := a.cfg.EventsURL
	if url == "" {
		var err error
		if url, err = remote.EventsURL(a.cfg.RemoteURL); err != nil {
			return nil, err
		}
	}
	return remote.NewWatcher(url,
		remote.WithWatchLogger(a.log),
		remote.WithEventRecorder(a.collector),
	)
}
