// Package commands implements the chunkflow CLI commands.
package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/chunkflow/pkg/config"
	"github.com/Sumatoshi-tech/chunkflow/pkg/observability"
	"github.com/Sumatoshi-tech/chunkflow/pkg/version"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath  string
	logLevel    string
	logJSON     bool
	metricsAddr string
}

// NewRootCommand builds the chunkflow command tree.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "chunkflow",
		Short: "Resumable chunked execution and cached step pipelines",
		Long: `chunkflow runs a work function over large inputs in checkpointed chunks,
and runs YAML-defined step pipelines that cache intermediate results.

Commands:
  run       Run a YAML step pipeline
  download  Download a list of URLs into a content-addressed cache
  status    Inspect executor checkpoints`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file (default: .chunkflow.yaml in . or $HOME)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().BoolVar(&opts.logJSON, "log-json", false, "Emit JSON logs")
	root.PersistentFlags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve /metrics and /healthz on this address")

	root.AddCommand(newRunCommand(opts))
	root.AddCommand(newDownloadCommand(opts))
	root.AddCommand(newStatusCommand())
	root.AddCommand(newVersionCommand())

	return root
}

// session is the per-invocation runtime: config plus observability providers.
type session struct {
	cfg     *config.Config
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *observability.ExecutorMetrics

	stopServer context.CancelFunc
	shutdown   func(context.Context) error
	serveDone  chan struct{}
}

func (g *globalOptions) open(cmd *cobra.Command, mode observability.AppMode) (*session, error) {
	cfg, err := config.LoadConfig(g.configPath)
	if err != nil {
		return nil, err
	}

	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}

	if g.logJSON {
		cfg.Logging.Format = config.FormatJSON
	}

	if g.metricsAddr != "" {
		cfg.Observability.PrometheusAddr = g.metricsAddr
	}

	err = cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	obsCfg, err := cfg.ToObservability(mode, version.Resolve())
	if err != nil {
		return nil, err
	}

	obsCfg.LogOutput = cmd.ErrOrStderr()

	providers, err := observability.Init(obsCfg)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	metrics, err := observability.NewExecutorMetrics(providers.Meter)
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	s := &session{
		cfg:        cfg,
		logger:     providers.Logger.With(observability.AttrRunID, uuid.NewString()),
		tracer:     providers.Tracer,
		metrics:    metrics,
		shutdown:   providers.Shutdown,
		stopServer: func() {},
	}

	if cfg.Observability.PrometheusAddr != "" {
		var serveCtx context.Context

		serveCtx, s.stopServer = context.WithCancel(cmd.Context())
		s.serveDone = make(chan struct{})

		go func() {
			defer close(s.serveDone)

			serveErr := observability.Serve(serveCtx, cfg.Observability.PrometheusAddr, observability.NewMux(providers), s.logger)
			if serveErr != nil {
				s.logger.Error("metrics server failed", "error", serveErr)
			}
		}()
	}

	return s, nil
}

// close stops the metrics server and flushes telemetry.
func (s *session) close(ctx context.Context) error {
	s.stopServer()

	if s.serveDone != nil {
		<-s.serveDone
	}

	return s.shutdown(context.WithoutCancel(ctx))
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
