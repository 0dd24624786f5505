package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/chunkflow/internal/download"
	"github.com/Sumatoshi-tech/chunkflow/internal/jobs"
	"github.com/Sumatoshi-tech/chunkflow/pkg/executor"
	"github.com/Sumatoshi-tech/chunkflow/pkg/observability"
)

type downloadOptions struct {
	chunk         int
	workers       int
	pool          string
	limit         int
	wait          time.Duration
	checkpoint    string
	checkpointDir string
	resume        bool
	cacheDir      string
}

func newDownloadCommand(global *globalOptions) *cobra.Command {
	do := &downloadOptions{}

	cmd := &cobra.Command{
		Use:   "download <urls.txt>",
		Short: "Download a list of URLs into a content-addressed cache",
		Long: `Download every URL listed in the input file (one per line) through the
chunked executor and print the cached file path for each, in input order.
Refused URLs print as #forbidden.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			sess, err := global.open(cmd, observability.ModeDownload)
			if err != nil {
				return err
			}

			defer func() {
				err = errors.Join(err, sess.close(cmd.Context()))
			}()

			return do.run(cmd, sess, args[0])
		},
	}

	cmd.Flags().IntVar(&do.chunk, "chunk", 0, "Items per chunk (default from config)")
	cmd.Flags().IntVar(&do.workers, "workers", 0, "Parallel workers per chunk (0 = pool default)")
	cmd.Flags().StringVar(&do.pool, "pool", "", "Worker pool kind: io, cpu, debug")
	cmd.Flags().IntVar(&do.limit, "limit", 0, "Process only the first N URLs (0 = all)")
	cmd.Flags().DurationVar(&do.wait, "wait", 0, "Minimum time per chunk, e.g. 2s")
	cmd.Flags().StringVar(&do.checkpoint, "checkpoint", "", "Aggregate checkpoint file")
	cmd.Flags().StringVar(&do.checkpointDir, "checkpoint-dir", "", "Per-chunk checkpoint directory")
	cmd.Flags().BoolVar(&do.resume, "resume", true, "Resume from existing checkpoints")
	cmd.Flags().StringVar(&do.cacheDir, "cache-dir", "", "Download cache directory (default from config)")

	return cmd
}

func (do *downloadOptions) run(cmd *cobra.Command, sess *session, path string) error {
	urls, err := jobs.ReadLinesFile(path)
	if err != nil {
		return err
	}

	execCfg, err := do.executorConfig(cmd, sess)
	if err != nil {
		return err
	}

	cacheDir := sess.cfg.Download.CacheDir
	if do.cacheDir != "" {
		cacheDir = do.cacheDir
	}

	dl := download.New(cacheDir, sess.cfg.Download.Timeout, sess.logger)

	paths, err := executor.Run(cmd.Context(), urls, executor.WorkFunc[string, string](dl.Do), execCfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, p := range paths {
		fmt.Fprintln(out, p)
	}

	return nil
}

// executorConfig overlays explicitly set flags on the configured executor settings.
func (do *downloadOptions) executorConfig(cmd *cobra.Command, sess *session) (executor.Config, error) {
	ec := sess.cfg.Executor
	flags := cmd.Flags()

	if flags.Changed("chunk") {
		ec.ChunkSize = do.chunk
	}

	if flags.Changed("workers") {
		ec.Workers = do.workers
	}

	if flags.Changed("pool") {
		ec.Pool = do.pool
	}

	if flags.Changed("limit") {
		ec.Limit = do.limit
	}

	if flags.Changed("wait") {
		ec.MinChunkDuration = do.wait
	}

	if flags.Changed("checkpoint") {
		ec.CheckpointPath = do.checkpoint
	}

	if flags.Changed("checkpoint-dir") {
		ec.CheckpointDir = do.checkpointDir
	}

	if flags.Changed("resume") {
		ec.Resume = do.resume
	}

	err := ec.Validate()
	if err != nil {
		return executor.Config{}, fmt.Errorf("invalid executor settings: %w", err)
	}

	cfg, err := ec.ToExecutor()
	if err != nil {
		return executor.Config{}, err
	}

	cfg.Logger = sess.logger
	cfg.Tracer = sess.tracer
	cfg.Metrics = sess.metrics

	return cfg, nil
}
