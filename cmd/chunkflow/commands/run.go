package commands

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/chunkflow/internal/download"
	"github.com/Sumatoshi-tech/chunkflow/internal/jobs"
	"github.com/Sumatoshi-tech/chunkflow/pkg/observability"
	"github.com/Sumatoshi-tech/chunkflow/pkg/persist"
	"github.com/Sumatoshi-tech/chunkflow/pkg/pipeline"
)

type runOptions struct {
	breakpoint int
	clearCache bool
	noCache    bool
}

func newRunCommand(global *globalOptions) *cobra.Command {
	ro := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run <pipeline.yaml>",
		Short: "Run a YAML step pipeline",
		Long: `Run the steps of a pipeline definition in order, resuming after the last
cached step whose snapshot exists. Outputs are printed as a JSON object.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			sess, err := global.open(cmd, observability.ModePipeline)
			if err != nil {
				return err
			}

			defer func() {
				err = errors.Join(err, sess.close(cmd.Context()))
			}()

			return ro.run(cmd, sess, args[0])
		},
	}

	cmd.Flags().IntVar(&ro.breakpoint, "breakpoint", -1, "Stop before this step index (-1 = run all steps)")
	cmd.Flags().BoolVar(&ro.clearCache, "clear-cache", false, "Remove step snapshots before running")
	cmd.Flags().BoolVar(&ro.noCache, "no-cache", false, "Neither read nor write step snapshots")

	return cmd
}

func (ro *runOptions) run(cmd *cobra.Command, sess *session, path string) error {
	def, err := pipeline.LoadDefinition(path)
	if err != nil {
		return err
	}

	execCfg, err := sess.cfg.Executor.ToExecutor()
	if err != nil {
		return err
	}

	execCfg.Logger = sess.logger
	execCfg.Tracer = sess.tracer
	execCfg.Metrics = sess.metrics
	// Fan-out steps name their own checkpoint through step keywords.
	execCfg.CheckpointPath = ""
	execCfg.CheckpointDir = ""

	registry, err := jobs.NewRegistry(jobs.Options{
		Executor:   execCfg,
		Downloader: download.New(sess.cfg.Download.CacheDir, sess.cfg.Download.Timeout, sess.logger),
	})
	if err != nil {
		return err
	}

	steps, err := def.Build(registry)
	if err != nil {
		return err
	}

	codec, err := persist.ParseCodec(sess.cfg.Executor.Codec)
	if err != nil {
		return err
	}

	runnerCfg := def.Apply(pipeline.RunnerConfig{
		CacheDir: sess.cfg.Pipeline.CacheDir,
		UseCache: sess.cfg.Pipeline.UseCache,
		Codec:    codec,
		Logger:   sess.logger,
		Tracer:   sess.tracer,
		Metrics:  sess.metrics,
	})

	if ro.noCache {
		runnerCfg.UseCache = false
	}

	runner, err := pipeline.NewRunner(steps, runnerCfg)
	if err != nil {
		return err
	}

	if ro.clearCache {
		err = runner.Clear()
		if err != nil {
			return fmt.Errorf("clear cache: %w", err)
		}
	}

	outputs, err := runner.RunUntil(cmd.Context(), ro.breakpoint)
	if err != nil {
		return err
	}

	result := make(map[string]any, len(runnerCfg.Outputs))
	for i, name := range runnerCfg.Outputs {
		result[name] = outputs.Get(i)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	err = enc.Encode(result)
	if err != nil {
		return fmt.Errorf("write outputs: %w", err)
	}

	return nil
}
