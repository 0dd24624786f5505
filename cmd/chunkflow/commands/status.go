package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/chunkflow/pkg/checkpoint"
	"github.com/Sumatoshi-tech/chunkflow/pkg/persist"
)

// ErrNoCheckpoint is returned when status is given neither checkpoint flag.
var ErrNoCheckpoint = errors.New("one of --checkpoint-dir or --checkpoint is required")

const unknownCount = "?"

type statusOptions struct {
	checkpointDir string
	checkpoint    string
	codec         string
	noColor       bool
}

func newStatusCommand() *cobra.Command {
	so := &statusOptions{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Inspect executor checkpoints",
		Long: `Tabulate the chunk files of a checkpoint directory, or describe an aggregate
checkpoint file and its backup. The newest chunk file is marked because a
resumed run discards it and executes that chunk again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if so.noColor {
				color.NoColor = true //nolint:reassign // intentional override of library global
			}

			codec, err := persist.ParseCodec(so.codec)
			if err != nil {
				return err
			}

			switch {
			case so.checkpointDir != "":
				return renderChunkDir(cmd.OutOrStdout(), so.checkpointDir, codec)
			case so.checkpoint != "":
				return renderAggregate(cmd.OutOrStdout(), so.checkpoint, codec)
			default:
				return ErrNoCheckpoint
			}
		},
	}

	cmd.Flags().StringVar(&so.checkpointDir, "checkpoint-dir", "", "Per-chunk checkpoint directory")
	cmd.Flags().StringVar(&so.checkpoint, "checkpoint", "", "Aggregate checkpoint file")
	cmd.Flags().StringVar(&so.codec, "codec", persist.CodecGob, "Checkpoint codec: gob, json, gob+lz4, json+lz4")
	cmd.Flags().BoolVar(&so.noColor, "no-color", false, "Disable colored output")

	return cmd
}

func newTable(w io.Writer) table.Writer {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	tbl.Style().Options.DrawBorder = false

	return tbl
}

// renderChunkDir lists chunk files. Item counts assume string results, as
// written by the download command; other result types show "?".
func renderChunkDir(w io.Writer, dir string, codec persist.Codec) error {
	store := checkpoint.NewChunkDir[string](dir, codec)

	files, err := store.List()
	if err != nil {
		return err
	}

	if len(files) == 0 {
		fmt.Fprintf(w, "no chunk files in %s\n", dir)

		return nil
	}

	tbl := newTable(w)
	tbl.AppendHeader(table.Row{"#", "Offset", "Items", "Size", "File", "State"})

	var (
		totalBytes uint64
		totalItems int
	)

	distrusted := color.New(color.FgYellow).SprintFunc()

	for i, f := range files {
		size := fileSize(f.Path)
		totalBytes += size

		items := unknownCount

		results, loadErr := store.Load(f.Path)
		if loadErr == nil {
			items = strconv.Itoa(len(results))
			totalItems += len(results)
		}

		state := "committed"
		if i == len(files)-1 {
			state = distrusted("rerun on resume")
		}

		tbl.AppendRow(table.Row{i, f.Offset, items, humanize.IBytes(size), f.Path, state})
	}

	tbl.AppendFooter(table.Row{
		"", "", totalItems, humanize.IBytes(totalBytes),
		fmt.Sprintf("%d chunks", len(files)),
		fmt.Sprintf("resume at %d", files[len(files)-1].Offset),
	})
	tbl.Render()

	return nil
}

func renderAggregate(w io.Writer, path string, codec persist.Codec) error {
	agg := checkpoint.NewAggregate[string](path, codec)

	tbl := newTable(w)
	tbl.AppendHeader(table.Row{"File", "Exists", "Items", "Size"})

	for _, p := range []string{agg.Path, agg.BackupPath()} {
		_, statErr := os.Stat(p)
		if statErr != nil {
			tbl.AppendRow(table.Row{p, color.RedString("no"), "", ""})

			continue
		}

		items := unknownCount

		results, found, loadErr := checkpoint.NewAggregate[string](p, codec).Load()
		if loadErr == nil && found {
			items = strconv.Itoa(len(results))
		}

		tbl.AppendRow(table.Row{p, color.GreenString("yes"), items, humanize.IBytes(fileSize(p))})
	}

	tbl.Render()

	return nil
}

func fileSize(path string) uint64 {
	info, err := os.Stat(path)
	if err != nil || info.Size() < 0 {
		return 0
	}

	return uint64(info.Size())
}
