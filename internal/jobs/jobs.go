// Package jobs provides the built-in step functions available to YAML pipelines.
package jobs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Sumatoshi-tech/chunkflow/internal/download"
	"github.com/Sumatoshi-tech/chunkflow/pkg/executor"
	"github.com/Sumatoshi-tech/chunkflow/pkg/persist"
	"github.com/Sumatoshi-tech/chunkflow/pkg/pipeline"
)

// Built-in function names.
const (
	ReadLines     = "read_lines"
	WriteLines    = "write_lines"
	Download      = "download"
	DropForbidden = "drop_forbidden"
)

// ErrArgument is returned when a step receives an argument of the wrong shape.
var ErrArgument = errors.New("bad argument")

// Options configure the built-in functions.
type Options struct {
	// Executor runs fan-out steps such as download.
	Executor executor.Config

	// Downloader backs the download function. Nil leaves it unregistered.
	Downloader *download.Downloader
}

// NewRegistry returns a registry holding every built-in function.
func NewRegistry(opts Options) (*pipeline.Registry, error) {
	reg := pipeline.NewRegistry()

	err := Register(reg, opts)
	if err != nil {
		return nil, err
	}

	return reg, nil
}

// Register adds the built-in functions to reg.
func Register(reg *pipeline.Registry, opts Options) error {
	funcs := map[string]pipeline.Invocable{
		ReadLines:     pipeline.InvocableFunc(readLines),
		WriteLines:    pipeline.InvocableFunc(writeLines),
		DropForbidden: pipeline.InvocableFunc(dropForbidden),
	}

	// download takes its checkpoint from the checkpoint or checkpoint_dir keyword.
	if opts.Downloader != nil {
		funcs[Download] = executor.Step[string, string](
			executor.WorkFunc[string, string](opts.Downloader.Do), opts.Executor)
	}

	for name, fn := range funcs {
		err := reg.Register(name, fn)
		if err != nil {
			return err
		}
	}

	return nil
}

// readLines returns the lines of the file named by the first argument or the
// path keyword.
func readLines(_ context.Context, args pipeline.Args) (any, error) {
	path, err := stringArg(args, 0, "path")
	if err != nil {
		return nil, err
	}

	return ReadLinesFile(path)
}

// ReadLinesFile returns the non-blank lines of path with surrounding
// whitespace removed.
func ReadLinesFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read lines: %w", err)
	}
	defer f.Close()

	var lines []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}

	err = scanner.Err()
	if err != nil {
		return nil, fmt.Errorf("read lines %s: %w", path, err)
	}

	return lines, nil
}

// writeLines writes the second argument (or lines keyword) to the path given
// as the first argument, one value per line, and returns the path.
func writeLines(_ context.Context, args pipeline.Args) (any, error) {
	path, err := stringArg(args, 0, "path")
	if err != nil {
		return nil, err
	}

	raw, ok := args.At(1)
	if !ok {
		raw, ok = args.Kwarg("lines")
	}

	if !ok {
		return nil, fmt.Errorf("%w: missing lines", ErrArgument)
	}

	lines, err := Strings(raw)
	if err != nil {
		return nil, err
	}

	err = persist.WriteAtomic(filepath.Clean(path), func(w io.Writer) error {
		for _, line := range lines {
			_, writeErr := fmt.Fprintln(w, line)
			if writeErr != nil {
				return fmt.Errorf("write lines: %w", writeErr)
			}
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("write lines %s: %w", path, err)
	}

	return path, nil
}

// dropForbidden removes empty and download.Forbidden entries.
func dropForbidden(_ context.Context, args pipeline.Args) (any, error) {
	raw, ok := args.At(0)
	if !ok {
		return nil, fmt.Errorf("%w: missing paths", ErrArgument)
	}

	paths, err := Strings(raw)
	if err != nil {
		return nil, err
	}

	kept := make([]string, 0, len(paths))

	for _, p := range paths {
		if p != "" && p != download.Forbidden {
			kept = append(kept, p)
		}
	}

	return kept, nil
}

func stringArg(args pipeline.Args, i int, keyword string) (string, error) {
	raw, ok := args.At(i)
	if !ok {
		raw, ok = args.Kwarg(keyword)
	}

	s, isString := raw.(string)
	if !ok || !isString || s == "" {
		return "", fmt.Errorf("%w: %s must be a non-empty string", ErrArgument, keyword)
	}

	return s, nil
}

// Strings converts a []string or a []any of strings.
func Strings(raw any) ([]string, error) {
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, len(v))

		for i, elem := range v {
			s, ok := elem.(string)
			if !ok {
				return nil, fmt.Errorf("%w: element %d is %T, want string", ErrArgument, i, elem)
			}

			out[i] = s
		}

		return out, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %T is not a string list", ErrArgument, raw)
	}
}
