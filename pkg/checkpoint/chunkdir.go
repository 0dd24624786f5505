package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Sumatoshi-tech/chunkflow/pkg/persist"
)

// offsetWidth is the zero-padded width of chunk file offsets. Fixed width
// keeps lexical filename order equal to numeric offset order.
const offsetWidth = 12

// chunkSuffix precedes the codec extension in chunk file names.
const chunkSuffix = ".chunk"

// dirPerm is the permission for checkpoint directories.
const dirPerm = 0o750

// ChunkFile is a committed chunk on disk.
type ChunkFile struct {
	Offset int
	Path   string
}

// ChunkDir stores one file per completed chunk.
type ChunkDir[R any] struct {
	Dir string

	persister *persist.Persister[[]R]
}

// NewChunkDir creates a per-chunk checkpoint directory. A nil codec selects gob.
func NewChunkDir[R any](dir string, codec Codec) *ChunkDir[R] {
	return &ChunkDir[R]{
		Dir:       dir,
		persister: persist.NewPersister[[]R](defaultCodec(codec)),
	}
}

func (d *ChunkDir[R]) suffix() string {
	return chunkSuffix + d.persister.Codec().Extension()
}

// FileName returns the file name for a chunk starting at offset.
func (d *ChunkDir[R]) FileName(offset int) string {
	return fmt.Sprintf("%0*d%s", offsetWidth, offset, d.suffix())
}

// Save writes the results of the chunk starting at offset.
func (d *ChunkDir[R]) Save(offset int, results []R) error {
	err := os.MkdirAll(d.Dir, dirPerm)
	if err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	path := filepath.Join(d.Dir, d.FileName(offset))

	err = d.persister.Save(path, results)
	if err != nil {
		return fmt.Errorf("save chunk %d: %w", offset, err)
	}

	return nil
}

// List returns committed chunk files in offset order. Temp files from
// interrupted writes and foreign files are skipped. A missing directory
// yields an empty list.
func (d *ChunkDir[R]) List() ([]ChunkFile, error) {
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("list checkpoint dir: %w", err)
	}

	suffix := d.suffix()

	// os.ReadDir returns entries sorted by filename.
	var files []ChunkFile

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || persist.IsTempName(name) || !strings.HasSuffix(name, suffix) {
			continue
		}

		digits := strings.TrimSuffix(name, suffix)
		if len(digits) != offsetWidth {
			continue
		}

		offset, parseErr := strconv.Atoi(digits)
		if parseErr != nil || offset < 0 {
			continue
		}

		files = append(files, ChunkFile{Offset: offset, Path: filepath.Join(d.Dir, name)})
	}

	return files, nil
}

// Load reads one chunk file.
func (d *ChunkDir[R]) Load(path string) ([]R, error) {
	results, err := d.persister.Load(path)
	if err != nil {
		return nil, classify(err)
	}

	return results, nil
}

// Prune removes chunk files whose offset is at or after from.
func (d *ChunkDir[R]) Prune(from int) error {
	files, err := d.List()
	if err != nil {
		return err
	}

	for _, f := range files {
		if f.Offset < from {
			continue
		}

		rmErr := removeIfExists(f.Path)
		if rmErr != nil {
			return rmErr
		}
	}

	return nil
}

// Clear removes every chunk file.
func (d *ChunkDir[R]) Clear() error {
	return d.Prune(0)
}

// Resume implements Store. The most recent chunk file is never trusted: it
// may be the product of an interrupted run, so processing restarts at its
// offset (the completion offset of the file before it) and it is removed
// together with anything after it.
func (d *ChunkDir[R]) Resume(int) ([]R, int, error) {
	files, err := d.List()
	if err != nil || len(files) == 0 {
		return nil, 0, err
	}

	offset := 0
	if len(files) > 1 {
		offset = files[len(files)-1].Offset
	}

	err = d.Prune(offset)
	if err != nil {
		return nil, 0, err
	}

	return nil, offset, nil
}

// Commit implements Store by writing the chunk's own results.
func (d *ChunkDir[R]) Commit(start int, chunk, _ []R) error {
	return d.Save(start, chunk)
}

// Results implements Store by concatenating chunk files in filename order.
// Results beyond stop (left by an earlier run with a larger limit) are dropped.
func (d *ChunkDir[R]) Results(stop int, _ []R) ([]R, error) {
	files, err := d.List()
	if err != nil {
		return nil, err
	}

	var results []R

	for _, f := range files {
		if f.Offset >= stop {
			break
		}

		chunk, loadErr := d.Load(f.Path)
		if loadErr != nil {
			return nil, loadErr
		}

		results = append(results, chunk...)
	}

	if len(results) > stop {
		results = results[:stop]
	}

	return results, nil
}
