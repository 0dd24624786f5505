// Package checkpoint persists chunk and step progress so that interrupted
// batch runs can resume without redoing committed work.
//
// Two result strategies are provided: [Aggregate] rewrites a single snapshot
// of every result so far (rotating the previous file to a backup first), and
// [ChunkDir] writes one file per completed chunk, named so that lexical order
// equals chronological order. Step-level snapshots for pipelines live in
// [SnapshotStore].
package checkpoint

import (
	"errors"
	"fmt"
	"os"
)

// ErrUnreadable is returned when a stored checkpoint exists but cannot be decoded.
var ErrUnreadable = errors.New("checkpoint unreadable")

// Store is the executor-facing view of a result checkpoint.
type Store[R any] interface {
	// Resume returns already committed results (possibly nil) and the input
	// offset processing continues from. stop bounds the usable prefix.
	Resume(stop int) (prefix []R, offset int, err error)

	// Commit persists a finished chunk starting at start. all holds every
	// result accumulated in memory, including chunk.
	Commit(start int, chunk, all []R) error

	// Results returns the final result list for inputs [0, stop).
	Results(stop int, inMemory []R) ([]R, error)

	// Clear removes every stored checkpoint.
	Clear() error
}

// Open selects the checkpoint strategy: a non-empty dir wins over path, and
// with neither set progress is kept in memory only.
func Open[R any](path, dir string, codec Codec) Store[R] {
	switch {
	case dir != "":
		return NewChunkDir[R](dir, codec)
	case path != "":
		return NewAggregate[R](path, codec)
	default:
		return Nop[R]{}
	}
}

// Nop keeps nothing on disk.
type Nop[R any] struct{}

// Resume implements Store.
func (Nop[R]) Resume(int) ([]R, int, error) { return nil, 0, nil }

// Commit implements Store.
func (Nop[R]) Commit(int, []R, []R) error { return nil }

// Results implements Store.
func (Nop[R]) Results(_ int, inMemory []R) ([]R, error) { return inMemory, nil }

// Clear implements Store.
func (Nop[R]) Clear() error { return nil }

func removeIfExists(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", path, err)
	}

	return nil
}
