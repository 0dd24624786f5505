package checkpoint

import (
	"fmt"
	"os"

	"github.com/Sumatoshi-tech/chunkflow/pkg/persist"
)

// BackupSuffix is appended to the aggregate path when the previous snapshot is rotated.
const BackupSuffix = ".bak"

// Aggregate stores the full ordered result list in a single file.
type Aggregate[R any] struct {
	Path string

	persister *persist.Persister[[]R]
}

// NewAggregate creates an aggregate checkpoint at path. A nil codec selects gob.
func NewAggregate[R any](path string, codec Codec) *Aggregate[R] {
	return &Aggregate[R]{
		Path:      path,
		persister: persist.NewPersister[[]R](defaultCodec(codec)),
	}
}

// BackupPath returns the path the previous snapshot is rotated to.
func (a *Aggregate[R]) BackupPath() string {
	return a.Path + BackupSuffix
}

// Exists reports whether a snapshot or its backup is present.
func (a *Aggregate[R]) Exists() bool {
	_, err := os.Stat(a.Path)
	if err == nil {
		return true
	}

	_, err = os.Stat(a.BackupPath())

	return err == nil
}

// Save rotates the current snapshot to the backup path, then writes results.
// The new file is written atomically, so at every instant either the
// snapshot or its backup holds a complete result list.
func (a *Aggregate[R]) Save(results []R) error {
	_, statErr := os.Stat(a.Path)
	if statErr == nil {
		err := os.Rename(a.Path, a.BackupPath())
		if err != nil {
			return fmt.Errorf("rotate checkpoint: %w", err)
		}
	}

	err := a.persister.Save(a.Path, results)
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", a.Path, err)
	}

	return nil
}

// Load returns the stored results. found is false when neither the snapshot
// nor its backup exists. The backup is only consulted when the snapshot is
// missing, which happens if a run stopped between rotation and write.
func (a *Aggregate[R]) Load() (results []R, found bool, err error) {
	for _, path := range []string{a.Path, a.BackupPath()} {
		results, err = a.persister.Load(path)
		if err == nil {
			return results, true, nil
		}

		if !os.IsNotExist(err) {
			return nil, false, classify(err)
		}
	}

	return nil, false, nil
}

// Clear removes the snapshot and its backup.
func (a *Aggregate[R]) Clear() error {
	err := removeIfExists(a.Path)
	if err != nil {
		return err
	}

	return removeIfExists(a.BackupPath())
}

// Resume implements Store: the stored list becomes the result prefix and
// processing continues at its length.
func (a *Aggregate[R]) Resume(stop int) ([]R, int, error) {
	results, found, err := a.Load()
	if err != nil || !found {
		return nil, 0, err
	}

	if len(results) > stop {
		results = results[:stop]
	}

	return results, len(results), nil
}

// Commit implements Store by rewriting the whole accumulated list.
func (a *Aggregate[R]) Commit(_ int, _, all []R) error {
	return a.Save(all)
}

// Results implements Store; the in-memory list is authoritative.
func (a *Aggregate[R]) Results(_ int, inMemory []R) ([]R, error) {
	return inMemory, nil
}
