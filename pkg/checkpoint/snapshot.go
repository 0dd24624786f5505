package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Sumatoshi-tech/chunkflow/pkg/persist"
)

// snapshotSuffix precedes the codec extension in step snapshot file names.
const snapshotSuffix = ".cache"

// Snapshot is the persisted subset of pipeline variables for one step.
type Snapshot map[string]any

// SnapshotStore keeps one snapshot file per pipeline step name.
type SnapshotStore struct {
	Dir string

	persister *persist.Persister[Snapshot]
}

// NewSnapshotStore creates a snapshot store rooted at dir. A nil codec selects gob.
// With gob, concrete types stored in snapshots must be registered via gob.Register
// unless they are builtin scalars or slices of them.
func NewSnapshotStore(dir string, codec Codec) *SnapshotStore {
	return &SnapshotStore{
		Dir:       dir,
		persister: persist.NewPersister[Snapshot](defaultCodec(codec)),
	}
}

// Path returns the snapshot file path for step.
func (s *SnapshotStore) Path(step string) string {
	return filepath.Join(s.Dir, step+snapshotSuffix+s.persister.Codec().Extension())
}

// Exists reports whether a snapshot for step is present.
func (s *SnapshotStore) Exists(step string) bool {
	_, err := os.Stat(s.Path(step))

	return err == nil
}

// Save writes the snapshot for step.
func (s *SnapshotStore) Save(step string, snap Snapshot) error {
	if snap == nil {
		snap = Snapshot{}
	}

	err := s.persister.Save(s.Path(step), snap)
	if err != nil {
		return fmt.Errorf("save snapshot %q: %w", step, err)
	}

	return nil
}

// Load reads the snapshot for step.
func (s *SnapshotStore) Load(step string) (Snapshot, error) {
	snap, err := s.persister.Load(s.Path(step))
	if err != nil {
		return nil, fmt.Errorf("load snapshot %q: %w", step, classify(err))
	}

	if snap == nil {
		snap = Snapshot{}
	}

	return snap, nil
}

// Clear removes every snapshot in the store directory.
func (s *SnapshotStore) Clear() error {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("list snapshot dir: %w", err)
	}

	suffix := snapshotSuffix + s.persister.Codec().Extension()

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), suffix) {
			continue
		}

		rmErr := removeIfExists(filepath.Join(s.Dir, entry.Name()))
		if rmErr != nil {
			return rmErr
		}
	}

	return nil
}
