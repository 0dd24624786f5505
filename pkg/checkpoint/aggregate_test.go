package checkpoint_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/chunkflow/pkg/checkpoint"
	"github.com/Sumatoshi-tech/chunkflow/pkg/persist"
)

func TestAggregate_LoadMissing(t *testing.T) {
	t.Parallel()

	agg := checkpoint.NewAggregate[int](filepath.Join(t.TempDir(), "results.gob"), nil)

	results, found, err := agg.Load()
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, results)
	assert.False(t, agg.Exists())
}

func TestAggregate_SaveRotatesBackup(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "results.gob")
	agg := checkpoint.NewAggregate[int](path, nil)

	require.NoError(t, agg.Save([]int{1, 4, 9}))

	_, err := os.Stat(agg.BackupPath())
	require.True(t, os.IsNotExist(err), "first save must not create a backup")

	require.NoError(t, agg.Save([]int{1, 4, 9, 16, 25, 36}))

	results, found, err := agg.Load()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []int{1, 4, 9, 16, 25, 36}, results)

	backup := checkpoint.NewAggregate[int](agg.BackupPath(), nil)
	prev, found, err := backup.Load()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []int{1, 4, 9}, prev)
}

func TestAggregate_FallsBackToBackupAfterRotation(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "results.gob")
	agg := checkpoint.NewAggregate[int](path, nil)

	require.NoError(t, agg.Save([]int{1, 4}))

	// Stopped after the rotation, before the new write.
	require.NoError(t, os.Rename(path, agg.BackupPath()))

	results, found, err := agg.Load()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []int{1, 4}, results)
}

func TestAggregate_UnreadableIsSurfaced(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "results.gob")
	require.NoError(t, os.WriteFile(path, []byte("not gob"), 0o600))

	agg := checkpoint.NewAggregate[int](path, nil)

	_, _, err := agg.Load()
	require.ErrorIs(t, err, checkpoint.ErrUnreadable)

	_, _, err = agg.Resume(10)
	require.ErrorIs(t, err, checkpoint.ErrUnreadable)
}

func TestAggregate_ResumeTruncatesToStop(t *testing.T) {
	t.Parallel()

	agg := checkpoint.NewAggregate[int](filepath.Join(t.TempDir(), "r.json"), persist.NewJSONCodec())
	require.NoError(t, agg.Save([]int{1, 2, 3, 4, 5}))

	prefix, offset, err := agg.Resume(3)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, prefix)
	assert.Equal(t, 3, offset)
}

func TestAggregate_Clear(t *testing.T) {
	t.Parallel()

	agg := checkpoint.NewAggregate[string](filepath.Join(t.TempDir(), "r.gob"), nil)
	require.NoError(t, agg.Save([]string{"a"}))
	require.NoError(t, agg.Save([]string{"a", "b"}))
	require.True(t, agg.Exists())

	require.NoError(t, agg.Clear())
	assert.False(t, agg.Exists())

	// Clearing twice is fine.
	require.NoError(t, agg.Clear())
}

func TestOpen_SelectsStrategy(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, isDir := checkpoint.Open[int](filepath.Join(dir, "a.gob"), filepath.Join(dir, "chunks"), nil).(*checkpoint.ChunkDir[int])
	assert.True(t, isDir)

	_, isAgg := checkpoint.Open[int](filepath.Join(dir, "a.gob"), "", nil).(*checkpoint.Aggregate[int])
	assert.True(t, isAgg)

	_, isNop := checkpoint.Open[int]("", "", nil).(checkpoint.Nop[int])
	assert.True(t, isNop)
}
