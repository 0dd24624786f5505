package streaming

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanner_TenItemsChunkThree(t *testing.T) {
	t.Parallel()

	p := Planner{TotalItems: 10, ChunkSize: 3}

	chunks, err := p.Plan()
	require.NoError(t, err)

	assert.Equal(t, []ChunkBounds{
		{Start: 0, End: 3},
		{Start: 3, End: 6},
		{Start: 6, End: 9},
		{Start: 9, End: 10},
	}, chunks)
}

func TestPlanner_PartitionProperty(t *testing.T) {
	t.Parallel()

	for total := 0; total <= 40; total++ {
		for size := 1; size <= 12; size++ {
			p := Planner{TotalItems: total, ChunkSize: size}

			chunks, err := p.Plan()
			require.NoError(t, err)
			require.Len(t, chunks, Count(total, size), "total=%d size=%d", total, size)

			next := 0

			for i, c := range chunks {
				assert.Equal(t, next, c.Start, "gap or overlap at chunk %d", i)

				if i < len(chunks)-1 {
					assert.Equal(t, size, c.Len())
				} else {
					assert.LessOrEqual(t, c.Len(), size)
					assert.Positive(t, c.Len())
				}

				next = c.End
			}

			assert.Equal(t, total, next)
		}
	}
}

func TestPlanner_PlanFromOffset(t *testing.T) {
	t.Parallel()

	p := Planner{TotalItems: 10, ChunkSize: 3}

	chunks, err := p.PlanFrom(6)
	require.NoError(t, err)
	assert.Equal(t, []ChunkBounds{{Start: 6, End: 9}, {Start: 9, End: 10}}, chunks)

	chunks, err = p.PlanFrom(10)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestPlanner_InvalidChunkSize(t *testing.T) {
	t.Parallel()

	p := Planner{TotalItems: 10}

	_, err := p.Plan()
	require.ErrorIs(t, err, ErrInvalidChunkSize)
}

func TestCount(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 4, Count(10, 3))
	assert.Equal(t, 1, Count(1, 2000))
	assert.Equal(t, 0, Count(0, 3))
	assert.Equal(t, 0, Count(5, 0))
}
