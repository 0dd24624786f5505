// Package streaming partitions an ordered workload into bounded chunks.
package streaming

import (
	"errors"
	"fmt"
)

// DefaultChunkSize is the number of items per chunk when none is configured.
const DefaultChunkSize = 2000

// ErrInvalidChunkSize is returned for chunk sizes below one.
var ErrInvalidChunkSize = errors.New("chunk size must be positive")

// ChunkBounds represents a chunk of items to process.
type ChunkBounds struct {
	Start int // Inclusive index.
	End   int // Exclusive index.
}

// Len returns the number of items in the chunk.
func (c ChunkBounds) Len() int {
	return c.End - c.Start
}

// Planner calculates chunk boundaries for chunked execution.
type Planner struct {
	TotalItems int
	ChunkSize  int
}

// Plan returns chunk boundaries as [start, end) index pairs covering [0, TotalItems).
func (p *Planner) Plan() ([]ChunkBounds, error) {
	return p.PlanFrom(0)
}

// PlanFrom returns chunk boundaries covering [from, TotalItems). Every chunk
// has ChunkSize items except possibly the last.
func (p *Planner) PlanFrom(from int) ([]ChunkBounds, error) {
	if p.ChunkSize < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChunkSize, p.ChunkSize)
	}

	from = max(from, 0)
	if from >= p.TotalItems {
		return nil, nil
	}

	chunks := make([]ChunkBounds, 0, Count(p.TotalItems-from, p.ChunkSize))

	for start := from; start < p.TotalItems; start += p.ChunkSize {
		end := min(start+p.ChunkSize, p.TotalItems)
		chunks = append(chunks, ChunkBounds{Start: start, End: end})
	}

	return chunks, nil
}

// Count returns the number of chunks needed for total items.
func Count(total, chunkSize int) int {
	if total <= 0 || chunkSize < 1 {
		return 0
	}

	return (total + chunkSize - 1) / chunkSize
}
