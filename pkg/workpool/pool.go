// Package workpool provides the bounded worker pool used to execute one chunk.
//
// A pool lives for exactly one chunk: it is opened before the chunk's items are
// submitted and closed once they have all finished.
package workpool

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Kind selects how a pool schedules its tasks.
type Kind string

// Pool kinds.
const (
	// KindIO is for tasks that mostly wait on the network or disk.
	KindIO Kind = "io"
	// KindCPU is for compute-bound tasks.
	KindCPU Kind = "cpu"
	// KindDebug runs every task inline in the caller goroutine, in order.
	KindDebug Kind = "debug"
)

// ioWorkersPerCPU is the I/O pool size multiplier over NumCPU.
const ioWorkersPerCPU = 5

// ErrInvalidKind is returned by ParseKind for an unknown pool kind.
var ErrInvalidKind = errors.New("invalid pool kind")

// ParseKind resolves a pool kind by name. An empty name selects KindIO.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case "", KindIO:
		return KindIO, nil
	case KindCPU:
		return KindCPU, nil
	case KindDebug:
		return KindDebug, nil
	default:
		return "", fmt.Errorf("%w: %q (want io, cpu or debug)", ErrInvalidKind, s)
	}
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	return string(k)
}

// DefaultWorkers returns the worker count used when none is configured.
func DefaultWorkers(kind Kind) int {
	switch kind {
	case KindCPU:
		return runtime.NumCPU()
	case KindDebug:
		return 1
	default:
		return ioWorkersPerCPU * runtime.NumCPU()
	}
}

// Pool runs tasks with bounded parallelism.
type Pool struct {
	kind    Kind
	workers int

	group *errgroup.Group

	mu       sync.Mutex
	firstErr error
	closed   bool
}

// Open acquires a pool of the given kind. workers <= 0 selects DefaultWorkers.
func Open(kind Kind, workers int) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers(kind)
	}

	p := &Pool{kind: kind, workers: workers}

	if kind != KindDebug {
		p.group = &errgroup.Group{}
		p.group.SetLimit(workers)
	}

	return p
}

// Kind returns the pool kind.
func (p *Pool) Kind() Kind {
	return p.kind
}

// Workers returns the parallelism bound.
func (p *Pool) Workers() int {
	return p.workers
}

// Go schedules task, blocking while the pool is saturated. A debug pool runs
// task immediately and skips it once an earlier task has failed. Tasks already
// running are never interrupted by a sibling failure; the first error is
// reported by Wait.
func (p *Pool) Go(task func() error) {
	if p.group == nil {
		if p.failed() {
			return
		}

		err := task()
		if err != nil {
			p.record(err)
		}

		return
	}

	p.group.Go(task)
}

// Wait blocks until every scheduled task has finished and returns the first error.
func (p *Pool) Wait() error {
	if p.group != nil {
		err := p.group.Wait()
		if err != nil {
			p.record(err)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.firstErr
}

// Close waits for outstanding tasks and releases the pool. It is safe to call
// more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()

		return
	}

	p.closed = true
	p.mu.Unlock()

	if p.group != nil {
		_ = p.group.Wait() //nolint:errcheck // reported by Wait.
	}
}

func (p *Pool) failed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.firstErr != nil
}

func (p *Pool) record(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.firstErr == nil {
		p.firstErr = err
	}
}
