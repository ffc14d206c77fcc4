package consensus

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// DefaultPoolSize caps simultaneous outbound provider calls.
const DefaultPoolSize = 5

// WorkerPool bounds the number of provider calls in flight across every
// consultation sharing it. A slot is held until the call returns, even when
// the phase that started it has already given up on the result.
type WorkerPool struct {
	sem  *semaphore.Weighted
	size int
}

// NewWorkerPool creates a pool with size slots. Non-positive sizes use DefaultPoolSize.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	return &WorkerPool{
		sem:  semaphore.NewWeighted(int64(size)),
		size: size,
	}
}

// Size returns the number of slots.
func (p *WorkerPool) Size() int {
	return p.size
}

// Go waits for a free slot, then runs fn on its own goroutine.
// The returned channel is closed when fn returns and the slot is released.
// Go fails only when ctx ends before a slot frees up.
func (p *WorkerPool) Go(ctx context.Context, fn func()) (<-chan struct{}, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer p.sem.Release(1)
		fn()
	}()
	return done, nil
}
