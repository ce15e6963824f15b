package engine

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// workerPool bounds how many leaf stages of a run execute at once. Group
// nodes and approval waits never hold a slot.
type workerPool struct {
	sem *semaphore.Weighted
}

func newWorkerPool(size int) *workerPool {
	if size <= 0 {
		size = 1
	}
	return &workerPool{sem: semaphore.NewWeighted(int64(size))}
}

func (p *workerPool) acquire(ctx context.Context) error {
	return p.sem.Acquire(ctx, 1)
}

func (p *workerPool) release() {
	p.sem.Release(1)
}

