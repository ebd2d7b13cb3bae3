package syncsched

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// semCapacity bounds the counting semaphores below; it only needs to be
// larger than any realistic in-flight count, since the scheduler's
// ingest/work/done/shared semaphores never hold more than a handful of
// outstanding units at once.
const semCapacity = 1 << 30

// countingSemaphore wraps golang.org/x/sync/semaphore.Weighted to give
// classic wait/post counting-semaphore semantics with an arbitrary
// initial value, the way the scheduler's ingest(1)/work(0)/done(0)/
// shared(0) semaphores are constructed.
type countingSemaphore struct {
	sem *semaphore.Weighted
}

func newCountingSemaphore(initial int64) *countingSemaphore {
	sem := semaphore.NewWeighted(semCapacity)
	if initial < semCapacity {
		// acquire every token beyond the initial value so only `initial`
		// remain available to the first Wait call.
		if err := sem.Acquire(context.Background(), semCapacity-initial); err != nil {
			panic("syncsched: failed to prime semaphore: " + err.Error())
		}
	}
	return &countingSemaphore{sem: sem}
}

func (c *countingSemaphore) Wait(ctx context.Context) error {
	return c.sem.Acquire(ctx, 1)
}

func (c *countingSemaphore) TryWait() bool {
	return c.sem.TryAcquire(1)
}

func (c *countingSemaphore) Post() {
	c.sem.Release(1)
}
