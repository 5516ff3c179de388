package quality

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many CPU-bound scoring jobs run at once.
type Pool struct {
	sem     *semaphore.Weighted
	size    int64
	active  atomic.Int64
	maxSeen atomic.Int64
}

func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(workers)), size: int64(workers)}
}

// Do runs fn once a slot is free. It returns early if ctx is done while waiting.
func (p *Pool) Do(ctx context.Context, fn func()) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire checker slot: %w", err)
	}
	defer p.sem.Release(1)

	n := p.active.Add(1)
	defer p.active.Add(-1)
	for {
		seen := p.maxSeen.Load()
		if n <= seen || p.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	fn()
	return nil
}

func (p *Pool) Size() int { return int(p.size) }

// Peak reports the highest observed number of concurrent jobs.
func (p *Pool) Peak() int { return int(p.maxSeen.Load()) }
