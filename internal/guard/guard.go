// Package guard bounds how many worker processes may run at once.
//
// Waiters are served in FIFO order and a waiter whose context ends leaves the
// queue without consuming a permit.
package guard

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Guard is a fixed-size pool of permits.
type Guard struct {
	sem   *semaphore.Weighted
	limit int

	running atomic.Int64
	waiting atomic.Int64
	peak    atomic.Int64
}

// New returns a guard with limit permits. A limit <= 0 means runtime.NumCPU().
func New(limit int) *Guard {
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	return &Guard{
		sem:   semaphore.NewWeighted(int64(limit)),
		limit: limit,
	}
}

// Slot is a held permit.
type Slot struct {
	g    *Guard
	once sync.Once
}

// Acquire blocks until a permit is free or ctx is done.
func (g *Guard) Acquire(ctx context.Context) (*Slot, error) {
	g.waiting.Add(1)
	err := g.sem.Acquire(ctx, 1)
	g.waiting.Add(-1)
	if err != nil {
		return nil, err
	}

	n := g.running.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	return &Slot{g: g}, nil
}

// Release returns the permit. Calls after the first are no-ops.
func (s *Slot) Release() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.g.running.Add(-1)
		s.g.sem.Release(1)
	})
}

// Limit is the configured pool size.
func (g *Guard) Limit() int { return g.limit }

// Running is the number of permits currently held.
func (g *Guard) Running() int { return int(g.running.Load()) }

// Waiting is the number of callers queued in Acquire.
func (g *Guard) Waiting() int { return int(g.waiting.Load()) }

// Peak is the highest number of permits ever held at once.
func (g *Guard) Peak() int { return int(g.peak.Load()) }

// Stats is a point-in-time snapshot for health reporting.
type Stats struct {
	Limit   int `json:"limit"`
	Running int `json:"running"`
	Waiting int `json:"waiting"`
	Peak    int `json:"peak"`
}

// Stats returns a snapshot of the guard counters.
func (g *Guard) Stats() Stats {
	return Stats{Limit: g.Limit(), Running: g.Running(), Waiting: g.Waiting(), Peak: g.Peak()}
}
