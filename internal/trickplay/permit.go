package trickplay

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/therealutkarshpriyadarshi/trickplay/internal/metrics"
)

// Permit bounds how many artifact-writing sections run at once across
// every caller of a Service. Capacity 1 makes it a plain mutex.
type Permit struct {
	sem      *semaphore.Weighted
	capacity int64
}

// NewPermit creates a permit with the given capacity (minimum 1)
func NewPermit(capacity int64) *Permit {
	if capacity < 1 {
		capacity = 1
	}
	return &Permit{sem: semaphore.NewWeighted(capacity), capacity: capacity}
}

// Capacity returns the number of concurrent holders allowed
func (p *Permit) Capacity() int64 {
	return p.capacity
}

// Acquire blocks until a slot is free or ctx is done. The returned release
// func is safe to call more than once.
func (p *Permit) Acquire(ctx context.Context) (func(), error) {
	start := time.Now()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	metrics.RecordPermitAcquired(time.Since(start).Seconds())

	var once sync.Once
	return func() {
		once.Do(func() {
			p.sem.Release(1)
			metrics.RecordPermitReleased()
		})
	}, nil
}
