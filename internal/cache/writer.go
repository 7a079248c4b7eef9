package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/therealutkarshpriyadarshi/trickplay/internal/logging"
)

const writerPollInterval = 250 * time.Millisecond

// WriterLock bounds artifact writing across every process that shares a
// metadata directory. Each holder owns one of a fixed number of redis slots
// and keeps it alive until release.
type WriterLock struct {
	cache  *Cache
	slots  int64
	ttl    time.Duration
	poll   time.Duration
	logger *logging.Logger
}

// NewWriterLock creates a lock with the given number of slots (minimum 1)
func NewWriterLock(c *Cache, slots int64, ttl time.Duration, logger *logging.Logger) *WriterLock {
	if slots < 1 {
		slots = 1
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &WriterLock{cache: c, slots: slots, ttl: ttl, poll: writerPollInterval, logger: logger}
}

func writerSlot(i int64) string {
	return fmt.Sprintf("writer:%d", i)
}

// Acquire blocks until a slot is free or ctx is done. The returned release
// func is safe to call more than once.
func (w *WriterLock) Acquire(ctx context.Context) (func(), error) {
	token := uuid.New().String()

	for {
		for i := int64(0); i < w.slots; i++ {
			ok, err := w.cache.AcquireOwnedLock(ctx, writerSlot(i), token, w.ttl)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, fmt.Errorf("failed to acquire writer lock: %w", err)
			}
			if ok {
				return w.hold(writerSlot(i), token), nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(w.poll):
		}
	}
}

func (w *WriterLock) hold(slot, token string) func() {
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(w.ttl / 3)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				ok, err := w.cache.ExtendLock(ctx, slot, token, w.ttl)
				cancel()
				if err != nil {
					w.logger.WarnWithErr("Failed to extend writer lock", err)
				} else if !ok {
					w.logger.WithField("slot", slot).Warn("Writer lock expired while held")
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := w.cache.ReleaseOwnedLock(ctx, slot, token); err != nil {
				w.logger.WarnWithErr("Failed to release writer lock", err)
			}
		})
	}
}
