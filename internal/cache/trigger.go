package cache

import (
	"context"
	"time"

	"github.com/therealutkarshpriyadarshi/trickplay/internal/logging"
	"github.com/therealutkarshpriyadarshi/trickplay/pkg/models"
)

// Submitter accepts generation requests without blocking
type Submitter interface {
	Submit(req models.GenerationRequest) bool
}

// LockingTrigger suppresses duplicate on-demand submissions for the same
// item across API replicas by taking a short-lived redis lock first.
type LockingTrigger struct {
	next   Submitter
	cache  *Cache
	ttl    time.Duration
	logger *logging.Logger
}

// NewLockingTrigger wraps next
func NewLockingTrigger(next Submitter, c *Cache, ttl time.Duration, logger *logging.Logger) *LockingTrigger {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &LockingTrigger{next: next, cache: c, ttl: ttl, logger: logger}
}

// Submit forwards req unless another replica submitted the same item within
// the lock ttl. A redis failure never blocks submission.
func (t *LockingTrigger) Submit(req models.GenerationRequest) bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	acquired, err := t.cache.AcquireLock(ctx, "ondemand:"+req.ItemID, t.ttl)
	if err != nil {
		t.logger.WithItemID(req.ItemID).WarnWithErr("On-demand lock unavailable", err)
		return t.next.Submit(req)
	}
	if !acquired {
		return true
	}

	if !t.next.Submit(req) {
		t.cache.ReleaseLock(ctx, "ondemand:"+req.ItemID)
		return false
	}
	return true
}
