package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/therealutkarshpriyadarshi/trickplay/internal/logging"
	"github.com/therealutkarshpriyadarshi/trickplay/internal/metrics"
	"github.com/therealutkarshpriyadarshi/trickplay/pkg/models"
)

// Handler runs one generation request
type Handler interface {
	HandleRequest(ctx context.Context, req *models.GenerationRequest) error
}

// Pool runs single-item generation requests on a fixed set of workers.
// Pending requests are deduplicated by item; on-demand requests are served
// before queue- and API-originated ones.
type Pool struct {
	handler  Handler
	workers  int
	capacity int
	logger   *logging.Logger

	mu      sync.Mutex
	queue   *PriorityQueue
	pending map[string]*QueueItem
	stopped bool

	ready  chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates a pool with the given worker count and queue capacity
func NewPool(handler Handler, workers, capacity int, logger *logging.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 64
	}
	ctx, cancel := context.WithCancel(context.Background())

	pq := &PriorityQueue{}
	heap.Init(pq)

	return &Pool{
		handler:  handler,
		workers:  workers,
		capacity: capacity,
		logger:   logger,
		queue:    pq,
		pending:  make(map[string]*QueueItem),
		ready:    make(chan struct{}, capacity),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the workers
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(fmt.Sprintf("ondemand-%d-%s", i, uuid.New().String()[:8]))
	}
	p.logger.Infof("On-demand pool started with %d workers", p.workers)
}

// Stop cancels in-flight work, drops pending requests and waits for workers
func (p *Pool) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()

	p.mu.Lock()
	dropped := p.queue.Len()
	p.queue = &PriorityQueue{}
	p.pending = make(map[string]*QueueItem)
	p.mu.Unlock()
	metrics.OnDemandQueueDepth.Set(0)

	p.logger.Infof("On-demand pool stopped, %d pending requests dropped", dropped)
}

// Submit enqueues req without blocking. A request for an item that is
// already pending is merged into the existing entry. It returns false when
// the pool is stopped or full.
func (p *Pool) Submit(req models.GenerationRequest) bool {
	if req.Kind == "" {
		req.Kind = models.RequestKindItem
	}
	if err := req.Validate(); err != nil || req.Kind != models.RequestKindItem {
		p.logger.WithItemID(req.ItemID).Warn("Rejected invalid on-demand request")
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return false
	}

	if existing, ok := p.pending[req.ItemID]; ok {
		existing.Request.Replace = existing.Request.Replace || req.Replace
		changed := false
		if rank := sourceRank(req.Source); rank > existing.Rank {
			existing.Rank = rank
			existing.Request.Source = req.Source
			changed = true
		}
		if req.Priority > existing.Priority {
			existing.Priority = req.Priority
			existing.Request.Priority = req.Priority
			changed = true
		}
		if changed {
			heap.Fix(p.queue, existing.Index)
		}
		return true
	}

	if p.queue.Len() >= p.capacity {
		p.logger.WithItemID(req.ItemID).Warn("On-demand queue full, request rejected")
		return false
	}

	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}

	item := &QueueItem{
		Request:   req,
		Rank:      sourceRank(req.Source),
		Priority:  req.Priority,
		Timestamp: req.RequestedAt,
	}
	heap.Push(p.queue, item)
	p.pending[req.ItemID] = item
	metrics.OnDemandQueueDepth.Set(float64(p.queue.Len()))

	// One token per heap entry; capacity bounds both.
	p.ready <- struct{}{}
	return true
}

// GetQueueDepth returns the number of pending requests
func (p *Pool) GetQueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.queue.Len()
}

func (p *Pool) next() (models.GenerationRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.queue.Len() == 0 {
		return models.GenerationRequest{}, false
	}
	item := heap.Pop(p.queue).(*QueueItem)
	delete(p.pending, item.Request.ItemID)
	metrics.OnDemandQueueDepth.Set(float64(p.queue.Len()))
	return item.Request, true
}

func (p *Pool) worker(id string) {
	defer p.wg.Done()
	logger := p.logger.WithWorkerID(id)

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.ready:
		}
		if p.ctx.Err() != nil {
			return
		}

		req, ok := p.next()
		if !ok {
			continue
		}

		start := time.Now()
		err := p.handler.HandleRequest(p.ctx, &req)
		reqLogger := logger.WithItemID(req.ItemID).WithRequestID(req.ID)
		if err != nil {
			reqLogger.WithField("source", req.Source).ErrorWithErr("On-demand generation failed", err)
			metrics.RecordError("scheduler", "refresh")
			continue
		}
		reqLogger.WithField("duration_ms", time.Since(start).Milliseconds()).Debug("On-demand generation finished")
	}
}

// sourceRank orders request origins; higher is served first
func sourceRank(source string) int {
	switch source {
	case models.RequestSourceOnDemand:
		return 2
	case models.RequestSourceAPI:
		return 1
	default:
		return 0
	}
}

// PriorityQueue implements a priority queue for generation requests
type PriorityQueue []*QueueItem

// QueueItem represents a request in the priority queue
type QueueItem struct {
	Request   models.GenerationRequest
	Rank      int
	Priority  int
	Timestamp time.Time
	Index     int
}

func (pq PriorityQueue) Len() int { return len(pq) }

func (pq PriorityQueue) Less(i, j int) bool {
	if pq[i].Rank != pq[j].Rank {
		return pq[i].Rank > pq[j].Rank
	}
	// Higher priority first
	if pq[i].Priority != pq[j].Priority {
		return pq[i].Priority > pq[j].Priority
	}
	// If same priority, FIFO (earlier timestamp first)
	return pq[i].Timestamp.Before(pq[j].Timestamp)
}

func (pq PriorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].Index = i
	pq[j].Index = j
}

func (pq *PriorityQueue) Push(x interface{}) {
	n := len(*pq)
	item := x.(*QueueItem)
	item.Index = n
	*pq = append(*pq, item)
}

func (pq *PriorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.Index = -1
	*pq = old[0 : n-1]
	return item
}
