// Package worker runs jobs on a sharded pool. Jobs sharing a key run one at a
// time in dispatch order; different keys spread over the shards.
package worker

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/zapcrm/zapcrm/pkg/logger"
)

// Job is a unit of work bound to an ordering key.
type Job struct {
	Key     string
	Handler func(ctx context.Context) error
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Shards          int   `json:"shards"`
	QueueSize       int   `json:"queue_size"`
	ActiveShards    int   `json:"active_shards"`
	TotalDispatched int64 `json:"total_dispatched"`
	TotalProcessed  int64 `json:"total_processed"`
	TotalDropped    int64 `json:"total_dropped"`
	TotalErrors     int64 `json:"total_errors"`
	TotalPanics     int64 `json:"total_panics"`
}

// Pool is a fixed set of shards, each with its own bounded queue.
type Pool struct {
	shards    []*shard
	queueSize int
	log       *logger.Logger
	wg        sync.WaitGroup

	mu      sync.RWMutex
	started bool
	stopped bool

	totalDispatched int64
	totalProcessed  int64
	totalDropped    int64
	totalErrors     int64
	totalPanics     int64

	// OnPanic is called after a job panic has been recovered.
	OnPanic func(key string, recovered any)
}

type shard struct {
	id         int
	queue      chan Job
	processing int32
}

// New creates a pool with n shards, each buffering up to queueSize jobs.
func New(n, queueSize int, log *logger.Logger) *Pool {
	if n <= 0 {
		n = 8
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	p := &Pool{
		shards:    make([]*shard, n),
		queueSize: queueSize,
		log:       log,
	}
	for i := range p.shards {
		p.shards[i] = &shard{id: i, queue: make(chan Job, queueSize)}
	}
	return p
}

// Start launches one goroutine per shard. Jobs receive ctx.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	for _, s := range p.shards {
		p.wg.Add(1)
		go p.run(ctx, s)
	}
	p.log.Info("worker pool started",
		zap.Int("shards", len(p.shards)),
		zap.Int("queue_size", p.queueSize),
	)
}

// TryDispatch queues job on its shard without blocking. It reports false when
// the shard is full or the pool is stopped.
func (p *Pool) TryDispatch(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		atomic.AddInt64(&p.totalDropped, 1)
		return false
	}

	s := p.shards[p.shardFor(job.Key)]
	select {
	case s.queue <- job:
		atomic.AddInt64(&p.totalDispatched, 1)
		return true
	default:
		atomic.AddInt64(&p.totalDropped, 1)
		p.log.Warn("worker shard full, rejecting job",
			zap.Int("shard", s.id),
			zap.String("key", job.Key),
		)
		return false
	}
}

// Stop rejects new jobs, lets queued ones finish and waits for the shards.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	for _, s := range p.shards {
		close(s.queue)
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Info("worker pool stopped")
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	active := 0
	for _, s := range p.shards {
		if atomic.LoadInt32(&s.processing) == 1 {
			active++
		}
	}
	return Stats{
		Shards:          len(p.shards),
		QueueSize:       p.queueSize,
		ActiveShards:    active,
		TotalDispatched: atomic.LoadInt64(&p.totalDispatched),
		TotalProcessed:  atomic.LoadInt64(&p.totalProcessed),
		TotalDropped:    atomic.LoadInt64(&p.totalDropped),
		TotalErrors:     atomic.LoadInt64(&p.totalErrors),
		TotalPanics:     atomic.LoadInt64(&p.totalPanics),
	}
}

func (p *Pool) shardFor(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(p.shards)))
}

func (p *Pool) run(ctx context.Context, s *shard) {
	defer p.wg.Done()
	for job := range s.queue {
		p.execute(ctx, s, job)
	}
}

func (p *Pool) execute(ctx context.Context, s *shard, job Job) {
	atomic.StoreInt32(&s.processing, 1)
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&p.totalPanics, 1)
			p.log.Error("worker job panicked",
				zap.Int("shard", s.id),
				zap.String("key", job.Key),
				zap.String("panic", fmt.Sprint(r)),
				zap.Stack("stack"),
			)
			if p.OnPanic != nil {
				p.OnPanic(job.Key, r)
			}
		}
		atomic.StoreInt32(&s.processing, 0)
		atomic.AddInt64(&p.totalProcessed, 1)
	}()

	if err := job.Handler(ctx); err != nil {
		atomic.AddInt64(&p.totalErrors, 1)
		p.log.Debug("worker job failed",
			zap.Int("shard", s.id),
			zap.String("key", job.Key),
			zap.Error(err),
		)
	}
}
