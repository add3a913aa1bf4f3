// Package pool implements the gateway worker pool: an accept loop hands
// each accepted WS session to a size-bounded pool of workers, honoring
// min_workers, max_workers, and max_requests_per_worker. Generalized from
// "N fixed long-lived workers" to an elastic pool that grows toward
// max_workers under load and retires a worker back to the floor once it's
// served max_requests_per_worker jobs.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/kcls/osrfgo/logger"
)

// Config bounds one Pool's worker count and per-worker lifetime.
type Config struct {
	// MinWorkers is the floor the pool maintains whenever a worker
	// retires. Zero means DefaultMinWorkers.
	MinWorkers int
	// MaxWorkers bounds concurrent workers. Zero means DefaultMaxWorkers.
	MaxWorkers int
	// MaxRequestsPerWorker retires a worker after it has run this many
	// jobs, so a replacement spawns with fresh state. Zero means
	// unlimited.
	MaxRequestsPerWorker int
	// IdleWake bounds how long a worker waits on an empty job queue
	// before re-checking for shutdown "idle
	// wake interval matches the accept timeout". Zero means
	// DefaultIdleWake.
	IdleWake time.Duration
}

const (
	DefaultMinWorkers = 2
	DefaultMaxWorkers = 32
	DefaultIdleWake   = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.MinWorkers <= 0 {
		c.MinWorkers = DefaultMinWorkers
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = DefaultMaxWorkers
	}
	if c.MaxWorkers < c.MinWorkers {
		c.MaxWorkers = c.MinWorkers
	}
	if c.IdleWake <= 0 {
		c.IdleWake = DefaultIdleWake
	}
	return c
}

// Job is one unit of work a pool worker runs to completion — in practice,
// one accepted WS session's whole lifetime.
type Job func(ctx context.Context)

// Pool is a size-bounded worker pool: Start spawns the floor of workers,
// Submit enqueues jobs (scaling up toward MaxWorkers as the queue backs
// up), and each worker retires itself — to be replaced, if the pool is
// still below its floor — after MaxRequestsPerWorker jobs.
type Pool struct {
	log logger.Logger
	cfg Config
	ctx context.Context

	jobs chan Job

	mu     sync.Mutex
	active int
	wg     sync.WaitGroup
}

// New builds a Pool. Start must be called before Submit.
func New(log logger.Logger, cfg Config) *Pool {
	cfg = cfg.withDefaults()
	return &Pool{
		log:  log,
		cfg:  cfg,
		jobs: make(chan Job, cfg.MaxWorkers*4),
	}
}

// Start spawns the floor of workers. ctx governs every worker's lifetime;
// canceling it drains all workers.
func (p *Pool) Start(ctx context.Context) {
	p.ctx = ctx
	for range p.cfg.MinWorkers {
		p.spawnWorker()
	}
}

// Submit enqueues job, spawning an extra worker (up to MaxWorkers) if the
// queue isn't being drained fast enough. Reports false whenever the job
// queue is full, without first trying to spawn a worker; the accept loop
// rejects the connection in that case.
func (p *Pool) Submit(job Job) bool {
	select {
	case p.jobs <- job:
	default:
		return false
	}
	if len(p.jobs) > 0 {
		p.spawnWorker()
	}
	return true
}

// Wait blocks until every spawned worker has exited, e.g. after ctx given
// to Start is canceled.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// ActiveWorkers reports the current worker count, for status reporting.
func (p *Pool) ActiveWorkers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *Pool) spawnWorker() bool {
	p.mu.Lock()
	if p.active >= p.cfg.MaxWorkers {
		p.mu.Unlock()
		return false
	}
	p.active++
	p.mu.Unlock()

	p.wg.Add(1)
	go p.runWorker()
	return true
}

func (p *Pool) runWorker() {
	defer p.wg.Done()

	served := 0
	idle := time.NewTicker(p.cfg.IdleWake)
	defer idle.Stop()

	for {
		select {
		case <-p.ctx.Done():
			p.retire()
			return

		case job, ok := <-p.jobs:
			if !ok {
				p.retire()
				return
			}
			job(p.ctx)
			served++
			if p.cfg.MaxRequestsPerWorker > 0 && served >= p.cfg.MaxRequestsPerWorker {
				p.retire()
				p.maintainFloor()
				return
			}

		case <-idle.C:
			// Nothing queued; loop back to re-check ctx.Done.
		}
	}
}

func (p *Pool) retire() {
	p.mu.Lock()
	p.active--
	p.mu.Unlock()
}

func (p *Pool) maintainFloor() {
	if p.ctx.Err() != nil {
		return
	}
	p.mu.Lock()
	belowFloor := p.active < p.cfg.MinWorkers
	p.mu.Unlock()
	if belowFloor {
		p.spawnWorker()
	}
}
