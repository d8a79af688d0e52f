package password

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// PoolConfig sizes the hashing worker pool.
type PoolConfig struct {
	// Workers is the number of goroutines running Argon2. Zero selects
	// [DefaultWorkers].
	Workers int
	// QueueSize bounds the number of jobs waiting for a worker. Zero selects
	// four jobs per worker.
	QueueSize int
	// SubmitTimeout is how long a caller waits for queue space before the
	// job is rejected with [ErrPoolSaturated]. Zero selects one second.
	SubmitTimeout time.Duration
}

// DefaultWorkers returns half of the available CPUs, at least one. The rest
// is left to network and request handling.
func DefaultWorkers() int {
	n := runtime.NumCPU() / 2
	if n < 1 {
		return 1
	}
	return n
}

// PoolStats is a point-in-time view of pool activity.
type PoolStats struct {
	Workers   int
	Queued    int
	Completed uint64
	Rejected  uint64
}

type job struct {
	ctx    context.Context
	run    func() (string, bool, error)
	result chan jobResult
}

type jobResult struct {
	hash string
	ok   bool
	err  error
}

// Pool runs Argon2 hashing and verification on a fixed set of worker
// goroutines so that CPU-bound work never runs on request goroutines.
type Pool struct {
	hasher  *Argon2
	cfg     PoolConfig
	jobs    chan job
	done    chan struct{}
	wg      sync.WaitGroup
	closed  atomic.Bool
	once    sync.Once
	served  atomic.Uint64
	refused atomic.Uint64
}

// NewPool starts the workers. Call Close to stop them.
func NewPool(hasher *Argon2, cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 4
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = time.Second
	}

	p := &Pool{
		hasher: hasher,
		cfg:    cfg,
		jobs:   make(chan job, cfg.QueueSize),
		done:   make(chan struct{}),
	}

	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker()
	}

	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case j := <-p.jobs:
			p.execute(j)
		case <-p.done:
			for {
				select {
				case j := <-p.jobs:
					j.result <- jobResult{err: ErrPoolClosed}
				default:
					return
				}
			}
		}
	}
}

func (p *Pool) execute(j job) {
	// The caller has already given up; skip the expensive part.
	if err := j.ctx.Err(); err != nil {
		j.result <- jobResult{err: err}
		return
	}

	defer func() {
		if r := recover(); r != nil {
			j.result <- jobResult{err: fmt.Errorf("%w: %v", ErrHashingFailed, r)}
		}
	}()

	hash, ok, err := j.run()
	p.served.Add(1)
	j.result <- jobResult{hash: hash, ok: ok, err: err}
}

// Hasher exposes the underlying hasher for policy checks.
func (p *Pool) Hasher() *Argon2 {
	return p.hasher
}

// Hash computes a new hash for password on a worker.
func (p *Pool) Hash(ctx context.Context, password string) (string, error) {
	if err := p.hasher.CheckPolicy(password); err != nil {
		return "", err
	}
	res, err := p.submit(ctx, func() (string, bool, error) {
		h, err := p.hasher.Hash(password)
		return h, err == nil, err
	})
	if err != nil {
		return "", err
	}
	return res.hash, res.err
}

// Verify checks password against encodedHash on a worker. The boolean is
// false for any mismatch or malformed hash; an error is only returned when
// the pool could not run the job.
func (p *Pool) Verify(ctx context.Context, password, encodedHash string) (bool, error) {
	res, err := p.submit(ctx, func() (string, bool, error) {
		return "", p.hasher.Verify(password, encodedHash), nil
	})
	if err != nil {
		return false, err
	}
	if res.err != nil {
		return false, res.err
	}
	return res.ok, nil
}

// NeedsUpgrade reports whether encodedHash should be recomputed with the
// current parameters. It is cheap and runs inline.
func (p *Pool) NeedsUpgrade(encodedHash string) bool {
	return p.hasher.NeedsUpgrade(encodedHash)
}

func (p *Pool) submit(ctx context.Context, run func() (string, bool, error)) (jobResult, error) {
	if p == nil || p.closed.Load() {
		return jobResult{}, ErrPoolClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}

	j := job{ctx: ctx, run: run, result: make(chan jobResult, 1)}

	select {
	case p.jobs <- j:
	default:
		timer := time.NewTimer(p.cfg.SubmitTimeout)
		select {
		case p.jobs <- j:
			timer.Stop()
		case <-timer.C:
			p.refused.Add(1)
			return jobResult{}, ErrPoolSaturated
		case <-ctx.Done():
			timer.Stop()
			return jobResult{}, ctx.Err()
		case <-p.done:
			timer.Stop()
			return jobResult{}, ErrPoolClosed
		}
	}

	select {
	case res := <-j.result:
		return res, nil
	case <-ctx.Done():
		return jobResult{}, ctx.Err()
	case <-p.done:
		select {
		case res := <-j.result:
			return res, nil
		default:
			return jobResult{}, ErrPoolClosed
		}
	}
}

// Stats returns current counters.
func (p *Pool) Stats() PoolStats {
	if p == nil {
		return PoolStats{}
	}
	return PoolStats{
		Workers:   p.cfg.Workers,
		Queued:    len(p.jobs),
		Completed: p.served.Load(),
		Rejected:  p.refused.Load(),
	}
}

// Close stops accepting jobs, fails queued ones with [ErrPoolClosed] and
// waits for running jobs to finish.
func (p *Pool) Close() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		p.closed.Store(true)
		close(p.done)
		p.wg.Wait()
	})
}
