package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

type PoolOptions struct {
	// MaxWorkers bounds concurrent jobs. Zero runs every job on its own goroutine.
	MaxWorkers int
	// QueueSize is the backlog accepted before Dispatch blocks; bounded mode only.
	QueueSize int
}

// Pool is the in-process Dispatcher.
type Pool struct {
	opts   PoolOptions
	logger zerolog.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc
	queue      chan Job
	wg         sync.WaitGroup

	mu       sync.Mutex
	handlers map[Kind]Handler
	// running holds the cancel funcs of live jobs per entity id; jobs of
	// different kinds may share an id.
	running map[string]map[uint64]context.CancelFunc
	nextRun uint64
	dropped map[string]struct{}
	stopped bool
}

func NewPool(opts PoolOptions, logger zerolog.Logger) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		opts:       opts,
		logger:     logger.With().Str("component", "job_pool").Logger(),
		baseCtx:    ctx,
		baseCancel: cancel,
		handlers:   make(map[Kind]Handler),
		running:    make(map[string]map[uint64]context.CancelFunc),
		dropped:    make(map[string]struct{}),
	}
	if opts.MaxWorkers > 0 {
		size := opts.QueueSize
		if size <= 0 {
			size = opts.MaxWorkers * 16
		}
		p.queue = make(chan Job, size)
		for i := 0; i < opts.MaxWorkers; i++ {
			p.wg.Add(1)
			go p.worker()
		}
	}
	return p
}

func (p *Pool) Register(kind Kind, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[kind] = h
}

func (p *Pool) Dispatch(ctx context.Context, job Job) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrStopped
	}
	if _, ok := p.handlers[job.Kind]; !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownKind, job.Kind)
	}
	delete(p.dropped, job.ID)
	if p.queue == nil {
		// Added under mu so Shutdown never waits on a concurrent Add.
		p.wg.Add(1)
		p.mu.Unlock()
		go func() {
			defer p.wg.Done()
			p.run(job)
		}()
		return nil
	}
	p.mu.Unlock()

	select {
	case p.queue <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.baseCtx.Done():
		return ErrStopped
	}
}

func (p *Pool) Cancel(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if runs, ok := p.running[id]; ok && len(runs) > 0 {
		for _, cancel := range runs {
			cancel()
		}
		return nil
	}
	if p.queue != nil {
		// Not started yet; skip it when a worker dequeues it.
		p.dropped[id] = struct{}{}
	}
	return nil
}

// Shutdown cancels in-flight jobs and waits for their handlers to return.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.mu.Unlock()

	p.baseCancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.baseCtx.Done():
			return
		case job := <-p.queue:
			p.run(job)
		}
	}
}

func (p *Pool) run(job Job) {
	p.mu.Lock()
	if _, skip := p.dropped[job.ID]; skip {
		delete(p.dropped, job.ID)
		p.mu.Unlock()
		p.logger.Info().Str("job", job.String()).Msg("skipping cancelled job")
		return
	}
	h := p.handlers[job.Kind]
	ctx, cancel := context.WithCancel(p.baseCtx)
	p.nextRun++
	token := p.nextRun
	if p.running[job.ID] == nil {
		p.running[job.ID] = make(map[uint64]context.CancelFunc)
	}
	p.running[job.ID][token] = cancel
	p.mu.Unlock()

	defer func() {
		cancel()
		p.mu.Lock()
		delete(p.running[job.ID], token)
		if len(p.running[job.ID]) == 0 {
			delete(p.running, job.ID)
		}
		p.mu.Unlock()
		if r := recover(); r != nil {
			p.logger.Error().Str("job", job.String()).Interface("panic", r).Msg("job panicked")
		}
	}()

	if err := h(ctx, job.ID); err != nil {
		p.logger.Error().Err(err).Str("job", job.String()).Msg("job failed")
		return
	}
	p.logger.Debug().Str("job", job.String()).Msg("job finished")
}
