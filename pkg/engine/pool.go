package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hostprobe/hostprobe/pkg/module"
	"github.com/hostprobe/hostprobe/pkg/options"
)

// DefaultConcurrency is the worker count used when the caller does not ask
// for one.
const DefaultConcurrency = 10

// MaxConcurrency caps the worker count.
const MaxConcurrency = 100

// ClampConcurrency bounds a requested worker count to [1, MaxConcurrency].
func ClampConcurrency(requested int) int {
	if requested < 1 {
		return 1
	}
	if requested > MaxConcurrency {
		return MaxConcurrency
	}
	return requested
}

// RunContext carries the cross-worker shared state of one run: the
// mutex-guarded "first module announced" flag gating the notification
// header, the stream notifications are written to, and the logging handle
// workers use. It is passed explicitly into the pool and its workers.
type RunContext struct {
	mu        sync.Mutex
	announced bool
	writer    io.Writer
	logger    zerolog.Logger
}

// NewRunContext creates the shared state for one run. Notifications go to
// writer; a nil writer discards them.
func NewRunContext(writer io.Writer, logger zerolog.Logger) *RunContext {
	if writer == nil {
		writer = io.Discard
	}
	return &RunContext{writer: writer, logger: logger}
}

// NotifyModuleRunning tells the user a module has started. The first
// notification prints a header; later ones append to a comma-joined list.
// One mutex totally orders the notifications, so concurrent workers still
// produce well-formed output.
func (rc *RunContext) NotifyModuleRunning(name string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if !rc.announced {
		fmt.Fprintf(rc.writer, "Running Modules:\n%s", name)
		rc.announced = true
		return
	}
	fmt.Fprintf(rc.writer, ", %s", name)
}

// Finish terminates the notification list, if any module was announced.
func (rc *RunContext) Finish() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.announced {
		fmt.Fprintln(rc.writer)
	}
}

// Pool executes modules on a bounded set of workers fed from one FIFO queue.
// The control goroutine enqueues a batch, waits until it drains, then moves
// to the next; after the last batch it sends one nil sentinel per worker and
// joins them. A module whose process fails is logged and acknowledged; it
// never kills its worker or the pool.
type Pool struct {
	logger zerolog.Logger
	opts   *options.Options
	runCtx *RunContext

	queue   chan *module.Module
	pending sync.WaitGroup
	workers sync.WaitGroup
	started int
}

// NewPool creates a pool draining into the given run context. Workers are
// started separately with StartWorkers.
func NewPool(opts *options.Options, runCtx *RunContext, logger zerolog.Logger) *Pool {
	return &Pool{
		logger: logger.With().Str("component", "worker-pool").Logger(),
		opts:   opts,
		runCtx: runCtx,
		queue:  make(chan *module.Module, MaxConcurrency),
	}
}

// StartWorkers grows the pool to the target worker count. Growth is
// additive-only: a target at or below the current count is a no-op, and
// workers are never culled back down.
func (p *Pool) StartWorkers(ctx context.Context, target int) int {
	for p.started < target {
		p.workers.Add(1)
		go p.worker(ctx, p.started)
		p.started++
	}
	return p.started
}

// EnqueueBatch schedules every module of a batch and returns the number
// scheduled.
func (p *Pool) EnqueueBatch(batch []*module.Module) int {
	for _, mod := range batch {
		p.logger.Info().
			Str("module", fmt.Sprintf("%s/%s", mod.Placement, mod.Name)).
			Msg("Scheduling module")
		p.pending.Add(1)
		p.queue <- mod
	}
	return len(batch)
}

// WaitDrained blocks until every enqueued item has been acknowledged.
func (p *Pool) WaitDrained() {
	p.pending.Wait()
}

// Shutdown sends one sentinel per worker, waits for the sentinels to drain,
// and joins every worker. The pool cannot be reused afterwards.
func (p *Pool) Shutdown() {
	p.logger.Debug().Int("workers", p.started).Msg("Scheduling worker sentinels")
	for i := 0; i < p.started; i++ {
		p.pending.Add(1)
		p.queue <- nil
	}
	p.pending.Wait()
	p.workers.Wait()
	p.logger.Debug().Msg("All workers completed")
}

// worker dequeues modules until it receives the nil sentinel. Each module
// execution is announced, run synchronously, and acknowledged regardless of
// outcome.
func (p *Pool) worker(ctx context.Context, id int) {
	defer p.workers.Done()

	logger := p.logger.With().Int("worker", id).Logger()
	logger.Debug().Msg("Worker started")

	for mod := range p.queue {
		if mod == nil {
			p.pending.Done()
			logger.Debug().Msg("Worker exiting")
			return
		}

		logger.Debug().Str("module", mod.Name).Msg("Worker picked up module")
		p.runCtx.NotifyModuleRunning(mod.Name)

		if _, err := mod.Run(ctx, p.opts); err != nil {
			var rerr *module.RunFailureError
			if errors.As(err, &rerr) {
				logger.Warn().
					Str("module", mod.Name).
					Int("exit_code", rerr.ExitCode).
					Msg("Module execution failed")
			} else {
				logger.Error().Err(err).Str("module", mod.Name).Msg("Module could not be executed")
			}
		} else {
			logger.Debug().Str("module", mod.Name).Msg("Worker completed module")
		}
		p.pending.Done()
	}
}
