// Package background runs detached work that must outlive the request that
// started it.
package background

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"storyreel/internal/infra"
)

// Runner owns a base context independent of any request. Work started with Go
// is cancelled only by Shutdown.
type Runner struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger infra.Logger
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func New(logger *infra.Logger) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{ctx: ctx, cancel: cancel, logger: infra.LoggerOrNop(logger)}
}

// Go starts fn in its own goroutine. Errors and panics are logged and never
// reach the caller. It returns false once the runner is shutting down.
func (r *Runner) Go(name string, fn func(ctx context.Context) error) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.Warn().Str("task", name).Msg("background: runner closed, task dropped")
		return false
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		start := time.Now()
		err := r.safely(name, fn)
		log := r.logger.With().Str("task", name).Dur("elapsed", time.Since(start)).Logger()
		if err != nil {
			log.Error().Err(err).Msg("background: task failed")
			return
		}
		log.Debug().Msg("background: task done")
	}()
	return true
}

func (r *Runner) safely(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Str("task", name).Bytes("stack", debug.Stack()).Msg("background: panic recovered")
			err = fmt.Errorf("background: panic in %s: %v", name, rec)
		}
	}()
	return fn(r.ctx)
}

// Wait blocks until every started task returns or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting work and waits for running tasks. When ctx expires
// first the base context is cancelled so tasks can unwind.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	if err := r.Wait(ctx); err != nil {
		r.cancel()
		return err
	}
	r.cancel()
	return nil
}
