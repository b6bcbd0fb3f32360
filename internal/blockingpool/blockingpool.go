// Package blockingpool runs synchronous, potentially slow calls (OS-level
// link/unlink, job-container manipulation, enforcement actions) on a small
// fixed set of goroutines so context-cancellable call sites never block
// directly on them.
package blockingpool

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Pool is a bounded set of goroutines draining a shared job queue.
type Pool struct {
	jobs      chan func()
	wg        sync.WaitGroup
	closed    chan struct{}
	closeOnce sync.Once
}

// New starts a Pool with the given number of worker goroutines and queue
// depth.
func New(workers, queueDepth int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueDepth < 0 {
		queueDepth = 0
	}
	p := &Pool{jobs: make(chan func(), queueDepth), closed: make(chan struct{})}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case fn := <-p.jobs:
			fn()
		case <-p.closed:
			// Drain whatever was queued before Close, then exit.
			for {
				select {
				case fn := <-p.jobs:
					fn()
				default:
					return
				}
			}
		}
	}
}

// Submit runs fn on a pool worker and blocks the caller until it completes
// or ctx is cancelled first (in which case fn may still run later, but the
// caller stops waiting for it).
func (p *Pool) Submit(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	job := func() {
		defer func() {
			if r := recover(); r != nil {
				done <- errPanic(r)
			}
		}()
		done <- fn()
	}

	select {
	case p.jobs <- job:
	case <-p.closed:
		return errClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Group returns an errgroup bound to ctx, for fanning out several blocking
// Submit calls concurrently while still respecting cancellation.
func (p *Pool) Group(ctx context.Context) (*errgroup.Group, context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	return g, gctx
}

// Close stops accepting new jobs and waits for queued and in-flight ones to
// finish. The jobs channel is never closed, so a Submit racing Close fails
// with errClosed instead of panicking on a closed channel send.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.closed)
	})
	p.wg.Wait()
}

type poolError string

func (e poolError) Error() string { return string(e) }

const errClosed = poolError("blockingpool: pool closed")

func errPanic(r any) error {
	return poolError("blockingpool: job panicked: " + errAny(r))
}

func errAny(r any) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	if s, ok := r.(string); ok {
		return s
	}
	return "unknown panic"
}
