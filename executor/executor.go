// Package executor runs connection loops and handler code on named run loops.
package executor

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ozontech/pnrpc/consts"
)

var ErrStopped = errors.New("executor: stopped")

type Task func(ctx context.Context)

// Executor consumes queued tasks in its run loop and runs every task as a
// tracked goroutine. Closers owned by the executor are closed on Stop.
type Executor struct {
	name  string
	tasks chan Task

	ctx    context.Context
	cancel context.CancelFunc

	started  atomic.Bool
	loopDone chan struct{}
	running  sync.WaitGroup

	mu      sync.Mutex
	closers map[io.Closer]struct{}

	log *zap.Logger
}

func New(name string, log *zap.Logger) *Executor {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor{
		name:     name,
		tasks:    make(chan Task, consts.TaskQueueSize),
		cancel:   cancel,
		loopDone: make(chan struct{}),
		closers:  make(map[io.Closer]struct{}),
		log:      log.Named("executor").With(zap.String("executor", name)),
	}
	e.ctx = WithExecutor(ctx, e)
	return e
}

func (e *Executor) Name() string { return e.name }

// Context is canceled when the executor stops.
func (e *Executor) Context() context.Context { return e.ctx }

// Start launches the run loop. Repeated calls are noop.
func (e *Executor) Start() {
	if !e.started.CompareAndSwap(false, true) {
		return
	}
	go e.run()
}

func (e *Executor) run() {
	defer close(e.loopDone)
	e.log.Debug("run loop started")
	defer e.log.Debug("run loop done")

	for {
		select {
		case <-e.ctx.Done():
			return
		case task := <-e.tasks:
			e.running.Add(1)
			go func() {
				defer e.running.Done()
				task(e.ctx)
			}()
		}
	}
}

// Go queues task. It blocks while the queue is full.
func (e *Executor) Go(task Task) error {
	if e.ctx.Err() != nil {
		return ErrStopped
	}
	select {
	case e.tasks <- task:
		return nil
	case <-e.ctx.Done():
		return ErrStopped
	}
}

// Do runs fn on the executor and waits for its result.
func (e *Executor) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	err := e.Go(func(ctx context.Context) {
		done <- fn(ctx)
	})
	if err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.ctx.Done():
		// задача могла успеть выполниться
		select {
		case err := <-done:
			return err
		default:
			return ErrStopped
		}
	}
}

// Own registers c to be closed on Stop.
func (e *Executor) Own(c io.Closer) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closers == nil {
		return false
	}
	e.closers[c] = struct{}{}
	return true
}

func (e *Executor) Disown(c io.Closer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.closers, c)
}

// Stop cancels the executor context, closes owned closers and waits for
// running tasks until ctx is done.
func (e *Executor) Stop(ctx context.Context) (err error) {
	e.cancel()
	begin := time.Now()
	defer func() { e.log.Debug("stopped", zap.Duration("took", time.Since(begin)), zap.Error(err)) }()

	e.mu.Lock()
	closers := e.closers
	e.closers = nil
	e.mu.Unlock()
	for c := range closers {
		err = multierr.Append(err, c.Close())
	}

	if e.started.Load() {
		<-e.loopDone
	}

	waitCh := make(chan struct{})
	go func() {
		e.running.Wait()
		close(waitCh)
	}()
	select {
	case <-waitCh:
	case <-ctx.Done():
		err = multierr.Append(err, ctx.Err())
	}
	return err
}

type ctxKey struct{}

func WithExecutor(ctx context.Context, e *Executor) context.Context {
	return context.WithValue(ctx, ctxKey{}, e)
}

// FromContext returns the executor running the current task or nil.
func FromContext(ctx context.Context) *Executor {
	e, _ := ctx.Value(ctxKey{}).(*Executor)
	return e
}
