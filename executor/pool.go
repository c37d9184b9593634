package executor

import (
	"context"
	"strconv"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Pool is a fixed set of executors with round-robin assignment.
type Pool struct {
	executors []*Executor
	next      atomic.Uint32
}

func NewPool(name string, size int, log *zap.Logger) *Pool {
	executors := make([]*Executor, size)
	for i := range executors {
		executors[i] = New(name+"-"+strconv.Itoa(i), log)
	}
	return &Pool{executors: executors}
}

func (p *Pool) Len() int { return len(p.executors) }

func (p *Pool) Executors() []*Executor { return p.executors }

func (p *Pool) Start() {
	for _, e := range p.executors {
		e.Start()
	}
}

// Next returns the next executor in round-robin order, nil for an empty pool.
func (p *Pool) Next() *Executor {
	if len(p.executors) == 0 {
		return nil
	}
	n := p.next.Add(1) - 1
	return p.executors[n%uint32(len(p.executors))]
}

// Stop stops all executors concurrently and waits for them.
func (p *Pool) Stop(ctx context.Context) error {
	errs := make([]error, len(p.executors))
	done := make(chan int, len(p.executors))
	for i, e := range p.executors {
		go func() {
			errs[i] = e.Stop(ctx)
			done <- i
		}()
	}
	for range p.executors {
		<-done
	}
	return multierr.Combine(errs...)
}
