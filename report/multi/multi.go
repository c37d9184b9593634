package multi

import (
	"golang.org/x/sync/errgroup"

	"github.com/ozontech/pnrpc/report"
	"github.com/ozontech/pnrpc/retcode"
	"github.com/ozontech/pnrpc/utils/pool"
)

type Multi struct {
	nested []report.Reporter
	pool   *pool.SlicePool[*multiState]
}

func New(nested ...report.Reporter) *Multi {
	m := &Multi{nested: nested}
	m.pool = pool.NewSlicePool(128, func() *multiState {
		return &multiState{m: m, states: make([]report.CallState, len(nested))}
	})
	return m
}

func (m *Multi) Run() error {
	g := new(errgroup.Group)
	for _, r := range m.nested {
		g.Go(r.Run)
	}
	return g.Wait()
}

func (m *Multi) Close() error {
	g := new(errgroup.Group)
	for _, r := range m.nested {
		g.Go(r.Close)
	}
	return g.Wait()
}

func (m *Multi) Acquire(tag string) report.CallState {
	ms := m.pool.Get()
	for i, r := range m.nested {
		ms.states[i] = r.Acquire(tag)
	}
	return ms
}

type multiState struct {
	m      *Multi
	states []report.CallState
}

func (s *multiState) SetSize(out, in int) {
	for _, s := range s.states {
		s.SetSize(out, in)
	}
}

func (s *multiState) SetResult(code retcode.Code) {
	for _, s := range s.states {
		s.SetResult(code)
	}
}

func (s *multiState) IoError(err error) {
	for _, s := range s.states {
		s.IoError(err)
	}
}

func (s *multiState) Timeout() {
	for _, s := range s.states {
		s.Timeout()
	}
}

func (s *multiState) End() {
	for _, s := range s.states {
		s.End()
	}
	s.m.pool.Put(s)
}
