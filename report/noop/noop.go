package noop

import (
	"github.com/ozontech/pnrpc/report"
	"github.com/ozontech/pnrpc/retcode"
)

type Noop struct {
	close chan struct{}
}

func New() *Noop {
	return &Noop{make(chan struct{})}
}

func (m *Noop) Run() error {
	<-m.close
	return nil
}

func (m *Noop) Close() error {
	close(m.close)
	return nil
}

func (m *Noop) Acquire(string) report.CallState {
	return noopState{}
}

type noopState struct{}

func (noopState) SetSize(int, int)       {}
func (noopState) SetResult(retcode.Code) {}
func (noopState) IoError(error)          {}
func (noopState) Timeout()               {}
func (noopState) End()                   {}
