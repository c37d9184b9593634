package supersimple

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ozontech/pnrpc/report"
	"github.com/ozontech/pnrpc/retcode"
	"github.com/ozontech/pnrpc/utils/pool"
)

type Reporter struct {
	pool    *pool.SlicePool[*callState]
	closeCh chan struct{}
	out     io.Writer
	period  time.Duration

	start time.Time
	ok    atomic.Uint32
	nook  atomic.Uint32
	req   atomic.Uint32
	size  atomic.Uint64

	lastOk   uint32
	lastNook uint32
	lastReq  uint32
	lastSize uint64
	lastTime time.Time
}

func New(out io.Writer, period time.Duration) *Reporter {
	now := time.Now()
	r := &Reporter{
		closeCh:  make(chan struct{}),
		out:      out,
		period:   period,
		start:    now,
		lastTime: now,
	}
	r.pool = pool.NewSlicePool(100, func() *callState { return &callState{reporter: r} })
	return r
}

func (a *Reporter) Run() error {
	t := time.NewTicker(a.period)
	defer t.Stop()
	defer a.total()
	for {
		select {
		case now := <-t.C:
			a.report(now)
		case <-a.closeCh:
			return nil
		}
	}
}

func (a *Reporter) Close() error {
	close(a.closeCh)
	return nil
}

func (a *Reporter) Acquire(string) report.CallState {
	a.req.Add(1)
	cs := a.pool.Get()
	cs.reset()
	return cs
}

func (a *Reporter) accept(s *callState) {
	if s.result() {
		a.ok.Add(1)
	} else {
		a.nook.Add(1)
	}

	a.pool.Put(s)
}

func (a *Reporter) addSize(size int) {
	a.size.Add(uint64(size))
}

func (a *Reporter) write(ok, nook, req uint32, size uint64, d time.Duration) {
	total := ok + nook
	miliSeconds := d.Milliseconds()
	if miliSeconds > 0 {
		fmt.Fprintf(
			a.out,
			"total=%d ok=%d nook=%d req=%d size=%s/s req/s=%.2f resp/s=%.2f\n",
			total, ok, nook, req,
			humanize.Bytes(size*1000/uint64(miliSeconds)),
			float64(req)*1000/float64(miliSeconds), float64(total)*1000/float64(miliSeconds),
		)
	} else {
		fmt.Fprintf(a.out, "total=%d ok=%d nook=%d req=%d\n", total, ok, nook, req)
	}
}

func (a *Reporter) total() {
	fmt.Fprintln(a.out, "total")
	a.write(a.ok.Load(), a.nook.Load(), a.req.Load(), a.size.Load(), time.Since(a.start))
}

func (a *Reporter) report(now time.Time) {
	ok, nook, req, size, period := a.ok.Load(), a.nook.Load(), a.req.Load(), a.size.Load(), now.Sub(a.lastTime)
	a.write(ok-a.lastOk, nook-a.lastNook, req-a.lastReq, size-a.lastSize, period)
	a.lastOk, a.lastNook, a.lastTime, a.lastReq, a.lastSize = ok, nook, now, req, size
}

type callState struct {
	reporter *Reporter
	noOk     bool
}

func (s *callState) reset() {
	s.noOk = false
}

func (s *callState) SetSize(out, in int) {
	s.reporter.addSize(out + in)
}

func (s *callState) SetResult(code retcode.Code) {
	if code != retcode.OK {
		s.noOk = true
	}
}

func (s *callState) IoError(error) { s.noOk = true }
func (s *callState) Timeout()      { s.noOk = true }

func (s *callState) result() (ok bool) {
	return !s.noOk
}

func (s *callState) End() {
	s.reporter.accept(s)
}
