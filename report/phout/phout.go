package phout

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"syscall"
	"time"

	"github.com/ozontech/pnrpc/report"
	"github.com/ozontech/pnrpc/retcode"
	"github.com/ozontech/pnrpc/utils/pool"
)

var now = time.Now

// Reporter пишет результат каждого вызова строкой в формате phout.
type Reporter struct {
	w    *bufio.Writer
	ch   chan *callState
	pool *pool.SlicePool[*callState]
}

func New(w io.Writer) *Reporter {
	r := &Reporter{
		w:  bufio.NewWriter(w),
		ch: make(chan *callState, 256),
	}
	r.pool = pool.NewSlicePool(256, func() *callState {
		return &callState{reportLine: make([]byte, 0, 128), reporter: r}
	})
	return r
}

func (r *Reporter) Run() error {
	for s := range r.ch {
		_, err := r.w.Write(s.result())
		if err != nil {
			return fmt.Errorf("write: %w", err)
		}
		r.pool.Put(s)
	}
	return r.w.Flush()
}

func (r *Reporter) Close() error {
	close(r.ch)
	return nil
}

func (r *Reporter) Acquire(tag string) report.CallState {
	cs := r.pool.Get()
	cs.reset(tag)
	return cs
}

func (r *Reporter) accept(s *callState) {
	r.ch <- s
}

type callState struct {
	reportLine []byte
	reporter   *Reporter

	code      retcode.Code
	hasResult bool
	timeout   bool
	ioErr     error

	sizeOut   int
	sizeIn    int
	startTime time.Time
	endTime   time.Time
	tag       string
}

func (s *callState) reset(tag string) {
	s.tag = tag
	s.startTime = now()

	s.code = retcode.OK
	s.hasResult = false
	s.timeout = false
	s.ioErr = nil
	s.sizeOut, s.sizeIn = 0, 0
}

func (s *callState) SetSize(out, in int) {
	s.sizeOut, s.sizeIn = out, in
}

func (s *callState) SetResult(code retcode.Code) {
	s.code = code
	s.hasResult = true
}

func (s *callState) IoError(err error) { s.ioErr = err }
func (s *callState) Timeout()          { s.timeout = true }

const tabChar = '\t'

func (s *callState) result() []byte {
	s.reportLine = s.reportLine[:0]
	s.reportLine = strconv.AppendInt(s.reportLine, s.startTime.Unix(), 10)
	s.reportLine = append(s.reportLine, '.')
	s.reportLine = strconv.AppendInt(s.reportLine, int64(s.startTime.Nanosecond()/1e6), 10)
	s.reportLine = append(s.reportLine, tabChar)
	s.reportLine = append(s.reportLine, s.tag...)
	s.reportLine = append(s.reportLine, tabChar)

	// rtt
	s.reportLine = strconv.AppendInt(s.reportLine, s.endTime.Sub(s.startTime).Microseconds(), 10)
	s.reportLine = append(s.reportLine, tabChar)

	// connect, send, latency, receive, interval_event
	s.reportLine = append(s.reportLine, '0', tabChar, '0', tabChar, '0', tabChar, '0', tabChar, '0', tabChar)

	s.reportLine = strconv.AppendInt(s.reportLine, int64(s.sizeOut), 10)
	s.reportLine = append(s.reportLine, tabChar)
	s.reportLine = strconv.AppendInt(s.reportLine, int64(s.sizeIn), 10)
	s.reportLine = append(s.reportLine, tabChar)

	// errno
	var errNo syscall.Errno
	if s.ioErr != nil {
		if !errors.As(s.ioErr, &errNo) {
			errNo = 999
		}
		s.reportLine = strconv.AppendInt(s.reportLine, int64(errNo), 10)
	} else {
		s.reportLine = append(s.reportLine, '0')
	}
	s.reportLine = append(s.reportLine, tabChar)

	// proto code
	switch {
	case s.timeout:
		s.reportLine = append(s.reportLine, "timeout"...)
	case !s.hasResult:
		s.reportLine = append(s.reportLine, "none"...)
	default:
		s.reportLine = append(s.reportLine, "rpc_"...)
		s.reportLine = strconv.AppendInt(s.reportLine, int64(s.code), 10)
	}
	s.reportLine = append(s.reportLine, '\n')
	return s.reportLine
}

func (s *callState) End() {
	s.endTime = now()
	s.reporter.accept(s)
}
