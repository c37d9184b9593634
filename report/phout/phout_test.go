package phout

import (
	"bytes"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ozontech/pnrpc/retcode"
)

func TestPhout(t *testing.T) {
	a := assert.New(t)

	b := new(bytes.Buffer)
	r := New(b)
	errChan := make(chan error)
	go func() {
		errChan <- r.Run()
	}()

	var expected string
	line := func(startTime, endTime time.Time, rest string) string {
		return fmt.Sprintf(
			"%d.%d\t%s\n",
			startTime.UnixMilli()/1e3, startTime.UnixMilli()%1e3,
			fmt.Sprintf(rest, endTime.Sub(startTime).Microseconds()),
		)
	}

	{
		startTime := time.Now()
		now = func() time.Time { return startTime }

		state := r.Acquire("echo")
		state.SetSize(11, 22)
		state.SetResult(retcode.OK)

		endTime := startTime.Add(1500 * time.Microsecond)
		now = func() time.Time { return endTime }
		state.End()

		expected += line(startTime, endTime, "echo\t%d\t0\t0\t0\t0\t0\t11\t22\t0\trpc_0")
	}

	{
		startTime := time.Now()
		now = func() time.Time { return startTime }

		state := r.Acquire("sum")
		state.SetResult(retcode.Overflow)
		state.IoError(fmt.Errorf("read error: %w", syscall.Errno(104)))

		endTime := startTime.Add(time.Millisecond)
		now = func() time.Time { return endTime }
		state.End()

		expected += line(startTime, endTime, "sum\t%d\t0\t0\t0\t0\t0\t0\t0\t104\trpc_2")
	}

	{
		startTime := time.Now()
		now = func() time.Time { return startTime }

		state := r.Acquire("")
		state.IoError(errors.New("unknown error"))

		endTime := startTime.Add(time.Millisecond)
		now = func() time.Time { return endTime }
		state.End()

		expected += line(startTime, endTime, "\t%d\t0\t0\t0\t0\t0\t0\t0\t999\tnone")
	}

	{
		startTime := time.Now()
		now = func() time.Time { return startTime }

		state := r.Acquire("sleep")
		state.Timeout()

		endTime := startTime.Add(time.Second)
		now = func() time.Time { return endTime }
		state.End()

		expected += line(startTime, endTime, "sleep\t%d\t0\t0\t0\t0\t0\t0\t0\t0\ttimeout")
	}

	a.NoError(r.Close())
	a.NoError(<-errChan)

	a.Equal(expected, b.String())
}
