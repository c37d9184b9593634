// Package wire reads and writes length-prefixed frames.
package wire

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/ozontech/pnrpc/admission"
	"github.com/ozontech/pnrpc/consts"
	"github.com/ozontech/pnrpc/frameheader"
)

var ErrFrameTooLarge = errors.New("wire: frame too large")

type shaped struct {
	s     admission.Shaper
	total int64
}

func (s *shaped) wait(ctx context.Context, n int) error {
	s.total += int64(n)
	return s.s.Wait(ctx, s.total)
}

// Framer is safe for one reader and any number of writers.
type Framer struct {
	r      *bufio.Reader
	header frameheader.FrameHeader
	read   shaped

	wmu     sync.Mutex
	w       io.Writer
	wheader frameheader.FrameHeader
	write   shaped

	maxFrameSize int

	bytesRead    atomic.Int64
	bytesWritten atomic.Int64
}

type Opt func(*Framer)

func WithMaxFrameSize(size int) Opt {
	return func(f *Framer) { f.maxFrameSize = size }
}

func NewFramer(rw io.ReadWriter, opts ...Opt) *Framer {
	f := &Framer{
		r:            bufio.NewReader(rw),
		header:       frameheader.NewFrameHeader(),
		read:         shaped{s: admission.NewShaper(0)},
		w:            rw,
		wheader:      frameheader.NewFrameHeader(),
		write:        shaped{s: admission.NewShaper(0)},
		maxFrameSize: consts.MaxFrameSize,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// SetShapers resets byte-rate shaping for the next call. nil means unlimited.
func (f *Framer) SetShapers(read, write admission.Shaper) {
	if read == nil {
		read = admission.NewShaper(0)
	}
	if write == nil {
		write = admission.NewShaper(0)
	}
	f.read = shaped{s: read}

	f.wmu.Lock()
	f.write = shaped{s: write}
	f.wmu.Unlock()
}

// ReadFrame returns the payload of the next frame. The returned slice is owned by the caller.
func (f *Framer) ReadFrame(ctx context.Context) ([]byte, error) {
	if _, err := io.ReadFull(f.r, f.header); err != nil {
		return nil, err
	}
	l := f.header.Length()
	if !f.header.Valid(f.maxFrameSize) {
		return nil, fmt.Errorf("%w: declared %d, max %d", ErrFrameTooLarge, l, f.maxFrameSize)
	}

	payload := make([]byte, l)
	if _, err := io.ReadFull(f.r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	f.bytesRead.Add(int64(consts.FrameHeaderSize + l))

	if err := f.read.wait(ctx, l); err != nil {
		return nil, err
	}
	return payload, nil
}

// WriteFrame writes header and payload with a single write.
func (f *Framer) WriteFrame(ctx context.Context, payload []byte) error {
	l := len(payload)
	if l >= f.maxFrameSize {
		return fmt.Errorf("%w: %d bytes, max %d", ErrFrameTooLarge, l, f.maxFrameSize)
	}

	f.wmu.Lock()
	defer f.wmu.Unlock()

	if err := f.write.wait(ctx, l); err != nil {
		return err
	}

	f.wheader.SetLength(l)
	bufs := net.Buffers{f.wheader, payload}
	n, err := bufs.WriteTo(f.w)
	f.bytesWritten.Add(n)
	if err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (f *Framer) BytesRead() int64    { return f.bytesRead.Load() }
func (f *Framer) BytesWritten() int64 { return f.bytesWritten.Load() }
