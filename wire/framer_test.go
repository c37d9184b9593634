package wire

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ozontech/pnrpc/consts"
)

func TestFramerRoundTrip(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	ctx := context.Background()

	buf := bytes.NewBuffer(nil)
	f := NewFramer(buf)

	a.NoError(f.WriteFrame(ctx, []byte("hello")))
	a.NoError(f.WriteFrame(ctx, nil))
	a.Equal([]byte{0, 0, 0, 5, 'h', 'e', 'l', 'l', 'o', 0, 0, 0, 0}, buf.Bytes())
	a.Equal(int64(13), f.BytesWritten())

	p, err := f.ReadFrame(ctx)
	a.NoError(err)
	a.Equal([]byte("hello"), p)

	p, err = f.ReadFrame(ctx)
	a.NoError(err)
	a.Empty(p)
	a.Equal(int64(13), f.BytesRead())

	_, err = f.ReadFrame(ctx)
	a.ErrorIs(err, io.EOF)
}

func TestFramerTooLarge(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	ctx := context.Background()

	buf := bytes.NewBuffer(nil)
	f := NewFramer(buf)

	a.ErrorIs(f.WriteFrame(ctx, make([]byte, consts.MaxFrameSize)), ErrFrameTooLarge)
	a.Zero(buf.Len())

	buf.Write(binary.BigEndian.AppendUint32(nil, consts.MaxFrameSize))
	_, err := f.ReadFrame(ctx)
	a.ErrorIs(err, ErrFrameTooLarge)
}

func TestFramerMaxFrameSizeOpt(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	ctx := context.Background()

	buf := bytes.NewBuffer(nil)
	f := NewFramer(buf, WithMaxFrameSize(4))

	a.NoError(f.WriteFrame(ctx, []byte("abc")))
	a.ErrorIs(f.WriteFrame(ctx, []byte("abcd")), ErrFrameTooLarge)
}

func TestFramerTruncated(t *testing.T) {
	t.Parallel()

	buf := bytes.NewBuffer([]byte{0, 0, 0, 5, 'h', 'e'})
	_, err := NewFramer(buf).ReadFrame(context.Background())
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestFramerConcurrentWrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	w := NewFramer(client)
	r := NewFramer(server)

	const writers, frames = 4, 50
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		payload := bytes.Repeat([]byte{byte(i)}, 100+i)
		go func() {
			defer wg.Done()
			for j := 0; j < frames; j++ {
				if err := w.WriteFrame(ctx, payload); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}

	for i := 0; i < writers*frames; i++ {
		p, err := r.ReadFrame(ctx)
		require.NoError(t, err)
		require.Len(t, p, 100+int(p[0]))
		require.Equal(t, bytes.Repeat(p[:1], len(p)), p)
	}
	wg.Wait()
}
