package datasource

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ozontech/pnrpc/value"
)

const requests = `{"tag": "echo", "pcode": 1, "raw": "hello"}

{"tag": "sum", "pcode": 0, "payload": [1, 2, 3], "comment": {"skip": [true]}}`

func TestDecoder(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	d := NewDecoder()

	var r Request
	a.NoError(d.Unmarshal(&r, []byte(`{"tag":"echo","pcode":1,"raw":"hi"}`)))
	a.Equal(Request{Tag: "echo", Code: 1, Payload: []byte("hi")}, r)

	a.NoError(d.Unmarshal(&r, []byte(`{"pcode":6,"payload":{"key":"hello"}}`)))
	a.Equal(uint32(6), r.Code)
	a.Empty(r.Tag)
	v, err := value.Parse(r.Payload)
	a.NoError(err)
	a.Equal(map[string]any{"key": "hello"}, v)

	a.ErrorIs(d.Unmarshal(&r, []byte(`{"tag":"x"}`)), ErrNoPcode)
	a.Error(d.Unmarshal(&r, []byte(`{"pcode":"one"}`)))
	a.Error(d.Unmarshal(&r, []byte(`{"pcode":1} tail`)))
	a.ErrorIs(d.Unmarshal(&r, []byte(`{"pcode":1,"payload":{"$bytes":1}}`)), value.ErrMalformed)
}

func TestFileDataSource(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	ds := NewFileDataSource(strings.NewReader(requests))
	r, err := ds.Fetch()
	a.NoError(err)
	a.Equal("echo", r.Tag)

	r, err = ds.Fetch()
	a.NoError(err)
	a.Equal("sum", r.Tag)
	a.Equal(uint32(0), r.Code)

	_, err = ds.Fetch()
	a.ErrorIs(err, io.EOF)
}

func TestFileDataSourceCyclic(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	ds := NewFileDataSource(NewCyclicReader(bytes.NewReader([]byte(requests))))
	var tags []string
	for i := 0; i < 5; i++ {
		r, err := ds.Fetch()
		require.NoError(t, err)
		tags = append(tags, r.Tag)
	}
	a.Equal([]string{"echo", "sum", "echo", "sum", "echo"}, tags)
}

func TestFileDataSourceBadLine(t *testing.T) {
	t.Parallel()

	ds := NewFileDataSource(strings.NewReader("\n{\"tag\":\"x\"}\n"))
	_, err := ds.Fetch()
	assert.ErrorIs(t, err, ErrNoPcode)
	assert.ErrorContains(t, err, "line 2")
}

func TestInmemDataSource(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	ds := NewInmemDataSource(strings.NewReader(requests))
	_, err := ds.Fetch()
	a.ErrorIs(err, ErrNoRequest)
	require.NoError(t, ds.Init())

	var tags []string
	for i := 0; i < 3; i++ {
		r, err := ds.Fetch()
		a.NoError(err)
		tags = append(tags, r.Tag)
	}
	a.Equal([]string{"echo", "sum", "echo"}, tags)

	a.ErrorIs(NewInmemDataSource(strings.NewReader("\n\n")).Init(), ErrNoRequest)
}

func BenchmarkFileDataSource(b *testing.B) {
	ds := NewFileDataSource(NewCyclicReader(bytes.NewReader([]byte(requests))))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r, err := ds.Fetch()
		if err != nil {
			b.Fatal(err)
		}
		b.SetBytes(int64(len(r.Payload)))
	}
}

func TestWriter(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteRaw("sleep", 2, "\x00\x00\x00\x01"))
	require.NoError(t, w.WriteRequest("lookup", 6, map[string]any{"key": "hello"}))
	a.Equal(`{"tag":"sleep","pcode":2,"raw":"\u0000\u0000\u0000\u0001"}`+"\n", strings.SplitAfter(buf.String(), "\n")[0])

	ds := NewFileDataSource(&buf)
	r, err := ds.Fetch()
	a.NoError(err)
	a.Equal(Request{Tag: "sleep", Code: 2, Payload: []byte{0, 0, 0, 1}}, r)

	r, err = ds.Fetch()
	a.NoError(err)
	a.Equal("lookup", r.Tag)
	v, err := value.Parse(r.Payload)
	a.NoError(err)
	a.Equal(map[string]any{"key": "hello"}, v)
}
