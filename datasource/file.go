package datasource

import (
	"bufio"
	"fmt"
	"io"
	"sync"

	"github.com/ozontech/pnrpc/consts"
)

// FileDataSource streams requests from r, usually a CyclicReader.
type FileDataSource struct {
	scanner *bufio.Scanner
	decoder *Decoder
	line    int
	mu      sync.Mutex
}

func NewFileDataSource(r io.Reader) *FileDataSource {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), consts.MaxFrameSize)
	return &FileDataSource{scanner: s, decoder: NewDecoder()}
}

func (ds *FileDataSource) Fetch() (Request, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	for ds.scanner.Scan() {
		ds.line++
		line := ds.scanner.Bytes()
		if blank(line) {
			continue
		}
		var r Request
		if err := ds.decoder.Unmarshal(&r, line); err != nil {
			return r, fmt.Errorf("line %d: %w", ds.line, err)
		}
		return r, nil
	}
	if err := ds.scanner.Err(); err != nil {
		return Request{}, fmt.Errorf("read next request: %w", err)
	}
	return Request{}, io.EOF
}
