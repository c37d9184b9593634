package datasource

import (
	"fmt"
	"io"
)

// CyclicReader reads rs over and over. Cycles of a source not ending with a
// newline are separated by one.
type CyclicReader struct {
	rs   io.ReadSeeker
	last byte
}

func NewCyclicReader(rs io.ReadSeeker) *CyclicReader {
	return &CyclicReader{rs: rs, last: '\n'}
}

func (r *CyclicReader) Read(b []byte) (int, error) {
	n, err := r.rs.Read(b)
	if n > 0 {
		r.last = b[n-1]
	}
	if err == nil {
		return n, nil
	}

	if err != io.EOF {
		return n, fmt.Errorf("read: %w", err)
	}

	_, err = r.rs.Seek(0, io.SeekStart)
	if err != nil {
		return n, fmt.Errorf("rewind: %w", err)
	}

	if n == 0 && r.last != '\n' && len(b) > 0 {
		b[0] = '\n'
		r.last = '\n'
		return 1, nil
	}
	return n, nil
}
