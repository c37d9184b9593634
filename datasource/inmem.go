package datasource

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
)

// InmemDataSource reads all requests on Init and hands them out round robin.
type InmemDataSource struct {
	r    io.Reader
	reqs []Request
	i    atomic.Uint64
}

func NewInmemDataSource(r io.Reader) *InmemDataSource {
	return &InmemDataSource{r: r}
}

func (ds *InmemDataSource) Init() error {
	file := NewFileDataSource(ds.r)
	for {
		r, err := file.Fetch()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("load requests: %w", err)
		}
		ds.reqs = append(ds.reqs, r)
	}
	if len(ds.reqs) == 0 {
		return ErrNoRequest
	}
	return nil
}

func (ds *InmemDataSource) Fetch() (Request, error) {
	if len(ds.reqs) == 0 {
		return Request{}, ErrNoRequest
	}
	i := ds.i.Add(1) - 1
	return ds.reqs[i%uint64(len(ds.reqs))], nil
}
