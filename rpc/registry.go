package rpc

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ozontech/pnrpc/admission"
)

type entry interface {
	descriptor() Descriptor
	newProcessor(log *zap.Logger) processor
	bucket() *admission.TokenBucket
}

type registered[Req, Resp any] struct {
	m  *Method[Req, Resp]
	tb *admission.TokenBucket
}

func (r registered[Req, Resp]) descriptor() Descriptor         { return r.m.Descriptor }
func (r registered[Req, Resp]) bucket() *admission.TokenBucket { return r.tb }
func (r registered[Req, Resp]) newProcessor(log *zap.Logger) processor {
	return newCall(r.m, log)
}

// Register adds m to r. A method registered under a taken code replaces the old one.
func Register[Req, Resp any](r *Registry, m Method[Req, Resp]) {
	if m.Handler == nil {
		panic("rpc: method " + m.Name + " registered without handler")
	}
	// проверка shape на этапе регистрации
	_ = m.Shape.singleRequest()

	e := registered[Req, Resp]{m: &m}
	if m.Limits.bucket() {
		e.tb = admission.NewTokenBucket(m.Limits.Rate, m.Limits.Burst)
		r.log.Debug(
			"rpc token bucket",
			zap.Uint32("pcode", m.Code),
			zap.Float64("rate", e.tb.Rate()),
			zap.Int("capacity", e.tb.Capacity()),
		)
	}
	if old, ok := r.shard(m.Code).set(m.Code, e); ok {
		r.log.Warn(
			"duplicate rpc code",
			zap.Uint32("pcode", m.Code),
			zap.String("old", old.descriptor().Name),
			zap.String("new", m.Name),
		)
	}
}

type registryShard struct {
	mu sync.RWMutex
	m  map[uint32]entry
}

func (s *registryShard) set(code uint32, e entry) (entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.m[code]
	s.m[code] = e
	return old, ok
}

func (s *registryShard) get(code uint32) (entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.m[code]
	return e, ok
}

func (s *registryShard) each(fn func(entry)) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.m {
		fn(e)
	}
}

// Registry maps method codes to methods. Safe for concurrent use.
type Registry struct {
	shards []*registryShard
	max    uint32
	log    *zap.Logger
}

// NewRegistry creates a registry with size shards, size must be a power of two.
func NewRegistry(size uint32, log *zap.Logger) *Registry {
	if size == 0 || size&(size-1) != 0 {
		panic("assertion error: registry size must be a power of two")
	}
	shards := make([]*registryShard, size)
	for i := range shards {
		shards[i] = &registryShard{m: make(map[uint32]entry)}
	}
	return &Registry{shards, size - 1, log.Named("registry")}
}

func (r *Registry) shard(code uint32) *registryShard {
	return r.shards[code&r.max]
}

func (r *Registry) lookup(code uint32) (entry, bool) {
	return r.shard(code).get(code)
}

// Lookup returns the descriptor of the method registered under code.
func (r *Registry) Lookup(code uint32) (Descriptor, bool) {
	e, ok := r.lookup(code)
	if !ok {
		return Descriptor{}, false
	}
	return e.descriptor(), true
}

// Descriptors returns all registered methods ordered by code.
func (r *Registry) Descriptors() []Descriptor {
	var ds []Descriptor
	for _, s := range r.shards {
		s.each(func(e entry) { ds = append(ds, e.descriptor()) })
	}
	sort.Slice(ds, func(i, j int) bool { return ds[i].Code < ds[j].Code })
	return ds
}
