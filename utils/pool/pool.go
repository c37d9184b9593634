package pool

import "sync"

// SlicePool хранит освобожденные объекты в слайсе. В отличие от sync.Pool
// объекты не теряются при сборке мусора.
type SlicePool[T any] struct {
	mu    sync.Mutex
	s     []T
	newFn func() T
}

// NewSlicePool creates a pool with capacity for size idle objects. newFn
// builds an object when the pool is empty.
func NewSlicePool[T any](size int, newFn func() T) *SlicePool[T] {
	return &SlicePool[T]{s: make([]T, 0, size), newFn: newFn}
}

func (p *SlicePool[T]) Get() T {
	p.mu.Lock()
	l := len(p.s)
	if l == 0 {
		p.mu.Unlock()
		return p.newFn()
	}

	v := p.s[l-1]
	p.s = p.s[:l-1]
	p.mu.Unlock()
	return v
}

func (p *SlicePool[T]) Put(v T) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.s = append(p.s, v)
}

// Idle returns the number of pooled objects.
func (p *SlicePool[T]) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.s)
}
