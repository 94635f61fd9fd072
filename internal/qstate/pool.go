package qstate

import "sync"

// Pool is a generic sync.Pool wrapper, grounded on jroosing-HydraDNS's
// internal/pool.Pool[T]: it recycles *T values via a constructor instead
// of allocating fresh ones on every query, which matters on the hot path
// of a recursive resolver spawning many short-lived sub-queries.
type Pool[T any] struct {
	pool sync.Pool
}

func NewPool[T any](newFn func() *T) *Pool[T] {
	return &Pool[T]{pool: sync.Pool{New: func() any { return newFn() }}}
}

func (p *Pool[T]) Get() *T {
	return p.pool.Get().(*T)
}

func (p *Pool[T]) Put(v *T) {
	p.pool.Put(v)
}
