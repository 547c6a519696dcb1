package syncutil

import (
	"context"
	"sync"
)

// ContextMutex is a mutex implemented via a buffered channel, allowing
// acquisition to be abandoned when a context is cancelled. The zero value
// is ready to use.
type ContextMutex struct {
	ch   chan struct{}
	once sync.Once
}

// NewContextMutex creates a new context-aware mutex.
func NewContextMutex() *ContextMutex {
	m := &ContextMutex{}
	m.init()
	return m
}

func (m *ContextMutex) init() {
	m.once.Do(func() {
		m.ch = make(chan struct{}, 1)
		m.ch <- struct{}{} // Start unlocked.
	})
}

// LockContext acquires the mutex, respecting context cancellation.
// On success, returns an unlock function and nil error. The caller MUST call
// the unlock function when done.
// On context cancellation, returns nil and the context error.
func (m *ContextMutex) LockContext(ctx context.Context) (func(), error) {
	m.init()

	select {
	case <-m.ch:
		// Acquired the lock.
		return func() { m.ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
