package headless

import (
	"context"
	"sync"
)

type fence struct {
	mu       sync.Mutex
	signaled bool
	ch       chan struct{}
}

func newFence(signaled bool) *fence {
	f := &fence{ch: make(chan struct{})}
	if signaled {
		f.signaled = true
		close(f.ch)
	}
	return f
}

func (f *fence) signal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.signaled {
		f.signaled = true
		close(f.ch)
	}
}

func (f *fence) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signaled {
		f.signaled = false
		f.ch = make(chan struct{})
	}
}

func (f *fence) isSignaled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signaled
}

func (f *fence) wait(ctx context.Context) error {
	f.mu.Lock()
	ch := f.ch
	f.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
