// Package deferred lets capsules schedule kernel-context callbacks without a
// hardware interrupt: a capsule sets its deferred call from any context and
// the kernel loop services all pending calls before scheduling the next
// process. Pending state is a bitmask, so setting is cheap and idempotent.
package deferred

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// MaxCalls is the registry capacity, bounded by the bitmask width.
const MaxCalls = 64

// Call is a capsule's handle for requesting deferred service.
type Call struct {
	registry *Registry
	bit      uint64
}

// Set marks the call pending. Safe from any goroutine; setting an already
// pending call is a no-op.
func (c *Call) Set() {
	c.registry.pending.Or(c.bit)
}

// IsPending reports whether the call awaits service.
func (c *Call) IsPending() bool {
	return c.registry.pending.Load()&c.bit != 0
}

// Registry owns the deferred-call slots for one kernel.
type Registry struct {
	mu       sync.Mutex
	handlers []func()
	pending  atomic.Uint64
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register reserves a slot serviced by handler. Registration happens during
// board init; the registry never shrinks.
func (r *Registry) Register(handler func()) (*Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	index := len(r.handlers)
	if index >= MaxCalls {
		return nil, fmt.Errorf("deferred: all %d call slots in use", MaxCalls)
	}
	r.handlers = append(r.handlers, handler)
	return &Call{registry: r, bit: 1 << uint(index)}, nil
}

// HasPending reports whether any call awaits service.
func (r *Registry) HasPending() bool {
	return r.pending.Load() != 0
}

// Service runs every pending handler once and reports whether any ran.
// Handlers run in slot order on the caller's goroutine; a handler setting
// another deferred call (or its own) is serviced on the next pass, keeping
// each pass bounded.
func (r *Registry) Service() bool {
	mask := r.pending.Swap(0)
	if mask == 0 {
		return false
	}
	r.mu.Lock()
	handlers := r.handlers
	r.mu.Unlock()
	for i := 0; mask != 0; i++ {
		bit := uint64(1) << uint(i)
		if mask&bit == 0 {
			continue
		}
		mask &^= bit
		handlers[i]()
	}
	return true
}
