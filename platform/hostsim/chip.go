// Package hostsim implements the platform contracts in plain memory so the
// kernel core runs on a host: a chip with a software interrupt controller, a
// clock-backed systick, a counting watchdog, an alignment-checking MPU and a
// scripted userspace boundary. Boards use it for bring-up and simulation;
// the test suites use it everywhere.
package hostsim

import (
	"sync"
	"time"

	"github.com/minoskernel/minos/platform"
)

// Chip is the simulated interrupt controller and sleep gate.
type Chip struct {
	mu      sync.Mutex
	pending []func()

	mpu      *MPU
	systick  *SysTick
	watchdog *Watchdog

	// wake holds one token so an interrupt raised between the idle check
	// and Sleep is never lost.
	wake   chan struct{}
	sleeps uint64
}

// NewChip assembles a chip with default collaborators.
func NewChip() *Chip {
	return &Chip{
		mpu:      NewMPU(8),
		systick:  &SysTick{},
		watchdog: &Watchdog{},
		wake:     make(chan struct{}, 1),
	}
}

// RaiseInterrupt queues handler as a pending interrupt bottom half and wakes
// a sleeping kernel. Safe from any goroutine; this is how simulated devices
// inject events.
func (c *Chip) RaiseInterrupt(handler func()) {
	c.mu.Lock()
	c.pending = append(c.pending, handler)
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// ServicePendingInterrupts implements platform.Chip.
func (c *Chip) ServicePendingInterrupts() {
	for {
		c.mu.Lock()
		pending := c.pending
		c.pending = nil
		c.mu.Unlock()
		if len(pending) == 0 {
			return
		}
		for _, handler := range pending {
			handler()
		}
	}
}

// HasPendingInterrupts implements platform.Chip.
func (c *Chip) HasPendingInterrupts() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending) > 0
}

// Atomic implements platform.Chip. Interrupt delivery here only appends to
// the pending list; the buffered wake token already closes the check-then-
// sleep race, so fn runs directly.
func (c *Chip) Atomic(fn func()) {
	fn()
}

// Sleep parks until an interrupt arrives, with a bounded nap so a cancelled
// kernel context is observed promptly.
func (c *Chip) Sleep() {
	c.mu.Lock()
	c.sleeps++
	c.mu.Unlock()
	select {
	case <-c.wake:
	case <-time.After(time.Millisecond):
	}
}

// Sleeps reports how often the kernel went idle.
func (c *Chip) Sleeps() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sleeps
}

// MPU implements platform.Chip.
func (c *Chip) MPU() platform.MPU { return c.mpu }

// SimMPU returns the concrete MPU for test inspection.
func (c *Chip) SimMPU() *MPU { return c.mpu }

// SysTick implements platform.Chip.
func (c *Chip) SysTick() platform.SysTick { return c.systick }

// Watchdog implements platform.Chip.
func (c *Chip) Watchdog() platform.Watchdog { return c.watchdog }

// SimWatchdog returns the concrete watchdog for test inspection.
func (c *Chip) SimWatchdog() *Watchdog { return c.watchdog }

var _ platform.Chip = (*Chip)(nil)
