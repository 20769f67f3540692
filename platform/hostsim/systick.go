package hostsim

import (
	"sync"
	"time"

	"github.com/minoskernel/minos/internal/clock"
	"github.com/minoskernel/minos/platform"
)

// SysTick meters timeslices against the package clock, so tests stub
// clock.NowFunc to control expiry deterministically.
type SysTick struct {
	mu        sync.Mutex
	armed     bool
	running   bool
	remaining time.Duration
	deadline  time.Time
}

// Reset implements platform.SysTick.
func (s *SysTick) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = false
	s.running = false
	s.remaining = 0
}

// SetTimer implements platform.SysTick.
func (s *SysTick) SetTimer(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = true
	s.running = false
	s.remaining = d
}

// Enable implements platform.SysTick. The countdown only spends time while
// enabled, so kernel work is never charged to the process.
func (s *SysTick) Enable(run bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.armed || run == s.running {
		return
	}
	if run {
		s.deadline = clock.Now().Add(s.remaining)
		s.running = true
		return
	}
	s.remaining = s.deadline.Sub(clock.Now())
	if s.remaining < 0 {
		s.remaining = 0
	}
	s.running = false
}

// Expired implements platform.SysTick.
func (s *SysTick) Expired() bool {
	return s.Remaining() <= 0 && s.isArmed()
}

// Remaining implements platform.SysTick.
func (s *SysTick) Remaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.armed {
		return 0
	}
	remaining := s.remaining
	if s.running {
		remaining = s.deadline.Sub(clock.Now())
	}
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

func (s *SysTick) isArmed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}

var _ platform.SysTick = (*SysTick)(nil)

// Watchdog counts liveness proof instead of biting; tests assert the kernel
// tickles it every iteration.
type Watchdog struct {
	mu      sync.Mutex
	setup   bool
	tickles uint64
}

// Setup implements platform.Watchdog.
func (w *Watchdog) Setup() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.setup = true
}

// Tickle implements platform.Watchdog.
func (w *Watchdog) Tickle() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tickles++
}

// Tickles reports how many times the kernel proved liveness.
func (w *Watchdog) Tickles() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tickles
}

// WasSetup reports whether the kernel armed the watchdog.
func (w *Watchdog) WasSetup() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.setup
}

var _ platform.Watchdog = (*Watchdog)(nil)
