// Package platform declares the hardware collaborators the kernel core is
// built against: the chip (interrupt controller, sleep), the memory
// protection unit, the timeslice timer, the watchdog and the
// userspace/kernel execution boundary.
//
// Everything here is an interface. Real ports supply architecture-specific
// implementations; platform/hostsim supplies in-memory ones for boards that
// run the core on a host, and for tests.
package platform

import "time"

// Chip aggregates the per-chip collaborators the kernel loop drives.
type Chip interface {
	// ServicePendingInterrupts runs the bottom halves of every interrupt
	// that fired since the last call.
	ServicePendingInterrupts()

	// HasPendingInterrupts reports whether any interrupt is awaiting
	// service. The kernel never makes a scheduling decision while this is
	// true.
	HasPendingInterrupts() bool

	// Atomic runs fn with interrupt delivery suspended so that the
	// idle-check and the sleep cannot race an arriving interrupt.
	Atomic(fn func())

	// Sleep enters the low-power state until the next interrupt.
	Sleep()

	MPU() MPU
	SysTick() SysTick
	Watchdog() Watchdog
}

// SysTick is the timeslice timer used by preemptive schedulers.
type SysTick interface {
	// Reset stops the timer and clears any pending expiry.
	Reset()

	// SetTimer arms the timer with the process's remaining timeslice.
	SetTimer(d time.Duration)

	// Enable starts (true) or pauses (false) the countdown. The timer is
	// paused while the kernel runs so that kernel work is not charged to
	// the process.
	Enable(run bool)

	// Expired reports whether the armed timeslice has elapsed.
	Expired() bool

	// Remaining returns the unspent part of the armed timeslice.
	Remaining() time.Duration
}

// Watchdog proves kernel liveness. The kernel tickles it once per main-loop
// iteration.
type Watchdog interface {
	Setup()
	Tickle()
}
