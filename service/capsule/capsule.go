// Package capsule hosts the syscall-facing driver contract and the driver
// registry. Capsules are untrusted-by-convention kernel extensions: they see
// processes only through identifiers, per-process grants and the shared
// buffers a process explicitly allowed.
package capsule

import (
	"github.com/minoskernel/minos/runtime/proc"
	"github.com/minoskernel/minos/syscall"
)

// Upcaller schedules an upcall delivery into a process's task queue. The
// kernel implements it; it resolves the subscribed function pointer and
// enforces identifier freshness and queue bounds.
type Upcaller interface {
	ScheduleUpcall(id proc.ID, upcall syscall.UpcallID, args [3]uintptr) error
}

// Env carries the kernel services a driver may use.
type Env struct {
	Upcaller Upcaller
}

// Driver is one syscall-addressable capsule. Minor numbers scope commands,
// subscriptions and buffers within the driver; minor 0 of Command is the
// existence check and must return ReturnSuccess.
type Driver interface {
	// Command services a synchronous request and returns a code plus an
	// optional value for the process.
	Command(id proc.ID, minor int, arg2, arg3 uintptr) (syscall.ReturnCode, uintptr)

	// Subscribe is notified after the kernel swapped the upcall for the
	// given subscribe number; the driver validates the number and arms or
	// disarms its event source.
	Subscribe(id proc.ID, minor int, armed bool) syscall.ReturnCode

	// Allow is notified after the kernel validated a shared buffer; a nil
	// buf revokes a previous share. The driver must not retain buf past
	// the process's current generation.
	Allow(id proc.ID, minor int, buf []byte) syscall.ReturnCode
}
