package proc

import "errors"

// Sentinel errors surfaced to capsules and the kernel loop. Callers detect
// them with errors.Is; anything the kernel cannot recover from soundly is a
// panic instead, never an error value.
var (
	// ErrNoSuchApp is returned when a ProcessID is stale: the slot was
	// reused or the generation rotated after a restart.
	ErrNoSuchApp = errors.New("proc: no such app")

	// ErrOutOfMemory is returned when the grant break would cross the
	// heap break, or a break move would cross the grant break.
	ErrOutOfMemory = errors.New("proc: out of memory")

	// ErrAlreadyInProgress rejects re-entrant grant access from within a
	// grant closure on the same (capsule, process) pair.
	ErrAlreadyInProgress = errors.New("proc: grant already in progress")

	// ErrInactive is returned for operations on a faulted or terminated
	// process.
	ErrInactive = errors.New("proc: process is inactive")

	// ErrAddressOutOfBounds is returned when a process names memory it
	// does not own.
	ErrAddressOutOfBounds = errors.New("proc: address out of bounds")

	// ErrTaskQueueFull is returned when a process cannot accept more
	// pending upcalls.
	ErrTaskQueueFull = errors.New("proc: task queue full")

	// ErrBadState is returned for a state transition the machine does not
	// permit.
	ErrBadState = errors.New("proc: invalid state transition")
)
