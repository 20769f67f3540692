package platform

import "github.com/minoskernel/minos/syscall"

// ExecutionState is the opaque saved register file of one process. Only the
// boundary implementation that created it may interpret it; the kernel moves
// it around as a value.
type ExecutionState interface{}

// MemoryBounds tells the boundary where the process is allowed to execute
// and touch memory for the duration of one switch.
type MemoryBounds struct {
	FlashStart uintptr
	FlashSize  int
	RAMStart   uintptr
	// AppBreak is the first address past the process-accessible RAM.
	AppBreak uintptr
}

// Boundary is the architecture-specific userspace/kernel execution boundary.
// Implementations own the register-save layout and the switch mechanism; the
// kernel sees only this contract.
type Boundary interface {
	// NewState builds the initial saved state for a process entering at pc
	// with the given initial stack top.
	NewState(pc, stackTop uintptr) (ExecutionState, error)

	// SwitchTo resumes the process until it syscalls, faults, exhausts its
	// timeslice, or an interrupt preempts it. An error return means the
	// switch itself failed and the process must be faulted.
	SwitchTo(es ExecutionState, bounds MemoryBounds) (syscall.Reason, error)

	// SetProcessFunction rewrites the state so the next switch executes
	// call, typically an upcall into the process.
	SetProcessFunction(es ExecutionState, call syscall.FunctionCall) error

	// SetSyscallReturn stores the return value of the syscall the process
	// is blocked in.
	SetSyscallReturn(es ExecutionState, rc syscall.ReturnCode) error

	// SetReturnValues stores the values delivered to a process resumed
	// from a yield-for wait.
	SetReturnValues(es ExecutionState, args syscall.ReturnArguments) error
}
