package syscall

import "fmt"

// FaultKind classifies the trap that interrupted a process.
type FaultKind int

const (
	// FaultMemory is an access outside the active MPU region set.
	FaultMemory FaultKind = iota
	// FaultIllegalInstruction is an undefined or privileged instruction.
	FaultIllegalInstruction
	// FaultUnaligned is an unaligned access on architectures that trap it.
	FaultUnaligned
	// FaultInvalidSyscall is a request the kernel could not decode.
	FaultInvalidSyscall
)

func (k FaultKind) String() string {
	switch k {
	case FaultMemory:
		return "memory violation"
	case FaultIllegalInstruction:
		return "illegal instruction"
	case FaultUnaligned:
		return "unaligned access"
	case FaultInvalidSyscall:
		return "invalid syscall"
	}
	return fmt.Sprintf("fault(%d)", int(k))
}

// SwitchReason reports why a context switch returned control to the kernel.
type SwitchReason int

const (
	// SwitchSyscall: the process issued a syscall; Reason.Syscall is set.
	SwitchSyscall SwitchReason = iota
	// SwitchFault: the process trapped; Reason.Fault is set.
	SwitchFault
	// SwitchTimesliceExpired: the timeslice timer fired (round-robin only).
	SwitchTimesliceExpired
	// SwitchInterrupted: a hardware interrupt arrived; the kernel preempted
	// the process only to service it. The process keeps its claim to run.
	SwitchInterrupted
)

// Reason is the full outcome of one context switch into a process.
type Reason struct {
	Kind    SwitchReason
	Syscall Syscall
	Fault   FaultKind
}

func (r Reason) String() string {
	switch r.Kind {
	case SwitchSyscall:
		return "syscall " + r.Syscall.Class.String()
	case SwitchFault:
		return "fault: " + r.Fault.String()
	case SwitchTimesliceExpired:
		return "timeslice expired"
	case SwitchInterrupted:
		return "interrupted"
	}
	return fmt.Sprintf("reason(%d)", int(r.Kind))
}
