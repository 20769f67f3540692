// Package syscall defines the process-to-kernel request surface consumed by
// the kernel main loop: the syscall variants, the reasons a context switch
// returns to the kernel, and the return codes handed back to processes.
//
// The package models the effect of the ABI on the core, not its bit-exact
// register encoding; encoding/decoding belongs to the architecture layer.
package syscall

import "fmt"

// Class discriminates the syscall variants a process can issue.
type Class int

const (
	// ClassYield stops the process until an upcall is ready. When Target is
	// set the process blocks for that one specific upcall.
	ClassYield Class = iota
	// ClassSubscribe registers (or clears) an upcall with a capsule driver.
	ClassSubscribe
	// ClassCommand invokes a capsule driver operation.
	ClassCommand
	// ClassAllow shares a slice of process memory with a capsule driver.
	ClassAllow
	// ClassMemop moves the process heap break (brk/sbrk).
	ClassMemop
	// ClassExit terminates the calling process with a completion code.
	ClassExit
)

func (c Class) String() string {
	switch c {
	case ClassYield:
		return "yield"
	case ClassSubscribe:
		return "subscribe"
	case ClassCommand:
		return "command"
	case ClassAllow:
		return "allow"
	case ClassMemop:
		return "memop"
	case ClassExit:
		return "exit"
	}
	return fmt.Sprintf("syscall(%d)", int(c))
}

// UpcallID names one subscribable upcall: a driver and one of its subscribe
// slots. A process blocked in YieldedFor waits for exactly one UpcallID.
type UpcallID struct {
	Driver    int
	Subscribe int
}

func (u UpcallID) String() string {
	return fmt.Sprintf("upcall %d.%d", u.Driver, u.Subscribe)
}

// Syscall carries one decoded request. Only the fields relevant to the Class
// are populated.
type Syscall struct {
	Class Class

	// Yield
	YieldTarget *UpcallID

	// Subscribe / Command / Allow
	Driver int
	Minor  int

	// Subscribe: 0 clears the subscription.
	UpcallPC uintptr
	// Subscribe/upcall userdata passed back verbatim.
	Userdata uintptr

	// Command arguments.
	Arg2, Arg3 uintptr

	// Allow: offset and length of the shared slice within process RAM.
	AllowOffset int
	AllowLen    int

	// Memop: operation 0 = brk(Arg2 as new break offset),
	// 1 = sbrk(Arg2 as signed increment).
	MemopOp int

	// Exit completion code.
	ExitCode int
}

// Yield constructs a plain yield request.
func Yield() Syscall { return Syscall{Class: ClassYield} }

// YieldFor constructs a yield request blocking on one specific upcall.
func YieldFor(id UpcallID) Syscall {
	return Syscall{Class: ClassYield, YieldTarget: &id}
}

// Command constructs a driver command request.
func Command(driver, minor int, arg2, arg3 uintptr) Syscall {
	return Syscall{Class: ClassCommand, Driver: driver, Minor: minor, Arg2: arg2, Arg3: arg3}
}

// Subscribe constructs an upcall subscription request.
func Subscribe(driver, minor int, pc, userdata uintptr) Syscall {
	return Syscall{Class: ClassSubscribe, Driver: driver, Minor: minor, UpcallPC: pc, Userdata: userdata}
}

// Allow constructs a memory-sharing request.
func Allow(driver, minor, offset, length int) Syscall {
	return Syscall{Class: ClassAllow, Driver: driver, Minor: minor, AllowOffset: offset, AllowLen: length}
}

// Exit constructs a termination request.
func Exit(code int) Syscall { return Syscall{Class: ClassExit, ExitCode: code} }
