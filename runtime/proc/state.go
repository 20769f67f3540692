package proc

import (
	"fmt"

	"github.com/minoskernel/minos/syscall"
)

// Code enumerates the process state machine.
type Code int

const (
	// Unstarted: loaded but never dispatched. The entry-point call sits in
	// the task queue waiting for the first dispatch.
	Unstarted Code = iota
	// Running: the process has work and expects to execute when scheduled.
	Running
	// Yielded: the process gave up the core and waits for any upcall.
	Yielded
	// YieldedFor: the process waits for one specific upcall and must not
	// be scheduled until it is delivered.
	YieldedFor
	// Stopped: administratively paused; the prior state is preserved
	// exactly and restored on resume.
	Stopped
	// Faulted: trapped with no recovery applied yet; never schedulable.
	Faulted
	// Terminated: the slot is releasable; all IDs referencing it are
	// stale.
	Terminated
)

func (c Code) String() string {
	switch c {
	case Unstarted:
		return "unstarted"
	case Running:
		return "running"
	case Yielded:
		return "yielded"
	case YieldedFor:
		return "yieldedFor"
	case Stopped:
		return "stopped"
	case Faulted:
		return "faulted"
	case Terminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int(c))
}

// State is the full machine state, carrying the upcall a YieldedFor process
// waits on and the exact prior state of a Stopped process.
type State struct {
	Code Code
	// WaitingOn is meaningful when Code is YieldedFor.
	WaitingOn syscall.UpcallID
	// Prev is meaningful when Code is Stopped.
	Prev *State
}

func (s State) String() string {
	switch s.Code {
	case YieldedFor:
		return fmt.Sprintf("yieldedFor(%v)", s.WaitingOn)
	case Stopped:
		return fmt.Sprintf("stopped(%v)", s.Prev)
	}
	return s.Code.String()
}

// Schedulable reports whether the scheduler may hand this process to the
// kernel loop. Unstarted counts as ready so the first dispatch can happen;
// YieldedFor and Stopped are explicitly excluded.
func (s State) Schedulable() bool {
	return s.Code == Running || s.Code == Yielded || s.Code == Unstarted
}

// Active reports whether the process can still accept work. Faulted and
// terminated processes cannot, including a process stopped while faulted.
func (s State) Active() bool {
	if s.Code == Stopped && s.Prev != nil {
		return s.Prev.Active()
	}
	return s.Code != Faulted && s.Code != Terminated
}
