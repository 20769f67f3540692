// Package scheduler defines the contract between the kernel loop and the
// pluggable scheduling policies, plus the process queue the built-in
// policies share. Policies decide WHO runs and for HOW LONG; the kernel owns
// dispatching, timeslice enforcement and sleep.
package scheduler

import (
	"time"

	"github.com/minoskernel/minos/runtime/proc"
)

// DefaultTimeslice is the quantum preemptive policies hand out unless the
// board configures otherwise.
const DefaultTimeslice = 10 * time.Millisecond

// MinQuanta is the smallest remaining quantum worth dispatching. Resuming a
// process with less than this buys nothing but context-switch overhead, so
// both the kernel and the policies treat a shorter remainder as expired.
const MinQuanta = 500 * time.Microsecond

// Decision tells the kernel loop what to do next.
type Decision struct {
	// Process is the process to dispatch when Idle is false.
	Process proc.ID
	// Timeslice bounds the dispatch; zero means run unpreempted until the
	// process gives up the core.
	Timeslice time.Duration
	// Idle tells the kernel no process can make progress; it should
	// service interrupts and sleep.
	Idle bool
}

// StopReason tells the policy why the dispatched process came back.
type StopReason int

const (
	// StopNoWorkLeft: the process yielded or ran out of queued upcalls.
	StopNoWorkLeft StopReason = iota
	// StopBlocked: the process entered a targeted yield and its upcall is
	// not queued yet.
	StopBlocked
	// StopStopped: the process was administratively stopped mid-quantum.
	StopStopped
	// StopFaulted: the process trapped and fault handling took over.
	StopFaulted
	// StopTimesliceExpired: the process used up its whole quantum.
	StopTimesliceExpired
	// StopKernelPreemption: an interrupt needed service; the process
	// still has quantum left and did nothing wrong.
	StopKernelPreemption
)

func (r StopReason) String() string {
	switch r {
	case StopNoWorkLeft:
		return "noWorkLeft"
	case StopBlocked:
		return "blocked"
	case StopStopped:
		return "stopped"
	case StopFaulted:
		return "faulted"
	case StopTimesliceExpired:
		return "timesliceExpired"
	case StopKernelPreemption:
		return "kernelPreemption"
	}
	return "unknown"
}

// Voluntary reports whether the process gave up the core on its own. Only
// involuntary stops justify keeping the process at the head of a queue.
func (r StopReason) Voluntary() bool {
	return r != StopTimesliceExpired && r != StopKernelPreemption
}

// KernelView is the policy's read-only window into process state.
type KernelView interface {
	// Schedulable reports whether the process can make progress right
	// now: it is alive, not stopped, and not blocked on an undelivered
	// upcall.
	Schedulable(id proc.ID) bool
}

// Scheduler is a pluggable scheduling policy. The kernel loop calls Next and
// Result strictly alternating, from a single goroutine; implementations need
// no locking.
type Scheduler interface {
	// Register adds a newly loaded process to the policy's bookkeeping.
	Register(id proc.ID)

	// Unregister removes a terminated process.
	Unregister(id proc.ID)

	// Next picks the process to dispatch, or an idle decision when no
	// registered process is schedulable.
	Next(view KernelView) Decision

	// Result reports how the last dispatch ended. remaining is the
	// unused portion of the granted timeslice; policies that do not
	// meter time ignore it.
	Result(reason StopReason, remaining time.Duration)
}

// Policy kinds understood by board configuration.
const (
	KindCooperative = "cooperative"
	KindRoundRobin  = "round_robin"
)
