// Package cooperative implements run-to-completion scheduling: the head
// process runs unpreempted until it yields, exits or faults. Interrupt-driven
// kernel preemption pauses the head but does not rotate it, so a process
// never loses the core to a peer involuntarily.
package cooperative

import (
	"time"

	"github.com/minoskernel/minos/runtime/proc"
	"github.com/minoskernel/minos/service/scheduler"
)

// Scheduler rotates a ring of processes on voluntary stops only.
type Scheduler struct {
	queue scheduler.RingQueue

	// last is the process handed out by Next, so Result knows whom to
	// send to the back.
	last     proc.ID
	haveLast bool
}

// New returns an empty cooperative scheduler.
func New() *Scheduler {
	return &Scheduler{}
}

// Register implements scheduler.Scheduler.
func (s *Scheduler) Register(id proc.ID) {
	s.queue.Replace(id)
}

// Unregister implements scheduler.Scheduler.
func (s *Scheduler) Unregister(id proc.ID) {
	s.queue.Remove(id)
}

// Next scans from the head for a schedulable process. Blocked processes are
// probed in place, never rotated, so they keep their queue position until
// they run again.
func (s *Scheduler) Next(view scheduler.KernelView) scheduler.Decision {
	for _, id := range s.queue.Snapshot() {
		if view.Schedulable(id) {
			s.last = id
			s.haveLast = true
			return scheduler.Decision{Process: id}
		}
	}
	s.haveLast = false
	return scheduler.Decision{Idle: true}
}

// Result sends the dispatched process to the back of the queue only when it
// gave up the core itself.
func (s *Scheduler) Result(reason scheduler.StopReason, _ time.Duration) {
	if !s.haveLast {
		return
	}
	s.haveLast = false
	if !reason.Voluntary() {
		return
	}
	// The process may have terminated or restarted mid-dispatch; a stale
	// id must not displace the queue's current entry for that slot.
	if !s.queue.Contains(s.last) {
		return
	}
	s.queue.Remove(s.last)
	s.queue.Push(s.last)
}
