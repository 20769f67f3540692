// Package roundrobin implements preemptive round-robin scheduling with a
// fixed timeslice. A process that exhausts its quantum moves to the back;
// a process preempted for interrupt service keeps its place and its unused
// quantum, unless too little remains to be worth another dispatch.
package roundrobin

import (
	"time"

	"github.com/minoskernel/minos/runtime/proc"
	"github.com/minoskernel/minos/service/scheduler"
)

// Scheduler hands out equal quanta in queue order.
type Scheduler struct {
	queue     scheduler.RingQueue
	timeslice time.Duration

	// last is the process handed out by Next, so Result knows whom to
	// send to the back.
	last     proc.ID
	haveLast bool

	// remaining is the unused quantum of carrier after a kernel
	// preemption; zero means the next dispatch gets a fresh timeslice.
	remaining time.Duration
	carrier   proc.ID
}

// New returns a round-robin scheduler with the given quantum; zero or
// negative picks the default.
func New(timeslice time.Duration) *Scheduler {
	if timeslice <= 0 {
		timeslice = scheduler.DefaultTimeslice
	}
	return &Scheduler{timeslice: timeslice}
}

// Register implements scheduler.Scheduler.
func (s *Scheduler) Register(id proc.ID) {
	s.queue.Replace(id)
}

// Unregister implements scheduler.Scheduler.
func (s *Scheduler) Unregister(id proc.ID) {
	s.queue.Remove(id)
	s.remaining = 0
}

// Next picks the first schedulable process in queue order without disturbing
// the queue, granting it its carried-over quantum if one is pending,
// otherwise a fresh one. Blocked processes keep their position.
func (s *Scheduler) Next(view scheduler.KernelView) scheduler.Decision {
	for _, id := range s.queue.Snapshot() {
		if !view.Schedulable(id) {
			continue
		}
		quantum := s.timeslice
		if s.remaining > 0 && id.Index == s.carrier.Index {
			quantum = s.remaining
		}
		s.last = id
		s.haveLast = true
		return scheduler.Decision{Process: id, Timeslice: quantum}
	}
	s.haveLast = false
	return scheduler.Decision{Idle: true}
}

// Result sends the dispatched process to the back on voluntary stops and
// expiry. On kernel preemption it keeps its place and its remaining quantum,
// but a remainder below the minimum worthwhile quantum counts as spent.
func (s *Scheduler) Result(reason scheduler.StopReason, remaining time.Duration) {
	if !s.haveLast {
		return
	}
	s.haveLast = false
	if reason == scheduler.StopKernelPreemption && remaining >= scheduler.MinQuanta {
		s.remaining = remaining
		s.carrier = s.last
		return
	}
	s.remaining = 0
	// The process may have terminated or restarted mid-dispatch; a stale
	// id must not displace the queue's current entry for that slot.
	if !s.queue.Contains(s.last) {
		return
	}
	s.queue.Remove(s.last)
	s.queue.Push(s.last)
}

// Timeslice returns the configured quantum.
func (s *Scheduler) Timeslice() time.Duration { return s.timeslice }
