package scheduler

import "github.com/minoskernel/minos/runtime/proc"

// RingQueue is the rotation queue the built-in policies share: the head is
// the next candidate, rotation moves it to the back. It is not safe for
// concurrent use; policies run on the kernel loop goroutine only.
type RingQueue struct {
	ids []proc.ID
}

// Push appends a process at the back of the queue.
func (q *RingQueue) Push(id proc.ID) {
	q.ids = append(q.ids, id)
}

// Head returns the current front of the queue.
func (q *RingQueue) Head() (proc.ID, bool) {
	if len(q.ids) == 0 {
		return proc.ID{}, false
	}
	return q.ids[0], true
}

// Rotate moves the head to the back.
func (q *RingQueue) Rotate() {
	if len(q.ids) < 2 {
		return
	}
	head := q.ids[0]
	copy(q.ids, q.ids[1:])
	q.ids[len(q.ids)-1] = head
}

// Remove deletes every entry sharing the slot index with id, preserving
// order. Matching by index keeps a restarted process (new generation, same
// slot) from being queued twice.
func (q *RingQueue) Remove(id proc.ID) {
	kept := q.ids[:0]
	for _, candidate := range q.ids {
		if candidate.Index == id.Index {
			continue
		}
		kept = append(kept, candidate)
	}
	q.ids = kept
}

// Replace swaps the queued entry for id's slot with id itself, so a restart
// updates the generation in place without losing queue position.
func (q *RingQueue) Replace(id proc.ID) {
	for i, candidate := range q.ids {
		if candidate.Index == id.Index {
			q.ids[i] = id
			return
		}
	}
	q.ids = append(q.ids, id)
}

// Contains reports whether this exact id (slot and generation) is queued.
// A terminated process is gone and a restarted one carries a newer
// generation, so both make stale ids report false.
func (q *RingQueue) Contains(id proc.ID) bool {
	for _, candidate := range q.ids {
		if candidate == id {
			return true
		}
	}
	return false
}

// Len returns the number of queued processes.
func (q *RingQueue) Len() int { return len(q.ids) }

// Snapshot copies the queue in order, head first.
func (q *RingQueue) Snapshot() []proc.ID {
	out := make([]proc.ID, len(q.ids))
	copy(out, q.ids)
	return out
}
