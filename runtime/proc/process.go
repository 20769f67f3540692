package proc

import (
	"fmt"
	"sync"

	"github.com/minoskernel/minos/model"
	"github.com/minoskernel/minos/platform"
	"github.com/minoskernel/minos/syscall"
)

// grantEntry tracks one grant slot: lazily allocated, at most one borrower
// at a time.
type grantEntry struct {
	offset    int
	value     any
	allocated bool
	borrowed  bool
}

// Process is one loaded application: its identity, state machine, memory
// layout, pending upcall tasks and grant table. All mutating methods hold
// the process lock so capsules and the kernel loop can touch a process from
// different goroutines.
type Process struct {
	mu sync.Mutex

	id  ID
	app *model.App

	state    State
	memory   *Memory
	exec     platform.ExecutionState
	boundary platform.Boundary

	tasks    []Task
	maxTasks int

	grants []grantEntry

	initialBreak int
	restarts     int
	completionCh chan struct{}
	completed    bool
}

// New loads an application image into a fresh process slot. The entry-point
// upcall is queued immediately; the process stays Unstarted until the
// scheduler first picks it.
func New(index int, app *model.App, memory *Memory, boundary platform.Boundary, grantCount int) (*Process, error) {
	exec, err := boundary.NewState(app.Entry, memory.Bounds().AppBreak)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution state for %v: %w", app.Name, err)
	}
	maxTasks := app.TaskQueueLen
	if maxTasks <= 0 {
		maxTasks = model.DefaultTaskQueueLen
	}
	p := &Process{
		id:           ID{Index: index, Generation: 0},
		app:          app,
		state:        State{Code: Unstarted},
		memory:       memory,
		exec:         exec,
		boundary:     boundary,
		maxTasks:     maxTasks,
		grants:       make([]grantEntry, grantCount),
		initialBreak: memory.AppBreak(),
		completionCh: make(chan struct{}),
	}
	p.tasks = append(p.tasks, Task{
		Kind: TaskFunctionCall,
		Call: syscall.FunctionCall{
			Source: syscall.SourceKernel,
			PC:     app.Entry,
			Args:   [4]uintptr{memory.Bounds().FlashStart, memory.Bounds().RAMStart, uintptr(memory.RAMSize()), memory.Bounds().AppBreak},
		},
	})
	return p, nil
}

// ID returns the current identifier; the generation changes on restart.
func (p *Process) ID() ID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id
}

// Name returns the application name from the loaded manifest.
func (p *Process) Name() string { return p.app.Name }

// App returns the loaded application description.
func (p *Process) App() *model.App { return p.app }

// Restarts returns how many times the process has been restarted after a
// fault.
func (p *Process) Restarts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.restarts
}

// State returns a snapshot of the lifecycle state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Exec returns the architecture execution state for context switching.
func (p *Process) Exec() platform.ExecutionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exec
}

// Memory exposes the layout bookkeeping. Callers must treat it as owned by
// the process and only touch it from kernel-loop context.
func (p *Process) Memory() *Memory { return p.memory }

// Done is closed once the process is terminated and its slot releasable.
func (p *Process) Done() <-chan struct{} { return p.completionCh }

// checkID rejects operations carrying a stale identifier from before a
// restart.
func (p *Process) checkID(id ID) error {
	if id != p.id {
		return ErrNoSuchApp
	}
	return nil
}

// SetRunning marks the process as executing. Valid from Unstarted, Yielded
// and YieldedFor.
func (p *Process) SetRunning() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state.Code {
	case Unstarted, Yielded, YieldedFor, Running:
		p.state = State{Code: Running}
		return nil
	default:
		return fmt.Errorf("%w: cannot run from %v", ErrBadState, p.state)
	}
}

// SetYielded parks the process until any upcall is ready.
func (p *Process) SetYielded() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.Code != Running {
		return fmt.Errorf("%w: cannot yield from %v", ErrBadState, p.state)
	}
	p.state = State{Code: Yielded}
	return nil
}

// SetYieldedFor parks the process until the specific upcall is ready.
func (p *Process) SetYieldedFor(id syscall.UpcallID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.Code != Running {
		return fmt.Errorf("%w: cannot yield from %v", ErrBadState, p.state)
	}
	p.state = State{Code: YieldedFor, WaitingOn: id}
	return nil
}

// Stop freezes the process, remembering the displaced state so Resume can
// return to it exactly. Stopping a stopped process keeps the original
// displaced state.
func (p *Process) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state.Code {
	case Stopped, Faulted, Terminated:
		return
	}
	prev := p.state
	p.state = State{Code: Stopped, Prev: &prev}
}

// Resume returns a stopped process to the state it was stopped in.
func (p *Process) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.Code != Stopped {
		return fmt.Errorf("%w: cannot resume from %v", ErrBadState, p.state)
	}
	p.state = *p.state.Prev
	return nil
}

// SetFaulted records a fault. A stopped process remembers the fault in its
// displaced state so a later Resume surfaces it rather than reviving the
// process. A faulted process accepts no work but stays restartable.
func (p *Process) SetFaulted() {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state.Code {
	case Stopped:
		p.state = State{Code: Stopped, Prev: &State{Code: Faulted}}
	case Terminated:
		// already inert
	default:
		p.state = State{Code: Faulted}
	}
}

// Terminate permanently retires the process and clears all queued work.
func (p *Process) Terminate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = State{Code: Terminated}
	p.tasks = nil
	p.signalInactive()
}

func (p *Process) signalInactive() {
	if !p.completed {
		p.completed = true
		close(p.completionCh)
	}
}

// Restart wipes the process for a fresh run: the generation increments so
// stale identifiers stop resolving, memory and grants reset, and the
// entry-point task is requeued. Only a terminated process cannot restart.
func (p *Process) Restart() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.completed {
		return ErrInactive
	}
	p.memory.Reset(p.initialBreak)
	exec, err := p.boundary.NewState(p.app.Entry, p.memory.Bounds().AppBreak)
	if err != nil {
		p.state = State{Code: Faulted}
		return fmt.Errorf("failed to recreate execution state for %v: %w", p.app.Name, err)
	}
	p.exec = exec
	p.id = ID{Index: p.id.Index, Generation: p.id.Generation + 1}
	p.restarts++
	for i := range p.grants {
		p.grants[i] = grantEntry{}
	}
	p.state = State{Code: Unstarted}
	p.tasks = p.tasks[:0]
	p.tasks = append(p.tasks, Task{
		Kind: TaskFunctionCall,
		Call: syscall.FunctionCall{
			Source: syscall.SourceKernel,
			PC:     p.app.Entry,
			Args:   [4]uintptr{p.memory.Bounds().FlashStart, p.memory.Bounds().RAMStart, uintptr(p.memory.RAMSize()), p.memory.Bounds().AppBreak},
		},
	})
	return nil
}

// EnqueueTask queues an upcall delivery for the process. The identifier must
// be current, the process active, and the queue below capacity.
func (p *Process) EnqueueTask(id ID, task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkID(id); err != nil {
		return err
	}
	if !p.state.Active() {
		return ErrInactive
	}
	if len(p.tasks) >= p.maxTasks {
		return ErrTaskQueueFull
	}
	p.tasks = append(p.tasks, task)
	return nil
}

// DequeueTask pops the next deliverable task. A process blocked in a
// targeted yield only accepts the upcall it is waiting on; everything else
// stays queued.
func (p *Process) DequeueTask() (Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.tasks) == 0 {
		return Task{}, false
	}
	if p.state.Code == YieldedFor {
		want := p.state.WaitingOn
		for i, t := range p.tasks {
			if up, ok := t.upcall(); ok && up == want {
				p.tasks = append(p.tasks[:i], p.tasks[i+1:]...)
				return t, true
			}
		}
		return Task{}, false
	}
	t := p.tasks[0]
	p.tasks = p.tasks[1:]
	return t, true
}

// PendingTasks reports how many deliveries are queued.
func (p *Process) PendingTasks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks)
}

// HasDeliverableTask reports whether DequeueTask would succeed right now.
func (p *Process) HasDeliverableTask() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.tasks) == 0 {
		return false
	}
	if p.state.Code != YieldedFor {
		return true
	}
	want := p.state.WaitingOn
	for _, t := range p.tasks {
		if up, ok := t.upcall(); ok && up == want {
			return true
		}
	}
	return false
}

// RemovePendingUpcalls drops every queued delivery for the given upcall and
// returns how many were removed. Capsules call this before re-registering an
// upcall so a swapped-out function can never fire.
func (p *Process) RemovePendingUpcalls(id syscall.UpcallID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.tasks[:0]
	removed := 0
	for _, t := range p.tasks {
		if up, ok := t.upcall(); ok && up == id {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	p.tasks = kept
	return removed
}

// EnterGrant runs fn with the grant value for slot number, allocating it on
// first entry. Reentrant entry of the same slot fails with
// ErrAlreadyInProgress; entering a grant of an inactive process fails with
// ErrInactive.
func (p *Process) EnterGrant(number, size, align int, create func() any, fn func(value any) error) error {
	p.mu.Lock()
	if !p.state.Active() {
		p.mu.Unlock()
		return ErrInactive
	}
	if number < 0 || number >= len(p.grants) {
		p.mu.Unlock()
		return fmt.Errorf("%w: grant %d out of range", ErrAddressOutOfBounds, number)
	}
	entry := &p.grants[number]
	if entry.borrowed {
		p.mu.Unlock()
		return ErrAlreadyInProgress
	}
	if !entry.allocated {
		offset, err := p.memory.AllocateGrant(size, align)
		if err != nil {
			p.mu.Unlock()
			return err
		}
		entry.offset = offset
		entry.value = create()
		entry.allocated = true
	}
	entry.borrowed = true
	value := entry.value
	p.mu.Unlock()

	err := fn(value)

	p.mu.Lock()
	p.grants[number].borrowed = false
	p.mu.Unlock()
	return err
}

// GrantAllocated reports whether a slot has been entered at least once.
func (p *Process) GrantAllocated(number int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return number >= 0 && number < len(p.grants) && p.grants[number].allocated
}

// Brk forwards a memop break move, keeping the MPU view and stale-identifier
// checks in one place.
func (p *Process) Brk(id ID, newBreak int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkID(id); err != nil {
		return 0, err
	}
	return p.memory.Brk(newBreak)
}

// Sbrk forwards a memop break increment.
func (p *Process) Sbrk(id ID, increment int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkID(id); err != nil {
		return 0, err
	}
	return p.memory.Sbrk(increment)
}

// AllowSlice validates a shared-buffer offer against the current layout.
func (p *Process) AllowSlice(id ID, offset, length int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkID(id); err != nil {
		return nil, err
	}
	if !p.state.Active() {
		return nil, ErrInactive
	}
	return p.memory.AllowSlice(offset, length)
}
