// Package kernel owns the process slot table, the grant numbering, the
// upcall subscriptions and the main scheduling loop. There is exactly one
// Kernel per board; every collaborator receives it by reference, never
// through globals.
package kernel

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/minoskernel/minos/model"
	"github.com/minoskernel/minos/platform"
	"github.com/minoskernel/minos/policy"
	"github.com/minoskernel/minos/runtime/proc"
	"github.com/minoskernel/minos/service/capsule"
	"github.com/minoskernel/minos/service/deferred"
	"github.com/minoskernel/minos/service/event"
	"github.com/minoskernel/minos/service/grant"
	"github.com/minoskernel/minos/service/scheduler"
	"github.com/minoskernel/minos/syscall"
)

// Config sizes the slot table and places process memory.
type Config struct {
	// Slots is the process table capacity.
	Slots int
	// Flash is the execute-in-place region application binaries occupy.
	Flash platform.Region
	// RAM backs process memory; each slot gets the largest power-of-two
	// share of the even split, and Start must be aligned to that share.
	RAM platform.Region
}

// subscription is one registered upcall target for a process.
type subscription struct {
	pc       uintptr
	userdata uintptr
}

// Kernel is the single mutable kernel state: slot table, grant numbering and
// subscription tables. The main loop in loop.go drives it.
type Kernel struct {
	config   Config
	chip     platform.Chip
	boundary platform.Boundary
	sched    scheduler.Scheduler
	drivers  *capsule.Registry
	policy   *policy.Policy
	events   *event.Service
	deferred *deferred.Registry

	mu        sync.Mutex
	slots     []*proc.Process
	subs      []map[syscall.UpcallID]subscription
	slotSize  int
	nextFlash int

	grantCount     int
	grantsFinal    bool
	faultDumps     io.Writer
	droppedUpcalls uint64
}

// New assembles a kernel from its collaborators. All arguments are required
// except policy (nil means restart once, then stop).
func New(config Config, chip platform.Chip, boundary platform.Boundary, sched scheduler.Scheduler,
	drivers *capsule.Registry, pol *policy.Policy, events *event.Service) (*Kernel, error) {
	if config.Slots <= 0 {
		return nil, fmt.Errorf("kernel needs at least one process slot")
	}
	if chip == nil || boundary == nil || sched == nil || drivers == nil || events == nil {
		return nil, fmt.Errorf("kernel is missing a collaborator")
	}
	// Slot bases must satisfy the natural-alignment rule for any protected
	// region a process can legally grow, so the per-slot budget is the
	// largest power of two fitting the even share, and the RAM base must
	// be aligned to it.
	slotSize := roundDownPow2(config.RAM.Size / config.Slots)
	if slotSize <= 0 {
		return nil, fmt.Errorf("RAM region %v cannot back %d slots", config.RAM, config.Slots)
	}
	if config.RAM.Start%uintptr(slotSize) != 0 {
		return nil, fmt.Errorf("RAM base %#x is not aligned to the %d-byte slot size", config.RAM.Start, slotSize)
	}
	return &Kernel{
		config:     config,
		chip:       chip,
		boundary:   boundary,
		sched:      sched,
		drivers:    drivers,
		policy:     pol,
		events:     events,
		deferred:   deferred.NewRegistry(),
		slots:      make([]*proc.Process, config.Slots),
		slotSize:   slotSize,
		subs:       make([]map[syscall.UpcallID]subscription, config.Slots),
		faultDumps: os.Stderr,
	}, nil
}

// Deferred exposes the deferred-call registry for capsules built during
// board init.
func (k *Kernel) Deferred() *deferred.Registry { return k.deferred }

// SetFaultDumpWriter redirects process panic dumps, primarily for tests.
func (k *Kernel) SetFaultDumpWriter(w io.Writer) { k.faultDumps = w }

// AllocateGrantNumber implements grant.Registrar. Grants are created during
// board init only; asking for one after the first process was loaded is a
// board bug and panics.
func (k *Kernel) AllocateGrantNumber() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.grantsFinal {
		panic("kernel: grant created after processes were loaded")
	}
	n := k.grantCount
	k.grantCount++
	return n
}

// GrantCount returns how many grant slots each process carries.
func (k *Kernel) GrantCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.grantsFinal = true
	return k.grantCount
}

// Lookup implements grant.Registrar: it resolves an identifier to its live
// process, rejecting stale generations.
func (k *Kernel) Lookup(id proc.ID) (*proc.Process, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.lookupLocked(id)
}

func (k *Kernel) lookupLocked(id proc.ID) (*proc.Process, error) {
	if id.Index < 0 || id.Index >= len(k.slots) {
		return nil, proc.ErrNoSuchApp
	}
	p := k.slots[id.Index]
	if p == nil || p.ID() != id {
		return nil, proc.ErrNoSuchApp
	}
	return p, nil
}

// Processes returns the occupied slots in index order.
func (k *Kernel) Processes() []*proc.Process {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]*proc.Process, 0, len(k.slots))
	for _, p := range k.slots {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

// LoadProcess commits a verified app image to a free slot. The first load
// finalizes the grant count. The flash placement grows monotonically; RAM is
// a fixed power-of-two share per slot.
func (k *Kernel) LoadProcess(ctx context.Context, app *model.App) (proc.ID, error) {
	if err := app.Validate(); err != nil {
		return proc.ID{}, err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.grantsFinal = true

	index := -1
	for i, p := range k.slots {
		if p == nil {
			index = i
			break
		}
	}
	if index < 0 {
		return proc.ID{}, fmt.Errorf("no free process slot for %q (%d slots)", app.Name, len(k.slots))
	}

	// Place the image so its absolute address is naturally aligned to its
	// rounded size, keeping the flash protection region satisfiable.
	flashSize := roundUpPow2(len(app.Binary))
	flashStart := (k.config.Flash.Start + uintptr(k.nextFlash) + uintptr(flashSize-1)) &^ uintptr(flashSize-1)
	flashLimit := k.config.Flash.Start + uintptr(k.config.Flash.Size)
	if flashStart+uintptr(flashSize) > flashLimit {
		left := 0
		if flashLimit > flashStart {
			left = int(flashLimit - flashStart)
		}
		return proc.ID{}, fmt.Errorf("flash exhausted loading %q: need %d, %d left",
			app.Name, flashSize, left)
	}

	if app.MinRAM > k.slotSize {
		return proc.ID{}, fmt.Errorf("app %q needs %d bytes of RAM, slot budget is %d",
			app.Name, app.MinRAM, k.slotSize)
	}
	ramStart := k.config.RAM.Start + uintptr(index*k.slotSize)

	memory, err := proc.NewMemory(flashStart, app.Binary, ramStart, k.slotSize, app.MinRAM)
	if err != nil {
		return proc.ID{}, fmt.Errorf("app %q: %w", app.Name, err)
	}
	p, err := proc.New(index, app, memory, k.boundary, k.grantCount)
	if err != nil {
		return proc.ID{}, err
	}
	k.nextFlash = int(flashStart + uintptr(flashSize) - k.config.Flash.Start)
	k.slots[index] = p
	k.subs[index] = map[syscall.UpcallID]subscription{}
	id := p.ID()
	k.sched.Register(id)
	k.events.Publish(ctx, event.New(event.KindLoaded, id, app.Name, ""))
	return id, nil
}

// ScheduleUpcall implements capsule.Upcaller: it resolves the process's
// registered upcall function and queues a delivery. A cleared or
// never-registered upcall is dropped silently, matching null-upcall
// semantics; a full task queue drops the delivery and reports it.
func (k *Kernel) ScheduleUpcall(id proc.ID, upcall syscall.UpcallID, args [3]uintptr) error {
	k.mu.Lock()
	p, err := k.lookupLocked(id)
	if err != nil {
		k.mu.Unlock()
		return err
	}
	sub, ok := k.subs[id.Index][upcall]
	k.mu.Unlock()
	if !ok || sub.pc == 0 {
		return nil
	}
	err = p.EnqueueTask(id, proc.Task{
		Kind: proc.TaskFunctionCall,
		Call: syscall.FunctionCall{
			Source: syscall.SourceDriver,
			Upcall: upcall,
			PC:     sub.pc,
			Args:   [4]uintptr{args[0], args[1], args[2], sub.userdata},
		},
	})
	if err != nil {
		k.mu.Lock()
		k.droppedUpcalls++
		k.mu.Unlock()
	}
	return err
}

// DroppedUpcalls reports deliveries lost to full task queues.
func (k *Kernel) DroppedUpcalls() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.droppedUpcalls
}

// swapSubscription installs (or clears, for pc == 0) an upcall target and
// returns whether a previous target existed.
func (k *Kernel) swapSubscription(index int, upcall syscall.UpcallID, pc, userdata uintptr) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.subs[index] == nil {
		k.subs[index] = map[syscall.UpcallID]subscription{}
	}
	_, existed := k.subs[index][upcall]
	if pc == 0 {
		delete(k.subs[index], upcall)
	} else {
		k.subs[index][upcall] = subscription{pc: pc, userdata: userdata}
	}
	return existed
}

// StopProcess freezes a process at the next kernel entry.
func (k *Kernel) StopProcess(ctx context.Context, id proc.ID) error {
	p, err := k.Lookup(id)
	if err != nil {
		return err
	}
	p.Stop()
	k.events.Publish(ctx, event.New(event.KindStopped, id, p.Name(), ""))
	return nil
}

// ResumeProcess returns a stopped process to its pre-stop state.
func (k *Kernel) ResumeProcess(ctx context.Context, id proc.ID) error {
	p, err := k.Lookup(id)
	if err != nil {
		return err
	}
	if err = p.Resume(); err != nil {
		return err
	}
	k.events.Publish(ctx, event.New(event.KindResumed, id, p.Name(), ""))
	return nil
}

// TerminateProcess retires a process permanently and releases its scheduler
// registration. The slot stays occupied so its memory map remains
// inspectable.
func (k *Kernel) TerminateProcess(ctx context.Context, id proc.ID, detail string) error {
	p, err := k.Lookup(id)
	if err != nil {
		return err
	}
	p.Terminate()
	k.clearSubscriptions(id.Index)
	k.sched.Unregister(id)
	k.events.Publish(ctx, event.New(event.KindTerminated, id, p.Name(), detail))
	return nil
}

// RestartProcess wipes and reloads a process in place: fresh memory, fresh
// generation, entry point requeued. Subscriptions and pending upcalls from
// the previous generation are discarded.
func (k *Kernel) RestartProcess(ctx context.Context, id proc.ID) error {
	p, err := k.Lookup(id)
	if err != nil {
		return err
	}
	return k.restart(ctx, p)
}

func (k *Kernel) restart(ctx context.Context, p *proc.Process) error {
	old := p.ID()
	if err := p.Restart(); err != nil {
		return err
	}
	k.clearSubscriptions(old.Index)
	id := p.ID()
	k.sched.Register(id)
	k.events.Publish(ctx, event.New(event.KindRestarted, id, p.Name(),
		fmt.Sprintf("generation %d -> %d", old.Generation, id.Generation)))
	return nil
}

func (k *Kernel) clearSubscriptions(index int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.subs[index] = map[syscall.UpcallID]subscription{}
}

// applyFaultPolicy runs the board's fault decision table against a process
// that just trapped.
func (k *Kernel) applyFaultPolicy(ctx context.Context, p *proc.Process, detail string) {
	id := p.ID()
	action := k.policy.Decide(p.Name(), p.Restarts())
	k.events.Publish(ctx, event.New(event.KindFaulted, id, p.Name(), detail))
	switch action {
	case policy.ActionPanic:
		_ = p.Print(k.faultDumps)
		panic(fmt.Sprintf("kernel: process %v (%s) faulted: %s", id, p.Name(), detail))
	case policy.ActionRestart:
		p.SetFaulted()
		if err := k.restart(ctx, p); err != nil {
			k.sched.Unregister(id)
		}
	default: // ActionStop
		p.SetFaulted()
		k.sched.Unregister(id)
	}
}

// Schedulable implements scheduler.KernelView: a process is worth
// dispatching when it is running or unstarted, or parked in a yield with a
// deliverable task queued.
func (k *Kernel) Schedulable(id proc.ID) bool {
	p, err := k.Lookup(id)
	if err != nil {
		return false
	}
	switch p.State().Code {
	case proc.Running, proc.Unstarted:
		return true
	case proc.Yielded, proc.YieldedFor:
		return p.HasDeliverableTask()
	default:
		return false
	}
}

// Work counts outstanding work items: dispatchable processes plus their
// queued tasks. The loop sleeps only when it reaches zero and no interrupt
// or deferred call is pending.
func (k *Kernel) Work() int {
	work := 0
	for _, p := range k.Processes() {
		if k.Schedulable(p.ID()) {
			work += 1 + p.PendingTasks()
		}
	}
	return work
}

// PrintProcesses dumps every occupied slot, for panics and diagnostics.
func (k *Kernel) PrintProcesses(w io.Writer) error {
	for _, p := range k.Processes() {
		if err := p.Print(w); err != nil {
			return err
		}
	}
	return nil
}

var _ grant.Registrar = (*Kernel)(nil)
var _ capsule.Upcaller = (*Kernel)(nil)
var _ scheduler.KernelView = (*Kernel)(nil)

func roundUpPow2(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func roundDownPow2(n int) int {
	if n <= 0 {
		return 0
	}
	p := 1
	for p<<1 <= n {
		p <<= 1
	}
	return p
}
