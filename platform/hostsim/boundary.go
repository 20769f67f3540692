package hostsim

import (
	"fmt"
	"sync"

	"github.com/minoskernel/minos/platform"
	"github.com/minoskernel/minos/syscall"
)

// AppFunc is a scripted application: each time the kernel switches into the
// process the function decides what the process "did" and returns the reason
// control comes back. App state lives in the closure; a restart builds a
// fresh closure.
type AppFunc func(sw *Switch) syscall.Reason

// Switch is one entry into a simulated process.
type Switch struct {
	State  *ExecState
	Bounds platform.MemoryBounds
}

// ExecState is the saved "register file" of a simulated process: the staged
// calls and return values the kernel handed it, and a switch counter.
type ExecState struct {
	mu sync.Mutex

	entry uintptr
	app   AppFunc

	staged   []syscall.FunctionCall
	returns  []syscall.ReturnArguments
	codes    []syscall.ReturnCode
	switches int
}

// Entry returns the program counter the state was created with.
func (s *ExecState) Entry() uintptr { return s.entry }

// Switches reports how many times the kernel dispatched this state.
func (s *ExecState) Switches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.switches
}

// LastCall returns the most recently staged function call.
func (s *ExecState) LastCall() (syscall.FunctionCall, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.staged) == 0 {
		return syscall.FunctionCall{}, false
	}
	return s.staged[len(s.staged)-1], true
}

// Calls returns every staged function call in delivery order.
func (s *ExecState) Calls() []syscall.FunctionCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]syscall.FunctionCall, len(s.staged))
	copy(out, s.staged)
	return out
}

// Returns returns every staged return-value set in delivery order.
func (s *ExecState) Returns() []syscall.ReturnArguments {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]syscall.ReturnArguments, len(s.returns))
	copy(out, s.returns)
	return out
}

// Codes returns every syscall return code handed to the process.
func (s *ExecState) Codes() []syscall.ReturnCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]syscall.ReturnCode, len(s.codes))
	copy(out, s.codes)
	return out
}

// Boundary simulates the userspace/kernel execution boundary by running
// scripted applications registered per entry point.
type Boundary struct {
	mu       sync.Mutex
	programs map[uintptr]func() AppFunc
}

// NewBoundary returns a boundary with no programs installed.
func NewBoundary() *Boundary {
	return &Boundary{programs: map[uintptr]func() AppFunc{}}
}

// Install registers the program for an entry point. The factory runs once
// per NewState so every (re)start gets fresh app state.
func (b *Boundary) Install(entry uintptr, factory func() AppFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.programs[entry] = factory
}

// NewState implements platform.Boundary.
func (b *Boundary) NewState(pc, stackTop uintptr) (platform.ExecutionState, error) {
	b.mu.Lock()
	factory, ok := b.programs[pc]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no program installed at %#x", pc)
	}
	return &ExecState{entry: pc, app: factory()}, nil
}

// SwitchTo implements platform.Boundary: it runs the scripted app until it
// "traps" and returns the scripted reason.
func (b *Boundary) SwitchTo(es platform.ExecutionState, bounds platform.MemoryBounds) (syscall.Reason, error) {
	state, ok := es.(*ExecState)
	if !ok {
		return syscall.Reason{}, fmt.Errorf("foreign execution state %T", es)
	}
	state.mu.Lock()
	state.switches++
	state.mu.Unlock()
	return state.app(&Switch{State: state, Bounds: bounds}), nil
}

// SetProcessFunction implements platform.Boundary.
func (b *Boundary) SetProcessFunction(es platform.ExecutionState, call syscall.FunctionCall) error {
	state, ok := es.(*ExecState)
	if !ok {
		return fmt.Errorf("foreign execution state %T", es)
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	state.staged = append(state.staged, call)
	return nil
}

// SetSyscallReturn implements platform.Boundary.
func (b *Boundary) SetSyscallReturn(es platform.ExecutionState, rc syscall.ReturnCode) error {
	state, ok := es.(*ExecState)
	if !ok {
		return fmt.Errorf("foreign execution state %T", es)
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	state.codes = append(state.codes, rc)
	return nil
}

// SetReturnValues implements platform.Boundary.
func (b *Boundary) SetReturnValues(es platform.ExecutionState, args syscall.ReturnArguments) error {
	state, ok := es.(*ExecState)
	if !ok {
		return fmt.Errorf("foreign execution state %T", es)
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	state.returns = append(state.returns, args)
	return nil
}

var _ platform.Boundary = (*Boundary)(nil)
