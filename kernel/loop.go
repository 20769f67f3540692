package kernel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/minoskernel/minos/platform"

	"github.com/minoskernel/minos/runtime/proc"
	"github.com/minoskernel/minos/service/event"
	"github.com/minoskernel/minos/service/scheduler"
	"github.com/minoskernel/minos/syscall"
	"github.com/minoskernel/minos/tracing"
)

// Run drives the kernel until ctx is cancelled: service interrupts and
// deferred calls, ask the scheduler, dispatch or sleep, tickle the watchdog.
// Interrupts are always drained before a scheduling decision.
func (k *Kernel) Run(ctx context.Context) error {
	k.chip.Watchdog().Setup()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		k.chip.Watchdog().Tickle()
		if k.Step(ctx) {
			continue
		}
		// Nothing dispatchable. Re-check for work with interrupts
		// suspended so an arriving interrupt cannot slip between the
		// check and the sleep.
		k.chip.Atomic(func() {
			if !k.chip.HasPendingInterrupts() && !k.deferred.HasPending() {
				k.chip.Sleep()
			}
		})
	}
}

// Step runs one loop iteration: drain interrupts and deferred calls, then
// dispatch at most one process. It reports whether a process was dispatched;
// false means the board is idle. Tests drive Step directly for determinism.
func (k *Kernel) Step(ctx context.Context) bool {
	k.chip.ServicePendingInterrupts()
	for k.deferred.Service() {
		k.chip.ServicePendingInterrupts()
	}
	decision := k.sched.Next(k)
	if decision.Idle {
		return false
	}
	k.dispatch(ctx, decision)
	return true
}

// dispatch executes one scheduling decision: it repeatedly context-switches
// into the process and interprets what comes back, until the process blocks,
// the timeslice ends or an interrupt demands service.
func (k *Kernel) dispatch(ctx context.Context, decision scheduler.Decision) {
	p, err := k.Lookup(decision.Process)
	if err != nil {
		// The process vanished between Next and dispatch.
		k.sched.Result(scheduler.StopNoWorkLeft, 0)
		return
	}
	ctx, span := tracing.StartSpan(ctx, "kernel.dispatch")
	span.WithAttributes(map[string]string{"process": decision.Process.String(), "app": p.Name()})

	systick := k.chip.SysTick()
	systick.Reset()
	metered := decision.Timeslice > 0
	if metered {
		systick.SetTimer(decision.Timeslice)
	}

	reason := scheduler.StopNoWorkLeft
	var remaining time.Duration

loop:
	for {
		if k.chip.HasPendingInterrupts() || k.deferred.HasPending() {
			reason = scheduler.StopKernelPreemption
			break
		}
		if metered && (systick.Expired() || systick.Remaining() < scheduler.MinQuanta) {
			reason = scheduler.StopTimesliceExpired
			k.events.Publish(ctx, event.New(event.KindExpired, p.ID(), p.Name(), ""))
			break
		}

		switch state := p.State(); state.Code {
		case proc.Running:
			if err := k.switchTo(ctx, p, systick); err != nil {
				k.applyFaultPolicy(ctx, p, err.Error())
			}

		case proc.Unstarted, proc.Yielded, proc.YieldedFor:
			task, ok := p.DequeueTask()
			if !ok {
				if state.Code == proc.YieldedFor {
					reason = scheduler.StopBlocked
				} else {
					reason = scheduler.StopNoWorkLeft
				}
				break loop
			}
			if err := k.deliver(ctx, p, state.Code, task); err != nil {
				k.applyFaultPolicy(ctx, p, err.Error())
			}

		case proc.Stopped:
			reason = scheduler.StopStopped
			break loop

		case proc.Faulted:
			reason = scheduler.StopFaulted
			break loop

		default: // Terminated
			reason = scheduler.StopNoWorkLeft
			break loop
		}
	}

	if metered && reason == scheduler.StopKernelPreemption {
		remaining = systick.Remaining()
	}
	systick.Reset()
	k.sched.Result(reason, remaining)
	tracing.EndSpan(span, nil)
}

// deliver stages a queued task into the process and marks it running.
func (k *Kernel) deliver(ctx context.Context, p *proc.Process, from proc.Code, task proc.Task) error {
	exec := p.Exec()
	var err error
	switch task.Kind {
	case proc.TaskFunctionCall:
		err = k.boundary.SetProcessFunction(exec, task.Call)
	case proc.TaskReturnValue:
		err = k.boundary.SetReturnValues(exec, task.Return)
	}
	if err != nil {
		return fmt.Errorf("failed to stage task: %w", err)
	}
	if err = p.SetRunning(); err != nil {
		return err
	}
	if from == proc.Unstarted {
		k.events.Publish(ctx, event.New(event.KindStarted, p.ID(), p.Name(), ""))
	}
	return nil
}

// switchTo performs one protected context switch and interprets the reason
// control came back.
func (k *Kernel) switchTo(ctx context.Context, p *proc.Process, systick platform.SysTick) error {
	mpu := k.chip.MPU()
	if err := mpu.Configure(p.Memory().Regions()); err != nil {
		// Region sets derive from allocator-rounded breaks; a refusal
		// means the allocator and the MPU disagree about alignment.
		panic(fmt.Sprintf("kernel: MPU rejected regions for %v: %v", p.ID(), err))
	}
	mpu.Enable()
	systick.Enable(true)
	reason, err := k.boundary.SwitchTo(p.Exec(), p.Memory().Bounds())
	systick.Enable(false)
	mpu.Disable()
	if err != nil {
		return fmt.Errorf("context switch failed: %w", err)
	}

	switch reason.Kind {
	case syscall.SwitchSyscall:
		k.handleSyscall(ctx, p, reason.Syscall)
	case syscall.SwitchFault:
		k.applyFaultPolicy(ctx, p, reason.Fault.String())
	case syscall.SwitchTimesliceExpired, syscall.SwitchInterrupted:
		// The loop head observes the systick and pending interrupts.
	}
	return nil
}

// handleSyscall services one decoded request from a process that just
// trapped into the kernel.
func (k *Kernel) handleSyscall(ctx context.Context, p *proc.Process, sc syscall.Syscall) {
	id := p.ID()
	exec := p.Exec()
	switch sc.Class {
	case syscall.ClassYield:
		if sc.YieldTarget != nil {
			_ = p.SetYieldedFor(*sc.YieldTarget)
		} else {
			_ = p.SetYielded()
		}
		k.events.Publish(ctx, event.New(event.KindYielded, id, p.Name(), ""))

	case syscall.ClassSubscribe:
		driver, ok := k.drivers.Driver(sc.Driver)
		if !ok {
			_ = k.boundary.SetSyscallReturn(exec, syscall.ReturnNoDevice)
			return
		}
		upcall := syscall.UpcallID{Driver: sc.Driver, Subscribe: sc.Minor}
		k.swapSubscription(id.Index, upcall, sc.UpcallPC, sc.Userdata)
		// A swapped-out function must never fire: drop queued
		// deliveries bound to the previous target.
		p.RemovePendingUpcalls(upcall)
		code := driver.Subscribe(id, sc.Minor, sc.UpcallPC != 0)
		_ = k.boundary.SetSyscallReturn(exec, code)

	case syscall.ClassCommand:
		driver, ok := k.drivers.Driver(sc.Driver)
		if !ok {
			_ = k.boundary.SetReturnValues(exec, syscall.ReturnArguments{retval(syscall.ReturnNoDevice), 0, 0})
			return
		}
		code, value := driver.Command(id, sc.Minor, sc.Arg2, sc.Arg3)
		_ = k.boundary.SetReturnValues(exec, syscall.ReturnArguments{retval(code), value, 0})

	case syscall.ClassAllow:
		driver, ok := k.drivers.Driver(sc.Driver)
		if !ok {
			_ = k.boundary.SetSyscallReturn(exec, syscall.ReturnNoDevice)
			return
		}
		buf, err := p.AllowSlice(id, sc.AllowOffset, sc.AllowLen)
		if err != nil {
			_ = k.boundary.SetSyscallReturn(exec, syscall.ReturnInvalid)
			return
		}
		code := driver.Allow(id, sc.Minor, buf)
		_ = k.boundary.SetSyscallReturn(exec, code)

	case syscall.ClassMemop:
		k.handleMemop(p, id, sc)

	case syscall.ClassExit:
		if sc.ExitCode == 1 {
			// Exit-restart: the process asks for a clean slate.
			if err := k.restart(ctx, p); err != nil {
				_ = k.TerminateProcess(ctx, id, "restart request failed")
			}
			return
		}
		_ = k.TerminateProcess(ctx, id, fmt.Sprintf("exit %d", sc.ExitCode))

	default:
		k.applyFaultPolicy(ctx, p, syscall.FaultInvalidSyscall.String())
	}
}

func (k *Kernel) handleMemop(p *proc.Process, id proc.ID, sc syscall.Syscall) {
	exec := p.Exec()
	var newBreak int
	var err error
	switch sc.MemopOp {
	case 0:
		newBreak, err = p.Brk(id, int(sc.Arg2))
	case 1:
		newBreak, err = p.Sbrk(id, int(int64(sc.Arg2)))
	default:
		_ = k.boundary.SetReturnValues(exec, syscall.ReturnArguments{retval(syscall.ReturnInvalid), 0, 0})
		return
	}
	code := syscall.ReturnSuccess
	switch {
	case err == nil:
	case errors.Is(err, proc.ErrOutOfMemory):
		code = syscall.ReturnNoMemory
	default:
		code = syscall.ReturnInvalid
	}
	_ = k.boundary.SetReturnValues(exec, syscall.ReturnArguments{retval(code), uintptr(newBreak), 0})
}

// retval encodes a return code for the register file; negative codes wrap
// into the architecture word the way the ABI expects.
func retval(code syscall.ReturnCode) uintptr {
	return uintptr(code)
}
