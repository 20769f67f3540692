package kernel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/minoskernel/minos/platform/hostsim"
	"github.com/minoskernel/minos/service/scheduler/cooperative"
	"github.com/minoskernel/minos/syscall"
)

func TestRun_IdleBoardSleepsAndTicklesWatchdog(t *testing.T) {
	h := newHarness(t, cooperative.New(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := h.kernel.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.True(t, h.chip.SimWatchdog().WasSetup())
	assert.Positive(t, h.chip.SimWatchdog().Tickles())
	assert.Positive(t, h.chip.Sleeps())
}

func TestRun_InterruptWakesSleepingKernel(t *testing.T) {
	h := newHarness(t, cooperative.New(), nil)

	id := h.loadApp(t, "waiter", 0x40, func() hostsim.AppFunc {
		step := 0
		return func(sw *hostsim.Switch) syscall.Reason {
			step++
			switch step {
			case 1:
				return syscall.Reason{Kind: syscall.SwitchSyscall, Syscall: syscall.Subscribe(0, 0, 0x80, 0)}
			case 2:
				return syscall.Reason{Kind: syscall.SwitchSyscall, Syscall: syscall.Yield()}
			default:
				return syscall.Reason{Kind: syscall.SwitchSyscall, Syscall: syscall.Exit(0)}
			}
		}
	})
	p, err := h.kernel.Lookup(id)
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- h.kernel.Run(ctx) }()

	// Let the kernel run the app to its yield and go idle, then fire the
	// simulated device.
	time.Sleep(5 * time.Millisecond)
	h.chip.RaiseInterrupt(func() {
		_ = h.kernel.ScheduleUpcall(id, syscall.UpcallID{Driver: 0, Subscribe: 0}, [3]uintptr{1, 0, 0})
	})

	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("upcall never reached the sleeping process")
	}
	cancel()
	assert.ErrorIs(t, <-runDone, context.Canceled)
}
