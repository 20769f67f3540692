package kernel

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/minoskernel/minos/internal/clock"
	"github.com/minoskernel/minos/model"
	"github.com/minoskernel/minos/platform"
	"github.com/minoskernel/minos/platform/hostsim"
	"github.com/minoskernel/minos/policy"
	"github.com/minoskernel/minos/runtime/proc"
	"github.com/minoskernel/minos/service/capsule"
	"github.com/minoskernel/minos/service/event"
	"github.com/minoskernel/minos/service/grant"
	"github.com/minoskernel/minos/service/scheduler"
	"github.com/minoskernel/minos/service/scheduler/cooperative"
	"github.com/minoskernel/minos/service/scheduler/roundrobin"
	"github.com/minoskernel/minos/syscall"
)

// alarmDriver is a minimal capsule: command 1 arms a simulated hardware
// alarm that fires as an interrupt and schedules the subscribed upcall.
type alarmDriver struct {
	chip     *hostsim.Chip
	upcaller capsule.Upcaller
	allowed  map[proc.ID]int
}

func (d *alarmDriver) Command(id proc.ID, minor int, arg2, _ uintptr) (syscall.ReturnCode, uintptr) {
	switch minor {
	case 0:
		return syscall.ReturnSuccess, 0
	case 1:
		d.chip.RaiseInterrupt(func() {
			_ = d.upcaller.ScheduleUpcall(id, syscall.UpcallID{Driver: 0, Subscribe: 0}, [3]uintptr{arg2, 0, 0})
		})
		return syscall.ReturnSuccess, 0
	}
	return syscall.ReturnInvalid, 0
}

func (d *alarmDriver) Subscribe(_ proc.ID, minor int, _ bool) syscall.ReturnCode {
	if minor > 1 {
		return syscall.ReturnInvalid
	}
	return syscall.ReturnSuccess
}

func (d *alarmDriver) Allow(id proc.ID, _ int, buf []byte) syscall.ReturnCode {
	if d.allowed == nil {
		d.allowed = map[proc.ID]int{}
	}
	d.allowed[id] = len(buf)
	return syscall.ReturnSuccess
}

type harness struct {
	chip     *hostsim.Chip
	boundary *hostsim.Boundary
	drivers  *capsule.Registry
	events   *event.Service
	journal  *event.Journal
	kernel   *Kernel
	alarm    *alarmDriver
}

func newHarness(t *testing.T, sched scheduler.Scheduler, pol *policy.Policy) *harness {
	t.Helper()
	return newHarnessRAM(t, sched, pol, 64<<10)
}

func newHarnessRAM(t *testing.T, sched scheduler.Scheduler, pol *policy.Policy, ramSize int) *harness {
	t.Helper()
	h := &harness{
		chip:     hostsim.NewChip(),
		boundary: hostsim.NewBoundary(),
		drivers:  capsule.NewRegistry(),
		events:   event.NewService(),
		journal:  event.NewJournal(0),
	}
	k, err := New(Config{
		Slots: 4,
		Flash: platform.Region{Start: 0x0010_0000, Size: 64 << 10, Perms: platform.PermReadExecute},
		RAM:   platform.Region{Start: 0x2000_0000, Size: ramSize, Perms: platform.PermReadWrite},
	}, h.chip, h.boundary, sched, h.drivers, pol, h.events)
	assert.NoError(t, err)
	h.kernel = k
	h.events.Subscribe(h.journal.Record)
	h.events.Start(context.Background())
	t.Cleanup(h.events.Shutdown)

	h.alarm = &alarmDriver{chip: h.chip, upcaller: k}
	assert.NoError(t, h.drivers.Install(0, h.alarm))
	return h
}

func (h *harness) loadApp(t *testing.T, name string, entry uintptr, factory func() hostsim.AppFunc) proc.ID {
	t.Helper()
	h.boundary.Install(entry, factory)
	id, err := h.kernel.LoadProcess(context.Background(), &model.App{
		Name:    name,
		Version: "1.0.0",
		Binary:  make([]byte, 256),
		Entry:   entry,
		MinRAM:  4 << 10,
	})
	assert.NoError(t, err)
	return id
}

// run pumps the kernel until it reports idle, bounded to keep a broken loop
// from hanging the suite.
func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		h.kernel.Step(ctx)
		if !h.chip.HasPendingInterrupts() && !h.kernel.Deferred().HasPending() && h.kernel.Work() == 0 {
			return
		}
	}
	t.Fatal("kernel did not go idle")
}

func (h *harness) waitKinds(t *testing.T, kinds ...event.Kind) {
	t.Helper()
	assert.Eventually(t, func() bool {
		seen := map[event.Kind]bool{}
		for _, e := range h.journal.Events() {
			seen[e.Kind] = true
		}
		for _, kind := range kinds {
			if !seen[kind] {
				return false
			}
		}
		return true
	}, time.Second, time.Millisecond)
}

func TestKernel_UpcallRoundTrip(t *testing.T) {
	h := newHarness(t, cooperative.New(), nil)

	var seenUpcall *syscall.FunctionCall
	id := h.loadApp(t, "blink", 0x40, func() hostsim.AppFunc {
		step := 0
		return func(sw *hostsim.Switch) syscall.Reason {
			step++
			switch step {
			case 1:
				return syscall.Reason{Kind: syscall.SwitchSyscall, Syscall: syscall.Subscribe(0, 0, 0x80, 7)}
			case 2:
				return syscall.Reason{Kind: syscall.SwitchSyscall, Syscall: syscall.Command(0, 1, 42, 0)}
			case 3:
				return syscall.Reason{Kind: syscall.SwitchSyscall, Syscall: syscall.Yield()}
			default:
				if call, ok := sw.State.LastCall(); ok && call.PC == 0x80 {
					seenUpcall = &call
				}
				return syscall.Reason{Kind: syscall.SwitchSyscall, Syscall: syscall.Exit(0)}
			}
		}
	})

	h.run(t)

	p, err := h.kernel.Lookup(id)
	assert.NoError(t, err)
	assert.Equal(t, proc.Terminated, p.State().Code)

	// The subscribed upcall fired with the driver's payload and the
	// userdata handed back verbatim.
	if assert.NotNil(t, seenUpcall) {
		assert.Equal(t, syscall.SourceDriver, seenUpcall.Source)
		assert.Equal(t, [4]uintptr{42, 0, 0, 7}, seenUpcall.Args)
	}
	assert.Positive(t, h.chip.SimMPU().Configures())
	assert.False(t, h.chip.SimMPU().Enabled(), "protection off while kernel runs")

	h.waitKinds(t, event.KindLoaded, event.KindStarted, event.KindYielded, event.KindTerminated)
}

func TestKernel_YieldForBlocksUntilExactUpcall(t *testing.T) {
	h := newHarness(t, cooperative.New(), nil)

	waited := syscall.UpcallID{Driver: 0, Subscribe: 0}
	other := syscall.UpcallID{Driver: 0, Subscribe: 1}
	var delivered []syscall.UpcallID

	id := h.loadApp(t, "sensor", 0x40, func() hostsim.AppFunc {
		step := 0
		return func(sw *hostsim.Switch) syscall.Reason {
			step++
			switch step {
			case 1:
				return syscall.Reason{Kind: syscall.SwitchSyscall, Syscall: syscall.Subscribe(0, 0, 0x80, 0)}
			case 2:
				return syscall.Reason{Kind: syscall.SwitchSyscall, Syscall: syscall.Subscribe(0, 1, 0x84, 0)}
			case 3:
				return syscall.Reason{Kind: syscall.SwitchSyscall, Syscall: syscall.YieldFor(waited)}
			default:
				if call, ok := sw.State.LastCall(); ok {
					delivered = append(delivered, call.Upcall)
				}
				return syscall.Reason{Kind: syscall.SwitchSyscall, Syscall: syscall.Exit(0)}
			}
		}
	})

	h.run(t)
	p, _ := h.kernel.Lookup(id)
	assert.Equal(t, proc.YieldedFor, p.State().Code)

	// The wrong upcall does not unblock the process.
	assert.NoError(t, h.kernel.ScheduleUpcall(id, other, [3]uintptr{1, 0, 0}))
	assert.False(t, h.kernel.Schedulable(id))
	ctx := context.Background()
	assert.False(t, h.kernel.Step(ctx), "still idle: only a non-awaited upcall is queued")
	assert.Equal(t, proc.YieldedFor, p.State().Code)

	// The awaited upcall unblocks and is the one delivered.
	assert.NoError(t, h.kernel.ScheduleUpcall(id, waited, [3]uintptr{2, 0, 0}))
	assert.True(t, h.kernel.Schedulable(id))
	h.run(t)
	assert.Equal(t, proc.Terminated, p.State().Code)
	assert.Equal(t, []syscall.UpcallID{waited}, delivered)
}

func TestKernel_FaultPolicyRestartThenStop(t *testing.T) {
	h := newHarness(t, cooperative.New(), nil)

	id := h.loadApp(t, "crashy", 0x40, func() hostsim.AppFunc {
		return func(sw *hostsim.Switch) syscall.Reason {
			return syscall.Reason{Kind: syscall.SwitchFault, Fault: syscall.FaultMemory}
		}
	})

	h.run(t)

	// First fault restarted the process (generation rotated); the second
	// fault stopped it for good.
	_, err := h.kernel.Lookup(id)
	assert.ErrorIs(t, err, proc.ErrNoSuchApp, "pre-restart id is stale")

	processes := h.kernel.Processes()
	assert.Len(t, processes, 1)
	p := processes[0]
	assert.Equal(t, proc.Faulted, p.State().Code)
	assert.Equal(t, id.Generation+1, p.ID().Generation)
	assert.Equal(t, 1, p.Restarts())

	h.waitKinds(t, event.KindFaulted, event.KindRestarted)
}

func TestKernel_FaultPolicyPanic(t *testing.T) {
	pol, err := policy.FromConfig(&policy.Config{
		Default:   "restart",
		Overrides: map[string]string{"critical": "panic"},
	})
	assert.NoError(t, err)
	h := newHarness(t, cooperative.New(), pol)
	var dump bytes.Buffer
	h.kernel.SetFaultDumpWriter(&dump)

	h.loadApp(t, "critical", 0x40, func() hostsim.AppFunc {
		return func(sw *hostsim.Switch) syscall.Reason {
			return syscall.Reason{Kind: syscall.SwitchFault, Fault: syscall.FaultIllegalInstruction}
		}
	})

	assert.Panics(t, func() { h.run(t) })
	assert.Contains(t, dump.String(), "App: critical")
}

func TestKernel_TimesliceExpiryRotates(t *testing.T) {
	now := time.Now()
	clock.NowFunc = func() time.Time { return now }
	defer func() { clock.NowFunc = time.Now }()

	h := newHarness(t, roundrobin.New(10*time.Millisecond), nil)

	spin := func() hostsim.AppFunc {
		return func(sw *hostsim.Switch) syscall.Reason {
			// Burn six milliseconds of simulated time per entry.
			now = now.Add(6 * time.Millisecond)
			return syscall.Reason{Kind: syscall.SwitchTimesliceExpired}
		}
	}
	a := h.loadApp(t, "spin-a", 0x40, spin)
	b := h.loadApp(t, "spin-b", 0x44, spin)

	ctx := context.Background()
	assert.True(t, h.kernel.Step(ctx))

	pa, _ := h.kernel.Lookup(a)
	pb, _ := h.kernel.Lookup(b)
	ea := pa.Exec().(*hostsim.ExecState)
	eb := pb.Exec().(*hostsim.ExecState)

	// A burned its quantum (two entries of 6ms against a 10ms slice with
	// a 500µs minimum); B has not run yet.
	assert.Equal(t, 2, ea.Switches())
	assert.Equal(t, 0, eb.Switches())

	// Expiry rotated the queue: the next dispatch belongs to B.
	assert.True(t, h.kernel.Step(ctx))
	assert.Equal(t, 2, eb.Switches())
	assert.Equal(t, 2, ea.Switches())

	h.waitKinds(t, event.KindExpired)
}

func TestKernel_MemopMovesBreak(t *testing.T) {
	h := newHarness(t, cooperative.New(), nil)

	id := h.loadApp(t, "heapy", 0x40, func() hostsim.AppFunc {
		step := 0
		return func(sw *hostsim.Switch) syscall.Reason {
			step++
			switch step {
			case 1:
				return syscall.Reason{Kind: syscall.SwitchSyscall,
					Syscall: syscall.Syscall{Class: syscall.ClassMemop, MemopOp: 0, Arg2: 8 << 10}}
			case 2:
				return syscall.Reason{Kind: syscall.SwitchSyscall,
					Syscall: syscall.Syscall{Class: syscall.ClassMemop, MemopOp: 1, Arg2: 64}}
			case 3:
				// Past the slot budget: refused, break unchanged.
				return syscall.Reason{Kind: syscall.SwitchSyscall,
					Syscall: syscall.Syscall{Class: syscall.ClassMemop, MemopOp: 0, Arg2: 1 << 20}}
			default:
				return syscall.Reason{Kind: syscall.SwitchSyscall, Syscall: syscall.Exit(0)}
			}
		}
	})

	h.run(t)
	p, _ := h.kernel.Lookup(id)
	es := p.Exec().(*hostsim.ExecState)
	returns := es.Returns()
	if assert.Len(t, returns, 3) {
		assert.Equal(t, uintptr(8<<10), returns[0][1])
		assert.Equal(t, uintptr(8<<10+64), returns[1][1])
		assert.NotEqual(t, retval(syscall.ReturnSuccess), returns[2][0])
	}
}

func TestKernel_UnevenRAMShareKeepsSlotsAligned(t *testing.T) {
	// 96K over 4 slots is not a power-of-two share; the budget must round
	// down so every slot base satisfies the protection unit's
	// natural-alignment rule for the largest break a process can reach.
	h := newHarnessRAM(t, cooperative.New(), nil, 96<<10)

	h.loadApp(t, "first", 0x40, func() hostsim.AppFunc {
		return func(*hostsim.Switch) syscall.Reason {
			return syscall.Reason{Kind: syscall.SwitchSyscall, Syscall: syscall.Exit(0)}
		}
	})
	id := h.loadApp(t, "second", 0x60, func() hostsim.AppFunc {
		step := 0
		return func(*hostsim.Switch) syscall.Reason {
			step++
			if step == 1 {
				return syscall.Reason{Kind: syscall.SwitchSyscall,
					Syscall: syscall.Syscall{Class: syscall.ClassMemop, MemopOp: 0, Arg2: 9000}}
			}
			return syscall.Reason{Kind: syscall.SwitchSyscall, Syscall: syscall.Exit(0)}
		}
	})

	// Growing past half the slot forces a wider protected region; the
	// context switch after the memop reconfigures protection and must not
	// reject the slot's base address.
	assert.NotPanics(t, func() { h.run(t) })

	p, err := h.kernel.Lookup(id)
	assert.NoError(t, err)
	assert.Equal(t, uintptr(0x2000_4000), p.Memory().Bounds().RAMStart)
	es := p.Exec().(*hostsim.ExecState)
	returns := es.Returns()
	if assert.Len(t, returns, 1) {
		assert.Equal(t, retval(syscall.ReturnSuccess), returns[0][0])
		assert.Equal(t, uintptr(9024), returns[0][1])
	}
}

func TestKernel_MisalignedRAMBaseRejected(t *testing.T) {
	_, err := New(Config{
		Slots: 4,
		Flash: platform.Region{Start: 0x0010_0000, Size: 64 << 10, Perms: platform.PermReadExecute},
		RAM:   platform.Region{Start: 0x2000_1000, Size: 64 << 10, Perms: platform.PermReadWrite},
	}, hostsim.NewChip(), hostsim.NewBoundary(), cooperative.New(), capsule.NewRegistry(), nil, event.NewService())
	assert.ErrorContains(t, err, "not aligned")
}

func TestKernel_AllowSharesBuffer(t *testing.T) {
	h := newHarness(t, cooperative.New(), nil)

	id := h.loadApp(t, "sharer", 0x40, func() hostsim.AppFunc {
		step := 0
		return func(sw *hostsim.Switch) syscall.Reason {
			step++
			switch step {
			case 1:
				return syscall.Reason{Kind: syscall.SwitchSyscall, Syscall: syscall.Allow(0, 0, 128, 256)}
			case 2:
				// Reaches past the heap break: refused.
				return syscall.Reason{Kind: syscall.SwitchSyscall, Syscall: syscall.Allow(0, 0, 0, 1<<20)}
			default:
				return syscall.Reason{Kind: syscall.SwitchSyscall, Syscall: syscall.Exit(0)}
			}
		}
	})

	h.run(t)
	assert.Equal(t, 256, h.alarm.allowed[id])
	p, _ := h.kernel.Lookup(id)
	es := p.Exec().(*hostsim.ExecState)
	assert.Equal(t, []syscall.ReturnCode{syscall.ReturnSuccess, syscall.ReturnInvalid}, es.Codes())
}

func TestKernel_UnknownDriver(t *testing.T) {
	h := newHarness(t, cooperative.New(), nil)

	id := h.loadApp(t, "probe", 0x40, func() hostsim.AppFunc {
		step := 0
		return func(sw *hostsim.Switch) syscall.Reason {
			step++
			if step == 1 {
				return syscall.Reason{Kind: syscall.SwitchSyscall, Syscall: syscall.Command(9, 0, 0, 0)}
			}
			return syscall.Reason{Kind: syscall.SwitchSyscall, Syscall: syscall.Exit(0)}
		}
	})

	h.run(t)
	p, _ := h.kernel.Lookup(id)
	es := p.Exec().(*hostsim.ExecState)
	returns := es.Returns()
	if assert.Len(t, returns, 1) {
		assert.Equal(t, retval(syscall.ReturnNoDevice), returns[0][0])
	}
}

func TestKernel_GrantNumbersFinalizeAtLoad(t *testing.T) {
	h := newHarness(t, cooperative.New(), nil)

	type state struct{ count int }
	g := grant.New[state](h.kernel)
	assert.Equal(t, 0, g.Number())

	id := h.loadApp(t, "granted", 0x40, func() hostsim.AppFunc {
		return func(sw *hostsim.Switch) syscall.Reason {
			return syscall.Reason{Kind: syscall.SwitchSyscall, Syscall: syscall.Exit(0)}
		}
	})

	// Grants are numbered before processes exist; afterwards it is a
	// board bug.
	assert.Panics(t, func() { h.kernel.AllocateGrantNumber() })

	assert.NoError(t, g.Enter(id, func(s *state) error { s.count++; return nil }))
	assert.NoError(t, g.Enter(id, func(s *state) error {
		assert.Equal(t, 1, s.count, "storage survives re-entry")
		return nil
	}))
}

func TestKernel_StopAndResume(t *testing.T) {
	h := newHarness(t, cooperative.New(), nil)
	ctx := context.Background()

	id := h.loadApp(t, "pausable", 0x40, func() hostsim.AppFunc {
		return func(sw *hostsim.Switch) syscall.Reason {
			return syscall.Reason{Kind: syscall.SwitchSyscall, Syscall: syscall.Yield()}
		}
	})

	assert.NoError(t, h.kernel.StopProcess(ctx, id))
	assert.False(t, h.kernel.Schedulable(id))
	assert.False(t, h.kernel.Step(ctx), "stopped process leaves the board idle")

	assert.NoError(t, h.kernel.ResumeProcess(ctx, id))
	assert.True(t, h.kernel.Schedulable(id))
	h.run(t)
	p, _ := h.kernel.Lookup(id)
	assert.Equal(t, proc.Yielded, p.State().Code)

	stale := proc.ID{Index: id.Index, Generation: id.Generation + 5}
	assert.ErrorIs(t, h.kernel.StopProcess(ctx, stale), proc.ErrNoSuchApp)
}

func TestKernel_ExitRestartRequest(t *testing.T) {
	h := newHarness(t, cooperative.New(), nil)

	generation := 0
	id := h.loadApp(t, "phoenix", 0x40, func() hostsim.AppFunc {
		generation++
		first := generation == 1
		return func(sw *hostsim.Switch) syscall.Reason {
			if first {
				return syscall.Reason{Kind: syscall.SwitchSyscall, Syscall: syscall.Exit(1)}
			}
			return syscall.Reason{Kind: syscall.SwitchSyscall, Syscall: syscall.Yield()}
		}
	})

	h.run(t)
	_, err := h.kernel.Lookup(id)
	assert.ErrorIs(t, err, proc.ErrNoSuchApp)
	processes := h.kernel.Processes()
	assert.Len(t, processes, 1)
	assert.Equal(t, id.Generation+1, processes[0].ID().Generation)
	assert.Equal(t, proc.Yielded, processes[0].State().Code)
}
