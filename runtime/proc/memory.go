package proc

import (
	"fmt"

	"github.com/minoskernel/minos/platform"
)

// BreakGranule is the minimum step break pointers move in. Rounding break
// movements to a coarse granule keeps the derived MPU regions satisfiable on
// hardware that only protects aligned, power-of-two-sized ranges; the cost
// is a little address space, the payoff is a hard isolation guarantee.
const BreakGranule = 64

// Memory is the layout bookkeeping for one process: the read-only flash
// image and a RAM arena split into the process-owned stack+heap (grows up
// toward the kernel) and the kernel-owned grant region (grows down from the
// top). All positions are offsets into the arena; addresses exist only for
// the MPU.
//
//	ram top ────────────┐
//	  grant region      │  kernel-only, carved back-to-front
//	kernelBreak ────────┤
//	  unallocated slack │
//	appBreak ───────────┤
//	  stack + heap      │  process read-write
//	offset 0 ───────────┘
//
// The invariant kernelBreak >= appBreak holds before and after every
// operation. A violation is never treated as recoverable: it means the
// allocator itself is broken and isolation can no longer be trusted.
type Memory struct {
	flashStart uintptr
	flash      []byte

	ramStart uintptr
	ram      []byte

	appBreak    int
	kernelBreak int

	// highWater is the highest offset ever shared with a capsule through
	// allow; the heap break may not retreat below it.
	highWater int
}

// NewMemory builds the layout for a fresh process. initialBreak is the heap
// break the process starts with; it is rounded up to the break granule.
func NewMemory(flashStart uintptr, flash []byte, ramStart uintptr, ramSize, initialBreak int) (*Memory, error) {
	m := &Memory{
		flashStart:  flashStart,
		flash:       flash,
		ramStart:    ramStart,
		ram:         make([]byte, ramSize),
		kernelBreak: ramSize,
	}
	initialBreak = roundUp(initialBreak, BreakGranule)
	if roundUpPow2(initialBreak) > ramSize {
		return nil, fmt.Errorf("%w: initial break %d does not fit %d bytes of RAM", ErrOutOfMemory, initialBreak, ramSize)
	}
	m.appBreak = initialBreak
	return m, nil
}

// AppBreak returns the current heap break offset.
func (m *Memory) AppBreak() int { return m.appBreak }

// KernelBreak returns the current grant break offset.
func (m *Memory) KernelBreak() int { return m.kernelBreak }

// RAMSize returns the arena size.
func (m *Memory) RAMSize() int { return len(m.ram) }

// protectedSize is the extent of the process-accessible MPU region implied
// by the current heap break: the break rounded up to a power of two so the
// region is naturally alignable.
func (m *Memory) protectedSize() int { return roundUpPow2(m.appBreak) }

// Brk moves the heap break to newBreak (an offset), rounding up to the
// break granule. The move fails with ErrOutOfMemory when the grown MPU
// region would reach the grant break, and with ErrAddressOutOfBounds when it
// would retreat below memory already shared with a capsule.
func (m *Memory) Brk(newBreak int) (int, error) {
	m.checkBreaks()
	if newBreak < 0 || newBreak < m.highWater {
		return m.appBreak, ErrAddressOutOfBounds
	}
	rounded := roundUp(newBreak, BreakGranule)
	if rounded > len(m.ram) {
		return m.appBreak, ErrAddressOutOfBounds
	}
	if roundUpPow2(rounded) > m.kernelBreak {
		return m.appBreak, ErrOutOfMemory
	}
	m.appBreak = rounded
	m.checkBreaks()
	return m.appBreak, nil
}

// Sbrk moves the heap break by a signed increment and returns the new break.
func (m *Memory) Sbrk(increment int) (int, error) {
	return m.Brk(m.appBreak + increment)
}

// AllocateGrant carves size bytes immediately below the grant break, aligned
// down to align (a power of two, at least two so the low bit stays free).
// It fails with ErrOutOfMemory when the new break would reach the
// process-accessible region.
func (m *Memory) AllocateGrant(size, align int) (int, error) {
	m.checkBreaks()
	if size < 0 {
		return 0, ErrAddressOutOfBounds
	}
	if align < 2 {
		align = 2
	}
	if align&(align-1) != 0 {
		panic(fmt.Sprintf("proc: grant alignment %d is not a power of two", align))
	}
	newBreak := (m.kernelBreak - size) &^ (align - 1)
	if newBreak > m.kernelBreak {
		// Underflowed past zero.
		return 0, ErrOutOfMemory
	}
	if newBreak < m.protectedSize() {
		return 0, ErrOutOfMemory
	}
	m.kernelBreak = newBreak
	m.checkBreaks()
	return newBreak, nil
}

// AllowSlice validates and returns the process RAM window a process offered
// to a capsule. The window must sit entirely below the heap break. The high
// water mark advances so the break can never retreat below shared memory.
func (m *Memory) AllowSlice(offset, length int) ([]byte, error) {
	if offset < 0 || length < 0 || offset+length > m.appBreak {
		return nil, ErrAddressOutOfBounds
	}
	if end := offset + length; end > m.highWater {
		m.highWater = end
	}
	return m.ram[offset : offset+length], nil
}

// Reset rewinds the layout for a process restart: breaks return to their
// load-time positions and the arena is zeroed so no state leaks across
// generations.
func (m *Memory) Reset(initialBreak int) {
	for i := range m.ram {
		m.ram[i] = 0
	}
	m.appBreak = roundUp(initialBreak, BreakGranule)
	m.kernelBreak = len(m.ram)
	m.highWater = 0
	m.checkBreaks()
}

// Regions derives the protection region set for the current breaks: flash is
// read+execute, RAM is read+write up to the (rounded) heap break, and the
// grant region is marked kernel-only so any process access traps.
func (m *Memory) Regions() []platform.Region {
	return []platform.Region{
		{Start: m.flashStart, Size: roundUpPow2(len(m.flash)), Perms: platform.PermReadExecute},
		{Start: m.ramStart, Size: m.protectedSize(), Perms: platform.PermReadWrite},
		{Start: m.ramStart + uintptr(m.kernelBreak), Size: len(m.ram) - m.kernelBreak, Perms: platform.PermKernelOnly},
	}
}

// Bounds returns the execution window handed to the context-switch boundary.
func (m *Memory) Bounds() platform.MemoryBounds {
	return platform.MemoryBounds{
		FlashStart: m.flashStart,
		FlashSize:  len(m.flash),
		RAMStart:   m.ramStart,
		AppBreak:   m.ramStart + uintptr(m.appBreak),
	}
}

// checkBreaks enforces the core isolation invariant. Crossing breaks can
// only come from a kernel bug, so it is fatal.
func (m *Memory) checkBreaks() {
	if m.kernelBreak < m.appBreak {
		panic(fmt.Sprintf("proc: grant break %#x crossed app break %#x", m.kernelBreak, m.appBreak))
	}
}

func roundUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

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
