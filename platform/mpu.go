package platform

import "fmt"

// Permissions describe what a process may do inside a protection region.
type Permissions int

const (
	// PermReadExecute protects flash: code is readable and executable,
	// never writable.
	PermReadExecute Permissions = iota
	// PermReadWrite protects process RAM up to the heap break.
	PermReadWrite
	// PermKernelOnly hides the grant region: any process access traps.
	PermKernelOnly
)

func (p Permissions) String() string {
	switch p {
	case PermReadExecute:
		return "r-x"
	case PermReadWrite:
		return "rw-"
	case PermKernelOnly:
		return "---"
	}
	return fmt.Sprintf("perm(%d)", int(p))
}

// Region is one hardware protection region. Most MPU implementations require
// Start to be naturally aligned to Size and Size to be a power of two; the
// memory allocator rounds break movements so regions derived from them
// satisfy both.
type Region struct {
	Start uintptr
	Size  int
	Perms Permissions
}

func (r Region) String() string {
	return fmt.Sprintf("[%#x..%#x %s]", r.Start, r.Start+uintptr(r.Size), r.Perms)
}

// MPU is the hardware region protector. Regions are written immediately
// before every context switch into a process and are never left stale across
// a break-pointer change.
type MPU interface {
	// Configure replaces the active region set. It fails if a region
	// violates the implementation's alignment or count constraints;
	// configuration failures are kernel bugs, not process faults.
	Configure(regions []Region) error

	// Enable activates protection for the next userspace execution.
	Enable()

	// Disable deactivates protection while the kernel runs.
	Disable()
}
