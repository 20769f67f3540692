package hostsim

import (
	"fmt"
	"sync"

	"github.com/minoskernel/minos/platform"
)

// MPU checks the constraints real region hardware imposes: a bounded region
// count, and power-of-two size plus natural alignment for every
// process-accessible region. Kernel-only regions are deny entries realised
// by not mapping the range, so they carry no alignment constraint.
type MPU struct {
	mu         sync.Mutex
	maxRegions int
	regions    []platform.Region
	enabled    bool
	configures uint64
}

// NewMPU returns an MPU accepting up to maxRegions regions per configure.
func NewMPU(maxRegions int) *MPU {
	return &MPU{maxRegions: maxRegions}
}

// Configure implements platform.MPU.
func (m *MPU) Configure(regions []platform.Region) error {
	if len(regions) > m.maxRegions {
		return fmt.Errorf("%d regions exceed the %d supported", len(regions), m.maxRegions)
	}
	for _, region := range regions {
		if region.Perms == platform.PermKernelOnly {
			continue
		}
		if region.Size <= 0 || region.Size&(region.Size-1) != 0 {
			return fmt.Errorf("region %v size is not a power of two", region)
		}
		if region.Start%uintptr(region.Size) != 0 {
			return fmt.Errorf("region %v is not naturally aligned", region)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regions = append(m.regions[:0], regions...)
	m.configures++
	return nil
}

// Enable implements platform.MPU.
func (m *MPU) Enable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = true
}

// Disable implements platform.MPU.
func (m *MPU) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = false
}

// Enabled reports whether protection is active.
func (m *MPU) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// ActiveRegions returns the last configured region set.
func (m *MPU) ActiveRegions() []platform.Region {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]platform.Region, len(m.regions))
	copy(out, m.regions)
	return out
}

// Configures reports how many region sets were written; the kernel must
// reconfigure before every switch, so this tracks dispatch counts.
func (m *MPU) Configures() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.configures
}

// Allows reports whether the active region set permits an access of the
// given kind at addr, the check a faulting process fails.
func (m *MPU) Allows(addr uintptr, write bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled {
		return true
	}
	for _, region := range m.regions {
		if addr < region.Start || addr >= region.Start+uintptr(region.Size) {
			continue
		}
		switch region.Perms {
		case platform.PermReadExecute:
			return !write
		case platform.PermReadWrite:
			return true
		case platform.PermKernelOnly:
			return false
		}
	}
	return false
}

var _ platform.MPU = (*MPU)(nil)
