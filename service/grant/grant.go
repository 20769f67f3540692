// Package grant gives capsules typed, lazily-allocated per-process storage
// carved out of each process's kernel-owned memory region. A capsule holds
// one Grant[T] per state type and enters it with a process identifier; the
// backing bytes are charged to that process, so a hungry app starves only
// itself.
package grant

import (
	"reflect"

	"github.com/minoskernel/minos/runtime/proc"
)

// Registrar hands out grant slot numbers and resolves process identifiers.
// The kernel implements it; the indirection keeps capsules off the kernel's
// internals.
type Registrar interface {
	// AllocateGrantNumber reserves the next grant slot across all
	// processes. It must be called during board init, before any process
	// enters a grant; later calls panic.
	AllocateGrantNumber() int

	// Lookup resolves a process identifier to its live process, failing
	// with proc.ErrNoSuchApp when the identifier is stale.
	Lookup(id proc.ID) (*proc.Process, error)
}

// Grant is a typed handle to one per-process state slot. The zero value is
// unusable; construct with New during board init.
type Grant[T any] struct {
	registrar Registrar
	number    int
	size      int
	align     int
}

// New reserves a grant slot for values of type T.
func New[T any](registrar Registrar) *Grant[T] {
	var zero T
	typ := reflect.TypeOf(&zero).Elem()
	return &Grant[T]{
		registrar: registrar,
		number:    registrar.AllocateGrantNumber(),
		size:      int(typ.Size()),
		align:     typ.Align(),
	}
}

// Number returns the slot index this grant occupies in every process.
func (g *Grant[T]) Number() int { return g.number }

// Enter runs fn with the process's value for this grant, allocating and
// zero-initializing it on first entry. Entry is exclusive per (grant,
// process): re-entering from inside fn fails with proc.ErrAlreadyInProgress.
func (g *Grant[T]) Enter(id proc.ID, fn func(value *T) error) error {
	p, err := g.registrar.Lookup(id)
	if err != nil {
		return err
	}
	return p.EnterGrant(g.number, g.size, g.align, func() any {
		return new(T)
	}, func(value any) error {
		return fn(value.(*T))
	})
}

// EnterAll runs fn for every live process that has already allocated this
// grant. Processes that never entered the grant are skipped rather than
// allocated.
func (g *Grant[T]) EnterAll(processes []*proc.Process, fn func(p *proc.Process, value *T) error) error {
	for _, p := range processes {
		if p == nil || !p.GrantAllocated(g.number) {
			continue
		}
		err := p.EnterGrant(g.number, g.size, g.align, func() any {
			return new(T)
		}, func(value any) error {
			return fn(p, value.(*T))
		})
		if err != nil {
			return err
		}
	}
	return nil
}
