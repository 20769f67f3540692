package proc

import (
	"fmt"
	"io"
)

// Print writes a human-readable snapshot of the process: identity, state,
// queue depth and the memory map with the current breaks. Used by the board
// facade for panic dumps and debugging.
func (p *Process) Print(w io.Writer) error {
	p.mu.Lock()
	id := p.id
	state := p.state
	pending := len(p.tasks)
	restarts := p.restarts
	p.mu.Unlock()

	m := p.memory
	ramTop := m.ramStart + uintptr(m.RAMSize())
	grantBreak := m.ramStart + uintptr(m.KernelBreak())
	appBreak := m.ramStart + uintptr(m.AppBreak())

	_, err := fmt.Fprintf(w, `App: %s  (id: %s)
 State: %s
 Restarts: %d
 Pending upcalls: %d

 ╔═══════════╤══════════════════════════╗
 ║  Address  │ Region                   ║
 ╚═══════════╧══════════════════════════╝
  0x%08x ┬─ RAM top
             │  grant region (kernel)
  0x%08x ┼─ grant break
             │  unallocated
  0x%08x ┼─ app break
             │  stack + heap (process)
  0x%08x ┴─ RAM start

  0x%08x ┬─ flash end
             │  binary (%d bytes)
  0x%08x ┴─ flash start
`,
		p.app.Name, id, state, restarts, pending,
		ramTop, grantBreak, appBreak, m.ramStart,
		m.flashStart+uintptr(len(m.flash)), len(m.flash), m.flashStart)
	return err
}
