package proc

import "fmt"

// ID is a stable reference to one loaded process: the slot index plus a
// generation counter rotated on every restart or slot reuse. Holding an ID
// never keeps a process alive; lookups through the kernel return ErrNoSuchApp
// once the generation moves on.
type ID struct {
	Index      int
	Generation uint32
}

func (id ID) String() string {
	return fmt.Sprintf("%d.%d", id.Index, id.Generation)
}
