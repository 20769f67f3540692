package syscall

// FunctionCallSource identifies who scheduled a function call for a process:
// the kernel itself (for example the app entry point) or a capsule driver
// delivering a subscribed upcall.
type FunctionCallSource int

const (
	SourceKernel FunctionCallSource = iota
	SourceDriver
)

// FunctionCall describes one function invocation to execute in the process:
// a program counter plus the four generic upcall arguments.
type FunctionCall struct {
	Source FunctionCallSource
	// Upcall identifies the subscription; meaningful when Source is
	// SourceDriver.
	Upcall UpcallID
	PC     uintptr
	Args   [4]uintptr
}

// ReturnArguments carries values handed back to a process resumed from a
// yield-for wait without invoking a userspace function.
type ReturnArguments [3]uintptr
