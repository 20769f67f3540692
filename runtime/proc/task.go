package proc

import "github.com/minoskernel/minos/syscall"

// TaskKind discriminates pending work queued for a process.
type TaskKind int

const (
	// TaskFunctionCall executes a function in the process, typically a
	// subscribed upcall or the entry point.
	TaskFunctionCall TaskKind = iota
	// TaskReturnValue resumes a yield-for wait with plain values, without
	// invoking any userspace function.
	TaskReturnValue
)

// Task is one queued unit of pending work for a process.
type Task struct {
	Kind TaskKind

	// Call is set for TaskFunctionCall.
	Call syscall.FunctionCall

	// Upcall identifies the subscription a TaskReturnValue completes.
	Upcall syscall.UpcallID
	// Return carries the values handed back for TaskReturnValue.
	Return syscall.ReturnArguments
}

// upcall returns the upcall the task delivers, if any.
func (t Task) upcall() (syscall.UpcallID, bool) {
	switch t.Kind {
	case TaskFunctionCall:
		if t.Call.Source == syscall.SourceDriver {
			return t.Call.Upcall, true
		}
	case TaskReturnValue:
		return t.Upcall, true
	}
	return syscall.UpcallID{}, false
}
