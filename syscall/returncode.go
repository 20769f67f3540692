package syscall

// ReturnCode is the value a syscall hands back to the calling process.
type ReturnCode int

const (
	// ReturnSuccess indicates the operation completed.
	ReturnSuccess ReturnCode = 0
	// ReturnFail is a generic failure.
	ReturnFail ReturnCode = -1
	// ReturnBusy indicates the driver is mid-operation; retry later.
	ReturnBusy ReturnCode = -2
	// ReturnInvalid indicates a malformed argument.
	ReturnInvalid ReturnCode = -3
	// ReturnNoDevice indicates no driver is registered for the number.
	ReturnNoDevice ReturnCode = -4
	// ReturnNoMemory indicates the grant or heap break is exhausted.
	ReturnNoMemory ReturnCode = -5
	// ReturnDenied indicates the board policy filtered the syscall.
	ReturnDenied ReturnCode = -6
)

func (r ReturnCode) String() string {
	switch r {
	case ReturnSuccess:
		return "success"
	case ReturnFail:
		return "fail"
	case ReturnBusy:
		return "busy"
	case ReturnInvalid:
		return "invalid"
	case ReturnNoDevice:
		return "no device"
	case ReturnNoMemory:
		return "no memory"
	case ReturnDenied:
		return "denied"
	}
	return "unknown"
}
