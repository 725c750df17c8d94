package sdr

import (
	"errors"
	"fmt"
)

// Stream status codes. Values match the SoapySDR error codes so logs from
// this tool line up with driver-side diagnostics.
const (
	CodeTimeout      = -1
	CodeStreamError  = -2
	CodeCorruption   = -3
	CodeOverflow     = -4
	CodeNotSupported = -5
	CodeTimeError    = -6
	CodeUnderflow    = -7
)

// Sentinel faults for errors.Is comparisons.
var (
	ErrTimeout      = &Fault{Code: CodeTimeout}
	ErrStreamError  = &Fault{Code: CodeStreamError}
	ErrCorruption   = &Fault{Code: CodeCorruption}
	ErrOverflow     = &Fault{Code: CodeOverflow}
	ErrNotSupported = &Fault{Code: CodeNotSupported}
	ErrTimeError    = &Fault{Code: CodeTimeError}
	ErrUnderflow    = &Fault{Code: CodeUnderflow}
)

// Fault is a stream or device level failure carrying a negative status code.
type Fault struct {
	Code int
	Op   string
	Err  error
}

// NewFault builds a fault for op, optionally wrapping a cause.
func NewFault(code int, op string, cause error) *Fault {
	return &Fault{Code: code, Op: op, Err: cause}
}

func (f *Fault) Error() string {
	msg := ErrToStr(f.Code)
	if f.Op != "" {
		msg = f.Op + ": " + msg
	}
	if f.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, f.Err)
	}
	return msg
}

func (f *Fault) Unwrap() error { return f.Err }

// Is reports whether target is a Fault with the same code.
func (f *Fault) Is(target error) bool {
	t, ok := target.(*Fault)
	return ok && t.Code == f.Code
}

// ErrToStr renders a status code as text.
func ErrToStr(code int) string {
	switch code {
	case CodeTimeout:
		return "TIMEOUT"
	case CodeStreamError:
		return "STREAM_ERROR"
	case CodeCorruption:
		return "CORRUPTION"
	case CodeOverflow:
		return "OVERFLOW"
	case CodeNotSupported:
		return "NOT_SUPPORTED"
	case CodeTimeError:
		return "TIME_ERROR"
	case CodeUnderflow:
		return "UNDERFLOW"
	case 0:
		return "OK"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", code)
	}
}

// FaultCode maps err to a status code. Nil maps to 0 and errors that are not
// a Fault map to CodeStreamError.
func FaultCode(err error) int {
	if err == nil {
		return 0
	}
	var f *Fault
	if errors.As(err, &f) {
		return f.Code
	}
	return CodeStreamError
}
