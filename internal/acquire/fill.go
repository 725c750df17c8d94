package acquire

import (
	"context"
	"fmt"
	"time"

	"github.com/rjboer/rxcal/internal/sdr"
)

// DefaultTimeout bounds each individual stream read.
const DefaultTimeout = 100 * time.Millisecond

// Reader is the part of a stream the acquisition loop needs.
type Reader interface {
	Read(ctx context.Context, buf []complex64, timeout time.Duration) (int, error)
}

// Result describes one fill attempt.
type Result struct {
	Requested int
	Filled    int
	Reads     int
	Fault     error
}

// Complete reports whether the buffer was filled to capacity without fault.
func (r Result) Complete() bool { return r.Fault == nil && r.Filled == r.Requested }

// FaultCode returns the stream status code of the fault, or 0.
func (r Result) FaultCode() int { return sdr.FaultCode(r.Fault) }

// Fill reads from s until buf holds Cap() consecutive samples. Each read asks
// for at most the remaining count and may return fewer. The first fault
// stops the loop with no further reads; the buffer keeps the samples
// delivered so far and its tail is left as it was.
func Fill(ctx context.Context, s Reader, buf *Buffer, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	res := Result{Requested: buf.Cap()}
	buf.filled = 0

	for remaining := buf.Cap(); remaining > 0; {
		if err := ctx.Err(); err != nil {
			res.Fault = sdr.NewFault(sdr.CodeStreamError, "read", err)
			break
		}
		dst := buf.samples[res.Filled:]
		n, err := s.Read(ctx, dst, timeout)
		res.Reads++
		if err != nil {
			res.Fault = err
			break
		}
		if n < 0 || n > remaining {
			res.Fault = sdr.NewFault(sdr.CodeCorruption, "read", fmt.Errorf("delivered %d samples for %d requested", n, remaining))
			break
		}
		res.Filled += n
		buf.filled = res.Filled
		remaining -= n
	}
	return res
}
