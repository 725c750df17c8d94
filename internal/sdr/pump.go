package sdr

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"
)

var errInactive = errors.New("stream not active")

// pump moves raw bytes from a network or process reader into a bounded
// queue so reads can be served with a timeout. When the queue is full the
// newest chunk is dropped and the next read reports an overflow, which is
// what a receiver does when the host falls behind.
type pump struct {
	chunks         chan []byte
	err            error
	active         atomic.Bool
	overflow       atomic.Bool
	pending        []byte
	bytesPerSample int
	decode         func(dst []complex64, src []byte)
}

func newPump(r io.Reader, bytesPerSample, chunkSize, depth int, decode func(dst []complex64, src []byte)) *pump {
	p := &pump{
		chunks:         make(chan []byte, depth),
		bytesPerSample: bytesPerSample,
		decode:         decode,
	}
	go p.run(r, chunkSize)
	return p
}

func (p *pump) run(r io.Reader, chunkSize int) {
	defer close(p.chunks)
	for {
		buf := make([]byte, chunkSize)
		n, err := r.Read(buf)
		if n > 0 && p.active.Load() {
			select {
			case p.chunks <- buf[:n]:
			default:
				p.overflow.Store(true)
			}
		}
		if err != nil {
			p.err = err
			return
		}
	}
}

// start discards anything queued while inactive and begins accepting data.
func (p *pump) start() {
	p.pending = p.pending[:0]
drain:
	for {
		select {
		case _, ok := <-p.chunks:
			if !ok {
				break drain
			}
		default:
			break drain
		}
	}
	p.overflow.Store(false)
	p.active.Store(true)
}

func (p *pump) stop() { p.active.Store(false) }

func (p *pump) read(ctx context.Context, buf []complex64, timeout time.Duration) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	if !p.active.Load() {
		return 0, NewFault(CodeStreamError, "read", errInactive)
	}
	if p.overflow.Swap(false) {
		p.pending = p.pending[:0]
		return 0, NewFault(CodeOverflow, "read", nil)
	}

	var timer *time.Timer
	for len(p.pending) < p.bytesPerSample {
		if timer == nil {
			timer = time.NewTimer(timeout)
			defer timer.Stop()
		}
		select {
		case chunk, ok := <-p.chunks:
			if !ok {
				return 0, NewFault(CodeStreamError, "read", p.err)
			}
			p.pending = append(p.pending, chunk...)
		case <-timer.C:
			return 0, NewFault(CodeTimeout, "read", nil)
		case <-ctx.Done():
			return 0, NewFault(CodeStreamError, "read", ctx.Err())
		}
	}

	n := len(p.pending) / p.bytesPerSample
	if n > len(buf) {
		n = len(buf)
	}
	used := n * p.bytesPerSample
	p.decode(buf[:n], p.pending[:used])
	p.pending = append(p.pending[:0], p.pending[used:]...)
	return n, nil
}
