package dsp

import "fmt"

// Filter transforms one block of samples into an output block of the same
// length. Implementations may keep state between calls; Reset clears it.
type Filter interface {
	Apply(in, out []complex64) error
	Reset()
	BlockSize() int
}

// Identity copies its input. It is stateless.
type Identity struct {
	Size int
}

func (f Identity) Apply(in, out []complex64) error {
	if err := checkBlock(f.Size, in, out); err != nil {
		return err
	}
	copy(out, in)
	return nil
}

func (Identity) Reset() {}

func (f Identity) BlockSize() int { return f.Size }

func checkBlock(size int, in, out []complex64) error {
	if len(in) != size || len(out) != size {
		return fmt.Errorf("block size mismatch: in=%d out=%d want %d", len(in), len(out), size)
	}
	return nil
}
