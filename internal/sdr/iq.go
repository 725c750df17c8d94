package sdr

import (
	"fmt"
	"math"
	"math/cmplx"
)

// IQCorrector applies an IQ balance coefficient in software for backends
// whose hardware has no correction block. |c| is the Q/I amplitude ratio and
// arg(c) the quadrature skew in radians:
//
//	I' = I
//	Q' = (Q*cos(arg c) - I*sin(arg c)) / |c|
//
// c == 1 leaves samples untouched.
type IQCorrector struct {
	coeff      complex128
	gainQ      float32
	cosP, sinP float32
}

// NewIQCorrector validates c and precomputes the correction terms.
func NewIQCorrector(c complex128) (IQCorrector, error) {
	gain := cmplx.Abs(c)
	if gain == 0 || math.IsNaN(gain) || math.IsInf(gain, 0) {
		return IQCorrector{}, fmt.Errorf("invalid iq balance %v", c)
	}
	phase := cmplx.Phase(c)
	return IQCorrector{
		coeff: c,
		gainQ: float32(1 / gain),
		cosP:  float32(math.Cos(phase)),
		sinP:  float32(math.Sin(phase)),
	}, nil
}

// Coefficient returns the configured coefficient.
func (c IQCorrector) Coefficient() complex128 { return c.coeff }

// Identity reports whether Apply is a no-op.
func (c IQCorrector) Identity() bool {
	return c.coeff == 0 || c.coeff == 1
}

// Apply corrects buf in place.
func (c IQCorrector) Apply(buf []complex64) {
	if c.Identity() {
		return
	}
	for i, v := range buf {
		re, im := real(v), imag(v)
		buf[i] = complex(re, c.gainQ*(im*c.cosP-re*c.sinP))
	}
}
