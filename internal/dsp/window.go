package dsp

import (
	"fmt"
	"math"
	"strings"
)

// Window builds a tapering window of length n.
type Window func(n int) []float64

// Hamming returns a Hamming window of length n.
// If n is zero or negative, an empty slice is returned.
func Hamming(n int) []float64 {
	return cosineWindow(n, 0.54, 0.46, 0)
}

// Blackman returns a Blackman window of length n.
func Blackman(n int) []float64 {
	return cosineWindow(n, 0.42, 0.5, 0.08)
}

func cosineWindow(n int, a0, a1, a2 float64) []float64 {
	if n <= 0 {
		return []float64{}
	}
	win := make([]float64, n)
	if n == 1 {
		win[0] = 1
		return win
	}
	for i := 0; i < n; i++ {
		x := 2 * math.Pi * float64(i) / float64(n-1)
		win[i] = a0 - a1*math.Cos(x) + a2*math.Cos(2*x)
	}
	return win
}

// ParseWindow maps a name to a Window. The empty name selects Hamming.
func ParseWindow(name string) (Window, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "hamming", "":
		return Hamming, nil
	case "blackman":
		return Blackman, nil
	default:
		return nil, fmt.Errorf("unsupported window %q", name)
	}
}

// ApplyWindow multiplies taps by window in place.
// The window length must match the taps length.
func ApplyWindow(taps []complex128, window []float64) error {
	if len(taps) != len(window) {
		return fmt.Errorf("window length %d does not match %d taps", len(window), len(taps))
	}
	for i, w := range window {
		taps[i] *= complex(w, 0)
	}
	return nil
}
