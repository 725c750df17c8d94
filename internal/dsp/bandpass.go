package dsp

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// BandpassConfig describes a bandpass filter with raised-cosine skirts.
// Frequencies are in Hz relative to the center frequency and may be
// negative; the filter is complex and passes only the band given.
type BandpassConfig struct {
	LowStop    float64
	LowPass    float64
	HighPass   float64
	HighStop   float64
	Taps       int
	Gain       float64
	SampleRate float64
	BlockSize  int
	Window     Window
}

// Validate checks edge ordering and sizes.
func (c BandpassConfig) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive")
	}
	if c.Taps < 1 {
		return fmt.Errorf("taps must be positive")
	}
	if c.BlockSize < 1 {
		return fmt.Errorf("block size must be positive")
	}
	if !(c.LowStop <= c.LowPass && c.LowPass < c.HighPass && c.HighPass <= c.HighStop) {
		return fmt.Errorf("band edges must satisfy lowStop <= lowPass < highPass <= highStop")
	}
	nyquist := c.SampleRate / 2
	if c.LowStop < -nyquist || c.HighStop > nyquist {
		return fmt.Errorf("band edges exceed +/- %.0f Hz", nyquist)
	}
	return nil
}

// BandpassFilter is an overlap-save FFT filter. Each Apply consumes one
// block and keeps the last Taps-1 input samples so consecutive blocks filter
// as one continuous stream. The work buffer is laid out as
// [history | block | zeros] with the zeros padding it to a power of two.
type BandpassFilter struct {
	mu       sync.Mutex
	cfg      BandpassConfig
	fftSize  int
	fft      *fourier.CmplxFFT
	taps     []complex128
	response []complex128
	history  []complex128
	work     []complex128
	freq     []complex128
}

// NewBandpass designs the filter and allocates its block buffers.
func NewBandpass(cfg BandpassConfig) (*BandpassFilter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Gain == 0 {
		cfg.Gain = 1
	}
	if cfg.Window == nil {
		cfg.Window = Hamming
	}

	taps, err := designTaps(cfg)
	if err != nil {
		return nil, err
	}

	n := fftLength(cfg.BlockSize + cfg.Taps - 1)
	fft := fourier.NewCmplxFFT(n)
	padded := make([]complex128, n)
	copy(padded, taps)

	return &BandpassFilter{
		cfg:      cfg,
		fftSize:  n,
		fft:      fft,
		taps:     taps,
		response: fft.Coefficients(nil, padded),
		history:  make([]complex128, cfg.Taps-1),
		work:     make([]complex128, n),
		freq:     make([]complex128, n),
	}, nil
}

// fftLength rounds n up to a power of two. Lengths with a large prime
// factor make the FFT degrade towards O(n^2).
func fftLength(n int) int {
	size := 1
	for size < n {
		size <<= 1
	}
	return size
}

// designTaps samples the desired response on a fixed grid, so the taps do
// not depend on the block size, then truncates and windows the impulse
// response.
func designTaps(cfg BandpassConfig) ([]complex128, error) {
	grid := 4096
	for grid < 8*cfg.Taps {
		grid *= 2
	}
	desired := make([]complex128, grid)
	for k := range desired {
		f := float64(k) * cfg.SampleRate / float64(grid)
		if k > grid/2 {
			f -= cfg.SampleRate
		}
		desired[k] = complex(skirt(cfg, f), 0)
	}
	impulse := fourier.NewCmplxFFT(grid).Sequence(nil, desired)

	taps := make([]complex128, cfg.Taps)
	half := cfg.Taps / 2
	scale := complex(cfg.Gain/float64(grid), 0)
	for m := range taps {
		idx := ((m-half)%grid + grid) % grid
		taps[m] = impulse[idx] * scale
	}
	if err := ApplyWindow(taps, cfg.Window(cfg.Taps)); err != nil {
		return nil, err
	}
	return taps, nil
}

// skirt is the desired magnitude at f: unity in the passband, zero beyond
// the stop edges and a raised cosine in between.
func skirt(cfg BandpassConfig, f float64) float64 {
	switch {
	case f < cfg.LowStop || f > cfg.HighStop:
		return 0
	case f >= cfg.LowPass && f <= cfg.HighPass:
		return 1
	case f < cfg.LowPass:
		return 0.5 - 0.5*math.Cos(math.Pi*(f-cfg.LowStop)/(cfg.LowPass-cfg.LowStop))
	default:
		return 0.5 + 0.5*math.Cos(math.Pi*(f-cfg.HighPass)/(cfg.HighStop-cfg.HighPass))
	}
}

// Apply filters one block. in and out must both be BlockSize long and may
// alias.
func (b *BandpassFilter) Apply(in, out []complex64) error {
	if err := checkBlock(b.cfg.BlockSize, in, out); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	m := len(b.history)
	n := len(in)
	copy(b.work, b.history)
	for i, v := range in {
		b.work[m+i] = complex128(v)
	}
	for i := m + n; i < b.fftSize; i++ {
		b.work[i] = 0
	}
	copy(b.history, b.work[n:n+m])

	b.freq = b.fft.Coefficients(b.freq, b.work)
	for k := range b.freq {
		b.freq[k] *= b.response[k]
	}
	b.work = b.fft.Sequence(b.work, b.freq)

	norm := complex(1/float64(b.fftSize), 0)
	for i := range out {
		out[i] = complex64(b.work[m+i] * norm)
	}
	return nil
}

// Reset clears the overlap history.
func (b *BandpassFilter) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.history {
		b.history[i] = 0
	}
}

// BlockSize returns the block length Apply expects.
func (b *BandpassFilter) BlockSize() int { return b.cfg.BlockSize }

// Taps returns a copy of the windowed impulse response.
func (b *BandpassFilter) Taps() []complex128 {
	return append([]complex128(nil), b.taps...)
}
