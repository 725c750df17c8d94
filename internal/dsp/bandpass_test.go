package dsp

import (
	"math"
	"math/cmplx"
	"testing"
)

func testConfig(block int) BandpassConfig {
	return BandpassConfig{
		LowStop:    3000,
		LowPass:    4000,
		HighPass:   8000,
		HighStop:   9000,
		Taps:       128,
		Gain:       1,
		SampleRate: 48000,
		BlockSize:  block,
	}
}

func tone(freq, rate float64, start, n int) []complex64 {
	out := make([]complex64, n)
	for i := range out {
		phase := 2 * math.Pi * freq * float64(start+i) / rate
		out[i] = complex64(cmplx.Exp(complex(0, phase)))
	}
	return out
}

// steadyStateGain filters two blocks of a tone and returns the mean
// magnitude of the second block.
func steadyStateGain(t *testing.T, freq float64) float64 {
	t.Helper()
	cfg := testConfig(1024)
	f, err := NewBandpass(cfg)
	if err != nil {
		t.Fatalf("NewBandpass failed: %v", err)
	}
	out := make([]complex64, cfg.BlockSize)
	for blk := 0; blk < 2; blk++ {
		if err := f.Apply(tone(freq, cfg.SampleRate, blk*cfg.BlockSize, cfg.BlockSize), out); err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
	}
	sum := 0.0
	for _, v := range out {
		sum += cmplx.Abs(complex128(v))
	}
	return sum / float64(len(out))
}

func TestBandpassPassesInBandTone(t *testing.T) {
	if g := steadyStateGain(t, 6000); math.Abs(g-1) > 0.03 {
		t.Fatalf("passband gain %.4f, want ~1", g)
	}
}

func TestBandpassRejectsOutOfBandTones(t *testing.T) {
	for _, freq := range []float64{15000, -6000, 500} {
		if g := steadyStateGain(t, freq); g > 0.01 {
			t.Errorf("tone at %.0f Hz leaked with gain %.4f", freq, g)
		}
	}
}

func TestBandpassBlockBoundaryContinuity(t *testing.T) {
	small, err := NewBandpass(testConfig(64))
	if err != nil {
		t.Fatalf("NewBandpass failed: %v", err)
	}
	large, err := NewBandpass(testConfig(128))
	if err != nil {
		t.Fatalf("NewBandpass failed: %v", err)
	}

	in := tone(5000, 48000, 0, 128)
	for i := range in {
		in[i] += complex(float32(i%7)*0.01, 0)
	}

	got := make([]complex64, 128)
	if err := small.Apply(in[:64], got[:64]); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if err := small.Apply(in[64:], got[64:]); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	want := make([]complex64, 128)
	if err := large.Apply(in, want); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	for i := range want {
		if cmplx.Abs(complex128(got[i]-want[i])) > 1e-4 {
			t.Fatalf("sample %d differs across block split: %v vs %v", i, got[i], want[i])
		}
	}
}

func TestBandpassContinuityAtOddBlockSize(t *testing.T) {
	split, err := NewBandpass(testConfig(50))
	if err != nil {
		t.Fatalf("NewBandpass failed: %v", err)
	}
	whole, err := NewBandpass(testConfig(150))
	if err != nil {
		t.Fatalf("NewBandpass failed: %v", err)
	}

	in := tone(6500, 48000, 0, 150)
	for i := range in {
		in[i] += complex(0, float32(i%5)*0.02)
	}

	got := make([]complex64, 150)
	for blk := 0; blk < 3; blk++ {
		lo, hi := blk*50, (blk+1)*50
		if err := split.Apply(in[lo:hi], got[lo:hi]); err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
	}
	want := make([]complex64, 150)
	if err := whole.Apply(in, want); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	for i := range want {
		if cmplx.Abs(complex128(got[i]-want[i])) > 1e-4 {
			t.Fatalf("sample %d differs across block split: %v vs %v", i, got[i], want[i])
		}
	}
}

func TestBandpassFFTLengthIsSmooth(t *testing.T) {
	cfg := BandpassConfig{
		LowStop:    12000,
		LowPass:    13500,
		HighPass:   16500,
		HighStop:   18000,
		Taps:       256,
		Gain:       1,
		SampleRate: 625000,
		BlockSize:  30000,
	}
	f, err := NewBandpass(cfg)
	if err != nil {
		t.Fatalf("NewBandpass failed: %v", err)
	}
	if f.fftSize < cfg.BlockSize+cfg.Taps-1 {
		t.Fatalf("fft length %d shorter than block plus history", f.fftSize)
	}
	n := f.fftSize
	for _, p := range []int{2, 3, 5} {
		for n%p == 0 {
			n /= p
		}
	}
	if n != 1 {
		t.Fatalf("fft length %d has large prime factor %d", f.fftSize, n)
	}
}

func TestBandpassResetClearsHistory(t *testing.T) {
	cfg := testConfig(256)
	f, err := NewBandpass(cfg)
	if err != nil {
		t.Fatalf("NewBandpass failed: %v", err)
	}
	in := tone(6000, cfg.SampleRate, 0, cfg.BlockSize)
	first := make([]complex64, cfg.BlockSize)
	if err := f.Apply(in, first); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	carried := make([]complex64, cfg.BlockSize)
	if err := f.Apply(in, carried); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if carried[0] == first[0] {
		t.Fatal("second block should depend on the first block's history")
	}

	f.Reset()
	again := make([]complex64, cfg.BlockSize)
	if err := f.Apply(in, again); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	for i := range first {
		if again[i] != first[i] {
			t.Fatalf("sample %d differs after Reset: %v vs %v", i, again[i], first[i])
		}
	}
}

func TestBandpassRejectsWrongBlockSize(t *testing.T) {
	f, err := NewBandpass(testConfig(64))
	if err != nil {
		t.Fatalf("NewBandpass failed: %v", err)
	}
	if err := f.Apply(make([]complex64, 63), make([]complex64, 64)); err == nil {
		t.Fatal("expected error for short input")
	}
	if f.BlockSize() != 64 || len(f.Taps()) != 128 {
		t.Fatalf("unexpected geometry: block=%d taps=%d", f.BlockSize(), len(f.Taps()))
	}
}

func TestBandpassConfigValidate(t *testing.T) {
	bad := []BandpassConfig{
		{LowStop: 1, LowPass: 2, HighPass: 3, HighStop: 4, Taps: 8, SampleRate: 0, BlockSize: 8},
		{LowStop: 1, LowPass: 2, HighPass: 3, HighStop: 4, Taps: 0, SampleRate: 100, BlockSize: 8},
		{LowStop: 3, LowPass: 2, HighPass: 3, HighStop: 4, Taps: 8, SampleRate: 100, BlockSize: 8},
		{LowStop: 1, LowPass: 2, HighPass: 3, HighStop: 60, Taps: 8, SampleRate: 100, BlockSize: 8},
	}
	for i, cfg := range bad {
		if err := cfg.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestIdentityFilter(t *testing.T) {
	f := Identity{Size: 3}
	in := []complex64{1, 2i, 3}
	out := make([]complex64, 3)
	if err := f.Apply(in, out); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("identity changed sample %d", i)
		}
	}
	if err := f.Apply(in[:2], out); err == nil {
		t.Fatal("expected size error")
	}
}
