package sdr

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rjboer/rxcal/internal/logging"
)

// MockConfig shapes the synthetic receiver. Zero values fall back to defaults.
type MockConfig struct {
	ToneOffset float64 // Hz relative to the center frequency
	Amplitude  float64
	Noise      float64 // standard deviation per component
	Seed       int64
	// ImbalanceGain and ImbalancePhase model the receiver's IQ error. An
	// IQ balance of ImbalanceGain*exp(j*ImbalancePhase) removes it exactly.
	ImbalanceGain  float64
	ImbalancePhase float64
	// Chunks is the cycle of delivered read sizes; empty delivers everything requested.
	Chunks []int
	// FaultEvery makes every Nth read return FaultCode instead of data.
	FaultEvery int
	FaultCode  int
}

func (c MockConfig) withDefaults() MockConfig {
	if c.ToneOffset == 0 {
		c.ToneOffset = 15e3
	}
	if c.Amplitude == 0 {
		c.Amplitude = 0.5
	}
	if c.ImbalanceGain == 0 {
		c.ImbalanceGain = 1
	}
	// The imbalance model divides by cos(phase).
	if !phaseInRange(c.ImbalancePhase) {
		c.ImbalancePhase = 0
	}
	if c.FaultEvery > 0 && c.FaultCode == 0 {
		c.FaultCode = CodeOverflow
	}
	return c
}

func phaseInRange(p float64) bool {
	return math.Abs(p) < math.Pi/2-1e-6
}

// MockDevice synthesizes a single tone with a configurable IQ imbalance.
type MockDevice struct {
	mu         sync.Mutex
	cfg        MockConfig
	logger     logging.Logger
	clockRate  float64
	frequency  float64
	sampleRate float64
	antenna    string
	gains      map[string]float64
	corrector  IQCorrector
	closed     bool
}

// NewMock builds a mock device.
func NewMock(cfg MockConfig, logger logging.Logger) *MockDevice {
	if logger == nil {
		logger = logging.Default()
	}
	return &MockDevice{
		cfg:        cfg.withDefaults(),
		logger:     logger,
		sampleRate: 625e3,
		gains:      make(map[string]float64),
	}
}

func findMock(_ context.Context, args Args) ([]Args, error) {
	count := 1
	if v, ok := args["devices"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse devices: %w", err)
		}
		if n < 0 {
			return nil, fmt.Errorf("devices must not be negative, got %d", n)
		}
		count = n
	}
	out := make([]Args, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, Args{"serial": fmt.Sprintf("mock%d", i)})
	}
	return out, nil
}

func makeMock(_ context.Context, args Args, logger logging.Logger) (Device, error) {
	cfg, err := parseMockArgs(args)
	if err != nil {
		return nil, err
	}
	return NewMock(cfg, logger), nil
}

func parseMockArgs(args Args) (MockConfig, error) {
	var cfg MockConfig
	floats := map[string]*float64{
		"tone":      &cfg.ToneOffset,
		"amplitude": &cfg.Amplitude,
		"noise":     &cfg.Noise,
		"iq_gain":   &cfg.ImbalanceGain,
		"iq_phase":  &cfg.ImbalancePhase,
	}
	for key, dst := range floats {
		if v, ok := args[key]; ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return MockConfig{}, fmt.Errorf("parse %s: %w", key, err)
			}
			*dst = f
		}
	}
	if !phaseInRange(cfg.ImbalancePhase) {
		return MockConfig{}, fmt.Errorf("iq_phase %g out of range (-pi/2, pi/2)", cfg.ImbalancePhase)
	}
	if v, ok := args["seed"]; ok {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return MockConfig{}, fmt.Errorf("parse seed: %w", err)
		}
		cfg.Seed = seed
	}
	if v, ok := args["fault_every"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return MockConfig{}, fmt.Errorf("parse fault_every: %w", err)
		}
		cfg.FaultEvery = n
	}
	// Chunks are separated by ':' because ',' separates args.
	if v, ok := args["chunks"]; ok && v != "" {
		for _, part := range strings.Split(v, ":") {
			n, err := strconv.Atoi(part)
			if err != nil || n <= 0 {
				return MockConfig{}, fmt.Errorf("invalid chunk size %q", part)
			}
			cfg.Chunks = append(cfg.Chunks, n)
		}
	}
	return cfg, nil
}

func (m *MockDevice) Driver() string { return "mock" }

func (m *MockDevice) SetMasterClockRate(rate float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clockRate = rate
	return nil
}

func (m *MockDevice) SetFrequency(hz float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frequency = hz
	return nil
}

func (m *MockDevice) SetSampleRate(rate float64) error {
	if rate <= 0 {
		return fmt.Errorf("sample rate must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sampleRate = rate
	return nil
}

func (m *MockDevice) SetAntenna(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.antenna = name
	return nil
}

func (m *MockDevice) SetGain(stage string, dB float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gains[stage] = dB
	return nil
}

// Gain returns the last gain set for stage.
func (m *MockDevice) Gain(stage string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gains[stage]
}

func (m *MockDevice) SetIQBalance(c complex128) error {
	corr, err := NewIQCorrector(c)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.corrector = corr
	m.mu.Unlock()
	m.logger.Debug("iq balance set", logging.F("real", real(c)), logging.F("imag", imag(c)))
	return nil
}

func (m *MockDevice) IQBalance() complex128 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.corrector.Identity() {
		return 1
	}
	return m.corrector.Coefficient()
}

func (m *MockDevice) SetupStream(format string, _ []int) (Stream, error) {
	if format != FormatCF32 {
		return nil, NewFault(CodeNotSupported, "setup stream", fmt.Errorf("format %q", format))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("device closed")
	}
	return &mockStream{dev: m, rng: rand.New(rand.NewSource(m.cfg.Seed))}, nil
}

func (m *MockDevice) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

type mockStream struct {
	dev    *MockDevice
	rng    *rand.Rand
	active bool
	closed bool
	reads  int
	pos    int64
}

func (s *mockStream) Activate() error {
	if s.closed {
		return NewFault(CodeStreamError, "activate", fmt.Errorf("stream closed"))
	}
	s.active = true
	return nil
}

func (s *mockStream) Deactivate() error {
	if !s.active {
		return NewFault(CodeStreamError, "deactivate", errInactive)
	}
	s.active = false
	return nil
}

func (s *mockStream) Close() error {
	s.active = false
	s.closed = true
	return nil
}

func (s *mockStream) Read(ctx context.Context, buf []complex64, _ time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, NewFault(CodeStreamError, "read", err)
	}
	if !s.active {
		return 0, NewFault(CodeStreamError, "read", errInactive)
	}

	s.dev.mu.Lock()
	cfg := s.dev.cfg
	rate := s.dev.sampleRate
	corr := s.dev.corrector
	s.dev.mu.Unlock()

	idx := s.reads
	s.reads++
	if cfg.FaultEvery > 0 && (idx+1)%cfg.FaultEvery == 0 {
		return 0, NewFault(cfg.FaultCode, "read", nil)
	}

	n := len(buf)
	if len(cfg.Chunks) > 0 {
		if c := cfg.Chunks[idx%len(cfg.Chunks)]; c < n {
			n = c
		}
	}

	step := 2 * math.Pi * cfg.ToneOffset / rate
	cosP, sinP := math.Cos(cfg.ImbalancePhase), math.Sin(cfg.ImbalancePhase)
	for i := 0; i < n; i++ {
		phase := step * float64(s.pos)
		s.pos++
		re := cfg.Amplitude * math.Cos(phase)
		im := cfg.Amplitude * math.Sin(phase)
		if cfg.Noise > 0 {
			re += s.rng.NormFloat64() * cfg.Noise
			im += s.rng.NormFloat64() * cfg.Noise
		}
		q := (cfg.ImbalanceGain*im + re*sinP) / cosP
		buf[i] = complex(float32(re), float32(q))
	}
	corr.Apply(buf[:n])
	return n, nil
}
