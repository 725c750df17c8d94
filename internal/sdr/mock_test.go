package sdr

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

func activeMockStream(t *testing.T, m *MockDevice) Stream {
	t.Helper()
	s, err := m.SetupStream(FormatCF32, []int{0})
	if err != nil {
		t.Fatalf("setup stream failed: %v", err)
	}
	if err := s.Activate(); err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	return s
}

func TestMockChunkSchedule(t *testing.T) {
	m := NewMock(MockConfig{Chunks: []int{1, 2, 1}}, nil)
	s := activeMockStream(t, m)

	buf := make([]complex64, 8)
	var sizes []int
	for i := 0; i < 4; i++ {
		n, err := s.Read(context.Background(), buf, time.Millisecond)
		if err != nil {
			t.Fatalf("read %d failed: %v", i, err)
		}
		sizes = append(sizes, n)
	}
	want := []int{1, 2, 1, 1}
	for i := range want {
		if sizes[i] != want[i] {
			t.Fatalf("read sizes %v, want %v", sizes, want)
		}
	}
}

func TestMockFaultEvery(t *testing.T) {
	m := NewMock(MockConfig{FaultEvery: 3}, nil)
	s := activeMockStream(t, m)

	buf := make([]complex64, 4)
	for i := 1; i <= 6; i++ {
		_, err := s.Read(context.Background(), buf, time.Millisecond)
		if i%3 == 0 {
			if !errors.Is(err, ErrOverflow) {
				t.Fatalf("read %d: expected overflow, got %v", i, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("read %d: unexpected error %v", i, err)
		}
	}
}

func TestMockReadRequiresActivation(t *testing.T) {
	m := NewMock(MockConfig{}, nil)
	s, err := m.SetupStream(FormatCF32, nil)
	if err != nil {
		t.Fatalf("setup stream failed: %v", err)
	}
	if _, err := s.Read(context.Background(), make([]complex64, 1), time.Millisecond); FaultCode(err) != CodeStreamError {
		t.Fatalf("expected stream error, got %v", err)
	}
}

func TestMockRejectsUnknownFormat(t *testing.T) {
	m := NewMock(MockConfig{}, nil)
	if _, err := m.SetupStream("CS16", nil); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("expected not supported, got %v", err)
	}
}

func TestMockIQBalanceRemovesImbalance(t *testing.T) {
	cfg := MockConfig{ToneOffset: 15e3, Amplitude: 0.5, ImbalanceGain: 1.1, ImbalancePhase: 0.05}
	raw := NewMock(cfg, nil)
	fixed := NewMock(cfg, nil)
	if err := fixed.SetIQBalance(complex(1.1*math.Cos(0.05), 1.1*math.Sin(0.05))); err != nil {
		t.Fatalf("set iq balance: %v", err)
	}

	rawBuf := make([]complex64, 256)
	fixedBuf := make([]complex64, 256)
	if _, err := activeMockStream(t, raw).Read(context.Background(), rawBuf, time.Millisecond); err != nil {
		t.Fatalf("raw read: %v", err)
	}
	if _, err := activeMockStream(t, fixed).Read(context.Background(), fixedBuf, time.Millisecond); err != nil {
		t.Fatalf("fixed read: %v", err)
	}

	step := 2 * math.Pi * cfg.ToneOffset / 625e3
	var rawErr, fixedErr float64
	for i := range fixedBuf {
		ideal := complex(0.5*math.Cos(step*float64(i)), 0.5*math.Sin(step*float64(i)))
		rawErr = math.Max(rawErr, math.Abs(float64(imag(rawBuf[i]))-imag(ideal)))
		fixedErr = math.Max(fixedErr, math.Abs(float64(imag(fixedBuf[i]))-imag(ideal)))
		if math.Abs(float64(real(fixedBuf[i]))-real(ideal)) > 1e-5 {
			t.Fatalf("I component changed at %d", i)
		}
	}
	if fixedErr > 1e-5 {
		t.Fatalf("corrected Q error %.2e too large", fixedErr)
	}
	if rawErr < 1e-2 {
		t.Fatalf("raw stream should carry the imbalance, error %.2e", rawErr)
	}
}

func TestParseMockArgs(t *testing.T) {
	cfg, err := parseMockArgs(Args{"tone": "1000", "chunks": "1:2:3", "fault_every": "5", "seed": "7"})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cfg.ToneOffset != 1000 || len(cfg.Chunks) != 3 || cfg.Chunks[2] != 3 || cfg.FaultEvery != 5 || cfg.Seed != 7 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if _, err := parseMockArgs(Args{"chunks": "1:0"}); err == nil {
		t.Fatal("expected error for zero chunk")
	}
}

func TestParseMockArgsRejectsDegeneratePhase(t *testing.T) {
	for _, v := range []string{"1.5707963", "-1.6", "3"} {
		if _, err := parseMockArgs(Args{"iq_phase": v}); err == nil {
			t.Errorf("iq_phase=%s: expected error", v)
		}
	}
	if cfg, err := parseMockArgs(Args{"iq_phase": "0.1"}); err != nil || cfg.ImbalancePhase != 0.1 {
		t.Fatalf("iq_phase=0.1: cfg=%+v err=%v", cfg, err)
	}
}

func TestMockDegeneratePhaseStaysBounded(t *testing.T) {
	m := NewMock(MockConfig{ImbalancePhase: math.Pi / 2}, nil)
	s := activeMockStream(t, m)
	buf := make([]complex64, 64)
	n, err := s.Read(context.Background(), buf, time.Millisecond)
	if err != nil || n != len(buf) {
		t.Fatalf("read n=%d err=%v", n, err)
	}
	for i, v := range buf {
		if math.Abs(float64(real(v))) > 1 || math.Abs(float64(imag(v))) > 1 {
			t.Fatalf("sample %d out of range: %v", i, v)
		}
	}
}
