package sdr

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bemasher/rtltcp"
	"github.com/pkg/errors"

	"github.com/rjboer/rxcal/internal/logging"
	"github.com/rjboer/rxcal/internal/mdns"
)

const (
	rtltcpDefaultAddr = "127.0.0.1:1234"
	rtltcpService     = "_rtl_tcp._tcp"
	rtltcpChunkBytes  = 16384
	rtltcpQueueDepth  = 256
)

// RTLTCPDevice drives an rtl_tcp server. The dongle has no IQ correction
// block, so the balance coefficient is applied in software.
type RTLTCPDevice struct {
	mu        sync.Mutex
	sdr       rtltcp.SDR
	addr      string
	logger    logging.Logger
	corrector IQCorrector
	pump      *pump
	stream    *rtltcpStream
}

func findRTLTCP(ctx context.Context, args Args) ([]Args, error) {
	if addr, ok := args["addr"]; ok {
		d := net.Dialer{Timeout: 2 * time.Second}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, nil
		}
		_ = conn.Close()
		return []Args{{"addr": addr}}, nil
	}
	hosts, err := mdns.Browse(ctx, rtltcpService, browseTimeout(args))
	if err != nil {
		return nil, err
	}
	out := make([]Args, 0, len(hosts))
	for _, h := range hosts {
		out = append(out, Args{"addr": h.Addr(), "label": h.Instance})
	}
	return out, nil
}

func makeRTLTCP(_ context.Context, args Args, logger logging.Logger) (Device, error) {
	addr := args["addr"]
	if addr == "" {
		addr = rtltcpDefaultAddr
	}
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", addr)
	}

	d := &RTLTCPDevice{addr: addr, logger: logger}
	if err := d.sdr.Connect(tcpAddr); err != nil {
		return nil, errors.Wrap(err, "connect rtl_tcp")
	}
	logger.Info("connected to rtl_tcp", logging.F("addr", addr), logging.F("tuner", d.sdr.Info.Tuner.String()), logging.F("gain_count", d.sdr.Info.GainCount))

	d.pump = newPump(d.sdr.TCPConn, 2, rtltcpChunkBytes, rtltcpQueueDepth, decodeU8)
	return d, nil
}

// decodeU8 converts interleaved unsigned 8-bit IQ to complex64.
func decodeU8(dst []complex64, src []byte) {
	for i := range dst {
		re := (float32(src[2*i]) - 127.5) / 127.5
		im := (float32(src[2*i+1]) - 127.5) / 127.5
		dst[i] = complex(re, im)
	}
}

func (d *RTLTCPDevice) Driver() string { return "rtltcp" }

// SetMasterClockRate is not supported; the RTL2832 runs from a fixed crystal.
func (d *RTLTCPDevice) SetMasterClockRate(float64) error {
	return NewFault(CodeNotSupported, "set master clock rate", nil)
}

func (d *RTLTCPDevice) SetFrequency(hz float64) error {
	if hz <= 0 || hz > float64(^uint32(0)) {
		return fmt.Errorf("frequency %.0f Hz out of range", hz)
	}
	return errors.Wrap(d.sdr.SetCenterFreq(uint32(hz)), "set center frequency")
}

func (d *RTLTCPDevice) SetSampleRate(rate float64) error {
	if rate <= 0 {
		return fmt.Errorf("sample rate must be positive")
	}
	return errors.Wrap(d.sdr.SetSampleRate(uint32(rate)), "set sample rate")
}

// SetAntenna accepts only the single RX input.
func (d *RTLTCPDevice) SetAntenna(name string) error {
	switch strings.ToUpper(name) {
	case "", "RX":
		return nil
	default:
		return NewFault(CodeNotSupported, "set antenna", fmt.Errorf("antenna %q", name))
	}
}

// SetGain maps LNA/TUNER to the tuner gain and IFn to IF stage n. Other
// stages are not supported.
func (d *RTLTCPDevice) SetGain(stage string, dB float64) error {
	tenths := uint32(dB*10 + 0.5)
	if dB < 0 {
		return fmt.Errorf("negative gain %.1f dB", dB)
	}
	upper := strings.ToUpper(stage)
	switch {
	case upper == "LNA" || upper == "TUNER":
		if err := d.sdr.SetGainMode(false); err != nil {
			return errors.Wrap(err, "set manual gain mode")
		}
		return errors.Wrap(d.sdr.SetGain(tenths), "set tuner gain")
	case strings.HasPrefix(upper, "IF"):
		n, err := strconv.Atoi(upper[2:])
		if err != nil {
			return fmt.Errorf("invalid IF stage %q", stage)
		}
		return errors.Wrap(d.sdr.SetTunerIfGain(uint16(n), uint16(tenths)), "set if gain")
	default:
		return NewFault(CodeNotSupported, "set gain", fmt.Errorf("stage %q", stage))
	}
}

func (d *RTLTCPDevice) SetIQBalance(c complex128) error {
	corr, err := NewIQCorrector(c)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.corrector = corr
	d.mu.Unlock()
	return nil
}

func (d *RTLTCPDevice) IQBalance() complex128 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.corrector.Identity() {
		return 1
	}
	return d.corrector.Coefficient()
}

func (d *RTLTCPDevice) SetupStream(format string, channels []int) (Stream, error) {
	if format != FormatCF32 {
		return nil, NewFault(CodeNotSupported, "setup stream", fmt.Errorf("format %q", format))
	}
	for _, ch := range channels {
		if ch != 0 {
			return nil, NewFault(CodeNotSupported, "setup stream", fmt.Errorf("channel %d", ch))
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream != nil {
		return nil, fmt.Errorf("stream already open")
	}
	d.stream = &rtltcpStream{dev: d}
	return d.stream, nil
}

// Close drops the rtl_tcp connection.
func (d *RTLTCPDevice) Close() error {
	return errors.Wrap(d.sdr.Close(), "close rtl_tcp")
}

type rtltcpStream struct {
	dev    *RTLTCPDevice
	closed bool
}

func (s *rtltcpStream) Activate() error {
	if s.closed {
		return NewFault(CodeStreamError, "activate", fmt.Errorf("stream closed"))
	}
	s.dev.pump.start()
	return nil
}

func (s *rtltcpStream) Deactivate() error {
	s.dev.pump.stop()
	return nil
}

func (s *rtltcpStream) Read(ctx context.Context, buf []complex64, timeout time.Duration) (int, error) {
	n, err := s.dev.pump.read(ctx, buf, timeout)
	if err != nil {
		return 0, err
	}
	s.dev.mu.Lock()
	corr := s.dev.corrector
	s.dev.mu.Unlock()
	corr.Apply(buf[:n])
	return n, nil
}

func (s *rtltcpStream) Close() error {
	s.dev.pump.stop()
	s.closed = true
	s.dev.mu.Lock()
	s.dev.stream = nil
	s.dev.mu.Unlock()
	return nil
}

func browseTimeout(args Args) time.Duration {
	if v, ok := args["browse"]; ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return 2 * time.Second
}
