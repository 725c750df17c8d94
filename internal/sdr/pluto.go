package sdr

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/rjboer/rxcal/internal/logging"
	"github.com/rjboer/rxcal/internal/mdns"
)

const (
	plutoService    = "_iio._tcp"
	plutoPhy        = "ad9361-phy"
	plutoRx         = "cf-ad9361-lpc"
	plutoMaxGain    = 73.0
	plutoChunkBytes = 32768
	plutoQueueDepth = 256
	adcScale        = 2048.0 // 2^11 for 12-bit signed ADC
)

// PlutoSDR drives an AD9361 receiver over SSH: attributes go through
// sysfs and samples come from iio_readdev running on the device.
//
// The AD9361 only offers automatic quadrature tracking. A balance of
// exactly 1 enables it; any other coefficient disables tracking and is
// applied in software.
type PlutoSDR struct {
	mu        sync.Mutex
	sysfs     *SSHSysfs
	logger    logging.Logger
	phy       string
	rx        string
	gains     map[string]float64
	corrector IQCorrector
	stream    *plutoStream
}

func findPluto(ctx context.Context, args Args) ([]Args, error) {
	if host, ok := args["host"]; ok && host != "" {
		return []Args{{"host": host}}, nil
	}
	hosts, err := mdns.Browse(ctx, plutoService, browseTimeout(args))
	if err != nil {
		return nil, err
	}
	out := make([]Args, 0, len(hosts))
	for _, h := range hosts {
		host := strings.TrimSuffix(h.Hostname, ".")
		for _, ip := range h.Addresses {
			if ip.To4() != nil {
				host = ip.String()
				break
			}
		}
		out = append(out, Args{"host": host, "label": h.Instance})
	}
	return out, nil
}

func makePluto(_ context.Context, args Args, logger logging.Logger) (Device, error) {
	cfg := SSHConfig{
		Host:      args["host"],
		User:      args["user"],
		Password:  args["password"],
		KeyPath:   args["key"],
		SysfsRoot: args["sysfs"],
	}
	if cfg.Password == "" && cfg.KeyPath == "" {
		cfg.Password = "analog"
	}
	if v, ok := args["port"]; ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse port: %w", err)
		}
		cfg.Port = port
	}
	sysfs, err := NewSSHSysfs(cfg)
	if err != nil {
		return nil, err
	}
	return newPluto(sysfs, args, logger), nil
}

func newPluto(sysfs *SSHSysfs, args Args, logger logging.Logger) *PlutoSDR {
	p := &PlutoSDR{
		sysfs:  sysfs,
		logger: logger,
		phy:    plutoPhy,
		rx:     plutoRx,
		gains:  make(map[string]float64),
	}
	if v := args["phy"]; v != "" {
		p.phy = v
	}
	if v := args["rx"]; v != "" {
		p.rx = v
	}
	return p
}

func (p *PlutoSDR) Driver() string { return "pluto" }

func (p *PlutoSDR) write(channel, attr, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p.logger.Debug("write attribute", logging.F("channel", channel), logging.F("attr", attr), logging.F("value", value))
	return p.sysfs.WriteAttribute(ctx, p.phy, channel, attr, value)
}

// SetMasterClockRate is not supported; the AD9361 derives its clocks from
// the sampling frequency.
func (p *PlutoSDR) SetMasterClockRate(float64) error {
	return NewFault(CodeNotSupported, "set master clock rate", nil)
}

func (p *PlutoSDR) SetFrequency(hz float64) error {
	return p.write("altvoltage0", "frequency", fmt.Sprintf("%.0f", hz))
}

func (p *PlutoSDR) SetSampleRate(rate float64) error {
	if rate <= 0 {
		return fmt.Errorf("sample rate must be positive")
	}
	return p.write("voltage0", "sampling_frequency", fmt.Sprintf("%.0f", rate))
}

func (p *PlutoSDR) SetAntenna(name string) error {
	return p.write("voltage0", "rf_port_select", name)
}

// SetGain records the stage gain and programs the sum of all stages as the
// single AD9361 hardware gain.
func (p *PlutoSDR) SetGain(stage string, dB float64) error {
	p.mu.Lock()
	p.gains[stage] = dB
	total := totalGain(p.gains)
	p.mu.Unlock()

	if err := p.write("voltage0", "gain_control_mode", "manual"); err != nil {
		return err
	}
	return p.write("voltage0", "hardwaregain", fmt.Sprintf("%.0f", total))
}

func totalGain(gains map[string]float64) float64 {
	total := 0.0
	for _, g := range gains {
		total += g
	}
	if total > plutoMaxGain {
		total = plutoMaxGain
	}
	if total < 0 {
		total = 0
	}
	return total
}

func (p *PlutoSDR) SetIQBalance(c complex128) error {
	corr, err := NewIQCorrector(c)
	if err != nil {
		return err
	}
	tracking := "0"
	if corr.Identity() {
		tracking = "1"
	}
	if err := p.write("voltage", "quadrature_tracking_en", tracking); err != nil {
		return err
	}
	p.mu.Lock()
	p.corrector = corr
	p.mu.Unlock()
	return nil
}

func (p *PlutoSDR) IQBalance() complex128 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.corrector.Identity() {
		return 1
	}
	return p.corrector.Coefficient()
}

func (p *PlutoSDR) SetupStream(format string, channels []int) (Stream, error) {
	if format != FormatCF32 {
		return nil, NewFault(CodeNotSupported, "setup stream", fmt.Errorf("format %q", format))
	}
	for _, ch := range channels {
		if ch != 0 {
			return nil, NewFault(CodeNotSupported, "setup stream", fmt.Errorf("channel %d", ch))
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream != nil {
		return nil, fmt.Errorf("stream already open")
	}

	cmd := fmt.Sprintf("iio_readdev -b %d %s voltage0 voltage1", plutoChunkBytes/4, shellQuote(p.rx))
	session, stdout, err := p.sysfs.Start(context.Background(), cmd)
	if err != nil {
		return nil, fmt.Errorf("start capture: %w", err)
	}
	p.stream = &plutoStream{
		dev:     p,
		session: session,
		pump:    newPump(stdout, 4, plutoChunkBytes, plutoQueueDepth, decodeS16LE),
	}
	return p.stream, nil
}

// Close drops the SSH connection.
func (p *PlutoSDR) Close() error {
	return p.sysfs.Close()
}

// decodeS16LE converts interleaved little-endian int16 IQ to complex64.
func decodeS16LE(dst []complex64, src []byte) {
	for i := range dst {
		re := int16(binary.LittleEndian.Uint16(src[4*i:]))
		im := int16(binary.LittleEndian.Uint16(src[4*i+2:]))
		dst[i] = complex(float32(re)/adcScale, float32(im)/adcScale)
	}
}

type plutoStream struct {
	dev     *PlutoSDR
	session *ssh.Session
	pump    *pump
}

func (s *plutoStream) Activate() error {
	s.pump.start()
	return nil
}

func (s *plutoStream) Deactivate() error {
	s.pump.stop()
	return nil
}

func (s *plutoStream) Read(ctx context.Context, buf []complex64, timeout time.Duration) (int, error) {
	n, err := s.pump.read(ctx, buf, timeout)
	if err != nil {
		return 0, err
	}
	s.dev.mu.Lock()
	corr := s.dev.corrector
	s.dev.mu.Unlock()
	corr.Apply(buf[:n])
	return n, nil
}

func (s *plutoStream) Close() error {
	s.pump.stop()
	_ = s.session.Signal(ssh.SIGTERM)
	err := s.session.Close()
	s.dev.mu.Lock()
	s.dev.stream = nil
	s.dev.mu.Unlock()
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("close capture session: %w", err)
	}
	return nil
}
