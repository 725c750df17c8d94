package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rjboer/rxcal/internal/acquire"
	"github.com/rjboer/rxcal/internal/dsp"
	"github.com/rjboer/rxcal/internal/experiment"
	"github.com/rjboer/rxcal/internal/logging"
	"github.com/rjboer/rxcal/internal/sdr"
	"github.com/rjboer/rxcal/internal/telemetry"
)

// ErrNoDevice is returned when enumeration finds nothing to open.
var ErrNoDevice = errors.New("no device found")

// Gain is one named gain stage setting.
type Gain struct {
	Stage string
	DB    float64
}

// FilterConfig describes the bandpass applied to every trial. When all four
// edges are zero they are derived from ToneOffset as 0.8, 0.9, 1.1 and 1.2
// times the offset.
type FilterConfig struct {
	Bypass     bool
	ToneOffset float64
	LowStop    float64
	LowPass    float64
	HighPass   float64
	HighStop   float64
	Taps       int
	Gain       float64
	Window     string
}

// Edges returns the stop and pass edges in Hz.
func (f FilterConfig) Edges() (lowStop, lowPass, highPass, highStop float64) {
	if f.LowStop == 0 && f.LowPass == 0 && f.HighPass == 0 && f.HighStop == 0 {
		return f.ToneOffset * 0.8, f.ToneOffset * 0.9, f.ToneOffset * 1.1, f.ToneOffset * 1.2
	}
	return f.LowStop, f.LowPass, f.HighPass, f.HighStop
}

// ExperimentConfig is one entry of the campaign. A nil IQBalance leaves the
// device correction as the previous experiment left it.
type ExperimentConfig struct {
	Name        string
	Output      string
	Trials      int
	IQBalance   *complex128
	ResetFilter bool
}

// Config captures the device setup and the experiment list.
type Config struct {
	Device      string // enumeration selector, e.g. "driver=pluto,host=192.168.2.1"
	DeviceIndex int
	ClockRate   float64
	Frequency   float64
	SampleRate  float64
	Antenna     string
	Gains       []Gain
	Channels    []int
	BufferSize  int
	Timeout     time.Duration
	Filter      FilterConfig
	Policy      experiment.Policy
	OutputDir   string
	Experiments []ExperimentConfig
}

// DefaultConfig returns the reference calibration setup: a 15 kHz tone
// offset at 144.295 MHz, two experiments before and after an explicit IQ
// balance.
func DefaultConfig() Config {
	balance := complex(1.0, 1.0e-6)
	return Config{
		Device:     "driver=mock",
		ClockRate:  40e6,
		Frequency:  144.295e6,
		SampleRate: 625e3,
		Antenna:    "LNAL",
		Gains: []Gain{
			{Stage: "LNA", DB: 30},
			{Stage: "PGA", DB: 19},
			{Stage: "TIA", DB: 12},
		},
		BufferSize: 30000,
		Timeout:    acquire.DefaultTimeout,
		Filter: FilterConfig{
			ToneOffset: 144.310e6 - 144.295e6,
			Taps:       256,
			Gain:       1,
			Window:     "hamming",
		},
		Experiments: []ExperimentConfig{
			{Name: "auto", Output: "RX_IQ_AutoSettings.dat", Trials: experiment.DefaultTrials},
			{Name: "1r0_0", Output: "RX_IQ_1r0_0.dat", Trials: experiment.DefaultTrials, IQBalance: &balance},
		},
	}
}

// Campaign opens one device and runs the configured experiments in order
// over a single stream.
type Campaign struct {
	cfg      Config
	reporter telemetry.Reporter
	logger   logging.Logger
	runID    string
}

// NewCampaign builds a campaign. A nil reporter discards events.
func NewCampaign(cfg Config, reporter telemetry.Reporter, logger logging.Logger) *Campaign {
	if logger == nil {
		logger = logging.Default()
	}
	if reporter == nil {
		reporter = telemetry.Nop{}
	}
	return &Campaign{
		cfg:      cfg,
		reporter: reporter,
		logger:   logger.With(logging.F("subsystem", "campaign")),
		runID:    telemetry.NewRunID(),
	}
}

// RunID identifies this campaign in telemetry.
func (c *Campaign) RunID() string { return c.runID }

// Run enumerates, configures and opens the device, then runs every
// experiment. The device is closed on every path after it was opened.
func (c *Campaign) Run(ctx context.Context) (results []experiment.Result, err error) {
	if len(c.cfg.Experiments) == 0 {
		return nil, errors.New("no experiments configured")
	}
	if c.cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("buffer size must be positive, got %d", c.cfg.BufferSize)
	}

	found, err := sdr.Enumerate(ctx, c.cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("enumerate %q: %w", c.cfg.Device, err)
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w for %q", ErrNoDevice, c.cfg.Device)
	}
	if c.cfg.DeviceIndex < 0 || c.cfg.DeviceIndex >= len(found) {
		return nil, fmt.Errorf("device index %d out of range, %d found", c.cfg.DeviceIndex, len(found))
	}
	args := found[c.cfg.DeviceIndex]
	c.logger.Info("opening device", logging.F("args", args.String()), logging.F("found", len(found)), logging.F("run_id", c.runID))

	dev, err := sdr.Make(ctx, args, c.logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := dev.Close(); cerr != nil {
			c.logger.Error("close device failed", logging.F("err", cerr))
			if err == nil {
				err = fmt.Errorf("close device: %w", cerr)
			}
		}
	}()

	if err := c.configure(dev); err != nil {
		return nil, err
	}

	filter, err := c.buildFilter()
	if err != nil {
		return nil, err
	}
	raw := acquire.NewBuffer(c.cfg.BufferSize)
	filtered := acquire.NewBuffer(c.cfg.BufferSize)

	err = sdr.WithStream(ctx, dev, sdr.FormatCF32, c.cfg.Channels, c.logger, func(ctx context.Context, s sdr.Stream) error {
		runner := &experiment.Runner{
			Stream:   s,
			Filter:   filter,
			Raw:      raw,
			Filtered: filtered,
			Timeout:  c.cfg.Timeout,
			Policy:   c.cfg.Policy,
			Reporter: c.reporter,
			Logger:   c.logger,
			RunID:    c.runID,
		}
		for _, e := range c.cfg.Experiments {
			if e.IQBalance != nil {
				if err := dev.SetIQBalance(*e.IQBalance); err != nil {
					return fmt.Errorf("set iq balance for %s: %w", e.Name, err)
				}
				c.logger.Info("iq balance set", logging.F("experiment", e.Name), logging.F("real", real(*e.IQBalance)), logging.F("imag", imag(*e.IQBalance)))
			}
			res, err := runner.Run(ctx, experiment.Descriptor{
				Name:        e.Name,
				Output:      c.outputPath(e.Output),
				Trials:      e.Trials,
				ResetFilter: e.ResetFilter,
				Labels:      map[string]string{"iq_balance": formatBalance(dev.IQBalance())},
			})
			results = append(results, res)
			if err != nil {
				return err
			}
		}
		return nil
	})
	return results, err
}

type setting struct {
	name  string
	value any
	apply func() error
}

// configure applies the receive settings. Zero values are left at the
// device default; settings the device does not support are logged and
// skipped.
func (c *Campaign) configure(dev sdr.Device) error {
	var steps []setting
	if c.cfg.ClockRate != 0 {
		steps = append(steps, setting{"master clock rate", c.cfg.ClockRate, func() error { return dev.SetMasterClockRate(c.cfg.ClockRate) }})
	}
	if c.cfg.Frequency != 0 {
		steps = append(steps, setting{"frequency", c.cfg.Frequency, func() error { return dev.SetFrequency(c.cfg.Frequency) }})
	}
	if c.cfg.SampleRate != 0 {
		steps = append(steps, setting{"sample rate", c.cfg.SampleRate, func() error { return dev.SetSampleRate(c.cfg.SampleRate) }})
	}
	if c.cfg.Antenna != "" {
		steps = append(steps, setting{"antenna", c.cfg.Antenna, func() error { return dev.SetAntenna(c.cfg.Antenna) }})
	}
	for _, g := range c.cfg.Gains {
		g := g
		steps = append(steps, setting{"gain " + g.Stage, g.DB, func() error { return dev.SetGain(g.Stage, g.DB) }})
	}

	for _, st := range steps {
		if err := st.apply(); err != nil {
			if errors.Is(err, sdr.ErrNotSupported) {
				c.logger.Warn("setting not supported, skipped", logging.F("setting", st.name), logging.F("value", st.value))
				continue
			}
			return fmt.Errorf("set %s: %w", st.name, err)
		}
		c.logger.Debug("setting applied", logging.F("setting", st.name), logging.F("value", st.value))
	}
	return nil
}

func (c *Campaign) buildFilter() (dsp.Filter, error) {
	f := c.cfg.Filter
	if f.Bypass {
		return dsp.Identity{Size: c.cfg.BufferSize}, nil
	}
	window, err := dsp.ParseWindow(f.Window)
	if err != nil {
		return nil, err
	}
	ls, lp, hp, hs := f.Edges()
	bp, err := dsp.NewBandpass(dsp.BandpassConfig{
		LowStop:    ls,
		LowPass:    lp,
		HighPass:   hp,
		HighStop:   hs,
		Taps:       f.Taps,
		Gain:       f.Gain,
		SampleRate: c.cfg.SampleRate,
		BlockSize:  c.cfg.BufferSize,
		Window:     window,
	})
	if err != nil {
		return nil, fmt.Errorf("build filter: %w", err)
	}
	return bp, nil
}

func (c *Campaign) outputPath(name string) string {
	if c.cfg.OutputDir == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.cfg.OutputDir, name)
}

func formatBalance(c complex128) string {
	return fmt.Sprintf("%g%+gi", real(c), imag(c))
}
