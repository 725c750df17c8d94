package sdr

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rjboer/rxcal/internal/logging"
)

// FormatCF32 is complex float32 samples, the only format streams deliver.
const FormatCF32 = "CF32"

// Args is a set of driver key/value arguments, e.g. "driver=pluto,host=pluto.local".
type Args map[string]string

// ParseArgs parses a comma separated key=value selector. Bare keys map to "".
func ParseArgs(s string) (Args, error) {
	args := Args{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, val, _ := strings.Cut(part, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("empty key in selector %q", s)
		}
		args[key] = strings.TrimSpace(val)
	}
	return args, nil
}

// String renders args with sorted keys.
func (a Args) String() string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+a[k])
	}
	return strings.Join(parts, ",")
}

// Merge returns a copy of a overlaid with b.
func (a Args) Merge(b Args) Args {
	out := make(Args, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Device is an opened receiver. All settings apply to RX channel 0.
type Device interface {
	Driver() string
	SetMasterClockRate(rate float64) error
	SetFrequency(hz float64) error
	SetSampleRate(rate float64) error
	SetAntenna(name string) error
	SetGain(stage string, dB float64) error
	// SetIQBalance sets the complex IQ correction coefficient.
	SetIQBalance(c complex128) error
	IQBalance() complex128
	SetupStream(format string, channels []int) (Stream, error)
	// Close releases the device. Streams must be closed first.
	Close() error
}

// Stream is an exclusive receive path opened on a Device.
type Stream interface {
	Activate() error
	Deactivate() error
	// Read fills up to len(buf) samples, waiting at most timeout for data. It
	// returns the number delivered, which may be fewer than requested, or a
	// *Fault with no samples.
	Read(ctx context.Context, buf []complex64, timeout time.Duration) (int, error)
	Close() error
}

// Driver describes a backend that can find and open devices.
type Driver struct {
	Name string
	Find func(ctx context.Context, args Args) ([]Args, error)
	Make func(ctx context.Context, args Args, logger logging.Logger) (Device, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Driver{}
)

// Register adds a driver to the registry, replacing any of the same name.
func Register(d Driver) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[d.Name] = d
}

// Drivers lists registered driver names.
func Drivers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupDriver(name string) (Driver, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	d, ok := registry[name]
	return d, ok
}

// Enumerate lists devices matching selector. Without a driver key every
// registered driver is queried. Each result carries its driver key.
func Enumerate(ctx context.Context, selector string) ([]Args, error) {
	args, err := ParseArgs(selector)
	if err != nil {
		return nil, err
	}
	names := Drivers()
	if name, ok := args["driver"]; ok {
		if _, found := lookupDriver(name); !found {
			return nil, fmt.Errorf("unknown driver %q", name)
		}
		names = []string{name}
	}

	var out []Args
	for _, name := range names {
		d, _ := lookupDriver(name)
		found, err := d.Find(ctx, args)
		if err != nil {
			return nil, fmt.Errorf("enumerate %s: %w", name, err)
		}
		for _, f := range found {
			out = append(out, args.Merge(f).Merge(Args{"driver": name}))
		}
	}
	return out, nil
}

// Make opens the device described by args.
func Make(ctx context.Context, args Args, logger logging.Logger) (Device, error) {
	if logger == nil {
		logger = logging.Default()
	}
	name := args["driver"]
	d, ok := lookupDriver(name)
	if !ok {
		return nil, fmt.Errorf("unknown driver %q", name)
	}
	dev, err := d.Make(ctx, args, logger.With(logging.F("driver", name)))
	if err != nil {
		return nil, fmt.Errorf("make %s: %w", name, err)
	}
	return dev, nil
}

func init() {
	Register(Driver{Name: "mock", Find: findMock, Make: makeMock})
	Register(Driver{Name: "rtltcp", Find: findRTLTCP, Make: makeRTLTCP})
	Register(Driver{Name: "pluto", Find: findPluto, Make: makePluto})
}
