package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rjboer/rxcal/internal/app"
	"github.com/rjboer/rxcal/internal/experiment"
	"github.com/rjboer/rxcal/internal/telemetry"
)

type gainConfig struct {
	Stage string  `json:"stage"`
	DB    float64 `json:"db"`
}

type experimentConfig struct {
	Name        string      `json:"name"`
	Output      string      `json:"output"`
	Trials      int         `json:"trials,omitempty"`
	IQBalance   *[2]float64 `json:"iq_balance,omitempty"`
	ResetFilter bool        `json:"reset_filter,omitempty"`
}

type persistentConfig struct {
	Device      string       `json:"device"`
	DeviceIndex int          `json:"device_index"`
	ClockRate   float64      `json:"master_clock_rate"`
	Frequency   float64      `json:"frequency"`
	SampleRate  float64      `json:"sample_rate"`
	Antenna     string       `json:"antenna"`
	Gains       []gainConfig `json:"gains"`
	BufferSize  int          `json:"buffer_size"`
	Trials      int          `json:"trials"`
	TimeoutMS   int          `json:"read_timeout_ms"`

	ToneOffset   float64 `json:"tone_offset"`
	FilterTaps   int     `json:"filter_taps"`
	FilterGain   float64 `json:"filter_gain"`
	FilterWindow string  `json:"filter_window"`
	FilterBypass bool    `json:"filter_bypass"`

	OnFault           string             `json:"on_fault"`
	SkipFilterOnFault bool               `json:"skip_filter_on_fault"`
	OutputDir         string             `json:"output_dir"`
	Experiments       []experimentConfig `json:"experiments"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`

	WebAddr      string `json:"web_addr"`
	HistoryLimit int    `json:"history_limit"`

	MQTTBroker   string `json:"mqtt_broker"`
	MQTTClientID string `json:"mqtt_client_id"`
	MQTTTopic    string `json:"mqtt_topic"`
	MQTTUser     string `json:"mqtt_user"`
	MQTTPassword string `json:"-"`

	SQLDriver   string `json:"sql_driver"`
	SQLPath     string `json:"sql_path"`
	SQLAddr     string `json:"sql_addr"`
	SQLUser     string `json:"sql_user"`
	SQLDatabase string `json:"sql_database"`
	SQLPassword string `json:"-"`
}

func defaultPersistentConfig() persistentConfig {
	ref := app.DefaultConfig()
	cfg := persistentConfig{
		Device:       ref.Device,
		ClockRate:    ref.ClockRate,
		Frequency:    ref.Frequency,
		SampleRate:   ref.SampleRate,
		Antenna:      ref.Antenna,
		BufferSize:   ref.BufferSize,
		Trials:       experiment.DefaultTrials,
		TimeoutMS:    int(ref.Timeout / time.Millisecond),
		ToneOffset:   ref.Filter.ToneOffset,
		FilterTaps:   ref.Filter.Taps,
		FilterGain:   ref.Filter.Gain,
		FilterWindow: ref.Filter.Window,
		OnFault:      experiment.Continue.String(),
		LogLevel:     "info",
		LogFormat:    "text",
		HistoryLimit: 500,
		MQTTClientID: "rxcal",
		MQTTTopic:    "rxcal/{run_id}/{kind}",
	}
	for _, g := range ref.Gains {
		cfg.Gains = append(cfg.Gains, gainConfig{Stage: g.Stage, DB: g.DB})
	}
	for _, e := range ref.Experiments {
		ec := experimentConfig{Name: e.Name, Output: e.Output, ResetFilter: e.ResetFilter}
		if e.IQBalance != nil {
			ec.IQBalance = &[2]float64{real(*e.IQBalance), imag(*e.IQBalance)}
		}
		cfg.Experiments = append(cfg.Experiments, ec)
	}
	return cfg
}

// parseConfig overlays RXCAL_* environment values and then flags on top of
// the persisted defaults.
func parseConfig(args []string, lookup func(string) (string, bool), defaults persistentConfig) (persistentConfig, error) {
	cfg := defaults
	fs := flag.NewFlagSet("rxcal", flag.ContinueOnError)
	fs.StringVar(&cfg.Device, "device", envString(lookup, "RXCAL_DEVICE", defaults.Device), "Device selector, e.g. driver=pluto,host=192.168.2.1")
	fs.IntVar(&cfg.DeviceIndex, "device-index", envInt(lookup, "RXCAL_DEVICE_INDEX", defaults.DeviceIndex), "Index into the enumerated devices")
	fs.Float64Var(&cfg.ClockRate, "clock-rate", envFloat(lookup, "RXCAL_CLOCK_RATE", defaults.ClockRate), "Master clock rate in Hz (0 keeps the device default)")
	fs.Float64Var(&cfg.Frequency, "frequency", envFloat(lookup, "RXCAL_FREQUENCY", defaults.Frequency), "RX center frequency in Hz")
	fs.Float64Var(&cfg.SampleRate, "sample-rate", envFloat(lookup, "RXCAL_SAMPLE_RATE", defaults.SampleRate), "Sample rate in Hz")
	fs.StringVar(&cfg.Antenna, "antenna", envString(lookup, "RXCAL_ANTENNA", defaults.Antenna), "RX antenna port")
	fs.IntVar(&cfg.BufferSize, "buffer-size", envInt(lookup, "RXCAL_BUFFER_SIZE", defaults.BufferSize), "Samples per trial buffer")
	fs.IntVar(&cfg.Trials, "trials", envInt(lookup, "RXCAL_TRIALS", defaults.Trials), "Trials per experiment when an experiment does not set its own")
	fs.IntVar(&cfg.TimeoutMS, "read-timeout-ms", envInt(lookup, "RXCAL_READ_TIMEOUT_MS", defaults.TimeoutMS), "Per-read stream timeout in milliseconds")
	fs.Float64Var(&cfg.ToneOffset, "tone-offset", envFloat(lookup, "RXCAL_TONE_OFFSET", defaults.ToneOffset), "Test tone offset from the center frequency in Hz")
	fs.IntVar(&cfg.FilterTaps, "filter-taps", envInt(lookup, "RXCAL_FILTER_TAPS", defaults.FilterTaps), "Bandpass filter taps")
	fs.Float64Var(&cfg.FilterGain, "filter-gain", envFloat(lookup, "RXCAL_FILTER_GAIN", defaults.FilterGain), "Bandpass passband gain")
	fs.StringVar(&cfg.FilterWindow, "filter-window", envString(lookup, "RXCAL_FILTER_WINDOW", defaults.FilterWindow), "Filter window (hamming|blackman)")
	fs.BoolVar(&cfg.FilterBypass, "filter-bypass", envBool(lookup, "RXCAL_FILTER_BYPASS", defaults.FilterBypass), "Write raw samples instead of filtering")
	fs.StringVar(&cfg.OnFault, "on-fault", envString(lookup, "RXCAL_ON_FAULT", defaults.OnFault), "Action after a failed trial (continue|abort)")
	fs.BoolVar(&cfg.SkipFilterOnFault, "skip-filter-on-fault", envBool(lookup, "RXCAL_SKIP_FILTER_ON_FAULT", defaults.SkipFilterOnFault), "Do not filter a faulted trial buffer")
	fs.StringVar(&cfg.OutputDir, "output-dir", envString(lookup, "RXCAL_OUTPUT_DIR", defaults.OutputDir), "Directory for experiment artifacts")
	fs.StringVar(&cfg.LogLevel, "log-level", envString(lookup, "RXCAL_LOG_LEVEL", defaults.LogLevel), "Log level (debug|info|warn|error)")
	fs.StringVar(&cfg.LogFormat, "log-format", envString(lookup, "RXCAL_LOG_FORMAT", defaults.LogFormat), "Log format (text|json)")
	fs.StringVar(&cfg.WebAddr, "web-addr", envString(lookup, "RXCAL_WEB_ADDR", defaults.WebAddr), "Optional status API listen address (e.g. :8080)")
	fs.IntVar(&cfg.HistoryLimit, "history-limit", envInt(lookup, "RXCAL_HISTORY_LIMIT", defaults.HistoryLimit), "Trial events kept by the status API")
	fs.StringVar(&cfg.MQTTBroker, "mqtt-broker", envString(lookup, "RXCAL_MQTT_BROKER", defaults.MQTTBroker), "Optional MQTT broker URL (e.g. tcp://localhost:1883)")
	fs.StringVar(&cfg.MQTTClientID, "mqtt-client-id", envString(lookup, "RXCAL_MQTT_CLIENT_ID", defaults.MQTTClientID), "MQTT client id")
	fs.StringVar(&cfg.MQTTTopic, "mqtt-topic", envString(lookup, "RXCAL_MQTT_TOPIC", defaults.MQTTTopic), "MQTT topic pattern")
	fs.StringVar(&cfg.MQTTUser, "mqtt-user", envString(lookup, "RXCAL_MQTT_USER", defaults.MQTTUser), "MQTT user")
	fs.StringVar(&cfg.SQLDriver, "sql-driver", envString(lookup, "RXCAL_SQL_DRIVER", defaults.SQLDriver), "Optional trial ledger driver (sqlite3|mysql)")
	fs.StringVar(&cfg.SQLPath, "sql-path", envString(lookup, "RXCAL_SQL_PATH", defaults.SQLPath), "sqlite ledger file")
	fs.StringVar(&cfg.SQLAddr, "sql-addr", envString(lookup, "RXCAL_SQL_ADDR", defaults.SQLAddr), "mysql address host:port")
	fs.StringVar(&cfg.SQLUser, "sql-user", envString(lookup, "RXCAL_SQL_USER", defaults.SQLUser), "mysql user")
	fs.StringVar(&cfg.SQLDatabase, "sql-database", envString(lookup, "RXCAL_SQL_DATABASE", defaults.SQLDatabase), "mysql database")
	cfg.MQTTPassword = envString(lookup, "RXCAL_MQTT_PASSWORD", defaults.MQTTPassword)
	cfg.SQLPassword = envString(lookup, "RXCAL_SQL_PASSWORD", defaults.SQLPassword)

	if err := fs.Parse(args); err != nil {
		return persistentConfig{}, err
	}
	if fs.NArg() > 0 {
		return persistentConfig{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return cfg, nil
}

// campaignConfig converts the flat persisted form into the app config.
func campaignConfig(cfg persistentConfig) (app.Config, error) {
	action, err := experiment.ParseFaultAction(cfg.OnFault)
	if err != nil {
		return app.Config{}, err
	}
	out := app.Config{
		Device:      cfg.Device,
		DeviceIndex: cfg.DeviceIndex,
		ClockRate:   cfg.ClockRate,
		Frequency:   cfg.Frequency,
		SampleRate:  cfg.SampleRate,
		Antenna:     cfg.Antenna,
		BufferSize:  cfg.BufferSize,
		Timeout:     time.Duration(cfg.TimeoutMS) * time.Millisecond,
		Filter: app.FilterConfig{
			Bypass:     cfg.FilterBypass,
			ToneOffset: cfg.ToneOffset,
			Taps:       cfg.FilterTaps,
			Gain:       cfg.FilterGain,
			Window:     cfg.FilterWindow,
		},
		Policy:    experiment.Policy{OnFault: action, SkipFilterOnFault: cfg.SkipFilterOnFault},
		OutputDir: cfg.OutputDir,
	}
	for _, g := range cfg.Gains {
		out.Gains = append(out.Gains, app.Gain{Stage: g.Stage, DB: g.DB})
	}
	for _, e := range cfg.Experiments {
		ec := app.ExperimentConfig{Name: e.Name, Output: e.Output, Trials: e.Trials, ResetFilter: e.ResetFilter}
		if ec.Trials == 0 {
			ec.Trials = cfg.Trials
		}
		if ec.Name == "" {
			ec.Name = ec.Output
		}
		if e.IQBalance != nil {
			c := complex(e.IQBalance[0], e.IQBalance[1])
			ec.IQBalance = &c
		}
		out.Experiments = append(out.Experiments, ec)
	}
	return out, nil
}

func mqttConfig(cfg persistentConfig) telemetry.MQTTConfig {
	return telemetry.MQTTConfig{
		Broker:   cfg.MQTTBroker,
		ClientID: cfg.MQTTClientID,
		Username: cfg.MQTTUser,
		Password: cfg.MQTTPassword,
		Topic:    cfg.MQTTTopic,
	}
}

func sqlConfig(cfg persistentConfig) telemetry.SQLConfig {
	return telemetry.SQLConfig{
		Driver:   cfg.SQLDriver,
		Path:     cfg.SQLPath,
		User:     cfg.SQLUser,
		Password: cfg.SQLPassword,
		Addr:     cfg.SQLAddr,
		Database: cfg.SQLDatabase,
	}
}

func loadOrCreateConfig(path string) (persistentConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := defaultPersistentConfig()
			if saveErr := saveConfig(path, cfg); saveErr != nil {
				return persistentConfig{}, saveErr
			}
			return cfg, nil
		}
		return persistentConfig{}, err
	}
	defer f.Close()

	cfg := defaultPersistentConfig()
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return persistentConfig{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return cfg, nil
}

func saveConfig(path string, cfg persistentConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func envFloat(lookup func(string) (string, bool), key string, def float64) float64 {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}

func envInt(lookup func(string) (string, bool), key string, def int) int {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func envBool(lookup func(string) (string, bool), key string, def bool) bool {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return def
}

func envString(lookup func(string) (string, bool), key, def string) string {
	if val, ok := lookup(key); ok {
		return val
	}
	return def
}
