package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rjboer/rxcal/internal/artifact"
	"github.com/rjboer/rxcal/internal/experiment"
)

func noEnv(string) (string, bool) { return "", false }

func mapEnv(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := parseConfig([]string{}, noEnv, defaultPersistentConfig())
	if err != nil {
		t.Fatalf("parseConfig failed: %v", err)
	}
	if cfg.SampleRate != 625e3 || cfg.Frequency != 144.295e6 || cfg.BufferSize != 30000 || cfg.Trials != 50 {
		t.Fatalf("unexpected defaults: %#v", cfg)
	}
	if len(cfg.Experiments) != 2 || cfg.Experiments[0].Output != "RX_IQ_AutoSettings.dat" {
		t.Fatalf("unexpected experiments: %#v", cfg.Experiments)
	}
	if b := cfg.Experiments[1].IQBalance; b == nil || b[0] != 1 || b[1] != 1e-6 {
		t.Fatalf("unexpected iq balance: %v", b)
	}
}

func TestParseConfigEnvThenFlags(t *testing.T) {
	env := map[string]string{
		"RXCAL_DEVICE":        "driver=rtltcp,addr=10.0.0.2:1234",
		"RXCAL_SAMPLE_RATE":   "1024000",
		"RXCAL_TRIALS":        "7",
		"RXCAL_ON_FAULT":      "abort",
		"RXCAL_SQL_PASSWORD":  "secret",
		"RXCAL_FILTER_BYPASS": "true",
	}
	cfg, err := parseConfig([]string{"--trials", "9", "--antenna", "RX"}, mapEnv(env), defaultPersistentConfig())
	if err != nil {
		t.Fatalf("parseConfig failed: %v", err)
	}
	if cfg.Device != env["RXCAL_DEVICE"] || cfg.SampleRate != 1024000 || cfg.Trials != 9 || cfg.Antenna != "RX" {
		t.Fatalf("overrides not applied: %#v", cfg)
	}
	if cfg.OnFault != "abort" || !cfg.FilterBypass || cfg.SQLPassword != "secret" {
		t.Fatalf("env overrides not applied: %#v", cfg)
	}
}

func TestParseConfigRejectsExtraArgs(t *testing.T) {
	if _, err := parseConfig([]string{"stray"}, noEnv, defaultPersistentConfig()); err == nil {
		t.Fatal("expected error for positional argument")
	}
}

func TestCampaignConfig(t *testing.T) {
	cfg := defaultPersistentConfig()
	cfg.Trials = 4
	cfg.OnFault = "abort"
	cfg.Experiments = append(cfg.Experiments, experimentConfig{Output: "extra.dat", Trials: 2, ResetFilter: true})
	out, err := campaignConfig(cfg)
	if err != nil {
		t.Fatalf("campaignConfig failed: %v", err)
	}
	if out.Policy.OnFault != experiment.Abort || out.Timeout.Milliseconds() != 100 {
		t.Fatalf("unexpected policy or timeout: %+v", out)
	}
	if out.Experiments[0].Trials != 4 || out.Experiments[0].IQBalance != nil {
		t.Fatalf("unexpected first experiment %+v", out.Experiments[0])
	}
	if b := out.Experiments[1].IQBalance; b == nil || *b != complex(1, 1e-6) {
		t.Fatalf("unexpected balance %v", b)
	}
	extra := out.Experiments[2]
	if extra.Name != "extra.dat" || extra.Trials != 2 || !extra.ResetFilter {
		t.Fatalf("unexpected extra experiment %+v", extra)
	}
	if len(out.Gains) != 3 || out.Gains[1].Stage != "PGA" || out.Gains[1].DB != 19 {
		t.Fatalf("unexpected gains %+v", out.Gains)
	}

	cfg.OnFault = "retry"
	if _, err := campaignConfig(cfg); err == nil {
		t.Fatal("expected error for unknown fault action")
	}
}

func TestLoadOrCreateConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rxcal.json")
	cfg, err := loadOrCreateConfig(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	cfg.BufferSize = 1024
	cfg.SQLPassword = "secret"
	if err := saveConfig(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.Contains(string(data), "secret") {
		t.Fatal("password persisted to config file")
	}
	loaded, err := loadOrCreateConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.BufferSize != 1024 || len(loaded.Experiments) != 2 {
		t.Fatalf("unexpected loaded config %#v", loaded)
	}
}

func runEnv(dir string, extra map[string]string) func(string) (string, bool) {
	env := map[string]string{
		"RXCAL_CONFIG":      filepath.Join(dir, "rxcal.json"),
		"RXCAL_OUTPUT_DIR":  dir,
		"RXCAL_BUFFER_SIZE": "128",
		"RXCAL_TRIALS":      "2",
		"RXCAL_FILTER_TAPS": "17",
		"RXCAL_LOG_LEVEL":   "error",
	}
	for k, v := range extra {
		env[k] = v
	}
	return mapEnv(env)
}

func TestRunWithMockDevice(t *testing.T) {
	dir := t.TempDir()
	var stdout, stderr bytes.Buffer
	lookup := runEnv(dir, map[string]string{
		"RXCAL_DEVICE":     "driver=mock,chunks=50:13",
		"RXCAL_SQL_DRIVER": "sqlite3",
		"RXCAL_SQL_PATH":   filepath.Join(dir, "ledger.db"),
	})
	if code := run(context.Background(), nil, lookup, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, stderr.String())
	}
	for _, name := range []string{"RX_IQ_AutoSettings.dat", "RX_IQ_1r0_0.dat"} {
		samples, err := artifact.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if len(samples) != 128 {
			t.Fatalf("%s: expected 128 samples, got %d", name, len(samples))
		}
	}
	if !strings.Contains(stdout.String(), "2/2 trials") {
		t.Fatalf("unexpected summary %q", stdout.String())
	}
	if _, err := os.Stat(filepath.Join(dir, "ledger.db")); err != nil {
		t.Fatalf("ledger not created: %v", err)
	}

	stdout.Reset()
	code := run(context.Background(), []string{"compare", filepath.Join(dir, "RX_IQ_AutoSettings.dat"), filepath.Join(dir, "RX_IQ_1r0_0.dat")}, noEnv, &stdout, &stderr)
	if code != 0 || !strings.Contains(stdout.String(), "samples: 128") {
		t.Fatalf("compare failed: code %d out %q err %q", code, stdout.String(), stderr.String())
	}
}

func TestRunNoDevice(t *testing.T) {
	dir := t.TempDir()
	var stdout, stderr bytes.Buffer
	lookup := runEnv(dir, map[string]string{"RXCAL_DEVICE": "driver=mock,devices=0"})
	if code := run(context.Background(), nil, lookup, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "No device was found.") {
		t.Fatalf("unexpected stderr %q", stderr.String())
	}
	if _, err := os.Stat(filepath.Join(dir, "RX_IQ_AutoSettings.dat")); !os.IsNotExist(err) {
		t.Fatal("artifact written without a device")
	}
}

func TestRunCompareUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"compare", "only-one"}, noEnv, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
}

func TestRunDiscoverMock(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"discover", "driver=mock,devices=2"}, noEnv, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code %d, stderr %q", code, stderr.String())
	}
	out := stdout.String()
	if !strings.Contains(out, "Discovered 2 device(s)") || !strings.Contains(out, "mock1") {
		t.Fatalf("unexpected output %q", out)
	}
	if !strings.Contains(out, `use: -device "devices=2,driver=mock,serial=mock0"`) {
		t.Fatalf("missing device hint in %q", out)
	}
}

func TestRunDiscoverNone(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"discover", "driver=mock,devices=0"}, noEnv, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code %d", code)
	}
	if !strings.HasPrefix(stdout.String(), "No devices found") {
		t.Fatalf("unexpected output %q", stdout.String())
	}
}
