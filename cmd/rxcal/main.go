package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/rjboer/rxcal/internal/app"
	"github.com/rjboer/rxcal/internal/artifact"
	"github.com/rjboer/rxcal/internal/logging"
	"github.com/rjboer/rxcal/internal/telemetry"
)

const defaultConfigPath = "rxcal.json"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.LookupEnv, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, lookup func(string) (string, bool), stdout, stderr io.Writer) int {
	if len(args) > 0 && args[0] == "compare" {
		if err := runCompare(args[1:], stdout); err != nil {
			fmt.Fprintf(stderr, "compare: %v\n", err)
			return 1
		}
		return 0
	}
	if len(args) > 0 && args[0] == "discover" {
		if err := runDiscover(ctx, args[1:], stdout); err != nil {
			fmt.Fprintf(stderr, "discover: %v\n", err)
			return 1
		}
		return 0
	}

	configPath := envString(lookup, "RXCAL_CONFIG", defaultConfigPath)
	persistentCfg, err := loadOrCreateConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	cfg, err := parseConfig(args, lookup, persistentCfg)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "parse config: %v\n", err)
		return 2
	}
	if err := saveConfig(configPath, cfg); err != nil {
		fmt.Fprintf(stderr, "save config: %v\n", err)
		return 1
	}

	logger, err := newLogger(cfg, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "logger: %v\n", err)
		return 2
	}
	logging.SetDefault(logger)

	campaignCfg, err := campaignConfig(cfg)
	if err != nil {
		logger.Error("invalid configuration", logging.F("err", err))
		return 2
	}

	reporter, closeReporters, err := buildReporters(ctx, cfg, logger)
	if err != nil {
		logger.Error("telemetry setup failed", logging.F("err", err))
		return 1
	}
	defer closeReporters()

	campaign := app.NewCampaign(campaignCfg, reporter, logger)
	results, err := campaign.Run(ctx)
	if err != nil {
		if errors.Is(err, app.ErrNoDevice) {
			fmt.Fprintln(stderr, "No device was found.")
			return 1
		}
		logger.Error("campaign failed", logging.F("err", err), logging.F("completed", len(results)))
		return 1
	}
	for _, res := range results {
		fmt.Fprintf(stdout, "%s: %d/%d trials, %d faulted, last complete=%t -> %s\n",
			res.Name, res.Executed, res.Trials, res.Faulted, res.Last.Complete(), res.Output)
	}
	return 0
}

func newLogger(cfg persistentConfig, out io.Writer) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	return logging.New(level, format, out), nil
}

// buildReporters wires the optional telemetry sinks next to the log
// reporter. The returned func releases them.
func buildReporters(ctx context.Context, cfg persistentConfig, logger logging.Logger) (telemetry.Reporter, func(), error) {
	reporters := telemetry.MultiReporter{telemetry.NewLogReporter(logger)}
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.WebAddr != "" {
		hub := telemetry.NewHub(cfg.HistoryLimit)
		reporters = append(reporters, hub)
		webCtx, cancel := context.WithCancel(ctx)
		closers = append(closers, cancel)
		go telemetry.NewWebServer(cfg.WebAddr, hub, logger).Start(webCtx)
	}
	if cfg.MQTTBroker != "" {
		m, err := telemetry.NewMQTTReporter(mqttConfig(cfg), logger)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		reporters = append(reporters, m)
		closers = append(closers, m.Close)
	}
	if cfg.SQLDriver != "" {
		store, err := telemetry.OpenSQLStore(sqlConfig(cfg), logger)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		reporters = append(reporters, store)
		closers = append(closers, func() {
			if err := store.Close(); err != nil {
				logger.Warn("close sql store", logging.F("err", err))
			}
		})
	}
	return reporters, closeAll, nil
}

func runCompare(args []string, out io.Writer) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: rxcal compare <a.dat> <b.dat>")
	}
	a, err := artifact.ReadFile(args[0])
	if err != nil {
		return err
	}
	b, err := artifact.ReadFile(args[1])
	if err != nil {
		return err
	}
	c, err := artifact.Compare(a, b)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "samples: %d\n", c.Samples)
	fmt.Fprintf(out, "mean magnitude %s: %.6g\n", args[0], c.MeanA)
	fmt.Fprintf(out, "mean magnitude %s: %.6g\n", args[1], c.MeanB)
	fmt.Fprintf(out, "rms magnitude difference: %.6g\n", c.RMSDiff)
	fmt.Fprintf(out, "max magnitude difference: %.6g\n", c.MaxAbsDiff)
	return nil
}
