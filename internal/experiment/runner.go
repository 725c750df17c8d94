package experiment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rjboer/rxcal/internal/acquire"
	"github.com/rjboer/rxcal/internal/artifact"
	"github.com/rjboer/rxcal/internal/dsp"
	"github.com/rjboer/rxcal/internal/logging"
	"github.com/rjboer/rxcal/internal/telemetry"
)

// DefaultTrials is the trial count used when a descriptor leaves it unset.
const DefaultTrials = 50

// ErrAborted is returned when the fault policy stops an experiment early or
// its context is canceled.
var ErrAborted = errors.New("experiment aborted")

// Descriptor names one calibration run.
type Descriptor struct {
	Name   string
	Output string
	Trials int
	// ResetFilter clears the filter state before the first trial. When
	// false, filter continuity carries over from the previous experiment.
	ResetFilter bool
	Labels      map[string]string
}

// FaultAction selects what the runner does after a failed trial.
type FaultAction int

const (
	// Continue runs the remaining trials.
	Continue FaultAction = iota
	// Abort stops the experiment without writing the artifact.
	Abort
)

func (a FaultAction) String() string {
	switch a {
	case Continue:
		return "continue"
	case Abort:
		return "abort"
	default:
		return "unknown"
	}
}

// ParseFaultAction converts a string to a FaultAction.
func ParseFaultAction(s string) (FaultAction, error) {
	switch s {
	case "continue", "":
		return Continue, nil
	case "abort":
		return Abort, nil
	default:
		return Continue, fmt.Errorf("unsupported fault action %q", s)
	}
}

// Policy controls how failed trials are handled.
type Policy struct {
	OnFault FaultAction
	// SkipFilterOnFault leaves the filtered buffer untouched after a faulted
	// acquisition. By default the raw buffer, stale tail included, is still
	// filtered.
	SkipFilterOnFault bool
}

// Outcome is the result of one trial.
type Outcome struct {
	Trial     int
	Acquire   acquire.Result
	Filtered  bool
	FilterErr error
	Duration  time.Duration
}

// Complete reports whether the trial acquired a full buffer and filtered it.
func (o Outcome) Complete() bool {
	return o.Acquire.Complete() && o.Filtered && o.FilterErr == nil
}

// Err returns the acquisition fault or the filter error, if any.
func (o Outcome) Err() error {
	if o.Acquire.Fault != nil {
		return o.Acquire.Fault
	}
	if o.FilterErr != nil {
		return o.FilterErr
	}
	if o.Acquire.Filled != o.Acquire.Requested {
		return fmt.Errorf("filled %d of %d samples", o.Acquire.Filled, o.Acquire.Requested)
	}
	return nil
}

// Result summarizes one experiment.
type Result struct {
	Name     string
	Output   string
	Trials   int
	Executed int
	Faulted  int
	Last     Outcome
	Written  bool
}

// Complete reports whether every trial ran and the persisted one was clean.
func (r Result) Complete() bool {
	return r.Executed == r.Trials && r.Last.Complete()
}

// Runner repeats acquire-then-filter trials over one buffer pair and
// persists the last filtered buffer. The buffers and the filter are reused
// across calls to Run.
type Runner struct {
	Stream   acquire.Reader
	Filter   dsp.Filter
	Raw      *acquire.Buffer
	Filtered *acquire.Buffer
	Timeout  time.Duration
	Policy   Policy
	Reporter telemetry.Reporter
	Logger   logging.Logger
	RunID    string

	// WriteArtifact persists the filtered samples. Defaults to
	// artifact.WriteFile.
	WriteArtifact func(path string, samples []complex64) error
}

func (r *Runner) validate() error {
	if r.Stream == nil {
		return errors.New("runner has no stream")
	}
	if r.Filter == nil {
		return errors.New("runner has no filter")
	}
	if r.Raw == nil || r.Filtered == nil {
		return errors.New("runner has no buffers")
	}
	if r.Raw.Cap() == 0 || r.Raw.Cap() != r.Filtered.Cap() {
		return fmt.Errorf("buffer capacities differ or are zero: raw=%d filtered=%d", r.Raw.Cap(), r.Filtered.Cap())
	}
	if bs := r.Filter.BlockSize(); bs != r.Raw.Cap() {
		return fmt.Errorf("filter block size %d does not match buffer capacity %d", bs, r.Raw.Cap())
	}
	return nil
}

// Run executes d.Trials trials in order, then writes the filtered buffer
// of the last one to d.Output. Failed trials are logged and reported; under
// the Continue policy they never stop the run. An error is returned only
// when the run is aborted or the artifact cannot be written.
func (r *Runner) Run(ctx context.Context, d Descriptor) (Result, error) {
	if d.Trials == 0 {
		d.Trials = DefaultTrials
	}
	res := Result{Name: d.Name, Output: d.Output, Trials: d.Trials}
	if d.Trials < 0 {
		return res, fmt.Errorf("trial count must be positive, got %d", d.Trials)
	}
	if d.Output == "" {
		return res, errors.New("experiment output path is required")
	}
	if err := r.validate(); err != nil {
		return res, err
	}

	logger := r.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.With(logging.F("experiment", d.Name))
	reporter := r.Reporter
	if reporter == nil {
		reporter = telemetry.Nop{}
	}

	if d.ResetFilter {
		r.Filter.Reset()
	}

	started := time.Now()
	logger.Info("experiment started", logging.F("trials", d.Trials), logging.F("output", d.Output), logging.F("capacity", r.Raw.Cap()))

	var runErr error
	for i := 1; i <= d.Trials; i++ {
		if err := ctx.Err(); err != nil {
			runErr = fmt.Errorf("%w before trial %d: %w", ErrAborted, i, err)
			break
		}
		out := r.trial(ctx, i)
		res.Executed++
		res.Last = out
		reporter.ReportTrial(r.trialEvent(d, out))

		if out.Complete() {
			logger.Debug("trial complete", logging.F("trial", i), logging.F("reads", out.Acquire.Reads))
			continue
		}
		res.Faulted++
		logger.Warn("trial failed",
			logging.F("trial", i),
			logging.F("filled", out.Acquire.Filled),
			logging.F("capacity", out.Acquire.Requested),
			logging.F("err", out.Err()),
		)
		if r.Policy.OnFault == Abort {
			runErr = fmt.Errorf("%w at trial %d: %w", ErrAborted, i, out.Err())
			break
		}
	}

	if runErr == nil {
		write := r.WriteArtifact
		if write == nil {
			write = artifact.WriteFile
		}
		if err := write(d.Output, r.Filtered.Samples()); err != nil {
			runErr = fmt.Errorf("persist %s: %w", d.Name, err)
		} else {
			res.Written = true
		}
	}

	reporter.ReportExperiment(r.experimentEvent(d, res, runErr, started))
	if runErr != nil {
		logger.Error("experiment failed", logging.F("executed", res.Executed), logging.F("err", runErr))
		return res, runErr
	}
	if !res.Last.Complete() {
		logger.Warn("artifact holds a truncated final trial", logging.F("filled", res.Last.Acquire.Filled), logging.F("capacity", res.Last.Acquire.Requested))
	}
	logger.Info("experiment finished", logging.F("executed", res.Executed), logging.F("faulted", res.Faulted), logging.F("elapsed_ms", time.Since(started).Seconds()*1000))
	return res, nil
}

// trial fills the raw buffer and filters it into the filtered buffer.
func (r *Runner) trial(ctx context.Context, n int) Outcome {
	start := time.Now()
	out := Outcome{Trial: n}
	out.Acquire = acquire.Fill(ctx, r.Stream, r.Raw, r.Timeout)

	if out.Acquire.Complete() || !r.Policy.SkipFilterOnFault {
		if err := r.Filter.Apply(r.Raw.Samples(), r.Filtered.Samples()); err != nil {
			out.FilterErr = err
		} else {
			out.Filtered = true
			r.Filtered.SetFilled(r.Filtered.Cap())
		}
	}
	out.Duration = time.Since(start)
	return out
}

func (r *Runner) trialEvent(d Descriptor, o Outcome) telemetry.TrialEvent {
	ev := telemetry.TrialEvent{
		RunID:      r.RunID,
		Experiment: d.Name,
		Trial:      o.Trial,
		Trials:     d.Trials,
		Requested:  o.Acquire.Requested,
		Filled:     o.Acquire.Filled,
		Reads:      o.Acquire.Reads,
		FaultCode:  o.Acquire.FaultCode(),
		Filtered:   o.Filtered,
		Duration:   o.Duration,
		Timestamp:  time.Now(),
	}
	if o.Acquire.Fault != nil {
		ev.Fault = o.Acquire.Fault.Error()
	}
	if o.FilterErr != nil {
		ev.FilterError = o.FilterErr.Error()
	}
	return ev
}

func (r *Runner) experimentEvent(d Descriptor, res Result, err error, started time.Time) telemetry.ExperimentEvent {
	ev := telemetry.ExperimentEvent{
		RunID:        r.RunID,
		Experiment:   d.Name,
		Output:       d.Output,
		Trials:       d.Trials,
		Executed:     res.Executed,
		Faulted:      res.Faulted,
		LastComplete: res.Last.Complete(),
		LastFilled:   res.Last.Acquire.Filled,
		Aborted:      errors.Is(err, ErrAborted),
		Labels:       d.Labels,
		Started:      started,
		Finished:     time.Now(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}
