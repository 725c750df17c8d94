package telemetry

import (
	"github.com/rjboer/rxcal/internal/logging"
)

// LogReporter writes events through the structured logger. Faulted trials
// are logged at error level, complete ones at debug.
type LogReporter struct {
	logger logging.Logger
}

// NewLogReporter builds a reporter with the provided logger.
func NewLogReporter(logger logging.Logger) LogReporter {
	if logger == nil {
		logger = logging.Default()
	}
	return LogReporter{logger: logger.With(logging.F("subsystem", "telemetry"))}
}

func (r LogReporter) ReportTrial(ev TrialEvent) {
	fields := []logging.Field{
		{Key: "experiment", Value: ev.Experiment},
		{Key: "trial", Value: ev.Trial},
		{Key: "filled", Value: ev.Filled},
		{Key: "capacity", Value: ev.Requested},
		{Key: "reads", Value: ev.Reads},
	}
	if ev.Fault != "" {
		fields = append(fields, logging.Field{Key: "fault", Value: ev.Fault}, logging.Field{Key: "code", Value: ev.FaultCode})
		r.logger.Error("rx error on stream", fields...)
		return
	}
	if ev.FilterError != "" {
		fields = append(fields, logging.Field{Key: "filter_error", Value: ev.FilterError})
		r.logger.Error("filter failed", fields...)
		return
	}
	r.logger.Debug("trial complete", fields...)
}

func (r LogReporter) ReportExperiment(ev ExperimentEvent) {
	fields := []logging.Field{
		{Key: "experiment", Value: ev.Experiment},
		{Key: "output", Value: ev.Output},
		{Key: "executed", Value: ev.Executed},
		{Key: "faulted", Value: ev.Faulted},
		{Key: "last_complete", Value: ev.LastComplete},
	}
	for k, v := range ev.Labels {
		fields = append(fields, logging.Field{Key: k, Value: v})
	}
	switch {
	case ev.Error != "":
		r.logger.Error("experiment failed", append(fields, logging.Field{Key: "err", Value: ev.Error})...)
	case !ev.LastComplete:
		r.logger.Warn("experiment finished with a truncated final trial", fields...)
	default:
		r.logger.Info("experiment finished", fields...)
	}
}
