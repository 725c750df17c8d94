package telemetry

import (
	"time"

	"github.com/google/uuid"
)

// TrialEvent describes one acquire-then-filter cycle.
type TrialEvent struct {
	RunID       string        `json:"runId"`
	Experiment  string        `json:"experiment"`
	Trial       int           `json:"trial"`
	Trials      int           `json:"trials"`
	Requested   int           `json:"requested"`
	Filled      int           `json:"filled"`
	Reads       int           `json:"reads"`
	FaultCode   int           `json:"faultCode"`
	Fault       string        `json:"fault,omitempty"`
	FilterError string        `json:"filterError,omitempty"`
	Filtered    bool          `json:"filtered"`
	Duration    time.Duration `json:"duration"`
	Timestamp   time.Time     `json:"timestamp"`
}

// Complete reports whether the trial acquired a full buffer and filtered it.
func (e TrialEvent) Complete() bool {
	return e.Fault == "" && e.FilterError == "" && e.Filled == e.Requested
}

// ExperimentEvent summarizes one experiment after its artifact is written.
type ExperimentEvent struct {
	RunID        string            `json:"runId"`
	Experiment   string            `json:"experiment"`
	Output       string            `json:"output"`
	Trials       int               `json:"trials"`
	Executed     int               `json:"executed"`
	Faulted      int               `json:"faulted"`
	LastComplete bool              `json:"lastComplete"`
	LastFilled   int               `json:"lastFilled"`
	Aborted      bool              `json:"aborted"`
	Error        string            `json:"error,omitempty"`
	Labels       map[string]string `json:"labels,omitempty"`
	Started      time.Time         `json:"started"`
	Finished     time.Time         `json:"finished"`
}

// Reporter receives trial and experiment events. Implementations must not
// block for long; the runner calls them inline.
type Reporter interface {
	ReportTrial(ev TrialEvent)
	ReportExperiment(ev ExperimentEvent)
}

// MultiReporter fans events out to several reporters in order.
type MultiReporter []Reporter

func (m MultiReporter) ReportTrial(ev TrialEvent) {
	for _, r := range m {
		if r != nil {
			r.ReportTrial(ev)
		}
	}
}

func (m MultiReporter) ReportExperiment(ev ExperimentEvent) {
	for _, r := range m {
		if r != nil {
			r.ReportExperiment(ev)
		}
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) ReportTrial(TrialEvent)           {}
func (Nop) ReportExperiment(ExperimentEvent) {}

// NewRunID returns a fresh identifier for one program run.
func NewRunID() string { return uuid.NewString() }
