package telemetry

import (
	"sync"
)

const defaultHistoryLimit = 500

// Update is one live event pushed to hub subscribers. Exactly one of Trial
// or Experiment is set.
type Update struct {
	Trial      *TrialEvent      `json:"trial,omitempty"`
	Experiment *ExperimentEvent `json:"experiment,omitempty"`
}

// Status is the hub's view of the current run.
type Status struct {
	RunID      string `json:"runId"`
	Experiment string `json:"experiment"`
	Trial      int    `json:"trial"`
	Trials     int    `json:"trials"`
	Faulted    int    `json:"faulted"`
	Finished   int    `json:"finished"`
}

// Hub keeps bounded trial history and the list of finished experiments,
// and fans updates out to subscribers. It implements Reporter.
type Hub struct {
	mu           sync.RWMutex
	trials       []TrialEvent
	experiments  []ExperimentEvent
	historyLimit int
	status       Status
	subscribers  map[chan Update]struct{}
}

// NewHub builds a hub keeping at most historyLimit trial events.
func NewHub(historyLimit int) *Hub {
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	return &Hub{
		historyLimit: historyLimit,
		subscribers:  make(map[chan Update]struct{}),
	}
}

func (h *Hub) ReportTrial(ev TrialEvent) {
	h.mu.Lock()
	h.trials = append(h.trials, ev)
	if len(h.trials) > h.historyLimit {
		h.trials = h.trials[len(h.trials)-h.historyLimit:]
	}
	if h.status.Experiment != ev.Experiment {
		h.status.Faulted = 0
	}
	h.status.RunID = ev.RunID
	h.status.Experiment = ev.Experiment
	h.status.Trial = ev.Trial
	h.status.Trials = ev.Trials
	if !ev.Complete() {
		h.status.Faulted++
	}
	h.publish(Update{Trial: &ev})
	h.mu.Unlock()
}

func (h *Hub) ReportExperiment(ev ExperimentEvent) {
	h.mu.Lock()
	h.experiments = append(h.experiments, ev)
	h.status.RunID = ev.RunID
	h.status.Finished = len(h.experiments)
	h.publish(Update{Experiment: &ev})
	h.mu.Unlock()
}

// publish must be called with h.mu held. Slow subscribers drop updates.
func (h *Hub) publish(u Update) {
	for ch := range h.subscribers {
		select {
		case ch <- u:
		default:
		}
	}
}

// Trials returns a copy of the stored trial events, optionally filtered by
// experiment name.
func (h *Hub) Trials(experiment string) []TrialEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]TrialEvent, 0, len(h.trials))
	for _, ev := range h.trials {
		if experiment == "" || ev.Experiment == experiment {
			out = append(out, ev)
		}
	}
	return out
}

// Experiments returns a copy of the finished experiment summaries.
func (h *Hub) Experiments() []ExperimentEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]ExperimentEvent, len(h.experiments))
	copy(out, h.experiments)
	return out
}

// Status returns a snapshot of the run progress.
func (h *Hub) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// Subscribe registers a listener for live updates.
func (h *Hub) Subscribe() (chan Update, func()) {
	ch := make(chan Update, 16)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, ch)
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}
