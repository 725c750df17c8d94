package telemetry

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/rjboer/rxcal/internal/logging"
)

const defaultTopic = "rxcal/{run_id}/{kind}"

// MQTTConfig holds broker connection settings.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// Topic may contain {run_id}, {experiment} and {kind} placeholders.
	// kind is "trial" or "experiment".
	Topic string
}

// MQTTReporter publishes every event as JSON to a broker.
type MQTTReporter struct {
	client mqtt.Client
	topic  string
	logger logging.Logger
}

// NewMQTTReporter connects to the broker.
func NewMQTTReporter(cfg MQTTConfig, logger logging.Logger) (*MQTTReporter, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.With(logging.F("subsystem", "mqtt"))

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", logging.F("err", err))
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to mqtt broker: %w", token.Error())
	}
	logger.Info("connected to mqtt broker", logging.F("broker", cfg.Broker))
	return newMQTTReporter(client, cfg.Topic, logger), nil
}

func newMQTTReporter(client mqtt.Client, topic string, logger logging.Logger) *MQTTReporter {
	if topic == "" {
		topic = defaultTopic
	}
	return &MQTTReporter{client: client, topic: topic, logger: logger}
}

func (m *MQTTReporter) ReportTrial(ev TrialEvent) {
	m.publish(formatTopic(m.topic, ev.RunID, ev.Experiment, "trial"), ev)
}

func (m *MQTTReporter) ReportExperiment(ev ExperimentEvent) {
	m.publish(formatTopic(m.topic, ev.RunID, ev.Experiment, "experiment"), ev)
}

func (m *MQTTReporter) publish(topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		m.logger.Warn("marshal telemetry event", logging.F("err", err))
		return
	}
	token := m.client.Publish(topic, 1, false, payload)
	if token.Wait() && token.Error() != nil {
		m.logger.Warn("publish telemetry event", logging.F("topic", topic), logging.F("err", token.Error()))
	}
}

// Close disconnects from the broker.
func (m *MQTTReporter) Close() {
	m.client.Disconnect(250)
}

func formatTopic(pattern, runID, experiment, kind string) string {
	return strings.NewReplacer(
		"{run_id}", runID,
		"{experiment}", experiment,
		"{kind}", kind,
	).Replace(pattern)
}
