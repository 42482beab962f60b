package export

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/sensor-relay/internal/infrastructure/mqtt"
	"github.com/nerrad567/sensor-relay/internal/relay"
)

// Publisher is the subset of *mqtt.Client the MQTT sink needs.
type Publisher interface {
	Topics() mqtt.Topics
	PublishJSON(topic string, v any, retained bool) error
	PublishRetained(topic string, payload []byte) error
}

// MQTTSink publishes telemetry to per-device topics and presence as a
// retained message, so late subscribers see the current state.
type MQTTSink struct {
	pub Publisher
}

// NewMQTTSink creates a sink publishing through pub.
func NewMQTTSink(pub Publisher) *MQTTSink {
	return &MQTTSink{pub: pub}
}

// telemetryMessage is the JSON body published on .../telemetry.
type telemetryMessage struct {
	Fingerprint string           `json:"fingerprint"`
	MAC         string           `json:"mac"`
	HomeID      string           `json:"home_id,omitempty"`
	ReceivedAt  string           `json:"received_at"`
	Channels    []channelMessage `json:"channels"`
}

type channelMessage struct {
	Sensor  string         `json:"sensor"`
	Records []relay.Record `json:"records"`
}

// presenceMessage is the JSON body published on .../presence.
type presenceMessage struct {
	Fingerprint string `json:"fingerprint"`
	MAC         string `json:"mac"`
	HomeID      string `json:"home_id,omitempty"`
	Online      bool   `json:"online"`
	At          string `json:"at"`
}

// Name implements Sink.
func (s *MQTTSink) Name() string { return "mqtt" }

// Telemetry implements Sink.
func (s *MQTTSink) Telemetry(ev TelemetryEvent) error {
	msg := telemetryMessage{
		Fingerprint: ev.Device.Fingerprint,
		MAC:         ev.Device.MAC,
		HomeID:      ev.Device.HomeID,
		ReceivedAt:  ev.At.UTC().Format(time.RFC3339Nano),
		Channels:    make([]channelMessage, 0, len(ev.Telemetry.Channels)),
	}
	for _, ch := range ev.Telemetry.Channels {
		msg.Channels = append(msg.Channels, channelMessage{Sensor: ch.Sensor, Records: ch.Records})
	}
	topic := s.pub.Topics().DeviceTelemetry(ev.Device.Fingerprint, ev.Device.MAC)
	return s.pub.PublishJSON(topic, msg, false)
}

// Presence implements Sink.
func (s *MQTTSink) Presence(ev PresenceEvent) error {
	msg := presenceMessage{
		Fingerprint: ev.Device.Fingerprint,
		MAC:         ev.Device.MAC,
		HomeID:      ev.Device.HomeID,
		Online:      ev.Online,
		At:          ev.At.UTC().Format(time.RFC3339Nano),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding presence: %w", err)
	}
	topic := s.pub.Topics().DevicePresence(ev.Device.Fingerprint, ev.Device.MAC)
	return s.pub.PublishRetained(topic, payload)
}
