package export

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/sensor-relay/internal/infrastructure/influxdb"
	"github.com/nerrad567/sensor-relay/internal/infrastructure/mqtt"
	"github.com/nerrad567/sensor-relay/internal/relay"
)

type published struct {
	topic    string
	payload  []byte
	retained bool
}

type fakePublisher struct {
	err  error
	msgs []published
}

func (p *fakePublisher) Topics() mqtt.Topics { return mqtt.Topics{Prefix: "relay"} }

func (p *fakePublisher) PublishJSON(topic string, v any, retained bool) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.publish(topic, b, retained)
}

func (p *fakePublisher) PublishRetained(topic string, payload []byte) error {
	return p.publish(topic, payload, true)
}

func (p *fakePublisher) publish(topic string, payload []byte, retained bool) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{topic: topic, payload: payload, retained: retained})
	return nil
}

var testDevice = relay.DeviceRef{Fingerprint: "3f9a0c1b2d4e", MAC: "aabbccddeeff", HomeID: "home-1"}

// record builds a relay record from raw JSON ts and value.
func record(ts, sensor, value string) relay.Record {
	return relay.Record{Timestamp: json.RawMessage(ts), Sensor: sensor, Value: json.RawMessage(value)}
}

func TestMQTTSinkTelemetry(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewMQTTSink(pub)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	err := sink.Telemetry(TelemetryEvent{
		Device: testDevice,
		Telemetry: relay.Telemetry{Channels: []relay.Channel{
			{Sensor: "1", Records: []relay.Record{record("10", "1", "21.5")}},
			{Sensor: "2", Records: []relay.Record{record("10", "2", `"high"`)}},
		}},
		At: at,
	})
	if err != nil {
		t.Fatalf("Telemetry() error = %v", err)
	}
	if len(pub.msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.msgs))
	}

	msg := pub.msgs[0]
	if msg.topic != "relay/devices/3f9a0c1b2d4e/aabbccddeeff/telemetry" {
		t.Errorf("topic = %q", msg.topic)
	}
	if msg.retained {
		t.Error("telemetry published retained")
	}

	var body telemetryMessage
	if err := json.Unmarshal(msg.payload, &body); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if body.HomeID != "home-1" || body.ReceivedAt != "2026-03-01T12:00:00Z" {
		t.Errorf("body = %+v", body)
	}
	if len(body.Channels) != 2 || string(body.Channels[1].Records[0].Value) != `"high"` {
		t.Errorf("channels = %+v", body.Channels)
	}
}

func TestMQTTSinkPresenceRetained(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewMQTTSink(pub)

	if err := sink.Presence(PresenceEvent{Device: testDevice, Online: false, At: time.Now()}); err != nil {
		t.Fatalf("Presence() error = %v", err)
	}
	msg := pub.msgs[0]
	if msg.topic != "relay/devices/3f9a0c1b2d4e/aabbccddeeff/presence" {
		t.Errorf("topic = %q", msg.topic)
	}
	if !msg.retained {
		t.Error("presence not retained")
	}
	var body presenceMessage
	if err := json.Unmarshal(msg.payload, &body); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if body.Online {
		t.Error("online = true, want false")
	}
}

func TestMQTTSinkPropagatesErrors(t *testing.T) {
	sink := NewMQTTSink(&fakePublisher{err: mqtt.ErrNotConnected})
	err := sink.Presence(PresenceEvent{Device: testDevice, Online: true, At: time.Now()})
	if !errors.Is(err, mqtt.ErrNotConnected) {
		t.Errorf("Presence() error = %v, want ErrNotConnected", err)
	}
}

type fakeWriter struct {
	readings []influxdb.Reading
	tags     []influxdb.DeviceTags
	presence []bool
}

func (w *fakeWriter) WriteReadings(dev influxdb.DeviceTags, readings []influxdb.Reading, _ time.Time) {
	w.tags = append(w.tags, dev)
	w.readings = append(w.readings, readings...)
}

func (w *fakeWriter) WritePresence(dev influxdb.DeviceTags, online bool, _ time.Time) {
	w.tags = append(w.tags, dev)
	w.presence = append(w.presence, online)
}

func TestInfluxSinkFlattensRecords(t *testing.T) {
	w := &fakeWriter{}
	sink := NewInfluxSink(w)

	err := sink.Telemetry(TelemetryEvent{
		Device: testDevice,
		Telemetry: relay.Telemetry{Channels: []relay.Channel{
			{Sensor: "1", Records: []relay.Record{record("1", "1", "1"), record("2", "1", "2")}},
			{Sensor: "2", Records: []relay.Record{record("1", "2", "3")}},
		}},
		At: time.Now(),
	})
	if err != nil {
		t.Fatalf("Telemetry() error = %v", err)
	}

	if len(w.readings) != 3 {
		t.Fatalf("readings = %+v, want 3", w.readings)
	}
	if w.readings[1].DeviceTS == nil || *w.readings[1].DeviceTS != 2 || w.readings[2].Sensor != "2" {
		t.Errorf("readings = %+v", w.readings)
	}
	if w.tags[0] != (influxdb.DeviceTags{Fingerprint: "3f9a0c1b2d4e", MAC: "aabbccddeeff", HomeID: "home-1"}) {
		t.Errorf("tags = %+v", w.tags[0])
	}
}

func TestInfluxSinkSkipsNonNumericValues(t *testing.T) {
	w := &fakeWriter{}
	sink := NewInfluxSink(w)

	err := sink.Telemetry(TelemetryEvent{
		Device: testDevice,
		Telemetry: relay.Telemetry{Channels: []relay.Channel{
			{Sensor: "pump", Records: []relay.Record{record("1", "pump", `"on"`)}},
			{Sensor: "t", Records: []relay.Record{record(`"2024-01-01T00:00:00Z"`, "t", "25")}},
		}},
		At: time.Now(),
	})
	if err != nil {
		t.Fatalf("Telemetry() error = %v", err)
	}

	if len(w.readings) != 1 {
		t.Fatalf("readings = %+v, want only the numeric one", w.readings)
	}
	got := w.readings[0]
	if got.Sensor != "t" || got.Value != 25 {
		t.Errorf("reading = %+v, want t=25", got)
	}
	if got.DeviceTS != nil {
		t.Errorf("DeviceTS = %v, want nil for ISO timestamp", *got.DeviceTS)
	}
}

func TestInfluxSinkWritesNothingWithoutNumbers(t *testing.T) {
	w := &fakeWriter{}
	err := NewInfluxSink(w).Telemetry(TelemetryEvent{
		Device: testDevice,
		Telemetry: relay.Telemetry{Channels: []relay.Channel{
			{Sensor: "door", Records: []relay.Record{record("1", "door", `{"open":true}`)}},
		}},
		At: time.Now(),
	})
	if err != nil {
		t.Fatalf("Telemetry() error = %v", err)
	}
	if len(w.tags) != 0 {
		t.Errorf("wrote %+v for non-numeric telemetry", w.tags)
	}
}

func TestInfluxSinkSkipsEmptyTelemetry(t *testing.T) {
	w := &fakeWriter{}
	if err := NewInfluxSink(w).Telemetry(TelemetryEvent{Device: testDevice, At: time.Now()}); err != nil {
		t.Fatalf("Telemetry() error = %v", err)
	}
	if len(w.tags) != 0 {
		t.Errorf("empty telemetry written: %+v", w.tags)
	}
}

func TestInfluxSinkPresence(t *testing.T) {
	w := &fakeWriter{}
	if err := NewInfluxSink(w).Presence(PresenceEvent{Device: testDevice, Online: true, At: time.Now()}); err != nil {
		t.Fatalf("Presence() error = %v", err)
	}
	if len(w.presence) != 1 || !w.presence[0] {
		t.Errorf("presence = %v, want [true]", w.presence)
	}
}
