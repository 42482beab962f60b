package export

import (
	"time"

	"github.com/nerrad567/sensor-relay/internal/infrastructure/influxdb"
	"github.com/nerrad567/sensor-relay/internal/relay"
)

// PointWriter is the subset of *influxdb.Client the Influx sink needs.
// Writes are batched and asynchronous; failures surface through the
// client's error callback.
type PointWriter interface {
	WriteReadings(dev influxdb.DeviceTags, readings []influxdb.Reading, at time.Time)
	WritePresence(dev influxdb.DeviceTags, online bool, at time.Time)
}

// InfluxSink writes every telemetry record as a point.
type InfluxSink struct {
	w PointWriter
}

// NewInfluxSink creates a sink writing through w.
func NewInfluxSink(w PointWriter) *InfluxSink {
	return &InfluxSink{w: w}
}

// Name implements Sink.
func (s *InfluxSink) Name() string { return "influxdb" }

// Telemetry implements Sink. Records whose value is not a JSON number are
// skipped; a non-numeric ts is left off the point.
func (s *InfluxSink) Telemetry(ev TelemetryEvent) error {
	var readings []influxdb.Reading
	for _, ch := range ev.Telemetry.Channels {
		for _, rec := range ch.Records {
			v, ok := rec.Number()
			if !ok {
				continue
			}
			r := influxdb.Reading{Sensor: rec.Sensor, Value: v}
			if ts, ok := rec.DeviceTime(); ok {
				r.DeviceTS = &ts
			}
			readings = append(readings, r)
		}
	}
	if len(readings) == 0 {
		return nil
	}
	s.w.WriteReadings(tagsFor(ev.Device), readings, ev.At)
	return nil
}

// Presence implements Sink.
func (s *InfluxSink) Presence(ev PresenceEvent) error {
	s.w.WritePresence(tagsFor(ev.Device), ev.Online, ev.At)
	return nil
}

func tagsFor(dev relay.DeviceRef) influxdb.DeviceTags {
	return influxdb.DeviceTags{
		Fingerprint: dev.Fingerprint,
		MAC:         dev.MAC,
		HomeID:      dev.HomeID,
	}
}
