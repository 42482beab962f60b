package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names used when none is configured.
const (
	DefaultMeasurement  = "sensor_readings"
	presenceMeasurement = "device_presence"
)

// DeviceTags identifies the device a point belongs to. The fingerprint
// stands in for the home token, which is never written.
type DeviceTags struct {
	Fingerprint string
	MAC         string
	HomeID      string
}

// Reading is one numeric sensor sample.
type Reading struct {
	Sensor string
	Value  float64
	// DeviceTS is the device's own timestamp when it sent a number. It is
	// kept as a field; the point time is when the relay received the payload.
	DeviceTS *float64
}

// schema maps relay values onto points:
//
//	<readings>,fingerprint=..,mac=..,home_id=..,sensor=.. value=..,device_ts=..
//	device_presence,fingerprint=..,mac=..,home_id=.. online=true|false
//
// home_id is omitted when the token carried none.
type schema struct {
	readings string
}

func newSchema(measurement string) schema {
	if measurement == "" {
		measurement = DefaultMeasurement
	}
	return schema{readings: measurement}
}

func (s schema) tags(dev DeviceTags) map[string]string {
	tags := map[string]string{
		"fingerprint": dev.Fingerprint,
		"mac":         dev.MAC,
	}
	if dev.HomeID != "" {
		tags["home_id"] = dev.HomeID
	}
	return tags
}

func (s schema) readingPoint(dev DeviceTags, r Reading, at time.Time) *write.Point {
	tags := s.tags(dev)
	tags["sensor"] = r.Sensor
	fields := map[string]interface{}{"value": r.Value}
	if r.DeviceTS != nil {
		fields["device_ts"] = *r.DeviceTS
	}
	return write.NewPoint(s.readings, tags, fields, at)
}

func (s schema) presencePoint(dev DeviceTags, online bool, at time.Time) *write.Point {
	return write.NewPoint(presenceMeasurement, s.tags(dev), map[string]interface{}{"online": online}, at)
}

// WriteReadings queues one point per reading, stamped with the receive time.
// It never blocks; nothing is written once the client is closed.
//
// Parameters:
//   - dev: Device the readings came from
//   - readings: Samples in arrival order
//   - at: Receive time
func (c *Client) WriteReadings(dev DeviceTags, readings []Reading, at time.Time) {
	if !c.IsConnected() {
		return
	}
	for _, r := range readings {
		c.writeAPI.WritePoint(c.schema.readingPoint(dev, r, at))
	}
}

// WritePresence records a device coming online (true) or going offline.
func (c *Client) WritePresence(dev DeviceTags, online bool, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(c.schema.presencePoint(dev, online, at))
}
