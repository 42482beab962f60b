package relay

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Record is one sensor reading parsed from a device payload line such as
// {"ts":1712,"sensor":"temperature","value":25.1}. Only the sensor name is
// interpreted; ts and value are passed through as the device sent them, so
// a reading like {"sensor":"pump","value":"on"} survives intact.
type Record struct {
	Timestamp json.RawMessage `json:"ts"`
	Sensor    string          `json:"sensor"`
	Value     json.RawMessage `json:"value"`
}

// Number returns the value when the device sent a JSON number.
func (r Record) Number() (float64, bool) {
	return jsonNumber(r.Value)
}

// DeviceTime returns ts when the device sent a JSON number.
func (r Record) DeviceTime() (float64, bool) {
	return jsonNumber(r.Timestamp)
}

func jsonNumber(raw json.RawMessage) (float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	return f, true
}

// Channel is the ordered batch of records for one sensor.
type Channel struct {
	Sensor  string
	Records []Record
}

// Telemetry is the decoded form of one device payload.
type Telemetry struct {
	// Lines holds the well-formed input lines, trimmed, in arrival order.
	Lines []string
	// Channels groups the records by sensor in order of first appearance.
	Channels []Channel
}

// Empty reports whether the payload yielded no records.
func (t Telemetry) Empty() bool {
	return len(t.Channels) == 0
}

// RecordCount returns the total number of records across all channels.
func (t Telemetry) RecordCount() int {
	n := 0
	for _, ch := range t.Channels {
		n += len(ch.Records)
	}
	return n
}

// Message builds the fan-out message for this payload.
func (t Telemetry) Message() DataMessage {
	return DataMessage{
		Type:     TypeData,
		Data:     strings.Join(t.Lines, "\n"),
		Channels: t.Channels,
	}
}

// DecodeTelemetry parses a newline-delimited payload. Each line is decoded
// independently: lines that are not JSON objects, or whose sensor is not a
// non-empty string, are dropped without affecting the rest. Any JSON type is
// accepted for ts and value.
func DecodeTelemetry(payload []byte) Telemetry {
	var (
		t     Telemetry
		index = make(map[string]int)
	)

	for _, raw := range bytes.Split(payload, []byte("\n")) {
		line := bytes.TrimSpace(raw)
		if len(line) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if rec.Sensor == "" {
			continue
		}

		i, ok := index[rec.Sensor]
		if !ok {
			i = len(t.Channels)
			index[rec.Sensor] = i
			t.Channels = append(t.Channels, Channel{Sensor: rec.Sensor})
		}
		t.Channels[i].Records = append(t.Channels[i].Records, rec)
		t.Lines = append(t.Lines, string(line))
	}

	return t
}

// marshalChannels writes channels as a JSON object in slice order.
func marshalChannels(channels []Channel) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, ch := range channels {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(ch.Sensor)
		if err != nil {
			return nil, err
		}
		records, err := json.Marshal(ch.Records)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(records)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
