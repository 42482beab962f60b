package mqtt

import "fmt"

// DefaultTopicPrefix is the root topic used when none is configured.
const DefaultTopicPrefix = "relay"

// emptyLevel stands in for a device MAC that normalised to nothing, so
// topic levels are never empty.
const emptyLevel = "_"

// Topics builds the relay's MQTT topics under a configurable prefix.
//
//	topics := mqtt.Topics{Prefix: "relay"}
//	topics.DeviceTelemetry("3f9a0c1b2d4e", "aabbccddeeff")
//	// Returns: "relay/devices/3f9a0c1b2d4e/aabbccddeeff/telemetry"
//
// Devices are addressed by token fingerprint and normalised MAC, both plain
// hex, so no level ever contains a wildcard or separator.
type Topics struct {
	Prefix string
}

func (t Topics) root() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// Status returns the relay's own online/offline topic (retained, and the
// Last Will topic).
//
// Example: relay/status
func (t Topics) Status() string {
	return fmt.Sprintf("%s/status", t.root())
}

// DeviceTelemetry returns the topic for decoded sensor records of one device.
//
// Example: relay/devices/3f9a0c1b2d4e/aabbccddeeff/telemetry
func (t Topics) DeviceTelemetry(fingerprint, mac string) string {
	return t.device(fingerprint, mac, "telemetry")
}

// DevicePresence returns the retained presence topic of one device.
//
// Example: relay/devices/3f9a0c1b2d4e/aabbccddeeff/presence
func (t Topics) DevicePresence(fingerprint, mac string) string {
	return t.device(fingerprint, mac, "presence")
}

func (t Topics) device(fingerprint, mac, kind string) string {
	if fingerprint == "" {
		fingerprint = emptyLevel
	}
	if mac == "" {
		mac = emptyLevel
	}
	return fmt.Sprintf("%s/devices/%s/%s/%s", t.root(), fingerprint, mac, kind)
}

// AllTelemetry returns a pattern matching telemetry of every device.
//
// Pattern: relay/devices/+/+/telemetry
func (t Topics) AllTelemetry() string {
	return fmt.Sprintf("%s/devices/+/+/telemetry", t.root())
}

// AllPresence returns a pattern matching presence of every device.
//
// Pattern: relay/devices/+/+/presence
func (t Topics) AllPresence() string {
	return fmt.Sprintf("%s/devices/+/+/presence", t.root())
}
