package relay

import "time"

// DeviceRef identifies a device to external collaborators without exposing
// the token it was admitted with.
type DeviceRef struct {
	Fingerprint string
	MAC         string
	HomeID      string
}

// Exporter receives copies of relay traffic for external systems such as a
// message bus or a time-series database. Implementations must not block:
// they are called inline on the device's read path.
type Exporter interface {
	ExportTelemetry(dev DeviceRef, t Telemetry, at time.Time)
	ExportPresence(dev DeviceRef, online bool, at time.Time)
}

func refFor(slot *DeviceSlot) DeviceRef {
	ref := DeviceRef{Fingerprint: slot.Fingerprint, MAC: slot.MAC}
	if slot.Claims != nil {
		ref.HomeID = slot.Claims.HomeID
	}
	return ref
}
