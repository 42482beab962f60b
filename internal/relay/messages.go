package relay

import "encoding/json"

// Message type tags sent to apps.
const (
	TypeStatus    = "status"
	TypeData      = "data"
	TypeAuthError = "auth_error"
)

// Device presence values carried by status messages.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// StatusMessage tells an app whether its device is connected.
type StatusMessage struct {
	Type   string `json:"type"`
	Device string `json:"device"`
	MAC    string `json:"mac"`
}

// DataMessage carries one device payload's worth of telemetry to apps.
// Data holds the well-formed lines joined by newlines; Channels holds the
// same records grouped by sensor.
type DataMessage struct {
	Type     string    `json:"type"`
	Data     string    `json:"data"`
	Channels []Channel `json:"-"`
}

// MarshalJSON encodes Channels as an object keyed by sensor name, keeping the
// order in which sensors first appeared in the payload.
func (m DataMessage) MarshalJSON() ([]byte, error) {
	typ, err := json.Marshal(m.Type)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(m.Data)
	if err != nil {
		return nil, err
	}
	channels, err := marshalChannels(m.Channels)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, len(typ)+len(data)+len(channels)+32)
	buf = append(buf, `{"type":`...)
	buf = append(buf, typ...)
	buf = append(buf, `,"data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"channels":`...)
	buf = append(buf, channels...)
	buf = append(buf, '}')
	return buf, nil
}

// AuthErrorMessage is sent to a connection that failed admission, just before
// it is closed.
type AuthErrorMessage struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// callError is the synthesised reply for a call the relay could not deliver.
type callError struct {
	ID    json.RawMessage `json:"id"`
	Error string          `json:"error"`
}

func encodeStatus(online bool, mac string) []byte {
	device := StatusOffline
	if online {
		device = StatusOnline
	}
	data, _ := json.Marshal(StatusMessage{Type: TypeStatus, Device: device, MAC: mac}) //nolint:errcheck // string fields only
	return data
}

func encodeCallError(id json.RawMessage, code string) []byte {
	data, _ := json.Marshal(callError{ID: id, Error: code}) //nolint:errcheck // id is already valid JSON
	return data
}

// EncodeAuthError renders the admission failure notice for reason.
func EncodeAuthError(reason string) []byte {
	data, _ := json.Marshal(AuthErrorMessage{Type: TypeAuthError, Reason: reason}) //nolint:errcheck // string fields only
	return data
}
