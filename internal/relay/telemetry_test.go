package relay

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDecodeTelemetry_DropsMalformedLines(t *testing.T) {
	payload := `{"ts":1,"sensor":"t","value":25}
{not json
{"ts":2,"sensor":"t","value":26}`

	got := DecodeTelemetry([]byte(payload))
	if got.RecordCount() != 2 {
		t.Fatalf("RecordCount() = %d, want 2", got.RecordCount())
	}
	if len(got.Lines) != 2 {
		t.Errorf("len(Lines) = %d, want 2", len(got.Lines))
	}
	if v, ok := got.Channels[0].Records[1].Number(); !ok || v != 26 {
		t.Errorf("second record value = %s, want 26", got.Channels[0].Records[1].Value)
	}
}

func TestDecodeTelemetry_KeepsNonNumericValues(t *testing.T) {
	payload := strings.Join([]string{
		`{"ts":1,"sensor":"pump","value":"on"}`,
		`{"ts":"2024-01-01T00:00:00Z","sensor":"t","value":25}`,
		`{"ts":2,"sensor":"t","value":26}`,
		`{"sensor":"door","value":{"open":true}}`,
		`{"ts":3,"sensor":7,"value":1}`,
	}, "\n")

	got := DecodeTelemetry([]byte(payload))
	if got.RecordCount() != 4 {
		t.Fatalf("RecordCount() = %d, want 4", got.RecordCount())
	}
	if len(got.Lines) != 4 {
		t.Errorf("len(Lines) = %d, want 4", len(got.Lines))
	}

	pump := got.Channels[0].Records[0]
	if string(pump.Value) != `"on"` {
		t.Errorf("pump value = %s, want \"on\"", pump.Value)
	}
	if _, ok := pump.Number(); ok {
		t.Error("Number() ok for string value")
	}

	iso := got.Channels[1].Records[0]
	if _, ok := iso.DeviceTime(); ok {
		t.Error("DeviceTime() ok for ISO timestamp")
	}
	if v, ok := iso.Number(); !ok || v != 25 {
		t.Errorf("Number() = %v, %v, want 25, true", v, ok)
	}

	door := got.Channels[2].Records[0]
	if door.Timestamp != nil {
		t.Errorf("missing ts decoded as %s", door.Timestamp)
	}
	if _, ok := door.DeviceTime(); ok {
		t.Error("DeviceTime() ok for missing ts")
	}
}

func TestRecordNumber(t *testing.T) {
	tests := []struct {
		raw    string
		want   float64
		wantOK bool
	}{
		{"21.5", 21.5, true},
		{"-3", -3, true},
		{"1e3", 1000, true},
		{`"21.5"`, 0, false},
		{"true", 0, false},
		{"null", 0, false},
		{"", 0, false},
		{"[1]", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := Record{Value: json.RawMessage(tt.raw)}.Number()
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Number() = %v, %v, want %v, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestDecodeTelemetry_GroupsInFirstAppearanceOrder(t *testing.T) {
	payload := strings.Join([]string{
		`{"ts":1,"sensor":"humidity","value":40}`,
		`  {"ts":1,"sensor":"temperature","value":21.5}  `,
		``,
		`{"ts":2,"sensor":"humidity","value":41}`,
		`{"ts":2,"sensor":"","value":1}`,
		`[1,2,3]`,
		`null`,
	}, "\n")

	got := DecodeTelemetry([]byte(payload))
	if len(got.Channels) != 2 {
		t.Fatalf("len(Channels) = %d, want 2", len(got.Channels))
	}
	if got.Channels[0].Sensor != "humidity" || got.Channels[1].Sensor != "temperature" {
		t.Errorf("channel order = [%s %s], want [humidity temperature]",
			got.Channels[0].Sensor, got.Channels[1].Sensor)
	}
	if len(got.Channels[0].Records) != 2 {
		t.Errorf("humidity records = %d, want 2", len(got.Channels[0].Records))
	}
	if got.Lines[1] != `{"ts":1,"sensor":"temperature","value":21.5}` {
		t.Errorf("Lines[1] = %q, want trimmed line", got.Lines[1])
	}
}

func TestDecodeTelemetry_Empty(t *testing.T) {
	for _, payload := range []string{"", "\n\n", "garbage", `{"id":1}`} {
		if got := DecodeTelemetry([]byte(payload)); !got.Empty() {
			t.Errorf("DecodeTelemetry(%q) not empty: %+v", payload, got)
		}
	}
}

func TestDataMessage_MarshalKeepsChannelOrder(t *testing.T) {
	got := DecodeTelemetry([]byte(`{"ts":1,"sensor":"zeta","value":1}
{"ts":1,"sensor":"alpha","value":2}`))

	data, err := json.Marshal(got.Message())
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	s := string(data)
	if !strings.HasPrefix(s, `{"type":"data","data":`) {
		t.Errorf("message = %s, want type and data first", s)
	}
	if strings.Index(s, `"zeta"`) > strings.Index(s, `"alpha"`) {
		t.Errorf("message = %s, want zeta before alpha", s)
	}

	var decoded struct {
		Type     string              `json:"type"`
		Data     string              `json:"data"`
		Channels map[string][]Record `json:"channels"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(decoded.Channels["alpha"]) != 1 || string(decoded.Channels["alpha"][0].Value) != "2" {
		t.Errorf("channels = %+v, want alpha with one record", decoded.Channels)
	}
	if strings.Count(decoded.Data, "\n") != 1 {
		t.Errorf("data = %q, want two lines", decoded.Data)
	}
}
