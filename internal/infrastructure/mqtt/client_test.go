package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/nerrad567/sensor-relay/internal/infrastructure/config"
)

func TestTopicBuilders(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"status default prefix", Topics{}.Status(), "relay/status"},
		{"status custom prefix", Topics{Prefix: "site1/relay"}.Status(), "site1/relay/status"},
		{"telemetry", Topics{}.DeviceTelemetry("3f9a0c1b2d4e", "aabbccddeeff"), "relay/devices/3f9a0c1b2d4e/aabbccddeeff/telemetry"},
		{"presence", Topics{Prefix: "x"}.DevicePresence("3f9a", "0011"), "x/devices/3f9a/0011/presence"},
		{"empty mac", Topics{}.DeviceTelemetry("3f9a", ""), "relay/devices/3f9a/_/telemetry"},
		{"empty fingerprint", Topics{}.DevicePresence("", "0011"), "relay/devices/_/0011/presence"},
		{"all telemetry", Topics{}.AllTelemetry(), "relay/devices/+/+/telemetry"},
		{"all presence", Topics{}.AllPresence(), "relay/devices/+/+/presence"},
		{"all presence custom prefix", Topics{Prefix: "r"}.AllPresence(), "r/devices/+/+/presence"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestStatusPayloads(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		wantStatus string
		wantReason string
	}{
		{"online", buildOnlinePayload("relay-1"), "online", ""},
		{"offline", buildOfflinePayload("relay-1"), "offline", "graceful_shutdown"},
		{"will", buildStatusPayload("relay-1", "offline", "unexpected_disconnect"), "offline", "unexpected_disconnect"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got statusPayload
			if err := json.Unmarshal([]byte(tt.payload), &got); err != nil {
				t.Fatalf("payload not JSON: %v (%s)", err, tt.payload)
			}
			if got.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", got.Status, tt.wantStatus)
			}
			if got.Reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", got.Reason, tt.wantReason)
			}
			if got.ClientID != "relay-1" {
				t.Errorf("client_id = %q", got.ClientID)
			}
			if got.Timestamp == "" {
				t.Error("timestamp missing")
			}
		})
	}
}

func TestStatusPayloadEscapesClientID(t *testing.T) {
	var got statusPayload
	if err := json.Unmarshal([]byte(buildOnlinePayload(`we"ird`)), &got); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if got.ClientID != `we"ird` {
		t.Errorf("client_id = %q", got.ClientID)
	}
}

func TestValidatePublish(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"ok", "relay/status", []byte("{}"), 1, nil},
		{"nil payload", "relay/status", nil, 0, nil},
		{"empty topic", "", []byte("{}"), 1, ErrInvalidTopic},
		{"bad qos", "relay/status", []byte("{}"), 3, ErrInvalidQoS},
		{"too large", "relay/status", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePublish(tt.topic, tt.payload, tt.qos)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("validatePublish() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("validatePublish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{Host: "broker.local", Port: 8883, TLS: true, ClientID: "relay-1"},
		Auth:   config.MQTTAuthConfig{Username: "relay", Password: "secret"},
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     30,
		},
	}
	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://broker.local:8883" {
		t.Errorf("Servers = %v, want ssl://broker.local:8883", opts.Servers)
	}
	if opts.ClientID != "relay-1" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "relay" {
		t.Errorf("Username = %q", opts.Username)
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig not set")
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect disabled")
	}

	configureLWT(opts, Topics{Prefix: "site"}, "relay-1")
	if opts.WillTopic != "site/status" {
		t.Errorf("WillTopic = %q, want site/status", opts.WillTopic)
	}
	if !opts.WillRetained {
		t.Error("will not retained")
	}
	if !strings.Contains(string(opts.WillPayload), "unexpected_disconnect") {
		t.Errorf("WillPayload = %s", opts.WillPayload)
	}
}

func TestCloseNil(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v", err)
	}
}

func TestHealthCheckNotConnected(t *testing.T) {
	c := &Client{}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestHealthCheckCancelled(t *testing.T) {
	c := &Client{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

func TestPublishNotConnected(t *testing.T) {
	c := &Client{}
	if err := c.Publish("relay/status", []byte("{}"), 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
	if err := c.PublishJSON("relay/status", map[string]any{"a": 1}, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("PublishJSON() error = %v, want ErrNotConnected", err)
	}
}

func TestPublishJSONEncodeError(t *testing.T) {
	c := &Client{}
	err := c.PublishJSON("relay/status", make(chan int), false)
	if !errors.Is(err, ErrPublishFailed) {
		t.Errorf("PublishJSON() error = %v, want ErrPublishFailed", err)
	}
}
