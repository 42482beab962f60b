package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the sensor relay.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Relay     RelayConfig     `yaml:"relay"`
	Security  SecurityConfig  `yaml:"security"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	TLS       TLSConfig        `yaml:"tls"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	CORS      CORSConfig       `yaml:"cors"`
	StaticDir string           `yaml:"static_dir"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
// The write timeout only applies to plain HTTP handlers; hijacked WebSocket
// connections manage their own deadlines.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket transport settings shared by device and
// app connections.
type WebSocketConfig struct {
	DevicePath     string `yaml:"device_path"`
	AppPath        string `yaml:"app_path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	SendBuffer     int    `yaml:"send_buffer"`
	// PingInterval and PongTimeout drive keepalive on app connections.
	// Device connections are pinged by the liveness monitor instead.
	PingInterval int `yaml:"ping_interval"`
	PongTimeout  int `yaml:"pong_timeout"`
}

// RelayConfig contains settings for the device/app relay core.
type RelayConfig struct {
	// LivenessInterval is the device ping period in seconds.
	LivenessInterval int `yaml:"liveness_interval"`

	// PendingCallTTL silently purges calls that never received a reply.
	// Zero disables the sweep.
	PendingCallTTL int `yaml:"pending_call_ttl"`

	// FailPendingOnDeviceLoss answers calls still pending against a device
	// with device_offline when that device disconnects.
	FailPendingOnDeviceLoss bool `yaml:"fail_pending_on_device_loss"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains home token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	Audience       string `yaml:"audience"`
	MinTokenLength int    `yaml:"min_token_length"`
	// TokenTTL is the lifetime in minutes of tokens minted by relaytoken.
	TokenTTL int `yaml:"token_ttl"`
}

// DatabaseConfig contains SQLite session log settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings for telemetry export.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings for telemetry export.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	Measurement   string `yaml:"measurement"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load builds the configuration from defaults, an optional YAML file and
// environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values, when path is non-empty
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern RELAY_SECTION_KEY. The legacy
// deployment names JWT_HOME_SECRET, ALLOW_ORIGIN and STATIC_DIR are honoured
// too.
//
// Parameters:
//   - path: Path to the YAML configuration file, or "" for defaults only.
//     A file that does not exist is treated like "".
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If the file cannot be read or parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// Defaults and environment only.
		case err != nil:
			return nil, fmt.Errorf("reading config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with the relay's defaults.
func defaultConfig() *Config {
	return &Config{
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 3000,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			CORS: CORSConfig{
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "Authorization"},
			},
		},
		WebSocket: WebSocketConfig{
			DevicePath:     "/device",
			AppPath:        "/app",
			MaxMessageSize: 64 * 1024,
			SendBuffer:     256,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Relay: RelayConfig{
			LivenessInterval: 15,
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				Audience:       "home",
				MinTokenLength: 16,
				TokenTTL:       60 * 24 * 365,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/relay.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "sensor-relay",
			},
			QoS:         0,
			TopicPrefix: "relay",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			Measurement:   "sensor_readings",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Legacy names first so the RELAY_ variants win when both are set.
	if v := os.Getenv("JWT_HOME_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	if v := os.Getenv("ALLOW_ORIGIN"); v != "" {
		cfg.API.CORS.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("STATIC_DIR"); v != "" {
		cfg.API.StaticDir = v
	}

	// API
	if v := os.Getenv("RELAY_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("RELAY_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
	if v := os.Getenv("RELAY_ALLOWED_ORIGINS"); v != "" {
		cfg.API.CORS.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("RELAY_STATIC_DIR"); v != "" {
		cfg.API.StaticDir = v
	}

	// Database
	if v := os.Getenv("RELAY_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
		cfg.Database.Enabled = true
	}

	// MQTT
	if v := os.Getenv("RELAY_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
		cfg.MQTT.Enabled = true
	}
	if v := os.Getenv("RELAY_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("RELAY_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("RELAY_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security - always override the secret in production
	if v := os.Getenv("RELAY_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}

	if v := os.Getenv("RELAY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// splitList splits a comma-separated environment value into trimmed items.
func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// minJWTSecretLength is the shortest accepted signing secret.
const minJWTSecretLength = 16

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.TLS.Enabled && (c.API.TLS.CertFile == "" || c.API.TLS.KeyFile == "") {
		errs = append(errs, "api.tls requires cert_file and key_file")
	}

	if c.WebSocket.DevicePath == "" || c.WebSocket.AppPath == "" {
		errs = append(errs, "websocket.device_path and websocket.app_path are required")
	} else if c.WebSocket.DevicePath == c.WebSocket.AppPath {
		errs = append(errs, "websocket.device_path and websocket.app_path must differ")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		errs = append(errs, "websocket.max_message_size must be positive")
	}
	if c.WebSocket.SendBuffer <= 0 {
		errs = append(errs, "websocket.send_buffer must be positive")
	}

	if c.Relay.LivenessInterval <= 0 {
		errs = append(errs, "relay.liveness_interval must be positive")
	}
	if c.Relay.PendingCallTTL < 0 {
		errs = append(errs, "relay.pending_call_ttl cannot be negative")
	}

	// Anyone holding the secret can mint tokens for every home.
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set RELAY_JWT_SECRET or JWT_HOME_SECRET)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, fmt.Sprintf("security.jwt.secret must be at least %d characters", minJWTSecretLength))
	}
	if c.Security.JWT.Audience == "" {
		errs = append(errs, "security.jwt.audience is required")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the session log is enabled")
	}

	if c.MQTT.Enabled && (c.MQTT.QoS < 0 || c.MQTT.QoS > 2) {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// LivenessInterval returns the device ping period as a Duration.
func (c *Config) LivenessInterval() time.Duration {
	return time.Duration(c.Relay.LivenessInterval) * time.Second
}

// PendingCallTTL returns the pending call sweep age as a Duration.
func (c *Config) PendingCallTTL() time.Duration {
	return time.Duration(c.Relay.PendingCallTTL) * time.Second
}
