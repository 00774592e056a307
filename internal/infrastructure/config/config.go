package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for poolfleet.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Schemas   SchemaConfig    `yaml:"schemas"`
	Commands  CommandConfig   `yaml:"commands"`
	Sender    SenderConfig    `yaml:"sender"`
	Journal   JournalConfig   `yaml:"journal"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
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
	MaxAttempts  int `yaml:"max_attempts"`
}

// SchemaConfig locates the protobuf descriptors used to decode and encode
// device payloads. Message names are fully qualified (package.Message).
type SchemaConfig struct {
	// DescriptorSet is a FileDescriptorSet produced by
	// protoc --include_imports --descriptor_set_out.
	DescriptorSet string `yaml:"descriptor_set"`

	// TransactionField names the string field of every command request
	// that carries the generated transaction id.
	TransactionField string `yaml:"transaction_field"`

	Announcement string `yaml:"announcement"`
	Info         string `yaml:"info"`
	DeviceError  string `yaml:"device_error"`

	Identity IdentityFieldsConfig `yaml:"identity"`
	Families []FamilyConfig       `yaml:"families"`
}

// IdentityFieldsConfig names the announcement fields that carry device identity.
type IdentityFieldsConfig struct {
	Serial      string `yaml:"serial"`
	Category    string `yaml:"category"`
	ProductName string `yaml:"product_name"`
}

// FamilyConfig describes one device family: how it is recognised from the
// announced category and which messages apply to it.
type FamilyConfig struct {
	Name            string                `yaml:"name"`
	Keywords        []string              `yaml:"keywords"`
	Telemetry       string                `yaml:"telemetry"`
	CommandResponse string                `yaml:"command_response"`
	Commands        []CommandSourceConfig `yaml:"commands"`
}

// CommandSourceConfig is a command request message and the group field
// under which its commands live. An empty Group means the commands are
// direct fields of the request.
type CommandSourceConfig struct {
	Request string `yaml:"request"`
	Group   string `yaml:"group"`
}

// CommandConfig controls command construction.
type CommandConfig struct {
	// StrictCoercion aborts a command when any raw value fails to coerce.
	// The default leaves such fields unset.
	StrictCoercion bool `yaml:"strict_coercion"`
}

// SenderConfig contains background sender defaults.
type SenderConfig struct {
	DefaultLevel    int                `yaml:"default_level"`
	DefaultInterval int                `yaml:"default_interval"`
	Command         LevelCommandConfig `yaml:"command"`
	Retry           SenderRetryConfig  `yaml:"retry"`
}

// SenderRetryConfig controls retries of a failed background publish.
// Zero attempts disables retrying: the failure is reported and the sender
// waits for its next interval.
type SenderRetryConfig struct {
	Attempts     int `yaml:"attempts"`
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// LevelCommandConfig identifies the command the background sender repeats.
type LevelCommandConfig struct {
	Group     string `yaml:"group"`
	Field     string `yaml:"field"`
	Parameter string `yaml:"parameter"`
}

// JournalConfig contains the SQLite event journal settings.
type JournalConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
	BufferSize  int    `yaml:"buffer_size"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: POOLFLEET_SECTION_KEY
// For example: POOLFLEET_MQTT_HOST, POOLFLEET_JOURNAL_PATH
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the compiled-in defaults. Callers that build a Config in
// code (tests, tools) start from here.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "poolfleet",
			},
			QoS: 0,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Schemas: SchemaConfig{
			TransactionField: "command_uuid",
			Identity: IdentityFieldsConfig{
				Serial:      "serial_number",
				Category:    "category",
				ProductName: "product_name",
			},
			Families: []FamilyConfig{
				{Name: "icl", Keywords: []string{"dct", "digitalcontroller", "icl", "infinite color"}},
				{Name: "sanitizer", Keywords: []string{"sanitizer"}},
			},
		},
		Sender: SenderConfig{
			DefaultLevel:    5,
			DefaultInterval: 4,
			Command: LevelCommandConfig{
				Group:     "sanitizer",
				Field:     "set_sanitizer_output_percentage",
				Parameter: "target_percentage",
			},
			Retry: SenderRetryConfig{
				InitialDelay: 1,
				MaxDelay:     8,
			},
		},
		Journal: JournalConfig{
			Enabled:     true,
			Path:        "./data/poolfleet.db",
			WALMode:     true,
			BusyTimeout: 5,
			BufferSize:  256,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
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
	// MQTT
	if v := os.Getenv("POOLFLEET_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("POOLFLEET_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("POOLFLEET_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("POOLFLEET_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Schemas
	if v := os.Getenv("POOLFLEET_SCHEMA_DESCRIPTOR_SET"); v != "" {
		cfg.Schemas.DescriptorSet = v
	}

	// Journal
	if v := os.Getenv("POOLFLEET_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}

	// API
	if v := os.Getenv("POOLFLEET_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("POOLFLEET_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	errs = append(errs, c.Schemas.validate()...)

	if c.Sender.DefaultLevel < 0 {
		errs = append(errs, "sender.default_level must not be negative")
	}
	if c.Sender.DefaultInterval < 1 {
		errs = append(errs, "sender.default_interval must be at least 1 second")
	}
	errs = append(errs, c.Sender.Retry.validate()...)
	if c.Sender.Command.Field == "" || c.Sender.Command.Parameter == "" {
		errs = append(errs, "sender.command.field and sender.command.parameter are required")
	}

	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, "journal.path is required when the journal is enabled")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (r SenderRetryConfig) validate() []string {
	switch {
	case r.Attempts < 0:
		return []string{"sender.retry.attempts must not be negative"}
	case r.Attempts == 0:
		return nil
	}
	var errs []string
	if r.InitialDelay < 1 {
		errs = append(errs, "sender.retry.initial_delay must be at least 1 second when retrying")
	}
	if r.MaxDelay < r.InitialDelay {
		errs = append(errs, "sender.retry.max_delay must not be below sender.retry.initial_delay")
	}
	return errs
}

func (s SchemaConfig) validate() []string {
	var errs []string

	if s.DescriptorSet == "" {
		errs = append(errs, "schemas.descriptor_set is required (set POOLFLEET_SCHEMA_DESCRIPTOR_SET)")
	}
	if s.Announcement == "" {
		errs = append(errs, "schemas.announcement is required")
	}
	if s.Identity.Serial == "" || s.Identity.Category == "" {
		errs = append(errs, "schemas.identity.serial and schemas.identity.category are required")
	}

	seen := make(map[string]bool, len(s.Families))
	for i, f := range s.Families {
		if f.Name == "" {
			errs = append(errs, fmt.Sprintf("schemas.families[%d].name is required", i))
			continue
		}
		if seen[f.Name] {
			errs = append(errs, fmt.Sprintf("schemas.families: duplicate family %q", f.Name))
		}
		seen[f.Name] = true
		if len(f.Keywords) == 0 {
			errs = append(errs, fmt.Sprintf("schemas.families[%s].keywords must not be empty", f.Name))
		}
		for j, src := range f.Commands {
			if src.Request == "" {
				errs = append(errs, fmt.Sprintf("schemas.families[%s].commands[%d].request is required", f.Name, j))
			}
		}
	}

	return errs
}

// GetReadTimeout returns the read timeout as a Duration. It also bounds
// reading request headers.
func (a APIConfig) GetReadTimeout() time.Duration {
	return time.Duration(a.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the write timeout as a Duration.
func (a APIConfig) GetWriteTimeout() time.Duration {
	return time.Duration(a.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the keep-alive idle timeout as a Duration.
func (a APIConfig) GetIdleTimeout() time.Duration {
	return time.Duration(a.Timeouts.Idle) * time.Second
}
