package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure
type Config struct {
	Mode          string         `yaml:"mode"`
	Server        ServerConfig   `yaml:"server"`
	Storage       StorageConfig  `yaml:"storage"`
	Quote         QuoteConfig    `yaml:"quote"`
	Feeds         []FeedConfig   `yaml:"feeds"`
	Sources       []SourceConfig `yaml:"sources"`
	AggregateMode string         `yaml:"aggregate_mode"`
	Agents        []AgentConfig  `yaml:"agents"`
	Metrics       MetricsConfig  `yaml:"metrics"`
	Logging       LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	HTTP      HTTPConfig `yaml:"http"`
	WebSocket WSConfig   `yaml:"websocket"`
}

// HTTPConfig configures the HTTP server
type HTTPConfig struct {
	Addr           string    `yaml:"addr"`
	TLS            TLSConfig `yaml:"tls"`
	AllowedOrigins []string  `yaml:"allowed_origins"`
}

// WSConfig enables the /ws event stream
type WSConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TLSConfig holds TLS certificate configuration
type TLSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cert    string `yaml:"cert"`
	Key     string `yaml:"key"`
}

// StorageConfig selects the round store
type StorageConfig struct {
	Type string `yaml:"type"` // "memory" or "badger"
	Path string `yaml:"path"`
}

// QuoteConfig locates the quote signing key. KeyEnv holds a hex private key; otherwise
// MnemonicEnv holds a BIP39 mnemonic derived along HDPath.
type QuoteConfig struct {
	KeyEnv      string `yaml:"key_env"`
	MnemonicEnv string `yaml:"mnemonic_env"`
	HDPath      string `yaml:"hd_path"`
}

// FeedConfig describes one feed and its oracles
type FeedConfig struct {
	Name               string         `yaml:"name"`
	BrandIn            string         `yaml:"brand_in"`
	BrandOut           string         `yaml:"brand_out"`
	UnitAmountIn       string         `yaml:"unit_amount_in"`
	MinSubmissionCount uint32         `yaml:"min_submission_count"`
	MaxSubmissionCount uint32         `yaml:"max_submission_count"`
	RestartDelay       uint64         `yaml:"restart_delay"`
	MinSubmissionValue string         `yaml:"min_submission_value"`
	MaxSubmissionValue string         `yaml:"max_submission_value"`
	Timeout            Duration       `yaml:"timeout"` // whole seconds of the wall timer
	Timer              string         `yaml:"timer"`
	Oracles            []OracleConfig `yaml:"oracles"`
}

// OracleConfig registers an oracle on a feed. TokenEnv names the variable holding the
// bearer token it pushes with over HTTP.
type OracleConfig struct {
	ID       string `yaml:"id"`
	TokenEnv string `yaml:"token_env"`
}

// SourceConfig configures a price source
type SourceConfig struct {
	Type    string                 `yaml:"type"`
	Name    string                 `yaml:"name"`
	Enabled bool                   `yaml:"enabled"`
	Weight  float64                `yaml:"weight"`
	Config  map[string]interface{} `yaml:"config"`
}

// AgentConfig runs an oracle agent. An empty Endpoint pushes in-process to a feed of
// this daemon; otherwise the agent talks to the remote API at Endpoint.
type AgentConfig struct {
	Oracle       string          `yaml:"oracle"`
	Feed         string          `yaml:"feed"`
	Symbol       string          `yaml:"symbol"`
	Decimals     int32           `yaml:"decimals"`
	PollInterval Duration        `yaml:"poll_interval"`
	Deviation    DeviationConfig `yaml:"deviation"`
	Endpoint     string          `yaml:"endpoint"`
	TokenEnv     string          `yaml:"token_env"`
	// Bounds for remote agents; in-process agents read them from the feed.
	MinSubmissionValue string `yaml:"min_submission_value"`
	MaxSubmissionValue string `yaml:"max_submission_value"`
}

// DeviationConfig holds submission thresholds
type DeviationConfig struct {
	Relative float64 `yaml:"relative"` // percent
	Absolute float64 `yaml:"absolute"`
}

// MetricsConfig configures Prometheus metrics
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level  string        `yaml:"level"`
	Format string        `yaml:"format"`
	Output string        `yaml:"output"`
	File   LogFileConfig `yaml:"file"`
}

// LogFileConfig configures log file rotation
type LogFileConfig struct {
	MaxSize    int `yaml:"max_size"`
	MaxBackups int `yaml:"max_backups"`
	MaxAge     int `yaml:"max_age"`
}

// Duration is a wrapper around time.Duration for YAML parsing
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	td, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(td)
	return nil
}

// ToDuration converts Duration to time.Duration
func (d Duration) ToDuration() time.Duration {
	return time.Duration(d)
}
