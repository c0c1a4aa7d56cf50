package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"github.com/StrathCole/flux-aggregator/pkg/flux"
)

const (
	ModeBoth   = "both"
	ModeServer = "server"
	ModeAgent  = "agent"

	StorageMemory = "memory"
	StorageBadger = "badger"

	DefaultHDPath = "m/44'/60'/0'/0/0"
)

// Load loads configuration from YAML file and environment variables.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	absPath, err := filepath.Abs(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	data, err := os.ReadFile(absPath) // #nosec G304 -- Path sanitized with filepath.Clean and filepath.Abs
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML after expanding ${ENV} references and applies defaults.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// applyDefaults sets default values for optional fields.
func applyDefaults(cfg *Config) {
	if cfg.Mode == "" {
		cfg.Mode = ModeBoth
	}

	if cfg.Server.HTTP.Addr == "" {
		cfg.Server.HTTP.Addr = ":8080"
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = StorageMemory
	}
	if cfg.Quote.HDPath == "" {
		cfg.Quote.HDPath = DefaultHDPath
	}
	if cfg.AggregateMode == "" {
		cfg.AggregateMode = "median"
	}

	for i := range cfg.Feeds {
		f := &cfg.Feeds[i]
		if f.UnitAmountIn == "" {
			f.UnitAmountIn = "1"
		}
		if f.Timer == "" {
			f.Timer = "wall"
		}
	}

	for i := range cfg.Sources {
		if cfg.Sources[i].Weight == 0 {
			cfg.Sources[i].Weight = 1
		}
	}

	for i := range cfg.Agents {
		a := &cfg.Agents[i]
		if a.PollInterval == 0 {
			a.PollInterval = Duration(15 * time.Second)
		}
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9091"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// NormalizeMode converts mode string to lowercase.
func (c *Config) NormalizeMode() string {
	return strings.ToLower(c.Mode)
}

// IsServerMode returns true if feeds and the API should run.
func (c *Config) IsServerMode() bool {
	mode := c.NormalizeMode()
	return mode == ModeBoth || mode == ModeServer
}

// IsAgentMode returns true if agents should run.
func (c *Config) IsAgentMode() bool {
	mode := c.NormalizeMode()
	return mode == ModeBoth || mode == ModeAgent
}

// Feed returns the feed named name.
func (c *Config) Feed(name string) (FeedConfig, bool) {
	for _, f := range c.Feeds {
		if f.Name == name {
			return f, true
		}
	}
	return FeedConfig{}, false
}

// EnabledSources returns the sources with enabled set.
func (c *Config) EnabledSources() []SourceConfig {
	out := make([]SourceConfig, 0, len(c.Sources))
	for _, s := range c.Sources {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// SourceWeights maps source names to their aggregation weight.
func (c *Config) SourceWeights() map[string]float64 {
	weights := make(map[string]float64, len(c.Sources))
	for _, s := range c.EnabledSources() {
		weights[s.Name] = s.Weight
	}
	return weights
}

// FluxConfig converts the feed into the parameters of a rounds manager.
func (f FeedConfig) FluxConfig() (flux.Config, error) {
	unit, err := ParseNatural("unit_amount_in", f.UnitAmountIn)
	if err != nil {
		return flux.Config{}, err
	}
	lo, err := ParseNatural("min_submission_value", f.MinSubmissionValue)
	if err != nil {
		return flux.Config{}, err
	}
	hi, err := ParseNatural("max_submission_value", f.MaxSubmissionValue)
	if err != nil {
		return flux.Config{}, err
	}

	cfg := flux.Config{
		Name: f.Name,
		Params: flux.Params{
			MaxSubmissionCount: f.MaxSubmissionCount,
			MinSubmissionCount: f.MinSubmissionCount,
			RestartDelay:       f.RestartDelay,
			MinSubmissionValue: lo,
			MaxSubmissionValue: hi,
			Timeout:            uint64(f.Timeout.ToDuration() / time.Second),
		},
		BrandIn:      f.BrandIn,
		BrandOut:     f.BrandOut,
		UnitAmountIn: unit,
		TimerName:    f.Timer,
	}
	if err := cfg.Params.Validate(); err != nil {
		return flux.Config{}, fmt.Errorf("feed %s: %w", f.Name, err)
	}
	return cfg, nil
}

// ParseNatural parses a decimal natural number. Empty means zero.
func ParseNatural(field, s string) (uint256.Int, error) {
	var v uint256.Int
	if s == "" {
		return v, nil
	}
	if err := v.SetFromDecimal(s); err != nil {
		return v, fmt.Errorf("%w: %s=%q", ErrInvalidNatural, field, s)
	}
	return v, nil
}

// Env returns the value of the environment variable name.
func Env(name string) (string, error) {
	v := os.Getenv(name)
	if v == "" {
		return "", fmt.Errorf("%w: %s", ErrEnvNotSet, name)
	}
	return v, nil
}
