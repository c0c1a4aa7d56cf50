package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
)

// Validate checks configuration for errors
func Validate(cfg *Config) error {
	mode := cfg.NormalizeMode()
	if mode != ModeBoth && mode != ModeServer && mode != ModeAgent {
		return fmt.Errorf("%w: %s (must be 'both', 'server', or 'agent')", ErrInvalidMode, cfg.Mode)
	}

	if cfg.IsServerMode() {
		if err := validateServerConfig(&cfg.Server); err != nil {
			return fmt.Errorf("server config: %w", err)
		}
		if err := validateStorageConfig(&cfg.Storage); err != nil {
			return fmt.Errorf("storage config: %w", err)
		}
		if cfg.Quote.KeyEnv == "" && cfg.Quote.MnemonicEnv == "" {
			return ErrSigningKeyRequired
		}
		if err := validateFeeds(cfg.Feeds); err != nil {
			return err
		}
	}

	if cfg.IsAgentMode() && len(cfg.Agents) > 0 {
		if err := validateSources(cfg); err != nil {
			return err
		}
		for i := range cfg.Agents {
			if err := validateAgentConfig(cfg, &cfg.Agents[i]); err != nil {
				return fmt.Errorf("agent %d (%s): %w", i, cfg.Agents[i].Oracle, err)
			}
		}
	}

	if err := validateLoggingConfig(&cfg.Logging); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

func validateServerConfig(cfg *ServerConfig) error {
	if cfg.HTTP.TLS.Enabled {
		if cfg.HTTP.TLS.Cert == "" || cfg.HTTP.TLS.Key == "" {
			return ErrTLSConfigIncomplete
		}
		if _, err := os.Stat(cfg.HTTP.TLS.Cert); err != nil {
			return fmt.Errorf("%w: %s", ErrTLSCertNotFound, cfg.HTTP.TLS.Cert)
		}
		if _, err := os.Stat(cfg.HTTP.TLS.Key); err != nil {
			return fmt.Errorf("%w: %s", ErrTLSKeyNotFound, cfg.HTTP.TLS.Key)
		}
	}
	return nil
}

func validateStorageConfig(cfg *StorageConfig) error {
	switch strings.ToLower(cfg.Type) {
	case StorageMemory:
		return nil
	case StorageBadger:
		if cfg.Path == "" {
			return ErrStoragePathRequired
		}
		return nil
	default:
		return fmt.Errorf("%w: %s (must be 'memory' or 'badger')", ErrInvalidStorageType, cfg.Type)
	}
}

func validateFeeds(feeds []FeedConfig) error {
	if len(feeds) == 0 {
		return ErrNoFeedsConfigured
	}
	seen := make(map[string]bool, len(feeds))
	for i := range feeds {
		f := &feeds[i]
		if f.Name == "" {
			return fmt.Errorf("feed %d: %w", i, ErrFeedNameRequired)
		}
		if seen[f.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateFeed, f.Name)
		}
		seen[f.Name] = true

		if f.BrandIn == "" || f.BrandOut == "" {
			return fmt.Errorf("feed %s: %w", f.Name, ErrBrandsRequired)
		}
		if _, err := f.FluxConfig(); err != nil {
			return fmt.Errorf("feed %s: %w", f.Name, err)
		}

		oracles := make(map[string]bool, len(f.Oracles))
		for _, o := range f.Oracles {
			if o.ID == "" {
				return fmt.Errorf("feed %s: %w", f.Name, ErrOracleIDRequired)
			}
			if oracles[o.ID] {
				return fmt.Errorf("feed %s: %w: %s", f.Name, ErrDuplicateOracle, o.ID)
			}
			oracles[o.ID] = true
		}
	}
	return nil
}

func validateSources(cfg *Config) error {
	if len(cfg.EnabledSources()) == 0 {
		return ErrNoSourcesEnabled
	}
	if mode := strings.ToLower(cfg.AggregateMode); mode != "median" && mode != "average" {
		return fmt.Errorf("%w: %s (must be 'median' or 'average')", ErrInvalidAggregateMode, cfg.AggregateMode)
	}
	for i := range cfg.Sources {
		if err := validateSourceConfig(&cfg.Sources[i]); err != nil {
			return fmt.Errorf("source %d (%s.%s): %w", i, cfg.Sources[i].Type, cfg.Sources[i].Name, err)
		}
	}
	return nil
}

func validateSourceConfig(cfg *SourceConfig) error {
	if cfg.Type == "" {
		return ErrSourceTypeRequired
	}
	if cfg.Name == "" {
		return ErrSourceNameRequired
	}
	if cfg.Weight < 0 {
		return ErrSourceWeightMustBeNonNegative
	}
	return nil
}

func validateAgentConfig(cfg *Config, a *AgentConfig) error {
	if a.Oracle == "" {
		return ErrAgentOracleRequired
	}
	if a.Symbol == "" {
		return ErrAgentSymbolRequired
	}
	if a.Deviation.Relative < 0 || a.Deviation.Absolute < 0 {
		return ErrInvalidDeviation
	}

	if a.Endpoint != "" {
		if _, err := ParseNatural("min_submission_value", a.MinSubmissionValue); err != nil {
			return err
		}
		_, err := ParseNatural("max_submission_value", a.MaxSubmissionValue)
		return err
	}

	// in-process agents push to a feed of this daemon
	if !cfg.IsServerMode() {
		return ErrAgentEndpointRequired
	}
	f, ok := cfg.Feed(a.Feed)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFeed, a.Feed)
	}
	if !slices.ContainsFunc(f.Oracles, func(o OracleConfig) bool { return o.ID == a.Oracle }) {
		return fmt.Errorf("%w: %s on %s", ErrUnknownOracle, a.Oracle, a.Feed)
	}
	return nil
}

func validateLoggingConfig(cfg *LoggingConfig) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLevels, strings.ToLower(cfg.Level)) {
		return fmt.Errorf("%w: %s (must be one of: %s)", ErrInvalidLogLevel, cfg.Level, strings.Join(validLevels, ", "))
	}

	format := strings.ToLower(cfg.Format)
	if format != "json" && format != "text" {
		return fmt.Errorf("%w: %s (must be 'json' or 'text')", ErrInvalidLogFormat, cfg.Format)
	}

	return nil
}
