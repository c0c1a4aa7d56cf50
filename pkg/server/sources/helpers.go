package sources

import (
	"fmt"
	"strings"
	"time"

	"github.com/StrathCole/flux-aggregator/pkg/logging"
)

// GetLoggerFromConfig extracts the logger passed in config["logger"], or returns a noop
// logger.
func GetLoggerFromConfig(config map[string]interface{}) *logging.Logger {
	if logger, ok := config["logger"].(*logging.Logger); ok && logger != nil {
		return logger
	}
	return logging.NewNoopLogger()
}

// GetNameFromConfig returns config["name"], or fallback when unset.
func GetNameFromConfig(config map[string]interface{}, fallback string) string {
	if name := getStringFromMap(config, "name"); name != "" {
		return name
	}
	return fallback
}

// GetDurationFromConfig parses config[key] as a duration string.
func GetDurationFromConfig(config map[string]interface{}, key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := config[key]
	if !ok {
		return fallback, nil
	}
	s, ok := raw.(string)
	if !ok {
		return 0, fmt.Errorf("%w: %s must be a duration string", ErrInvalidConfig, key)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
	return d, nil
}

// ParsePairsFromMap extracts pair mappings from config where pairs is a map.
// Expected format: pairs: { "LINK/USD": "data.LINK.price" }.
func ParsePairsFromMap(config map[string]interface{}) (map[string]string, error) {
	pairsRaw, ok := config["pairs"]
	if !ok {
		return nil, fmt.Errorf("%w: 'pairs' key", ErrInvalidConfig)
	}

	pairsMap, ok := pairsRaw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: pairs must be map[string]string", ErrInvalidConfig)
	}

	pairs := make(map[string]string, len(pairsMap))
	for unified, sourceRaw := range pairsMap {
		source, ok := sourceRaw.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s is %T", ErrInvalidConfig, unified, sourceRaw)
		}
		if err := ValidateSymbolFormat(unified); err != nil {
			return nil, fmt.Errorf("unified symbol: %w", err)
		}
		pairs[unified] = source
	}

	if len(pairs) == 0 {
		return nil, ErrNoPairsConfigured
	}
	return pairs, nil
}

func getStringFromMap(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// ValidateSymbolFormat checks that a symbol is in BASE/QUOTE format, e.g. "LINK/USD".
func ValidateSymbolFormat(symbol string) error {
	if symbol == "" {
		return ErrInvalidSymbolFormat
	}

	parts := strings.Split(symbol, "/")
	if len(parts) != 2 {
		return fmt.Errorf("%w: %s", ErrInvalidSymbolFormat, symbol)
	}
	if strings.TrimSpace(parts[0]) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyBaseCurrency, symbol)
	}
	if strings.TrimSpace(parts[1]) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyQuoteCurrency, symbol)
	}
	return nil
}
