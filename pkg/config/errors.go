// Package config provides configuration loading and validation for the flux aggregator.
package config

import "errors"

var (
	// ErrInvalidMode indicates that the mode is invalid.
	ErrInvalidMode = errors.New("invalid mode")
	// ErrInvalidAggregateMode indicates that the aggregation mode is invalid.
	ErrInvalidAggregateMode = errors.New("invalid aggregate_mode")
	// ErrTLSConfigIncomplete indicates that TLS config is incomplete.
	ErrTLSConfigIncomplete = errors.New("TLS cert and key must be specified when TLS is enabled")
	// ErrTLSCertNotFound indicates that the TLS cert file was not found.
	ErrTLSCertNotFound = errors.New("TLS cert file not found")
	// ErrTLSKeyNotFound indicates that the TLS key file was not found.
	ErrTLSKeyNotFound = errors.New("TLS key file not found")
	// ErrInvalidStorageType indicates an unknown storage backend.
	ErrInvalidStorageType = errors.New("invalid storage type")
	// ErrStoragePathRequired indicates that badger storage needs a path.
	ErrStoragePathRequired = errors.New("storage path is required for badger")
	// ErrSigningKeyRequired indicates that neither key_env nor mnemonic_env is set.
	ErrSigningKeyRequired = errors.New("either quote.key_env or quote.mnemonic_env must be specified")
	// ErrEnvNotSet indicates that a referenced environment variable is empty.
	ErrEnvNotSet = errors.New("environment variable not set")
	// ErrNoFeedsConfigured indicates that the server has nothing to serve.
	ErrNoFeedsConfigured = errors.New("at least one feed must be configured")
	// ErrFeedNameRequired indicates a feed without a name.
	ErrFeedNameRequired = errors.New("feed name is required")
	// ErrDuplicateFeed indicates two feeds with the same name.
	ErrDuplicateFeed = errors.New("duplicate feed")
	// ErrBrandsRequired indicates a feed without brands.
	ErrBrandsRequired = errors.New("brand_in and brand_out are required")
	// ErrInvalidNatural indicates a value that is not a decimal natural number.
	ErrInvalidNatural = errors.New("invalid natural number")
	// ErrDuplicateOracle indicates an oracle listed twice on a feed.
	ErrDuplicateOracle = errors.New("duplicate oracle")
	// ErrOracleIDRequired indicates an oracle without an id.
	ErrOracleIDRequired = errors.New("oracle id is required")
	// ErrNoSourcesEnabled indicates that agents have no price sources.
	ErrNoSourcesEnabled = errors.New("no sources enabled")
	// ErrSourceTypeRequired indicates that source type is required.
	ErrSourceTypeRequired = errors.New("source type is required")
	// ErrSourceNameRequired indicates that source name is required.
	ErrSourceNameRequired = errors.New("source name is required")
	// ErrSourceWeightMustBeNonNegative indicates that source weight must be >= 0.
	ErrSourceWeightMustBeNonNegative = errors.New("weight must be >= 0")
	// ErrAgentOracleRequired indicates an agent without an oracle id.
	ErrAgentOracleRequired = errors.New("agent oracle is required")
	// ErrAgentSymbolRequired indicates an agent without a symbol.
	ErrAgentSymbolRequired = errors.New("agent symbol is required")
	// ErrAgentEndpointRequired indicates an in-process agent without local feeds.
	ErrAgentEndpointRequired = errors.New("agent endpoint is required in agent mode")
	// ErrUnknownFeed indicates an agent referring to a feed that is not configured.
	ErrUnknownFeed = errors.New("unknown feed")
	// ErrUnknownOracle indicates an in-process agent for an oracle not registered on its feed.
	ErrUnknownOracle = errors.New("oracle not registered on feed")
	// ErrInvalidDeviation indicates negative deviation thresholds.
	ErrInvalidDeviation = errors.New("deviation thresholds must be >= 0")
	// ErrInvalidLogLevel indicates that the log level is invalid.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidLogFormat indicates that the log format is invalid.
	ErrInvalidLogFormat = errors.New("invalid log format")
)
