package sources

import "errors"

var (
	// ErrNoPricesAvailable indicates that no prices are available from the source.
	ErrNoPricesAvailable = errors.New("no prices available")
	// ErrUnexpectedStatus indicates an unexpected HTTP status code.
	ErrUnexpectedStatus = errors.New("unexpected HTTP status code")
	// ErrInvalidResponse indicates an invalid response from the source.
	ErrInvalidResponse = errors.New("invalid response")
	// ErrInvalidConfig indicates that the source configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrUnknownSource indicates that no factory is registered for a source.
	ErrUnknownSource = errors.New("unknown source")
	// ErrNoPairsConfigured indicates that no pairs are configured.
	ErrNoPairsConfigured = errors.New("no pairs configured")
	// ErrNoSymbolsForPrice indicates that no prices are available for a symbol.
	ErrNoSymbolsForPrice = errors.New("no prices for symbol")
	// ErrInvalidSymbolFormat indicates that the symbol format is invalid.
	ErrInvalidSymbolFormat = errors.New("symbol must be in BASE/QUOTE format")
	// ErrEmptyBaseCurrency indicates that the symbol BASE currency cannot be empty.
	ErrEmptyBaseCurrency = errors.New("symbol BASE currency cannot be empty")
	// ErrEmptyQuoteCurrency indicates that the symbol QUOTE currency cannot be empty.
	ErrEmptyQuoteCurrency = errors.New("symbol QUOTE currency cannot be empty")
)
