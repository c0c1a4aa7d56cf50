package sources

import "strings"

// Quote currencies that are priced as USD.
var stablecoinAliases = map[string]string{
	"USDT": "USD",
	"USDC": "USD",
	"DAI":  "USD",
	"TUSD": "USD",
	"USDP": "USD",
}

// Wrapped assets priced as their underlying.
var baseCurrencyAliases = map[string]string{
	"WBTC":  "BTC",
	"WETH":  "ETH",
	"STETH": "ETH",
}

// NormalizeSymbol maps a trading pair to its canonical form so prices quoted against
// aliases aggregate together: LINK/USDT -> LINK/USD, WETH/USDC -> ETH/USD.
func NormalizeSymbol(symbol string) string {
	parts := strings.Split(symbol, "/")
	if len(parts) != 2 {
		return symbol
	}

	base := strings.ToUpper(strings.TrimSpace(parts[0]))
	quote := strings.ToUpper(strings.TrimSpace(parts[1]))
	if normalized, ok := baseCurrencyAliases[base]; ok {
		base = normalized
	}
	if normalized, ok := stablecoinAliases[quote]; ok {
		quote = normalized
	}
	return base + "/" + quote
}

// IsEquivalentSymbol checks if two symbols are equivalent after normalization
func IsEquivalentSymbol(symbol1, symbol2 string) bool {
	return NormalizeSymbol(symbol1) == NormalizeSymbol(symbol2)
}
