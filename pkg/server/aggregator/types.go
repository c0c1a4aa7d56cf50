package aggregator

import "github.com/StrathCole/flux-aggregator/pkg/server/sources"

// priceWithSource tracks which source provided a price and its weight.
type priceWithSource struct {
	price  sources.Price
	source string
	weight float64
}
