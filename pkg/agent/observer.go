package agent

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/StrathCole/flux-aggregator/pkg/server/aggregator"
)

// SourceObserver observes prices through an aggregator.Observer.
func SourceObserver(o *aggregator.Observer) Observer {
	return ObserverFunc(func(ctx context.Context, symbol string) (decimal.Decimal, error) {
		p, err := o.Observe(ctx, symbol)
		if err != nil {
			return decimal.Zero, err
		}
		return p.Price, nil
	})
}
