package feed

import (
	"context"

	"github.com/StrathCole/flux-aggregator/pkg/flux"
)

// OracleKit bundles the capabilities handed to a registered oracle and to its operator.
type OracleKit struct {
	Oracle *Oracle
	Admin  *OracleAdmin
}

// Oracle pushes prices on behalf of one oracle.
type Oracle struct {
	feed  *Feed
	id    string
	entry *oracleEntry
}

// ID returns the oracle id.
func (o *Oracle) ID() string {
	return o.id
}

// PushPrice submits one observation. Pushes of the same oracle are applied one at a time.
func (o *Oracle) PushPrice(ctx context.Context, push flux.PriceRound) error {
	o.entry.mu.Lock()
	defer o.entry.mu.Unlock()

	if o.entry.status.Disabled {
		return ErrDisabledOracle
	}

	status, err := o.feed.manager.HandlePush(ctx, o.entry.status, push)
	if err != nil {
		return err
	}
	o.entry.status = status
	return nil
}

// Status returns the oracle's current status.
func (o *Oracle) Status() flux.OracleStatus {
	o.entry.mu.Lock()
	defer o.entry.mu.Unlock()
	return o.entry.status
}

// RoundState returns the oracle's view of round queried, or its suggested round when
// queried is zero.
func (o *Oracle) RoundState(ctx context.Context, queried uint64) (RoundState, error) {
	return o.feed.OracleRoundState(ctx, o.id, queried)
}

// OracleAdmin manages one oracle.
type OracleAdmin struct {
	feed  *Feed
	id    string
	entry *oracleEntry
}

// Disable permanently rejects further pushes of the oracle.
func (a *OracleAdmin) Disable() error {
	return a.feed.disable(a.id, a.entry)
}
