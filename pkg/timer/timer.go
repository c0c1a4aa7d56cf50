// Package timer provides the time sources a feed reads its timestamps from.
package timer

import (
	"context"
	"sync"
	"time"

	"github.com/StrathCole/flux-aggregator/pkg/flux"
)

// Wall reports unix seconds.
type Wall struct{}

// Now implements flux.Timer.
func (Wall) Now(ctx context.Context) (flux.Timestamp, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return flux.Timestamp(time.Now().Unix()), nil
}

// Manual is a timer that only moves when told to.
type Manual struct {
	mu  sync.Mutex
	now flux.Timestamp
}

// NewManual returns a manual timer starting at start.
func NewManual(start flux.Timestamp) *Manual {
	return &Manual{now: start}
}

// Now implements flux.Timer.
func (m *Manual) Now(ctx context.Context) (flux.Timestamp, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now, nil
}

// Tick advances the timer by one tick.
func (m *Manual) Tick() flux.Timestamp {
	return m.Advance(1)
}

// Advance moves the timer forward by n ticks and returns the new time.
func (m *Manual) Advance(n uint64) flux.Timestamp {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now += flux.Timestamp(n)
	return m.now
}

// Set moves the timer to t. Moving backwards is ignored.
func (m *Manual) Set(t flux.Timestamp) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t > m.now {
		m.now = t
	}
}

// Gated wraps a timer so that every Now call blocks until released. Tests use it to
// reorder pushes that are waiting for the time.
type Gated struct {
	inner   flux.Timer
	waiting chan chan struct{}
}

// NewGated returns a gated timer over inner.
func NewGated(inner flux.Timer) *Gated {
	return &Gated{inner: inner, waiting: make(chan chan struct{}, 64)}
}

// Now blocks until Release lets the call through, then reads the inner timer.
func (g *Gated) Now(ctx context.Context) (flux.Timestamp, error) {
	gate := make(chan struct{})
	select {
	case g.waiting <- gate:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case <-gate:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	return g.inner.Now(ctx)
}

// Next returns a release function for the oldest blocked Now call, waiting for one to
// arrive if necessary.
func (g *Gated) Next(ctx context.Context) (func(), error) {
	select {
	case gate := <-g.waiting:
		return func() { close(gate) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
