package timer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StrathCole/flux-aggregator/pkg/flux"
)

func TestManual(t *testing.T) {
	ctx := context.Background()
	m := NewManual(1)

	now, err := m.Now(ctx)
	require.NoError(t, err)
	assert.Equal(t, flux.Timestamp(1), now)

	assert.Equal(t, flux.Timestamp(2), m.Tick())
	assert.Equal(t, flux.Timestamp(7), m.Advance(5))

	m.Set(3)
	now, err = m.Now(ctx)
	require.NoError(t, err)
	assert.Equal(t, flux.Timestamp(7), now, "timer must not move backwards")
}

func TestManualCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewManual(1).Now(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestWall(t *testing.T) {
	now, err := Wall{}.Now(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, time.Now().Unix(), int64(now), 2)
}

func TestGatedReleasesInOrder(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	manual := NewManual(1)
	gated := NewGated(manual)

	results := make(chan flux.Timestamp, 2)
	go func() {
		ts, _ := gated.Now(ctx)
		results <- ts
	}()

	release, err := gated.Next(ctx)
	require.NoError(t, err)

	manual.Advance(4)
	release()

	select {
	case ts := <-results:
		assert.Equal(t, flux.Timestamp(5), ts)
	case <-ctx.Done():
		t.Fatal("gated call was not released")
	}
}
