package pubsub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	recvTimeout = 5 * time.Second
	bufferSize  = 5
)

func recv(t *testing.T, sub *Subscription[int]) int {
	t.Helper()
	select {
	case v, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		return v
	case <-time.After(recvTimeout):
		t.Fatalf("failed to receive value")
	}
	return 0
}

func TestTopic(t *testing.T) {
	t.Run("BasicInfinity", testBasicInfinity)
	t.Run("BasicOverwriting", testBasicOverwriting)
	t.Run("ReplayLast", testReplayLast)
	t.Run("Close", testClose)
}

func testBasicInfinity(t *testing.T) {
	topic := NewTopic[int](false)
	sub := topic.Subscribe()

	topic.Publish(23)
	require.Equal(t, 23, recv(t, sub), "single Publish()")

	for i := 0; i < 10; i++ {
		topic.Publish(i)
	}
	for i := 0; i < 10; i++ {
		require.Equal(t, i, recv(t, sub), "buffered Publish()")
	}

	require.NotPanics(t, func() { sub.Close() }, "Close()")
	require.Equal(t, 0, topic.Len(), "subscribers post Close()")
}

func testBasicOverwriting(t *testing.T) {
	topic := NewTopic[int](false)
	sub := topic.SubscribeBuffered(bufferSize)

	topic.Publish(23)
	require.Equal(t, 23, recv(t, sub))

	for i := 0; i < bufferSize+10; i++ {
		topic.Publish(i)
	}

	// The ring keeps the newest bufferSize values. The pump may already hold one older
	// value, depending on scheduling.
	got := drainAvailable(sub)
	require.GreaterOrEqual(t, len(got), bufferSize)
	require.LessOrEqual(t, len(got), bufferSize+1)
	require.Equal(t, bufferSize+9, got[len(got)-1], "newest value is kept")
	require.IsIncreasing(t, got)
	require.Equal(t, []int{10, 11, 12, 13, 14}, got[len(got)-bufferSize:])

	sub.Close()
}

func drainAvailable(sub *Subscription[int]) []int {
	var got []int
	for {
		select {
		case v, ok := <-sub.C():
			if !ok {
				return got
			}
			got = append(got, v)
		case <-time.After(200 * time.Millisecond):
			return got
		}
	}
}

func testReplayLast(t *testing.T) {
	topic := NewTopic[int](true)
	_, ok := topic.Latest()
	require.False(t, ok)

	topic.Publish(23)
	latest, ok := topic.Latest()
	require.True(t, ok)
	require.Equal(t, 23, latest)

	for _, size := range []int64{-1, bufferSize} {
		sub := topic.SubscribeBuffered(size)
		require.Equal(t, 23, recv(t, sub), "last Publish() on Subscribe()")
		sub.Close()
	}

	noReplay := NewTopic[int](false)
	noReplay.Publish(23)
	sub := noReplay.Subscribe()
	select {
	case v := <-sub.C():
		t.Fatalf("unexpected replay of %d", v)
	case <-time.After(100 * time.Millisecond):
	}
	sub.Close()
}

func testClose(t *testing.T) {
	topic := NewTopic[int](false)
	sub := topic.Subscribe()

	// values nobody reads must not keep Close from returning
	for i := 0; i < 10; i++ {
		topic.Publish(i)
	}
	sub.Close()
	sub.Close()

	select {
	case _, ok := <-sub.C():
		if ok {
			// a value already handed to the pump may still be delivered
			_, ok = <-sub.C()
		}
		require.False(t, ok)
	case <-time.After(recvTimeout):
		t.Fatalf("subscription channel not closed")
	}

	require.NotPanics(t, func() { topic.Publish(42) })
}
