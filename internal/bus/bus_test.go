package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tanayshah11/mercury-stream/internal/ticker"
)

func tick(seq int64) ticker.Ticker {
	return ticker.Ticker{ProductID: "BTC-USD", Sequence: seq, TradeID: seq}
}

// TestDropOldest mirrors scenario S3: capacity 4, publish A..F without
// receiving. The queue should hold the 4 newest and report 2 drops.
func TestDropOldest(t *testing.T) {
	b := New()
	sub := b.Subscribe("s1", 4)

	for i := int64(1); i <= 6; i++ {
		b.Publish(tick(i))
	}

	require.Equal(t, int64(2), sub.Dropped())
	require.Equal(t, 4, sub.Depth())

	ctx := context.Background()
	var got []int64
	for i := 0; i < 4; i++ {
		e, err := sub.Receive(ctx)
		require.NoError(t, err)
		got = append(got, e.Sequence)
	}
	require.Equal(t, []int64{3, 4, 5, 6}, got)
}

// TestNoProducerBlocking mirrors invariant 3: publish of C+K events to a
// subscriber that never receives completes synchronously.
func TestNoProducerBlocking(t *testing.T) {
	b := New()
	sub := b.Subscribe("s1", 10)

	done := make(chan struct{})
	go func() {
		for i := int64(0); i < 1000; i++ {
			b.Publish(tick(i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a non-receiving subscriber")
	}

	require.Equal(t, int64(990), sub.Dropped())
	require.Equal(t, 10, sub.Depth())
}

// TestMonotoneOrder mirrors invariant 2: delivered sequence is a subsequence
// preserving index order, never reordered.
func TestMonotoneOrder(t *testing.T) {
	b := New()
	sub := b.Subscribe("s1", 3)

	for i := int64(0); i < 10; i++ {
		b.Publish(tick(i))
	}

	ctx := context.Background()
	prev := int64(-1)
	for {
		e, err := sub.Receive(ctx)
		if err != nil {
			break
		}
		require.Greater(t, e.Sequence, prev)
		prev = e.Sequence
		if sub.Depth() == 0 {
			break
		}
	}
}

func TestUnsubscribeDiscardsQueue(t *testing.T) {
	b := New()
	sub := b.Subscribe("s1", 10)
	b.Publish(tick(1))
	b.Unsubscribe(sub)

	_, err := sub.Receive(context.Background())
	require.ErrorIs(t, err, ErrUnsubscribed)
}

func TestMultipleSubscribersIndependentDrops(t *testing.T) {
	b := New()
	fast := b.Subscribe("fast", 1000)
	slow := b.Subscribe("slow", 4)

	for i := int64(0); i < 100; i++ {
		b.Publish(tick(i))
	}

	require.Equal(t, int64(0), fast.Dropped())
	require.Equal(t, int64(96), slow.Dropped())
}
