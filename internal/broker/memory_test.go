package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, deliveries <-chan Delivery) Delivery {
	t.Helper()
	select {
	case d, ok := <-deliveries:
		require.True(t, ok, "delivery channel closed")
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return nil
	}
}

func TestMemoryBroker_PublishSubscribe(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewMemoryBroker(4)
	require.NoError(t, b.Publish(ctx, BidQueue, []byte(`{"n":1}`)))
	require.NoError(t, b.Publish(ctx, BidQueue, []byte(`{"n":2}`)))
	require.Equal(t, 2, b.Pending(BidQueue))

	deliveries, err := b.Subscribe(ctx, BidQueue)
	require.NoError(t, err)

	first := receive(t, deliveries)
	require.Equal(t, `{"n":1}`, string(first.Body()))
	require.NoError(t, first.Ack(ctx))
	require.Error(t, first.Ack(ctx), "second settlement must fail")

	second := receive(t, deliveries)
	require.NoError(t, second.Reject(ctx))

	require.Equal(t, int64(1), b.Acked())
	require.Equal(t, int64(1), b.Rejected())
	require.Len(t, b.Published(BidQueue), 2)
	require.Empty(t, b.Published(AuctionQueue))
}

func TestMemoryBroker_RequeueRedelivers(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewMemoryBroker(4)
	require.NoError(t, b.Publish(ctx, BidQueue, []byte("payload")))

	deliveries, err := b.Subscribe(ctx, BidQueue)
	require.NoError(t, err)

	d := receive(t, deliveries)
	require.NoError(t, d.Requeue(ctx))

	again := receive(t, deliveries)
	require.Equal(t, "payload", string(again.Body()))
	require.NoError(t, again.Ack(ctx))
	require.Equal(t, int64(1), b.Requeued())
	require.Equal(t, int64(1), b.Acked())
}

func TestMemoryBroker_FullQueue(t *testing.T) {
	t.Parallel()

	b := NewMemoryBroker(1)
	require.NoError(t, b.Publish(context.Background(), AuctionQueue, []byte("a")))
	err := b.Publish(context.Background(), AuctionQueue, []byte("b"))
	require.True(t, errors.Is(err, ErrUnavailable))
	require.Len(t, b.Published(AuctionQueue), 1)
}

func TestMemoryBroker_CancelClosesStream(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	b := NewMemoryBroker(4)

	deliveries, err := b.Subscribe(ctx, BidQueue)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-deliveries:
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed after cancel")
	}

	// unconsumed messages stay queued for the next subscriber
	require.NoError(t, b.Publish(context.Background(), BidQueue, []byte("kept")))
	require.Equal(t, 1, b.Pending(BidQueue))
}

func TestMemoryBroker_Closed(t *testing.T) {
	t.Parallel()

	b := NewMemoryBroker(1)
	require.NoError(t, b.Close())
	require.True(t, errors.Is(b.Publish(context.Background(), BidQueue, nil), ErrClosed))
	_, err := b.Subscribe(context.Background(), BidQueue)
	require.True(t, errors.Is(err, ErrClosed))
}
