package ingestion

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"auction-service/internal/broker"
	"auction-service/internal/clock"
	"auction-service/internal/models"
	"auction-service/internal/repository"

	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type countingHandler struct {
	mu      sync.Mutex
	handled int
	active  atomic.Int32
	peak    atomic.Int32
	delay   time.Duration
}

func (h *countingHandler) Handle(ctx context.Context, d broker.Delivery) Outcome {
	cur := h.active.Add(1)
	for {
		p := h.peak.Load()
		if cur <= p || h.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	time.Sleep(h.delay)
	h.active.Add(-1)

	_ = d.Ack(ctx)
	h.mu.Lock()
	h.handled++
	h.mu.Unlock()
	return OutcomeAccepted
}

func (h *countingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.handled
}

func TestConsumer_StoresFreshBids(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := repository.NewMemoryRepo()
	require.NoError(t, repo.AddAuction(ctx, &models.Auction{
		ID:         "a-1",
		ProductID:  "p-1",
		StartPrice: decimal.NewFromInt(10),
		StartDate:  now.Add(-time.Hour),
		EndDate:    now.Add(time.Hour),
		Status:     models.StatusOngoing,
	}))

	b := broker.NewMemoryBroker(16)
	require.NoError(t, b.Publish(ctx, broker.BidQueue, bidBody("b-1", now)))
	require.NoError(t, b.Publish(ctx, broker.BidQueue, bidBody("b-2", now.Add(-time.Minute))))
	require.NoError(t, b.Publish(ctx, broker.BidQueue, bidBody("b-3", now.Add(-time.Hour))))
	require.NoError(t, b.Publish(ctx, broker.BidQueue, []byte("garbage")))

	h := NewBidHandler(repo, clock.NewMockClock(now), HandlerConfig{}, nil)
	c := NewConsumer(b, broker.BidQueue, h, 2)

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		return b.Acked()+b.Rejected() == 4
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	bids, err := repo.GetBidsByAuction(context.Background(), "a-1")
	require.NoError(t, err)
	require.Len(t, bids, 2)
	require.Equal(t, int64(3), b.Acked())
	require.Equal(t, int64(1), b.Rejected())
}

func TestConsumer_BoundedWorkers(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := broker.NewMemoryBroker(32)
	for i := 0; i < 12; i++ {
		require.NoError(t, b.Publish(ctx, broker.BidQueue, []byte("{}")))
	}

	h := &countingHandler{delay: 20 * time.Millisecond}
	c := NewConsumer(b, broker.BidQueue, h, 3)

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return h.count() == 12 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	require.LessOrEqual(t, h.peak.Load(), int32(3))
}

func TestConsumer_InFlightFinishesAfterCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	b := broker.NewMemoryBroker(4)
	require.NoError(t, b.Publish(ctx, broker.BidQueue, []byte("{}")))

	h := &countingHandler{delay: 200 * time.Millisecond}
	c := NewConsumer(b, broker.BidQueue, h, 1)

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return h.active.Load() == 1 }, 2*time.Second, time.Millisecond)
	cancel()

	require.NoError(t, <-done)
	require.Equal(t, 1, h.count())
	require.Equal(t, int64(1), b.Acked())
}

func TestConsumer_ClosedStreamIsBrokerFault(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	stream := make(chan broker.Delivery)
	close(stream)

	sub := broker.NewMockSubscriber(ctrl)
	sub.EXPECT().Subscribe(gomock.Any(), broker.BidQueue).Return((<-chan broker.Delivery)(stream), nil)

	c := NewConsumer(sub, broker.BidQueue, &countingHandler{}, 1)
	err := c.Run(context.Background())
	require.Error(t, err)
	require.True(t, errors.Is(err, broker.ErrUnavailable))
}

func TestConsumer_SubscribeError(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	sub := broker.NewMockSubscriber(ctrl)
	sub.EXPECT().Subscribe(gomock.Any(), broker.BidQueue).Return(nil, broker.ErrClosed)

	err := NewConsumer(sub, broker.BidQueue, &countingHandler{}, 1).Run(context.Background())
	require.True(t, errors.Is(err, broker.ErrClosed))
}
