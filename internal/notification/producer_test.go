package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"auction-service/internal/broker"
	"auction-service/internal/metrics"
	"auction-service/internal/models"

	"github.com/golang/mock/gomock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func settlement() models.SettlementNotification {
	return models.SettlementNotification{
		ProductID:      "p-1",
		AuctionEndDate: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		BidderID:       "B2",
		Status:         models.StatusFinished,
		Amount:         decimal.NewFromInt(150),
	}
}

func fastConfig() Config {
	return Config{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func TestProducer_Publish(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		setupMock    func(pub *broker.MockPublisher)
		wantErr      error
		wantAttempts float64
		wantResult   string
	}{
		{
			name: "first attempt confirmed",
			setupMock: func(pub *broker.MockPublisher) {
				pub.EXPECT().Publish(gomock.Any(), broker.AuctionQueue, gomock.Any()).DoAndReturn(
					func(_ context.Context, _ string, body []byte) error {
						require.JSONEq(t,
							`{"ProductId":"p-1","AuctionEndDate":"2024-01-01T12:00:00Z","BidderId":"B2","Status":"Finished","Amount":150}`,
							string(body))
						return nil
					})
			},
			wantAttempts: 1,
			wantResult:   "published",
		},
		{
			name: "transient failures are retried",
			setupMock: func(pub *broker.MockPublisher) {
				gomock.InOrder(
					pub.EXPECT().Publish(gomock.Any(), broker.AuctionQueue, gomock.Any()).Return(broker.ErrUnavailable),
					pub.EXPECT().Publish(gomock.Any(), broker.AuctionQueue, gomock.Any()).Return(broker.ErrNotConfirmed),
					pub.EXPECT().Publish(gomock.Any(), broker.AuctionQueue, gomock.Any()).Return(nil),
				)
			},
			wantAttempts: 3,
			wantResult:   "published",
		},
		{
			name: "retries are bounded",
			setupMock: func(pub *broker.MockPublisher) {
				pub.EXPECT().Publish(gomock.Any(), broker.AuctionQueue, gomock.Any()).
					Return(broker.ErrUnavailable).Times(4)
			},
			wantErr:      broker.ErrUnavailable,
			wantAttempts: 4,
			wantResult:   "failed",
		},
		{
			name: "permanent failure is not retried",
			setupMock: func(pub *broker.MockPublisher) {
				pub.EXPECT().Publish(gomock.Any(), broker.AuctionQueue, gomock.Any()).Return(broker.ErrClosed)
			},
			wantErr:      broker.ErrClosed,
			wantAttempts: 1,
			wantResult:   "failed",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			pub := broker.NewMockPublisher(ctrl)
			tc.setupMock(pub)

			m := metrics.New(prometheus.NewRegistry())
			p := NewProducer(pub, fastConfig(), m)

			err := p.Publish(context.Background(), settlement())
			if tc.wantErr != nil {
				require.Error(t, err)
				require.True(t, errors.Is(err, tc.wantErr), "got %v", err)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, tc.wantAttempts, testutil.ToFloat64(m.NotificationAttempts))
			require.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsPublished.WithLabelValues(tc.wantResult)))
		})
	}
}

func TestProducer_InvalidNotificationNeverPublished(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	pub := broker.NewMockPublisher(ctrl)
	pub.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	n := settlement()
	n.BidderID = ""
	err := NewProducer(pub, fastConfig(), nil).Publish(context.Background(), n)
	require.Error(t, err)
}

func TestProducer_CancelledContextStopsRetrying(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx, cancel := context.WithCancel(context.Background())

	pub := broker.NewMockPublisher(ctrl)
	pub.EXPECT().Publish(gomock.Any(), broker.AuctionQueue, gomock.Any()).DoAndReturn(
		func(context.Context, string, []byte) error {
			cancel()
			return broker.ErrUnavailable
		})

	err := NewProducer(pub, fastConfig(), nil).Publish(ctx, settlement())
	require.Error(t, err)
}

func TestProducer_MemoryBroker(t *testing.T) {
	t.Parallel()

	b := broker.NewMemoryBroker(4)
	p := NewProducer(b, Config{}, nil)

	require.NoError(t, p.Publish(context.Background(), settlement()))
	published := b.Published(broker.AuctionQueue)
	require.Len(t, published, 1)
	require.Contains(t, string(published[0]), `"BidderId":"B2"`)
}

func TestNewProducer_Defaults(t *testing.T) {
	t.Parallel()

	p := NewProducer(nil, Config{}, nil)
	require.Equal(t, DefaultConfig(), p.cfg)

	p = NewProducer(nil, Config{MaxRetries: -1}, nil)
	require.Equal(t, 0, p.cfg.MaxRetries)
}
