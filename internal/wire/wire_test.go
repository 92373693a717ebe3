package wire

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"auction-service/internal/auctionerrors"
	"auction-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestDecodeBid(t *testing.T) {
	t.Parallel()

	sent := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		body    string
		want    *models.Bid
		wantErr error
	}{
		{
			name: "full payload",
			body: `{"Id":"b-1","AuctionId":"a-1","BidderId":"u-1","Amount":150.5,"DateSent":"2024-01-01T10:00:00Z"}`,
			want: &models.Bid{ID: "b-1", AuctionID: "a-1", BidderID: "u-1", Amount: decimal.RequireFromString("150.5"), DateSent: sent},
		},
		{
			name: "missing id is allowed",
			body: `{"AuctionId":"a-1","BidderId":"u-1","Amount":"100","DateSent":"2024-01-01T10:00:00Z"}`,
			want: &models.Bid{AuctionID: "a-1", BidderID: "u-1", Amount: decimal.NewFromInt(100), DateSent: sent},
		},
		{
			name: "timestamp without offset is utc",
			body: `{"AuctionId":"a-1","BidderId":"u-1","Amount":100,"DateSent":"2024-01-01T10:00:00"}`,
			want: &models.Bid{AuctionID: "a-1", BidderID: "u-1", Amount: decimal.NewFromInt(100), DateSent: sent},
		},
		{
			name: "offset is normalised to utc",
			body: `{"AuctionId":"a-1","BidderId":"u-1","Amount":100,"DateSent":"2024-01-01T12:00:00+02:00"}`,
			want: &models.Bid{AuctionID: "a-1", BidderID: "u-1", Amount: decimal.NewFromInt(100), DateSent: sent},
		},
		{name: "empty body", body: "", want: nil},
		{name: "whitespace body", body: "  \n", want: nil},
		{name: "json null", body: "null", want: nil},
		{name: "not json", body: "bid please", wantErr: auctionerrors.ErrMalformedBid},
		{name: "array", body: `[1,2]`, wantErr: auctionerrors.ErrMalformedBid},
		{
			name:    "unknown field",
			body:    `{"AuctionId":"a-1","BidderId":"u-1","Amount":1,"DateSent":"2024-01-01T10:00:00Z","Extra":true}`,
			wantErr: auctionerrors.ErrMalformedBid,
		},
		{
			name:    "missing auction id",
			body:    `{"BidderId":"u-1","Amount":1,"DateSent":"2024-01-01T10:00:00Z"}`,
			wantErr: auctionerrors.ErrMalformedBid,
		},
		{
			name:    "blank auction id",
			body:    `{"AuctionId":"","BidderId":"u-1","Amount":1,"DateSent":"2024-01-01T10:00:00Z"}`,
			wantErr: auctionerrors.ErrMalformedBid,
		},
		{
			name:    "whitespace auction id",
			body:    `{"AuctionId":" \t ","BidderId":"u-1","Amount":1,"DateSent":"2024-01-01T10:00:00Z"}`,
			wantErr: auctionerrors.ErrMalformedBid,
		},
		{
			name:    "empty bidder id",
			body:    `{"AuctionId":"a-1","BidderId":"","Amount":1,"DateSent":"2024-01-01T10:00:00Z"}`,
			wantErr: auctionerrors.ErrMalformedBid,
		},
		{
			name: "ids are trimmed",
			body: `{"Id":" b-9 ","AuctionId":" a-1 ","BidderId":"u-1\n","Amount":1,"DateSent":"2024-01-01T10:00:00Z"}`,
			want: &models.Bid{ID: "b-9", AuctionID: "a-1", BidderID: "u-1", Amount: decimal.NewFromInt(1), DateSent: sent},
		},
		{
			name:    "blank bidder id",
			body:    `{"AuctionId":"a-1","BidderId":"  ","Amount":1,"DateSent":"2024-01-01T10:00:00Z"}`,
			wantErr: auctionerrors.ErrMalformedBid,
		},
		{
			name:    "missing amount",
			body:    `{"AuctionId":"a-1","BidderId":"u-1","DateSent":"2024-01-01T10:00:00Z"}`,
			wantErr: auctionerrors.ErrMalformedBid,
		},
		{
			name:    "negative amount",
			body:    `{"AuctionId":"a-1","BidderId":"u-1","Amount":-5,"DateSent":"2024-01-01T10:00:00Z"}`,
			wantErr: auctionerrors.ErrMalformedBid,
		},
		{
			name:    "missing date",
			body:    `{"AuctionId":"a-1","BidderId":"u-1","Amount":1}`,
			wantErr: auctionerrors.ErrMalformedBid,
		},
		{
			name:    "bad date",
			body:    `{"AuctionId":"a-1","BidderId":"u-1","Amount":1,"DateSent":"yesterday"}`,
			wantErr: auctionerrors.ErrMalformedBid,
		},
		{
			name:    "trailing data",
			body:    `{"AuctionId":"a-1","BidderId":"u-1","Amount":1,"DateSent":"2024-01-01T10:00:00Z"} {}`,
			wantErr: auctionerrors.ErrMalformedBid,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := DecodeBid([]byte(tc.body))
			if tc.wantErr != nil {
				require.Error(t, err)
				require.True(t, errors.Is(err, tc.wantErr), "got %v", err)
				require.Nil(t, got)
				return
			}

			require.NoError(t, err)
			if tc.want == nil {
				require.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			require.Equal(t, tc.want.ID, got.ID)
			require.Equal(t, tc.want.AuctionID, got.AuctionID)
			require.Equal(t, tc.want.BidderID, got.BidderID)
			require.True(t, tc.want.Amount.Equal(got.Amount), "amount %s", got.Amount)
			require.True(t, tc.want.DateSent.Equal(got.DateSent), "date %s", got.DateSent)
		})
	}
}

func TestEncodeSettlement(t *testing.T) {
	t.Parallel()

	n := models.SettlementNotification{
		ProductID:      "p-1",
		AuctionEndDate: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		BidderID:       "B2",
		Status:         models.StatusFinished,
		Amount:         decimal.NewFromInt(150),
	}

	body, err := EncodeSettlement(n)
	require.NoError(t, err)
	require.JSONEq(t,
		`{"ProductId":"p-1","AuctionEndDate":"2024-01-01T12:00:00Z","BidderId":"B2","Status":"Finished","Amount":150}`,
		string(body))

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &fields))
	require.Len(t, fields, 5)
}

func TestEncodeSettlement_Invalid(t *testing.T) {
	t.Parallel()

	_, err := EncodeSettlement(models.SettlementNotification{
		ProductID: "p-1",
		Status:    models.StatusFinished,
		Amount:    decimal.NewFromInt(1),
	})
	require.Error(t, err)

	_, err = EncodeSettlement(models.SettlementNotification{
		ProductID: "p-1",
		BidderID:  "u-1",
		Status:    "Closed",
	})
	require.Error(t, err)
}
