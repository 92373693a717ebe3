package integrationtests

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"auction-service/internal/broker"
	"auction-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func ongoingAuction(id string, end time.Time) models.Auction {
	return models.Auction{
		ID:         id,
		ProductID:  "product-" + id,
		StartPrice: decimal.NewFromInt(50),
		StartDate:  baseTime.Add(-time.Hour),
		EndDate:    end,
		Status:     models.StatusOngoing,
	}
}

// Bids flow in through the queue, the auction closes and the highest bidder is settled
func TestAuctionFlow_SettlesHighestBid(t *testing.T) {
	h := NewHarness(t)
	h.SeedAuction(t, ongoingAuction("a1", baseTime.Add(30*time.Minute)))
	h.StartConsumer(t)

	h.PublishBid(t, "b1", "a1", "B1", 100, baseTime.Add(-time.Minute))
	h.PublishBid(t, "b2", "a1", "B2", 150, baseTime)
	h.WaitSettled(t, 2)

	status, resp := h.Get(t, "/auctions/a1/bids")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 2.0, resp["count"])

	h.Clock.Advance(time.Hour)
	require.NoError(t, h.Scheduler.Scan(context.Background()))

	settlements := h.Settlements(t)
	require.Len(t, settlements, 1)
	require.Equal(t, "product-a1", settlements[0]["ProductId"])
	require.Equal(t, "B2", settlements[0]["BidderId"])
	require.Equal(t, "Finished", settlements[0]["Status"])
	require.Equal(t, 150.0, settlements[0]["Amount"])

	status, resp = h.Get(t, "/auctions/a1")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "Finished", resp["data"].(map[string]any)["status"])

	status, resp = h.Get(t, "/auctions/a1/winning")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "B2", resp["data"].(map[string]any)["bidder_id"])

	// a second scan leaves the finished auction alone
	require.NoError(t, h.Scheduler.Scan(context.Background()))
	require.Len(t, h.Settlements(t), 1)
}

// An auction without bids finishes silently
func TestAuctionFlow_NoBidsNoSettlement(t *testing.T) {
	h := NewHarness(t)
	h.SeedAuction(t, ongoingAuction("a2", baseTime.Add(-time.Second)))

	require.NoError(t, h.Scheduler.Scan(context.Background()))

	require.Empty(t, h.Settlements(t))
	stored, err := h.Repo.GetAuctionByID(context.Background(), "a2")
	require.NoError(t, err)
	require.Equal(t, models.StatusFinished, stored.Status)

	status, resp := h.Get(t, "/auctions/a2/winning")
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "no winning bid found", resp["message"])
}

// Stale and malformed messages are settled without being stored
func TestAuctionFlow_StaleAndMalformedBids(t *testing.T) {
	h := NewHarness(t)
	h.SeedAuction(t, ongoingAuction("a3", baseTime.Add(time.Hour)))
	h.StartConsumer(t)

	h.PublishBid(t, "stale", "a3", "B1", 500, baseTime.Add(-10*time.Minute))
	require.NoError(t, h.Broker.Publish(context.Background(), broker.BidQueue, []byte(`{"AuctionId":`)))
	h.PublishBid(t, "fresh", "a3", "B2", 60, baseTime.Add(-time.Minute))
	h.WaitSettled(t, 3)

	bids, err := h.Repo.GetBidsByAuction(context.Background(), "a3")
	require.NoError(t, err)
	require.Len(t, bids, 1)
	require.Equal(t, "fresh", bids[0].ID)
	require.Equal(t, int64(1), h.Broker.Rejected())
}

// Scheduled auctions open when their start date passes
func TestAuctionFlow_StartsScheduledAuction(t *testing.T) {
	h := NewHarness(t)
	h.SeedAuction(t, models.Auction{
		ID:         "a4",
		ProductID:  "product-a4",
		StartPrice: decimal.NewFromInt(10),
		StartDate:  baseTime.Add(time.Minute),
		EndDate:    baseTime.Add(time.Hour),
		Status:     models.StatusToBeStarted,
	})

	require.NoError(t, h.Scheduler.Scan(context.Background()))
	status, resp := h.Get(t, "/auctions?status=ToBeStarted")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 1.0, resp["count"])

	h.Clock.Advance(2 * time.Minute)
	require.NoError(t, h.Scheduler.Scan(context.Background()))

	status, resp = h.Get(t, "/auctions?status=Ongoing")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 1.0, resp["count"])
	require.Empty(t, h.Settlements(t))
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	h := NewHarness(t)
	h.SeedAuction(t, ongoingAuction("a5", baseTime.Add(-time.Second)))
	require.NoError(t, h.Scheduler.Scan(context.Background()))

	status, resp := h.Get(t, "/healthz")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ok", resp["status"])

	req, w := newRecorder("/metrics")
	h.Router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, strings.Contains(w.Body.String(), `auction_scheduler_transitions_total{to="Finished"} 1`))
}
