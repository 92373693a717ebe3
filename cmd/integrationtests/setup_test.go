package integrationtests

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	auction "auction-service/internal/auctionService"
	"auction-service/internal/broker"
	"auction-service/internal/clock"
	"auction-service/internal/ingestion"
	"auction-service/internal/metrics"
	"auction-service/internal/models"
	"auction-service/internal/notification"
	"auction-service/internal/repository"
	"auction-service/internal/scheduler"
	"auction-service/internal/server"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Harness wires the whole service on in-process collaborators
type Harness struct {
	Repo      *repository.MemoryRepo
	Broker    *broker.MemoryBroker
	Clock     *clock.MockClock
	Registry  *prometheus.Registry
	Scheduler *scheduler.Scheduler
	Consumer  *ingestion.Consumer
	Router    *gin.Engine
}

// NewHarness builds a service with a memory store, a memory broker and a mock clock set to baseTime
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := &Harness{
		Repo:     repository.NewMemoryRepo(),
		Broker:   broker.NewMemoryBroker(64),
		Clock:    clock.NewMockClock(baseTime),
		Registry: prometheus.NewRegistry(),
	}
	m := metrics.New(h.Registry)

	producer := notification.NewProducer(h.Broker, notification.Config{
		Queue:          broker.AuctionQueue,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}, m)
	h.Scheduler = scheduler.New(h.Repo, producer, h.Clock, scheduler.Config{Interval: time.Hour}, scheduler.WithMetrics(m))

	handler := ingestion.NewBidHandler(h.Repo, h.Clock, ingestion.HandlerConfig{}, m)
	h.Consumer = ingestion.NewConsumer(h.Broker, broker.BidQueue, handler, 4)

	h.Router = server.SetupRouter(auction.NewAuctionService(h.Repo), h.Registry)
	return h
}

// StartConsumer runs the bid consumer until the test ends
func (h *Harness) StartConsumer(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Consumer.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

// SeedAuction stores an auction and returns it with its assigned version
func (h *Harness) SeedAuction(t *testing.T, a models.Auction) models.Auction {
	t.Helper()
	require.NoError(t, h.Repo.AddAuction(context.Background(), &a))
	return a
}

// PublishBid places a bid message on the inbound queue
func (h *Harness) PublishBid(t *testing.T, id, auctionID, bidderID string, amount int, sent time.Time) {
	t.Helper()
	body := fmt.Sprintf(`{"Id":%q,"AuctionId":%q,"BidderId":%q,"Amount":%d,"DateSent":%q}`,
		id, auctionID, bidderID, amount, sent.Format(time.RFC3339Nano))
	require.NoError(t, h.Broker.Publish(context.Background(), broker.BidQueue, []byte(body)))
}

// WaitSettled blocks until n inbound deliveries were acknowledged or rejected
func (h *Harness) WaitSettled(t *testing.T, n int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.Broker.Acked()+h.Broker.Rejected() >= n
	}, 3*time.Second, 10*time.Millisecond)
}

// Settlements decodes every message published on the settlement queue
func (h *Harness) Settlements(t *testing.T) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, body := range h.Broker.Published(broker.AuctionQueue) {
		var msg map[string]any
		require.NoError(t, json.Unmarshal(body, &msg))
		out = append(out, msg)
	}
	return out
}

// Get executes a GET request on the router and parses the JSON response
func (h *Harness) Get(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	w := httptest.NewRecorder()
	h.Router.ServeHTTP(w, req)

	var resp map[string]any
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
	}
	return w.Code, resp
}

func newRecorder(url string) (*http.Request, *httptest.ResponseRecorder) {
	return httptest.NewRequest(http.MethodGet, url, nil), httptest.NewRecorder()
}
