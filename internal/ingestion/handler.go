// Package ingestion consumes bid messages, triages them and stores the accepted ones.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auction-service/internal/auctionerrors"
	"auction-service/internal/broker"
	"auction-service/internal/clock"
	"auction-service/internal/metrics"
	"auction-service/internal/models"
	"auction-service/internal/repository"
	"auction-service/internal/wire"
	"auction-service/utils"
)

// Outcome describes how a delivery was settled
type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeStale     Outcome = "stale"
	OutcomeRejected  Outcome = "rejected"
	OutcomeMalformed Outcome = "malformed"
	OutcomeRetry     Outcome = "retry"
	OutcomeOrphaned  Outcome = "orphaned"
	OutcomePoison    Outcome = "poison"
)

// HandlerConfig tunes a BidHandler
type HandlerConfig struct {
	// FreshnessWindow defaults to DefaultFreshnessWindow when zero.
	FreshnessWindow time.Duration
	// RequeueDelay is waited before handing a delivery back after a store outage.
	RequeueDelay time.Duration
}

// BidHandler handles a single inbound bid delivery
type BidHandler struct {
	repo         repository.AuctionDB
	clock        clock.Clock
	window       time.Duration
	requeueDelay time.Duration
	metrics      *metrics.Metrics
}

// NewBidHandler creates a handler storing bids in repo. m may be nil.
func NewBidHandler(repo repository.AuctionDB, clk clock.Clock, cfg HandlerConfig, m *metrics.Metrics) *BidHandler {
	if cfg.FreshnessWindow <= 0 {
		cfg.FreshnessWindow = DefaultFreshnessWindow
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &BidHandler{
		repo:         repo,
		clock:        clk,
		window:       cfg.FreshnessWindow,
		requeueDelay: cfg.RequeueDelay,
		metrics:      m,
	}
}

// Handle decodes, triages and stores one delivery, then settles it exactly once.
//
//   - absent or malformed payloads are rejected
//   - stale bids are acknowledged and never stored
//   - accepted bids are stored, then acknowledged
//   - a store outage hands the delivery back for redelivery
//   - bids for unknown auctions and other store errors are acknowledged and logged
func (h *BidHandler) Handle(ctx context.Context, d broker.Delivery) (outcome Outcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			utils.Error("ingestion: panic while handling bid", map[string]any{"panic": fmt.Sprint(r)})
			h.settle(ctx, d.Ack, "ack")
			outcome = OutcomePoison
		}
		h.metrics.ObserveIngestion(string(outcome), time.Since(start).Seconds())
	}()

	bid, err := wire.DecodeBid(d.Body())
	if err != nil {
		utils.Warn("ingestion: malformed bid message", map[string]any{"error": err.Error()})
		h.settle(ctx, d.Reject, "reject")
		return OutcomeMalformed
	}

	switch verdict := Triage(bid, h.clock.Now(), h.window); verdict {
	case VerdictReject:
		utils.Warn("ingestion: empty bid message rejected", map[string]any{"error": verdict.Err().Error()})
		h.settle(ctx, d.Reject, "reject")
		return OutcomeRejected
	case VerdictStale:
		utils.Info("ingestion: stale bid dropped", map[string]any{
			"auction_id": bid.AuctionID,
			"bidder_id":  bid.BidderID,
			"date_sent":  bid.DateSent,
			"error":      fmt.Errorf("%w: older than %s", verdict.Err(), h.window).Error(),
		})
		h.settle(ctx, d.Ack, "ack")
		return OutcomeStale
	}

	if bid.ID == "" {
		bid.ID = utils.GenerateID()
	}
	return h.store(ctx, d, *bid)
}

func (h *BidHandler) store(ctx context.Context, d broker.Delivery, bid models.Bid) Outcome {
	fields := map[string]any{
		"bid_id":     bid.ID,
		"auction_id": bid.AuctionID,
		"bidder_id":  bid.BidderID,
	}

	err := h.repo.InsertBid(ctx, bid)
	switch {
	case err == nil:
		utils.Info("ingestion: bid recorded", fields)
		h.settle(ctx, d.Ack, "ack")
		return OutcomeAccepted

	case errors.Is(err, auctionerrors.ErrDuplicateBid):
		// redelivery of a bid that is already stored
		utils.Debug("ingestion: bid already recorded", fields)
		h.settle(ctx, d.Ack, "ack")
		return OutcomeAccepted

	case errors.Is(err, auctionerrors.ErrStoreUnavailable):
		fields["error"] = err.Error()
		utils.Warn("ingestion: store unavailable, requeueing bid", fields)
		h.wait(ctx)
		h.settle(ctx, d.Requeue, "requeue")
		return OutcomeRetry

	case errors.Is(err, auctionerrors.ErrAuctionNotFound):
		fields["error"] = err.Error()
		utils.Warn("ingestion: bid for unknown auction dropped", fields)
		h.settle(ctx, d.Ack, "ack")
		return OutcomeOrphaned

	default:
		fields["error"] = err.Error()
		utils.Error("ingestion: bid could not be stored, dropping", fields)
		h.settle(ctx, d.Ack, "ack")
		return OutcomePoison
	}
}

func (h *BidHandler) wait(ctx context.Context) {
	if h.requeueDelay <= 0 {
		return
	}
	timer := time.NewTimer(h.requeueDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (h *BidHandler) settle(ctx context.Context, fn func(context.Context) error, action string) {
	if err := fn(ctx); err != nil {
		utils.Error("ingestion: failed to settle delivery", map[string]any{
			"action": action,
			"error":  err.Error(),
		})
	}
}
