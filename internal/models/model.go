package models

import (
	"fmt"
	"time"

	"auction-service/internal/auctionerrors"

	"github.com/shopspring/decimal"
)

// AuctionStatus is the lifecycle state of an auction
type AuctionStatus string

const (
	StatusToBeStarted AuctionStatus = "ToBeStarted"
	StatusOngoing     AuctionStatus = "Ongoing"
	StatusFinished    AuctionStatus = "Finished"
)

// rank orders statuses along the lifecycle; unknown statuses rank zero.
func (s AuctionStatus) rank() int {
	switch s {
	case StatusToBeStarted:
		return 1
	case StatusOngoing:
		return 2
	case StatusFinished:
		return 3
	default:
		return 0
	}
}

// Valid reports whether s is a known status
func (s AuctionStatus) Valid() bool {
	return s.rank() > 0
}

// CanAdvanceTo reports whether moving from s to next keeps the lifecycle moving forward.
// Finished is terminal.
func (s AuctionStatus) CanAdvanceTo(next AuctionStatus) bool {
	return s.Valid() && next.Valid() && next.rank() > s.rank()
}

// ParseAuctionStatus converts a raw status string into an AuctionStatus
func ParseAuctionStatus(raw string) (AuctionStatus, error) {
	s := AuctionStatus(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown auction status %q: %w", raw, auctionerrors.ErrInvalidRequest)
	}
	return s, nil
}

// Auction represents a timed sale of a product
type Auction struct {
	ID         string          `json:"auction_id"`
	ProductID  string          `json:"product_id"`
	StartPrice decimal.Decimal `json:"start_price"`
	StartDate  time.Time       `json:"start_date"`
	EndDate    time.Time       `json:"end_date"`
	Status     AuctionStatus   `json:"status"`
	Version    int64           `json:"version"`
}

// Validate checks the attribute invariants of an auction
func (a Auction) Validate() error {
	if a.ProductID == "" {
		return fmt.Errorf("%w: missing product id", auctionerrors.ErrInvalidAuction)
	}
	if a.StartPrice.IsNegative() {
		return fmt.Errorf("%w: negative start price", auctionerrors.ErrInvalidAuction)
	}
	if a.EndDate.Before(a.StartDate) {
		return fmt.Errorf("%w: end date before start date", auctionerrors.ErrInvalidAuction)
	}
	if !a.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", auctionerrors.ErrInvalidAuction, a.Status)
	}
	return nil
}

// Bid represents a bidder's offer against an auction
type Bid struct {
	ID        string          `json:"bid_id"`
	AuctionID string          `json:"auction_id"`
	BidderID  string          `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	DateSent  time.Time       `json:"date_sent"`
}

// SettlementNotification is emitted when an auction closes with a winner
type SettlementNotification struct {
	ProductID      string
	AuctionEndDate time.Time
	BidderID       string
	Status         AuctionStatus
	Amount         decimal.Decimal
}

// NewSettlementNotification builds the settlement for a finished auction and its winning bid
func NewSettlementNotification(auction Auction, winning Bid) SettlementNotification {
	return SettlementNotification{
		ProductID:      auction.ProductID,
		AuctionEndDate: auction.EndDate,
		BidderID:       winning.BidderID,
		Status:         StatusFinished,
		Amount:         winning.Amount,
	}
}

// HighestBid returns the bid with the largest amount. Ties go to the earliest DateSent,
// then to the first bid in input order. The second result is false when bids is empty.
func HighestBid(bids []Bid) (Bid, bool) {
	if len(bids) == 0 {
		return Bid{}, false
	}

	winning := bids[0]
	for _, b := range bids[1:] {
		if b.Amount.GreaterThan(winning.Amount) || (b.Amount.Equal(winning.Amount) && b.DateSent.Before(winning.DateSent)) {
			winning = b
		}
	}
	return winning, true
}
