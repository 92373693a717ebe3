package helpers

import (
	"time"

	model "auction-service/internal/models"
)

// Request/Response DTOs
type ListAuctionsQuery struct {
	Status string    `form:"status" binding:"omitempty,oneof=ToBeStarted Ongoing Finished"`
	From   time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To     time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
}

type AuctionResponse struct {
	AuctionID  string `json:"auction_id"`
	ProductID  string `json:"product_id"`
	StartPrice string `json:"start_price"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	Status     string `json:"status"`
}

type BidResponse struct {
	BidID     string `json:"bid_id"`
	AuctionID string `json:"auction_id"`
	BidderID  string `json:"bidder_id"`
	Amount    string `json:"amount"`
	DateSent  string `json:"date_sent"`
}

func NewAuctionResponse(a model.Auction) AuctionResponse {
	return AuctionResponse{
		AuctionID:  a.ID,
		ProductID:  a.ProductID,
		StartPrice: a.StartPrice.String(),
		StartDate:  a.StartDate.UTC().Format(time.RFC3339),
		EndDate:    a.EndDate.UTC().Format(time.RFC3339),
		Status:     string(a.Status),
	}
}

func NewBidResponse(b model.Bid) BidResponse {
	return BidResponse{
		BidID:     b.ID,
		AuctionID: b.AuctionID,
		BidderID:  b.BidderID,
		Amount:    b.Amount.String(),
		DateSent:  b.DateSent.UTC().Format(time.RFC3339),
	}
}
