package auction

import (
	"context"
	"fmt"
	"time"

	"auction-service/internal/auctionerrors"
	"auction-service/internal/models"
	"auction-service/internal/repository"
)

// AuctionService answers read-only queries about auctions and their bids
type AuctionService struct {
	repo repository.AuctionDB
}

// NewAuctionService creates a new AuctionService instance
func NewAuctionService(repo repository.AuctionDB) *AuctionService {
	return &AuctionService{
		repo: repo,
	}
}

// AuctionFilter narrows ListAuctions. Zero fields do not filter.
type AuctionFilter struct {
	Status models.AuctionStatus
	From   time.Time
	To     time.Time
}

// ListAuctions returns the auctions matching filter, ordered by start date
func (s *AuctionService) ListAuctions(ctx context.Context, filter AuctionFilter) ([]models.Auction, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("service: %w - unknown status %q", auctionerrors.ErrInvalidRequest, filter.Status)
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.From.Before(filter.To) {
		return nil, fmt.Errorf("service: %w - from must be before to", auctionerrors.ErrInvalidRequest)
	}

	var (
		auctions []models.Auction
		err      error
	)
	switch {
	case !filter.From.IsZero() || !filter.To.IsZero():
		auctions, err = s.repo.GetAuctionsInRange(ctx, filter.From, filter.To)
	case filter.Status != "":
		auctions, err = s.repo.GetAuctionsByStatus(ctx, filter.Status)
	default:
		auctions, err = s.repo.GetAllAuctions(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("service: failed to list auctions: %w", err)
	}

	if filter.Status == "" || (filter.From.IsZero() && filter.To.IsZero()) {
		return auctions, nil
	}
	matching := make([]models.Auction, 0, len(auctions))
	for _, a := range auctions {
		if a.Status == filter.Status {
			matching = append(matching, a)
		}
	}
	return matching, nil
}

// GetAuction returns a single auction
func (s *AuctionService) GetAuction(ctx context.Context, auctionID string) (models.Auction, error) {
	if auctionID == "" {
		return models.Auction{}, fmt.Errorf("service: %w - empty auction ID", auctionerrors.ErrInvalidRequest)
	}

	auction, err := s.repo.GetAuctionByID(ctx, auctionID)
	if err != nil {
		return models.Auction{}, fmt.Errorf("service: failed to get auction %s: %w", auctionID, err)
	}
	return auction, nil
}

// GetBidsForAuction returns all bids recorded for an existing auction
func (s *AuctionService) GetBidsForAuction(ctx context.Context, auctionID string) ([]models.Bid, error) {
	if _, err := s.GetAuction(ctx, auctionID); err != nil {
		return nil, err
	}

	bids, err := s.repo.GetBidsByAuction(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get bids for auction %s: %w", auctionID, err)
	}
	return bids, nil
}

// GetWinningBid returns the highest bid of an auction, or ErrNoBids
func (s *AuctionService) GetWinningBid(ctx context.Context, auctionID string) (models.Bid, error) {
	bids, err := s.GetBidsForAuction(ctx, auctionID)
	if err != nil {
		return models.Bid{}, err
	}

	winning, ok := models.HighestBid(bids)
	if !ok {
		return models.Bid{}, fmt.Errorf("service: auction %s: %w", auctionID, auctionerrors.ErrNoBids)
	}
	return winning, nil
}
