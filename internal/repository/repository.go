package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"auction-service/internal/auctionerrors"
	model "auction-service/internal/models"
	"auction-service/utils"
)

//go:generate mockgen -source=repository.go -destination=mock_repository.go -package=repository

// AuctionDB defines the auction and bid storage interface for the auction system
type AuctionDB interface {
	GetAuctionByID(ctx context.Context, id string) (model.Auction, error)
	GetAuctionsByStatus(ctx context.Context, status model.AuctionStatus) ([]model.Auction, error)
	GetAllAuctions(ctx context.Context) ([]model.Auction, error)
	// GetAuctionsInRange returns auctions starting in [from, to). A zero to leaves the range open.
	GetAuctionsInRange(ctx context.Context, from, to time.Time) ([]model.Auction, error)
	AddAuction(ctx context.Context, auction *model.Auction) error
	// ReplaceAuction overwrites the stored auction if its version still matches auction.Version,
	// then bumps auction.Version.
	ReplaceAuction(ctx context.Context, id string, auction *model.Auction) error
	UpdateAuctionStatus(ctx context.Context, id string, status model.AuctionStatus, version int64) error
	DeleteAuction(ctx context.Context, id string) error
	InsertBid(ctx context.Context, bid model.Bid) error
	GetBidsByAuction(ctx context.Context, auctionID string) ([]model.Bid, error)
}

// MemoryRepo is a concurrency-safe in-memory implementation of AuctionDB
type MemoryRepo struct {
	mu       sync.RWMutex
	auctions map[string]model.Auction // key: auctionID -> value: auction
	bids     map[string][]model.Bid   // key: auctionID -> value: list of bids
	bidIDs   map[string]struct{}      // ids of every recorded bid
}

// NewMemoryRepo creates a new in-memory repository instance
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		auctions: make(map[string]model.Auction),
		bids:     make(map[string][]model.Bid),
		bidIDs:   make(map[string]struct{}),
	}
}

// GetAuctionByID returns the auction with the given id
func (r *MemoryRepo) GetAuctionByID(_ context.Context, id string) (model.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	auction, ok := r.auctions[id]
	if !ok {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", id, auctionerrors.ErrAuctionNotFound)
	}
	return auction, nil
}

// GetAuctionsByStatus returns all auctions currently in status
func (r *MemoryRepo) GetAuctionsByStatus(_ context.Context, status model.AuctionStatus) ([]model.Auction, error) {
	return r.filter(func(a model.Auction) bool { return a.Status == status }), nil
}

// GetAllAuctions returns every stored auction ordered by start date
func (r *MemoryRepo) GetAllAuctions(_ context.Context) ([]model.Auction, error) {
	return r.filter(func(model.Auction) bool { return true }), nil
}

// GetAuctionsInRange returns auctions whose start date falls in [from, to)
func (r *MemoryRepo) GetAuctionsInRange(_ context.Context, from, to time.Time) ([]model.Auction, error) {
	return r.filter(func(a model.Auction) bool {
		if a.StartDate.Before(from) {
			return false
		}
		return to.IsZero() || a.StartDate.Before(to)
	}), nil
}

// AddAuction stores a new auction, assigning an id when none is set
func (r *MemoryRepo) AddAuction(_ context.Context, auction *model.Auction) error {
	if auction == nil {
		return fmt.Errorf("add auction: %w: nil auction", auctionerrors.ErrInvalidAuction)
	}
	if err := auction.Validate(); err != nil {
		return fmt.Errorf("add auction: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if auction.ID == "" {
		auction.ID = utils.GenerateID()
	}
	if _, exists := r.auctions[auction.ID]; exists {
		return fmt.Errorf("add auction %s: %w: id already in use", auction.ID, auctionerrors.ErrInvalidAuction)
	}
	auction.Version = 1
	r.auctions[auction.ID] = *auction
	return nil
}

// ReplaceAuction overwrites an auction when the caller holds the current version
func (r *MemoryRepo) ReplaceAuction(_ context.Context, id string, auction *model.Auction) error {
	if auction == nil {
		return fmt.Errorf("replace auction %s: %w: nil auction", id, auctionerrors.ErrInvalidAuction)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.auctions[id]
	if !ok {
		return fmt.Errorf("replace auction %s: %w", id, auctionerrors.ErrAuctionNotFound)
	}
	if stored.Version != auction.Version {
		return fmt.Errorf("replace auction %s at version %d (stored %d): %w", id, auction.Version, stored.Version, auctionerrors.ErrVersionConflict)
	}

	auction.ID = id
	auction.Version = stored.Version + 1
	r.auctions[id] = *auction
	return nil
}

// UpdateAuctionStatus changes only the status of an auction
func (r *MemoryRepo) UpdateAuctionStatus(_ context.Context, id string, status model.AuctionStatus, version int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.auctions[id]
	if !ok {
		return fmt.Errorf("update status of auction %s: %w", id, auctionerrors.ErrAuctionNotFound)
	}
	if stored.Version != version {
		return fmt.Errorf("update status of auction %s at version %d (stored %d): %w", id, version, stored.Version, auctionerrors.ErrVersionConflict)
	}
	if !stored.Status.CanAdvanceTo(status) {
		return fmt.Errorf("update status of auction %s from %s to %s: %w", id, stored.Status, status, auctionerrors.ErrInvalidTransition)
	}

	stored.Status = status
	stored.Version++
	r.auctions[id] = stored
	return nil
}

// DeleteAuction removes an auction. Its bids are kept.
func (r *MemoryRepo) DeleteAuction(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.auctions[id]; !ok {
		return fmt.Errorf("delete auction %s: %w", id, auctionerrors.ErrAuctionNotFound)
	}
	delete(r.auctions, id)
	return nil
}

// InsertBid records a bid on an existing auction
func (r *MemoryRepo) InsertBid(_ context.Context, bid model.Bid) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.auctions[bid.AuctionID]; !ok {
		return fmt.Errorf("insert bid for auction %s: %w", bid.AuctionID, auctionerrors.ErrAuctionNotFound)
	}
	if bid.ID != "" {
		if _, dup := r.bidIDs[bid.ID]; dup {
			return fmt.Errorf("insert bid %s: %w", bid.ID, auctionerrors.ErrDuplicateBid)
		}
		r.bidIDs[bid.ID] = struct{}{}
	}

	r.bids[bid.AuctionID] = append(r.bids[bid.AuctionID], bid)
	return nil
}

// GetBidsByAuction returns all bids for an auction; an auction without bids yields an empty list
func (r *MemoryRepo) GetBidsByAuction(_ context.Context, auctionID string) ([]model.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]model.Bid{}, r.bids[auctionID]...), nil
}

func (r *MemoryRepo) filter(keep func(model.Auction) bool) []model.Auction {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Auction, 0, len(r.auctions))
	for _, a := range r.auctions {
		if keep(a) {
			out = append(out, a)
		}
	}
	sortAuctions(out)
	return out
}

func sortAuctions(auctions []model.Auction) {
	sort.Slice(auctions, func(i, j int) bool {
		if auctions[i].StartDate.Equal(auctions[j].StartDate) {
			return auctions[i].ID < auctions[j].ID
		}
		return auctions[i].StartDate.Before(auctions[j].StartDate)
	})
}
