// Package scheduler advances auctions through their lifecycle and settles the ones that close.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auction-service/internal/auctionerrors"
	"auction-service/internal/clock"
	"auction-service/internal/metrics"
	"auction-service/internal/models"
	"auction-service/internal/repository"
	"auction-service/utils"
)

//go:generate mockgen -source=scheduler.go -destination=mock_scheduler.go -package=scheduler

// Notifier publishes the settlement of a closed auction
type Notifier interface {
	Publish(ctx context.Context, n models.SettlementNotification) error
}

// Lease decides which replica runs a scan. Acquire reports whether this replica holds it.
type Lease interface {
	Acquire(ctx context.Context) (bool, error)
}

const (
	DefaultInterval               = time.Minute
	DefaultMaxConsecutiveFailures = 5
)

// ErrEscalated is returned by Run when too many consecutive scans could not list auctions
var ErrEscalated = errors.New("scheduler: too many consecutive failed scans")

// Config tunes the scan loop
type Config struct {
	Interval time.Duration
	// MaxConsecutiveFailures stops Run after that many failed listings in a row. Zero never stops.
	MaxConsecutiveFailures int
}

// Option customises a Scheduler
type Option func(*Scheduler)

// WithLease makes every scan conditional on holding l
func WithLease(l Lease) Option {
	return func(s *Scheduler) { s.lease = l }
}

// WithMetrics records transitions and failures on m
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// Scheduler periodically moves auctions from ToBeStarted to Ongoing to Finished.
// Finishing an auction with bids publishes a settlement for its highest bid.
type Scheduler struct {
	repo     repository.AuctionDB
	notifier Notifier
	clock    clock.Clock
	cfg      Config
	lease    Lease
	metrics  *metrics.Metrics

	consecutiveFailures int
}

// New creates a Scheduler. A zero Interval uses DefaultInterval.
func New(repo repository.AuctionDB, notifier Notifier, clk clock.Clock, cfg Config, opts ...Option) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxConsecutiveFailures < 0 {
		cfg.MaxConsecutiveFailures = 0
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	s := &Scheduler{repo: repo, notifier: notifier, clock: clk, cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run scans once immediately and then once per interval until ctx is cancelled.
// It returns nil on cancellation and an ErrEscalated error when listing keeps failing.
func (s *Scheduler) Run(ctx context.Context) error {
	utils.Info("scheduler: started", map[string]any{"interval": s.cfg.Interval.String()})

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := s.cycle(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			utils.Info("scheduler: stopped", nil)
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) cycle(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}

	if s.lease != nil {
		held, err := s.lease.Acquire(ctx)
		if err != nil {
			s.metrics.SchedulerFailure("lease")
			utils.Warn("scheduler: lease unavailable, skipping scan", map[string]any{"error": err.Error()})
			return nil
		}
		if !held {
			utils.Debug("scheduler: lease held by another replica, skipping scan", nil)
			return nil
		}
	}

	err := s.Scan(ctx)
	if err == nil {
		s.consecutiveFailures = 0
		return nil
	}
	if ctx.Err() != nil {
		return nil
	}

	s.consecutiveFailures++
	if limit := s.cfg.MaxConsecutiveFailures; limit > 0 && s.consecutiveFailures >= limit {
		utils.Error("scheduler: giving up after consecutive failed scans", map[string]any{
			"failures": s.consecutiveFailures,
			"error":    err.Error(),
		})
		return fmt.Errorf("%w (%d): %w", ErrEscalated, s.consecutiveFailures, err)
	}
	return nil
}

// Scan runs one pass over every auction. Each auction is processed independently: a failure is
// logged and the pass moves on. Only a failure to list auctions is returned.
func (s *Scheduler) Scan(ctx context.Context) error {
	start := time.Now()
	defer func() { s.metrics.ObserveScan(time.Since(start).Seconds()) }()

	auctions, err := s.repo.GetAllAuctions(ctx)
	if err != nil {
		s.metrics.SchedulerFailure("list")
		utils.Error("scheduler: failed to list auctions", map[string]any{"error": err.Error()})
		return fmt.Errorf("scheduler: list auctions: %w", err)
	}

	for _, auction := range auctions {
		if ctx.Err() != nil {
			return nil
		}
		if err := s.processAuction(ctx, auction); err != nil {
			s.metrics.SchedulerFailure("auction")
			fields := map[string]any{"auction_id": auction.ID, "error": err.Error()}
			if errors.Is(err, auctionerrors.ErrVersionConflict) {
				utils.Warn("scheduler: auction changed during scan, retrying next cycle", fields)
				continue
			}
			utils.Error("scheduler: failed to process auction", fields)
		}
	}
	return nil
}

func (s *Scheduler) processAuction(ctx context.Context, auction models.Auction) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler: panic processing auction %s: %v", auction.ID, r)
		}
	}()

	now := s.clock.Now()
	switch {
	case auction.Status == models.StatusFinished:
		return nil
	case !auction.EndDate.After(now):
		return s.finish(ctx, auction)
	case !auction.StartDate.After(now) && auction.Status == models.StatusToBeStarted:
		return s.start(ctx, auction)
	default:
		return nil
	}
}

func (s *Scheduler) start(ctx context.Context, auction models.Auction) error {
	if err := s.repo.UpdateAuctionStatus(ctx, auction.ID, models.StatusOngoing, auction.Version); err != nil {
		return fmt.Errorf("scheduler: start auction %s: %w", auction.ID, err)
	}
	s.metrics.Transition(string(models.StatusOngoing))
	utils.Info("scheduler: auction started", map[string]any{"auction_id": auction.ID})
	return nil
}

func (s *Scheduler) finish(ctx context.Context, auction models.Auction) error {
	finished := auction
	finished.Status = models.StatusFinished
	if err := s.repo.ReplaceAuction(ctx, auction.ID, &finished); err != nil {
		return fmt.Errorf("scheduler: finish auction %s: %w", auction.ID, err)
	}
	s.metrics.Transition(string(models.StatusFinished))
	utils.Info("scheduler: auction finished", map[string]any{"auction_id": auction.ID})

	bids, err := s.repo.GetBidsByAuction(ctx, auction.ID)
	if err != nil {
		return fmt.Errorf("scheduler: load bids of finished auction %s: %w", auction.ID, err)
	}
	winning, ok := models.HighestBid(bids)
	if !ok {
		utils.Info("scheduler: auction closed without bids", map[string]any{"auction_id": auction.ID})
		return nil
	}

	if err := s.notifier.Publish(ctx, models.NewSettlementNotification(finished, winning)); err != nil {
		s.metrics.SchedulerFailure("notify")
		utils.Error("scheduler: settlement not published", map[string]any{
			"auction_id": auction.ID,
			"bid_id":     winning.ID,
			"error":      err.Error(),
		})
	}
	return nil
}
