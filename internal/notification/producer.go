// Package notification publishes settlement notifications for closed auctions.
package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auction-service/internal/broker"
	"auction-service/internal/metrics"
	"auction-service/internal/models"
	"auction-service/internal/wire"
	"auction-service/utils"

	"github.com/cenkalti/backoff/v4"
)

// Config tunes the producer's retry behaviour
type Config struct {
	Queue          string
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// PublishTimeout bounds a single attempt, including the wait for the broker confirm.
	PublishTimeout time.Duration
}

// DefaultConfig returns the defaults used when a field is left zero
func DefaultConfig() Config {
	return Config{
		Queue:          broker.AuctionQueue,
		MaxRetries:     3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		PublishTimeout: 5 * time.Second,
	}
}

// Producer publishes settlements with a bounded number of retries. Delivery is at least once:
// a retry after a lost confirm can duplicate a message, downstream consumers must tolerate that.
type Producer struct {
	pub     broker.Publisher
	cfg     Config
	metrics *metrics.Metrics
}

// NewProducer creates a producer on pub. Zero config fields take their defaults; a negative
// MaxRetries disables retries.
func NewProducer(pub broker.Publisher, cfg Config, m *metrics.Metrics) *Producer {
	def := DefaultConfig()
	if cfg.Queue == "" {
		cfg.Queue = def.Queue
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	return &Producer{pub: pub, cfg: cfg, metrics: m}
}

// Publish encodes n and sends it to the settlement queue, retrying transient broker faults
func (p *Producer) Publish(ctx context.Context, n models.SettlementNotification) error {
	body, err := wire.EncodeSettlement(n)
	if err != nil {
		p.metrics.NotificationResult("invalid")
		return fmt.Errorf("notification: %w", err)
	}

	attempt := 0
	op := func() error {
		attempt++
		p.metrics.NotificationAttempt()

		attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
		defer cancel()

		err := p.pub.Publish(attemptCtx, p.cfg.Queue, body)
		if err == nil {
			return nil
		}
		if !retryable(ctx, err) {
			return backoff.Permanent(err)
		}
		utils.Warn("notification: publish attempt failed", map[string]any{
			"product_id": n.ProductID,
			"queue":      p.cfg.Queue,
			"attempt":    attempt,
			"error":      err.Error(),
		})
		return err
	}

	if err := backoff.Retry(op, backoff.WithContext(p.newBackOff(), ctx)); err != nil {
		p.metrics.NotificationResult("failed")
		return fmt.Errorf("notification: publish settlement for product %s after %d attempts: %w",
			n.ProductID, attempt, err)
	}

	p.metrics.NotificationResult("published")
	utils.Info("notification: settlement published", map[string]any{
		"product_id": n.ProductID,
		"bidder_id":  n.BidderID,
		"amount":     n.Amount.String(),
		"queue":      p.cfg.Queue,
	})
	return nil
}

func (p *Producer) newBackOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.cfg.InitialBackoff
	exp.MaxInterval = p.cfg.MaxBackoff
	exp.MaxElapsedTime = 0
	return backoff.WithMaxRetries(exp, uint64(p.cfg.MaxRetries))
}

// retryable reports whether a failed publish may succeed on another attempt
func retryable(parent context.Context, err error) bool {
	if parent.Err() != nil {
		return false
	}
	switch {
	case errors.Is(err, broker.ErrUnavailable),
		errors.Is(err, broker.ErrNotConfirmed),
		errors.Is(err, context.DeadlineExceeded):
		return true
	default:
		return false
	}
}
