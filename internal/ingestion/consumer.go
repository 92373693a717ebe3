package ingestion

import (
	"context"
	"fmt"

	"auction-service/internal/broker"
	"auction-service/utils"

	"golang.org/x/sync/errgroup"
)

// Handler settles one delivery
type Handler interface {
	Handle(ctx context.Context, d broker.Delivery) Outcome
}

// Consumer pulls deliveries from a queue and hands them to a bounded pool of workers
type Consumer struct {
	sub     broker.Subscriber
	queue   string
	handler Handler
	workers int
}

// NewConsumer creates a consumer for queue. workers below one means one.
func NewConsumer(sub broker.Subscriber, queue string, handler Handler, workers int) *Consumer {
	if workers < 1 {
		workers = 1
	}
	return &Consumer{sub: sub, queue: queue, handler: handler, workers: workers}
}

// Run consumes until ctx is cancelled and returns nil once every in-flight delivery is settled.
// A delivery stream that ends while ctx is still live is a broker fault and is returned.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.sub.Subscribe(ctx, c.queue)
	if err != nil {
		return fmt.Errorf("ingestion: subscribe to %s: %w", c.queue, err)
	}
	utils.Info("ingestion: consuming", map[string]any{"queue": c.queue, "workers": c.workers})

	// in-flight deliveries finish on a context that outlives shutdown
	work := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(c.workers)

	for {
		select {
		case <-ctx.Done():
			_ = g.Wait()
			utils.Info("ingestion: consumer stopped", map[string]any{"queue": c.queue})
			return nil

		case d, ok := <-deliveries:
			if !ok {
				_ = g.Wait()
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("ingestion: delivery stream for %s closed: %w", c.queue, broker.ErrUnavailable)
			}
			g.Go(func() error {
				c.handler.Handle(work, d)
				return nil
			})
		}
	}
}
