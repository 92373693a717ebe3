// Package broker defines the message broker port used by bid ingestion and settlement publishing.
//
// Every adapter provides at-least-once semantics: a delivery that is neither acknowledged nor
// rejected is redelivered, and Publish only returns nil once the broker has confirmed receipt.
package broker

import (
	"context"
	"errors"
)

//go:generate mockgen -source=broker.go -destination=mock_broker.go -package=broker

// Default queue names shared with the bidding clients and the downstream product service.
const (
	BidQueue     = "bidqueue"
	AuctionQueue = "auctionqueue"
)

var (
	// ErrUnavailable marks transport faults: the broker could not be reached or the connection dropped.
	ErrUnavailable = errors.New("broker unavailable")
	// ErrNotConfirmed is returned when the broker refused or did not confirm a publish.
	ErrNotConfirmed = errors.New("publish not confirmed by broker")
	// ErrClosed is returned by adapters used after Close.
	ErrClosed = errors.New("broker adapter closed")
)

// Delivery is one inbound message. Exactly one of Ack, Reject or Requeue should be called.
type Delivery interface {
	Body() []byte
	// Ack removes the message from the queue.
	Ack(ctx context.Context) error
	// Reject removes the message without redelivery.
	Reject(ctx context.Context) error
	// Requeue hands the message back for redelivery.
	Requeue(ctx context.Context) error
}

// Publisher sends messages to a queue
type Publisher interface {
	Publish(ctx context.Context, queue string, body []byte) error
	Close() error
}

// Subscriber streams deliveries from a queue until ctx is cancelled. The channel is closed when
// the subscription ends, either through cancellation or a transport fault.
type Subscriber interface {
	Subscribe(ctx context.Context, queue string) (<-chan Delivery, error)
	Close() error
}
