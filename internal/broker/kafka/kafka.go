// Package kafka adapts Kafka topics to the broker port. Queue names map one to one onto topics.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"auction-service/internal/broker"
	"auction-service/utils"

	"github.com/segmentio/kafka-go"
)

var (
	_ broker.Publisher  = (*Client)(nil)
	_ broker.Subscriber = (*Client)(nil)
)

// Config holds the Kafka connection settings
type Config struct {
	Brokers []string
	GroupID string
	// TopicPrefix is prepended to every queue name, e.g. "prod." gives "prod.bidqueue".
	TopicPrefix string
}

// Client writes through one shared writer and opens a consumer-group reader per subscription.
// Offsets are committed on Ack and Reject. Requeue re-produces the message to the tail of its
// topic before committing, so a redelivered bid is not lost if the process dies in between.
type Client struct {
	cfg    Config
	writer *kafka.Writer

	mu      sync.Mutex
	readers []*kafka.Reader
	closed  bool
}

func New(cfg Config) (*Client, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	if cfg.GroupID == "" {
		return nil, errors.New("kafka: group id is required")
	}
	return &Client{
		cfg: cfg,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			RequiredAcks:           kafka.RequireAll,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
	}, nil
}

func (c *Client) topic(queue string) string { return c.cfg.TopicPrefix + queue }

// Publish writes body to the queue's topic and waits for all in-sync replicas
func (c *Client) Publish(ctx context.Context, queue string, body []byte) error {
	if c.isClosed() {
		return broker.ErrClosed
	}
	return c.write(ctx, c.topic(queue), nil, body)
}

func (c *Client) write(ctx context.Context, topic string, key, body []byte) error {
	err := c.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: body,
		Time:  time.Now().UTC(),
	})
	if err == nil {
		return nil
	}
	var writeErrs kafka.WriteErrors
	if errors.As(err, &writeErrs) {
		return fmt.Errorf("kafka: write to %s: %w: %w", topic, broker.ErrNotConfirmed, err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("kafka: write to %s: %w: %w", topic, broker.ErrUnavailable, err)
}

// Subscribe joins the consumer group on the queue's topic
func (c *Client) Subscribe(ctx context.Context, queue string) (<-chan broker.Delivery, error) {
	topic := c.topic(queue)
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.cfg.Brokers,
		GroupID:  c.cfg.GroupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = reader.Close()
		return nil, broker.ErrClosed
	}
	c.readers = append(c.readers, reader)
	c.mu.Unlock()

	out := make(chan broker.Delivery)
	go func() {
		defer close(out)
		for {
			msg, err := reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() == nil && !errors.Is(err, io.EOF) {
					utils.Error("kafka: fetch failed, closing subscription", map[string]any{
						"topic": topic,
						"error": err.Error(),
					})
				}
				return
			}
			select {
			case out <- &delivery{client: c, reader: reader, msg: msg}:
			case <-ctx.Done():
				// uncommitted, the group hands it out again
				return
			}
		}
	}()
	return out, nil
}

// Close flushes the writer and leaves every consumer group
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	readers := c.readers
	c.readers = nil
	c.mu.Unlock()

	var errs []error
	for _, r := range readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.writer.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type delivery struct {
	client *Client
	reader *kafka.Reader
	msg    kafka.Message
}

func (d *delivery) Body() []byte { return d.msg.Value }

func (d *delivery) Ack(ctx context.Context) error { return d.commit(ctx) }

func (d *delivery) Reject(ctx context.Context) error { return d.commit(ctx) }

func (d *delivery) Requeue(ctx context.Context) error {
	if err := d.client.write(ctx, d.msg.Topic, d.msg.Key, d.msg.Value); err != nil {
		return fmt.Errorf("kafka: requeue offset %d: %w", d.msg.Offset, err)
	}
	return d.commit(ctx)
}

func (d *delivery) commit(ctx context.Context) error {
	if err := d.reader.CommitMessages(ctx, d.msg); err != nil {
		return fmt.Errorf("kafka: commit %s/%d@%d: %w", d.msg.Topic, d.msg.Partition, d.msg.Offset, err)
	}
	return nil
}
