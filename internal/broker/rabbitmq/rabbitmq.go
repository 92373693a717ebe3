// Package rabbitmq adapts an AMQP 0-9-1 broker to the broker port.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"auction-service/internal/broker"
	"auction-service/utils"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	_ broker.Publisher  = (*Client)(nil)
	_ broker.Subscriber = (*Client)(nil)
)

// Config describes the AMQP connection and queue declaration
type Config struct {
	URL string
	// Durable must match how the queues were first declared on the broker.
	Durable  bool
	Prefetch int
	// ConsumerTag names the consumer in the management UI. Empty lets the broker pick.
	ConsumerTag string
}

// Client holds one AMQP connection. Publishing uses a dedicated channel in confirm mode,
// every subscription gets its own channel.
type Client struct {
	cfg  Config
	conn *amqp.Connection

	mu       sync.Mutex
	pubCh    *amqp.Channel
	declared map[string]bool
	closed   bool
}

// Dial connects to the broker. A failure here is a startup fault.
func Dial(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq: empty url")
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 16
	}
	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{
		Heartbeat:  10 * time.Second,
		Properties: amqp.Table{"connection_name": "auction-service"},
	})
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial: %w: %w", broker.ErrUnavailable, err)
	}
	return &Client{cfg: cfg, conn: conn, declared: make(map[string]bool)}, nil
}

// Publish sends body to queue through the default exchange and waits for the broker confirm
func (c *Client) Publish(ctx context.Context, queue string, body []byte) error {
	ch, err := c.publishChannel(queue)
	if err != nil {
		return err
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    utils.GenerateID(),
		Body:         body,
	})
	if err != nil {
		c.resetPublishChannel(ch)
		return fmt.Errorf("rabbitmq: publish to %s: %w: %w", queue, broker.ErrUnavailable, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		c.resetPublishChannel(ch)
		return fmt.Errorf("rabbitmq: confirm for %s: %w: %w", queue, broker.ErrNotConfirmed, err)
	}
	if !acked {
		return fmt.Errorf("rabbitmq: publish to %s nacked: %w", queue, broker.ErrNotConfirmed)
	}
	return nil
}

// Subscribe declares queue and consumes it with manual acknowledgements
func (c *Client) Subscribe(ctx context.Context, queue string) (<-chan broker.Delivery, error) {
	if c.isClosed() {
		return nil, broker.ErrClosed
	}
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: open channel: %w: %w", broker.ErrUnavailable, err)
	}
	if err := c.declare(ch, queue); err != nil {
		_ = ch.Close()
		return nil, err
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("rabbitmq: qos: %w: %w", broker.ErrUnavailable, err)
	}

	tag := c.cfg.ConsumerTag
	if tag == "" {
		tag = "auction-service-" + utils.GenerateID()
	}
	msgs, err := ch.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("rabbitmq: consume %s: %w: %w", queue, broker.ErrUnavailable, err)
	}

	sub := &subscription{queue: queue, tag: tag, ch: ch, drainTimeout: DrainTimeout}
	out := make(chan broker.Delivery)
	go sub.run(ctx, msgs, out)
	return out, nil
}

// Close closes the publish channel and the connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.pubCh != nil {
		_ = c.pubCh.Close()
		c.pubCh = nil
	}
	return c.conn.Close()
}

func (c *Client) publishChannel(queue string) (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, broker.ErrClosed
	}
	if c.pubCh == nil {
		ch, err := c.conn.Channel()
		if err != nil {
			return nil, fmt.Errorf("rabbitmq: open channel: %w: %w", broker.ErrUnavailable, err)
		}
		if err := ch.Confirm(false); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("rabbitmq: enable confirms: %w: %w", broker.ErrUnavailable, err)
		}
		c.pubCh = ch
		c.declared = make(map[string]bool)
	}
	if !c.declared[queue] {
		if err := c.declare(c.pubCh, queue); err != nil {
			_ = c.pubCh.Close()
			c.pubCh = nil
			return nil, err
		}
		c.declared[queue] = true
	}
	return c.pubCh, nil
}

func (c *Client) resetPublishChannel(ch *amqp.Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pubCh == ch {
		_ = ch.Close()
		c.pubCh = nil
	}
}

func (c *Client) declare(ch *amqp.Channel, queue string) error {
	if _, err := ch.QueueDeclare(queue, c.cfg.Durable, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq: declare %s: %w: %w", queue, broker.ErrUnavailable, err)
	}
	return nil
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed || c.conn.IsClosed()
}

// DrainTimeout bounds how long a cancelled subscription waits for handed out deliveries to be
// settled before closing its channel.
const DrainTimeout = 30 * time.Second

// consumerChannel is the part of *amqp.Channel a running subscription uses
type consumerChannel interface {
	Cancel(consumer string, noWait bool) error
	Close() error
}

type subscription struct {
	queue        string
	tag          string
	ch           consumerChannel
	drainTimeout time.Duration
	inflight     sync.WaitGroup
}

// run forwards deliveries to out until ctx is cancelled or the broker ends the stream.
// Deliveries that were never handed out are returned to the queue when the channel closes.
func (s *subscription) run(ctx context.Context, msgs <-chan amqp.Delivery, out chan<- broker.Delivery) {
	defer close(out)
	defer s.close()

	for {
		select {
		case <-ctx.Done():
			_ = s.ch.Cancel(s.tag, false)
			return
		case m, ok := <-msgs:
			if !ok {
				utils.Warn("rabbitmq: delivery stream closed", map[string]any{"queue": s.queue})
				return
			}
			d := s.track(m)
			select {
			case out <- d:
			case <-ctx.Done():
				_ = d.Requeue(context.Background())
				_ = s.ch.Cancel(s.tag, false)
				return
			}
		}
	}
}

func (s *subscription) track(m amqp.Delivery) *delivery {
	s.inflight.Add(1)
	return &delivery{msg: m, done: s.inflight.Done}
}

// close keeps the channel open until every handed out delivery is settled: an ack sent on a
// closed channel is lost and the broker redelivers the message.
func (s *subscription) close() {
	drained := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(drained)
	}()

	timer := time.NewTimer(s.drainTimeout)
	defer timer.Stop()
	select {
	case <-drained:
	case <-timer.C:
		utils.Warn("rabbitmq: closing channel with unsettled deliveries", map[string]any{
			"queue":   s.queue,
			"timeout": s.drainTimeout.String(),
		})
	}
	_ = s.ch.Close()
}

type delivery struct {
	msg  amqp.Delivery
	once sync.Once
	done func()
}

func (d *delivery) Body() []byte { return d.msg.Body }

func (d *delivery) Ack(context.Context) error {
	defer d.settled()
	if err := d.msg.Ack(false); err != nil {
		return fmt.Errorf("rabbitmq: ack %d: %w", d.msg.DeliveryTag, err)
	}
	return nil
}

func (d *delivery) Reject(context.Context) error {
	defer d.settled()
	if err := d.msg.Reject(false); err != nil {
		return fmt.Errorf("rabbitmq: reject %d: %w", d.msg.DeliveryTag, err)
	}
	return nil
}

func (d *delivery) Requeue(context.Context) error {
	defer d.settled()
	if err := d.msg.Nack(false, true); err != nil {
		return fmt.Errorf("rabbitmq: requeue %d: %w", d.msg.DeliveryTag, err)
	}
	return nil
}

func (d *delivery) settled() {
	if d.done != nil {
		d.once.Do(d.done)
	}
}
