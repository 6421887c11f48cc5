package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"monitoring/internal/domain"
	"monitoring/internal/permanent"
	"monitoring/internal/transport"
)

const (
	// KeepalivesQueue receives client keepalives.
	KeepalivesQueue = "keepalives"
	// ResultsQueue receives check results.
	ResultsQueue = "results"
)

// Processor receives decoded inbound payloads.
type Processor interface {
	ProcessResult(ctx context.Context, result domain.Result) error
	ProcessKeepalive(ctx context.Context, client domain.Client) error
}

// Subscriber is the transport surface the consumer needs.
type Subscriber interface {
	Bind(ctx context.Context, queue string, exchange transport.Exchange) error
	Subscribe(ctx context.Context, queue string, handler transport.Handler) error
	Unsubscribe(ctx context.Context) error
}

// Consumer feeds keepalive and result queues into the processor.
// Params: transport subscriber, processor, and logger.
// Returns: inbound queue lifecycle handle.
type Consumer struct {
	transport Subscriber
	processor Processor
	logger    *slog.Logger
}

// NewConsumer creates consumer.
func NewConsumer(tr Subscriber, processor Processor, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{transport: tr, processor: processor, logger: logger}
}

// Start binds and subscribes the inbound queues.
// Params: context.
// Returns: first bind/subscribe error.
func (c *Consumer) Start(ctx context.Context) error {
	queues := []struct {
		name    string
		handler transport.Handler
	}{
		{name: KeepalivesQueue, handler: c.handleKeepalive},
		{name: ResultsQueue, handler: c.handleResult},
	}
	for _, queue := range queues {
		exchange := transport.Exchange{Name: queue.name, Type: transport.ExchangeDirect}
		if err := c.transport.Bind(ctx, queue.name, exchange); err != nil {
			return fmt.Errorf("bind %s queue: %w", queue.name, err)
		}
		c.logger.Debug("subscribing to queue", "queue", queue.name)
		if err := c.transport.Subscribe(ctx, queue.name, queue.handler); err != nil {
			return fmt.Errorf("subscribe %s queue: %w", queue.name, err)
		}
	}
	return nil
}

// Stop unsubscribes from all inbound queues and waits for deliveries being processed.
func (c *Consumer) Stop(ctx context.Context) error {
	return c.transport.Unsubscribe(ctx)
}

func (c *Consumer) handleKeepalive(ctx context.Context, delivery transport.Delivery) {
	client, err := decodeKeepalive(delivery.Body)
	if err == nil {
		c.logger.Debug("received keepalive", "client", client.Name())
		err = c.processor.ProcessKeepalive(ctx, client)
	}
	c.settle(delivery, err)
}

func (c *Consumer) handleResult(ctx context.Context, delivery transport.Delivery) {
	results, err := decodeResultPayload(delivery.Body)
	if err == nil {
		err = processResults(ctx, c.processor, results)
	}
	c.settle(delivery, err)
}

// settle acks processed or permanently invalid deliveries and naks the rest.
func (c *Consumer) settle(delivery transport.Delivery, err error) {
	switch {
	case err == nil:
		c.ack(delivery, "processed")
	case permanent.Is(err):
		c.logger.Warn("discarding invalid message", "queue", delivery.Queue, "reason", permanent.Reason(err), "error", err.Error())
		c.ack(delivery, permanent.Reason(err))
	default:
		c.logger.Error("message processing failed", "queue", delivery.Queue, "error", err.Error())
		if nakErr := delivery.Nak(); nakErr != nil {
			c.logger.Warn("nak failed", "queue", delivery.Queue, "error", nakErr.Error())
		}
	}
}

func (c *Consumer) ack(delivery transport.Delivery, reason string) {
	if err := delivery.Ack(); err != nil {
		c.logger.Warn("ack failed", "queue", delivery.Queue, "reason", reason, "error", err.Error())
	}
}
