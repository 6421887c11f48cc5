package transport

import (
	"context"
	"errors"
	"fmt"

	"monitoring/internal/config"
)

const (
	// ExchangeDirect routes to queues bound under the exchange name.
	ExchangeDirect = "direct"
	// ExchangeFanout copies to every bound queue.
	ExchangeFanout = "fanout"
)

// ErrClosed indicates use of a closed transport.
var ErrClosed = errors.New("transport closed")

// Exchange names a publish destination.
type Exchange struct {
	Name    string
	Type    string
	Options map[string]any
}

// Delivery is one inbound message with acknowledgement controls.
// Params: queue name, payload, and backend ack/nak callbacks.
// Returns: message handed to subscription handlers.
type Delivery struct {
	Queue string
	Body  []byte

	ack func() error
	nak func() error
}

// NewDelivery builds a delivery with custom acknowledgement callbacks.
// Params: queue, body, and optional ack/nak callbacks.
// Returns: delivery value.
func NewDelivery(queue string, body []byte, ack, nak func() error) Delivery {
	return Delivery{Queue: queue, Body: body, ack: ack, nak: nak}
}

// Ack confirms processing.
func (d Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

// Nak asks for redelivery.
func (d Delivery) Nak() error {
	if d.nak == nil {
		return nil
	}
	return d.nak()
}

// Handler processes one delivery; it must Ack or Nak.
type Handler func(ctx context.Context, delivery Delivery)

// Hooks receives connection lifecycle notifications.
// Params: fatal error callback and reconnect bracket callbacks (any may be nil).
// Returns: callbacks invoked by transport implementations.
type Hooks struct {
	OnError         func(err error)
	BeforeReconnect func()
	AfterReconnect  func()
}

func (h Hooks) fireError(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

func (h Hooks) fireBeforeReconnect() {
	if h.BeforeReconnect != nil {
		h.BeforeReconnect()
	}
}

func (h Hooks) fireAfterReconnect() {
	if h.AfterReconnect != nil {
		h.AfterReconnect()
	}
}

// Transport publishes to exchanges and consumes bound queues.
type Transport interface {
	Publish(ctx context.Context, exchange Exchange, payload []byte) error
	Bind(ctx context.Context, queue string, exchange Exchange) error
	Subscribe(ctx context.Context, queue string, handler Handler) error
	// Unsubscribe drops every queue subscription; while disconnected it is
	// deferred until the next reconnect.
	Unsubscribe(ctx context.Context) error
	Connected() bool
	SetHooks(hooks Hooks)
	Close() error
}

// New opens the configured transport backend.
// Params: transport section of the configuration.
// Returns: connected transport or setup error.
func New(cfg config.TransportConfig) (Transport, error) {
	switch cfg.Backend {
	case config.TransportBackendNATS:
		t, err := NewNATSTransport(cfg.NATS)
		if err != nil {
			return nil, err
		}
		return t, nil
	case config.TransportBackendMemory:
		return NewMemoryTransport(), nil
	default:
		return nil, fmt.Errorf("bad transport type %q", cfg.Backend)
	}
}
