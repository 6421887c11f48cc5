package dispatch

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"monitoring/internal/domain"
	"monitoring/internal/metrics"
	"monitoring/internal/transport"

	"github.com/alitto/pond/v2"
)

const defaultSocketTimeout = 10 * time.Second

// ErrMutatorFailed reports a mutator that did not exit cleanly.
var ErrMutatorFailed = errors.New("mutator failed")

// Selector picks the handlers an event should reach.
type Selector interface {
	Handlers(ctx context.Context, event domain.Event) []domain.Handler
}

// MutatorSource looks up configured command mutators.
type MutatorSource interface {
	Mutator(name string) (domain.Mutator, bool)
}

// ExtensionMutators looks up in-process mutators.
type ExtensionMutators interface {
	Mutator(name string) (domain.Runner, bool)
}

// Publisher sends payloads to transport exchanges.
type Publisher interface {
	Publish(ctx context.Context, exchange transport.Exchange, payload []byte) error
}

// Options wires dispatcher collaborators.
type Options struct {
	Selector   Selector
	Mutators   MutatorSource
	Extensions ExtensionMutators
	Publisher  Publisher
	InFlight   *InFlight
	Workers    int
	Logger     *slog.Logger
}

// Dispatcher mutates events and delivers them to handlers on a worker pool.
// Params: handler selector, mutator sources, transport publisher, and in-flight counter.
// Returns: event dispatcher.
type Dispatcher struct {
	selector   Selector
	mutators   MutatorSource
	extensions ExtensionMutators
	publisher  Publisher
	inflight   *InFlight
	logger     *slog.Logger

	mu     sync.RWMutex
	pool   pond.Pool
	closed bool
}

// New creates dispatcher and its worker pool.
// Params: collaborator options; Workers <= 0 means one worker.
// Returns: dispatcher.
func New(opts Options) *Dispatcher {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	inflight := opts.InFlight
	if inflight == nil {
		inflight = NewInFlight()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		selector:   opts.Selector,
		mutators:   opts.Mutators,
		extensions: opts.Extensions,
		publisher:  opts.Publisher,
		inflight:   inflight,
		logger:     logger,
		pool:       pond.NewPool(workers),
	}
}

// InFlight returns the dispatch counter.
func (d *Dispatcher) InFlight() *InFlight {
	return d.inflight
}

// Handle dispatches event to every selected handler.
// Params: context (its cancellation does not abort started dispatches) and event.
// Returns: none; failures are logged per handler.
func (d *Dispatcher) Handle(ctx context.Context, event domain.Event) {
	handlers := d.selector.Handlers(ctx, event)
	d.HandleWith(ctx, event, handlers)
}

// HandleWith dispatches event to the given handlers.
// Params: context, event, and already-selected handlers.
// Returns: none.
func (d *Dispatcher) HandleWith(ctx context.Context, event domain.Event, handlers []domain.Handler) {
	if len(handlers) == 0 {
		return
	}
	taskCtx := context.WithoutCancel(ctx)

	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, handler := range handlers {
		handler := handler
		d.inflight.Add(1)
		if d.closed {
			d.logger.Error("dispatcher closed, dropping event", "handler", handler.Name, "check", event.Check.Name())
			d.inflight.Done()
			continue
		}
		d.pool.Submit(func() {
			defer d.inflight.Done()
			d.dispatch(taskCtx, handler, event)
		})
	}
}

// dispatch mutates and routes one event to one handler.
func (d *Dispatcher) dispatch(ctx context.Context, handler domain.Handler, event domain.Event) {
	started := time.Now()
	kind := string(handler.Kind)
	defer func() {
		metrics.DispatchLatency.WithLabelValues(kind).Observe(time.Since(started).Seconds())
	}()

	d.logger.Debug("handling event", "handler", handler.Name, "client", event.Client.Name(), "check", event.Check.Name(), "action", string(event.Action))
	data, err := d.mutate(ctx, handler, event)
	if err != nil {
		metrics.EventsDispatched.WithLabelValues(kind, "mutator_error").Inc()
		d.logger.Error("mutator error", "handler", handler.Name, "mutator", handler.Mutator, "error", err.Error())
		return
	}
	if err := d.route(ctx, handler, data); err != nil {
		metrics.EventsDispatched.WithLabelValues(kind, "error").Inc()
		d.logger.Error("handler error", "handler", handler.Name, "type", kind, "error", err.Error())
		return
	}
	metrics.EventsDispatched.WithLabelValues(kind, "ok").Inc()
}

// mutate produces event data for the handler.
// Params: context, handler (its mutator name), and event.
// Returns: serialized or mutated event data, or mutator error.
func (d *Dispatcher) mutate(ctx context.Context, handler domain.Handler, event domain.Event) ([]byte, error) {
	body, err := event.Encode()
	if err != nil {
		return nil, err
	}
	name := handler.Mutator
	if name == "" {
		return body, nil
	}
	if d.mutators != nil {
		if mutator, ok := d.mutators.Mutator(name); ok {
			output, status, err := runCommand(ctx, mutator.Command, body, mutator.Timeout)
			if err != nil {
				return nil, err
			}
			if status != 0 {
				return nil, fmt.Errorf("%w: %q exited %d: %s", ErrMutatorFailed, name, status, bytes.TrimSpace(output))
			}
			return output, nil
		}
	}
	if d.extensions != nil {
		if runner, ok := d.extensions.Mutator(name); ok {
			output, status, err := runner.Run(ctx, body)
			if err != nil {
				return nil, err
			}
			if status != 0 {
				return nil, fmt.Errorf("%w: extension %q returned %d", ErrMutatorFailed, name, status)
			}
			return []byte(output), nil
		}
	}
	return nil, fmt.Errorf("unknown mutator %q", name)
}

// route delivers event data according to handler kind.
func (d *Dispatcher) route(ctx context.Context, handler domain.Handler, data []byte) error {
	switch handler.Kind {
	case domain.HandlerPipe:
		if handler.Pipe == nil {
			return errors.New("pipe handler without command")
		}
		output, status, err := runCommand(ctx, handler.Pipe.Command, data, handler.Timeout)
		d.logLines("handler output", handler, output)
		if err != nil {
			return err
		}
		if status != 0 {
			return fmt.Errorf("pipe command exited %d", status)
		}
		return nil
	case domain.HandlerTCP:
		return sendTCP(handler, data)
	case domain.HandlerUDP:
		return sendUDP(handler, data)
	case domain.HandlerTransport:
		if len(data) == 0 || handler.Exchange == nil {
			return nil
		}
		exchange := transport.Exchange{Name: handler.Exchange.Name, Type: handler.Exchange.Type, Options: handler.Exchange.Options}
		if exchange.Type == "" {
			exchange.Type = transport.ExchangeDirect
		}
		if err := d.publisher.Publish(ctx, exchange, data); err != nil {
			return fmt.Errorf("publish event data to exchange %q: %w", exchange.Name, err)
		}
		return nil
	case domain.HandlerExtension:
		if handler.Extension == nil {
			return errors.New("extension handler without runner")
		}
		output, _, err := handler.Extension.Run(ctx, data)
		d.logLines("handler extension output", handler, []byte(output))
		return err
	default:
		return fmt.Errorf("unsupported handler type %q", handler.Kind)
	}
}

func (d *Dispatcher) logLines(msg string, handler domain.Handler, output []byte) {
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		d.logger.Info(msg, "handler", handler.Name, "output", scanner.Text())
	}
}

// sendTCP writes data to the handler socket and closes the connection.
func sendTCP(handler domain.Handler, data []byte) error {
	if handler.Socket == nil {
		return errors.New("tcp handler without socket")
	}
	timeout := handler.Timeout
	if timeout <= 0 {
		timeout = defaultSocketTimeout
	}
	conn, err := net.DialTimeout("tcp", handler.Socket.Address(), timeout)
	if err != nil {
		return fmt.Errorf("dial tcp %s: %w", handler.Socket.Address(), err)
	}
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("set tcp deadline: %w", err)
	}
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("write tcp %s: %w", handler.Socket.Address(), err)
	}
	return nil
}

// sendUDP sends data as one datagram.
func sendUDP(handler domain.Handler, data []byte) error {
	if handler.Socket == nil {
		return errors.New("udp handler without socket")
	}
	conn, err := net.Dial("udp", handler.Socket.Address())
	if err != nil {
		return fmt.Errorf("dial udp %s: %w", handler.Socket.Address(), err)
	}
	defer conn.Close()
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("write udp %s: %w", handler.Socket.Address(), err)
	}
	return nil
}

// Close stops accepting work and waits for queued dispatches.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()
	d.pool.StopAndWait()
}
