package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"monitoring/internal/config"

	"github.com/nats-io/nats.go"
)

const (
	streamMaxAge      = 24 * time.Hour
	drainTimeout      = 10 * time.Second
	drainPollInterval = 10 * time.Millisecond
)

// NATSTransport maps exchanges onto NATS subjects and queues onto queue groups.
// Params: NATS connection, optional JetStream context, and queue bindings.
// Returns: transport implementation.
type NATSTransport struct {
	nc  *nats.Conn
	js  nats.JetStreamContext
	cfg config.NATSTransportConfig

	mu            sync.Mutex
	bindings      map[string][]string
	subs          map[string][]*nats.Subscription
	deferredUnsub bool

	hooksMu sync.RWMutex
	hooks   Hooks
	closing atomic.Bool
}

// NewNATSTransport connects to NATS and, when enabled, ensures the JetStream stream.
// Params: NATS transport settings.
// Returns: connected transport or setup error.
func NewNATSTransport(cfg config.NATSTransportConfig) (*NATSTransport, error) {
	t := &NATSTransport{
		cfg:      cfg,
		bindings: make(map[string][]string),
		subs:     make(map[string][]*nats.Subscription),
	}

	nc, err := nats.Connect(strings.Join(cfg.URL, ","),
		nats.Name(cfg.ConnectionName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(time.Duration(cfg.ReconnectWaitMS)*time.Millisecond),
		nats.DisconnectErrHandler(func(_ *nats.Conn, _ error) {
			t.currentHooks().fireBeforeReconnect()
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			t.flushDeferredUnsubscribe()
			t.currentHooks().fireAfterReconnect()
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if !t.closing.Load() {
				t.currentHooks().fireError(errors.New("nats transport connection closed"))
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats transport: %w", err)
	}
	t.nc = nc

	if cfg.JetStream {
		js, err := nc.JetStream()
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("jetstream init for transport: %w", err)
		}
		if err := ensureStream(js, cfg.Stream, cfg.SubjectPrefix+".>"); err != nil {
			nc.Close()
			return nil, err
		}
		t.js = js
	}
	return t, nil
}

// ensureStream ensures the transport stream exists.
// Params: JetStream context, stream name, and subject filter.
// Returns: stream create/lookup error.
func ensureStream(js nats.JetStreamContext, streamName, subject string) error {
	if _, err := js.StreamInfo(streamName); err == nil {
		return nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) && !strings.Contains(strings.ToLower(err.Error()), "stream not found") {
		return fmt.Errorf("stream info %q: %w", streamName, err)
	}
	_, err := js.AddStream(&nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subject},
		Retention: nats.InterestPolicy,
		Storage:   nats.FileStorage,
		MaxAge:    streamMaxAge,
	})
	if err != nil {
		return fmt.Errorf("create stream %q: %w", streamName, err)
	}
	return nil
}

func (t *NATSTransport) currentHooks() Hooks {
	t.hooksMu.RLock()
	defer t.hooksMu.RUnlock()
	return t.hooks
}

// subject maps an exchange name onto a NATS subject.
func (t *NATSTransport) subject(exchange string) string {
	return t.cfg.SubjectPrefix + "." + exchange
}

// Publish sends payload to the exchange subject.
// Params: context, exchange, and payload.
// Returns: publish error.
func (t *NATSTransport) Publish(ctx context.Context, exchange Exchange, payload []byte) error {
	if t.closing.Load() {
		return ErrClosed
	}
	subject := t.subject(exchange.Name)
	if t.js != nil {
		if _, err := t.js.Publish(subject, payload, nats.Context(ctx)); err != nil {
			return fmt.Errorf("publish %q: %w", subject, err)
		}
		return nil
	}
	if err := t.nc.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish %q: %w", subject, err)
	}
	return nil
}

// Bind routes an exchange into the named queue.
func (t *NATSTransport) Bind(_ context.Context, queue string, exchange Exchange) error {
	subject := t.subject(exchange.Name)
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, bound := range t.bindings[queue] {
		if bound == subject {
			return nil
		}
	}
	t.bindings[queue] = append(t.bindings[queue], subject)
	return nil
}

// Subscribe consumes every subject bound to queue through one queue group.
// Params: context, queue name, and delivery handler.
// Returns: subscribe error.
func (t *NATSTransport) Subscribe(_ context.Context, queue string, handler Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closing.Load() {
		return ErrClosed
	}
	subjects := t.bindings[queue]
	if len(subjects) == 0 {
		subjects = []string{t.subject(queue)}
	}
	t.deferredUnsub = false
	for i, subject := range subjects {
		sub, err := t.subscribeSubject(queue, subject, i, handler)
		if err != nil {
			return err
		}
		t.subs[queue] = append(t.subs[queue], sub)
	}
	return nil
}

// subscribeSubject starts one core or JetStream queue subscription.
func (t *NATSTransport) subscribeSubject(queue, subject string, index int, handler Handler) (*nats.Subscription, error) {
	if t.js == nil {
		sub, err := t.nc.QueueSubscribe(subject, queue, func(message *nats.Msg) {
			handler(context.Background(), NewDelivery(queue, message.Data, nil, nil))
		})
		if err != nil {
			return nil, fmt.Errorf("queue subscribe %q/%q: %w", subject, queue, err)
		}
		return sub, nil
	}

	subOpts := []nats.SubOpt{
		nats.BindStream(t.cfg.Stream),
		nats.Durable(durableName(queue, index)),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(time.Duration(t.cfg.AckWaitSec) * time.Second),
		nats.MaxDeliver(t.cfg.MaxDeliver),
		nats.MaxAckPending(t.cfg.MaxAckPending),
		nats.DeliverNew(),
	}
	sub, err := t.js.QueueSubscribe(subject, queue, func(message *nats.Msg) {
		handler(context.Background(), NewDelivery(queue, message.Data, func() error {
			return message.Ack()
		}, func() error {
			return message.Nak()
		}))
	}, subOpts...)
	if err != nil {
		return nil, fmt.Errorf("jetstream queue subscribe %q/%q: %w", subject, queue, err)
	}
	return sub, nil
}

// durableName derives a consumer name free of subject tokens.
func durableName(queue string, index int) string {
	name := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(queue)
	if index > 0 {
		name = fmt.Sprintf("%s_%d", name, index)
	}
	return name
}

// Unsubscribe drains all subscriptions or defers until reconnect.
// Params: context bounding the wait for handlers still running.
// Returns: first drain error; nil when deferred.
func (t *NATSTransport) Unsubscribe(ctx context.Context) error {
	t.mu.Lock()
	if !t.nc.IsConnected() {
		t.deferredUnsub = true
		t.mu.Unlock()
		return nil
	}
	draining, err := t.drainLocked()
	t.mu.Unlock()
	return errors.Join(err, waitDrained(ctx, draining))
}

// drainLocked starts draining every subscription and forgets them.
func (t *NATSTransport) drainLocked() ([]*nats.Subscription, error) {
	var errs []error
	var draining []*nats.Subscription
	for queue, subs := range t.subs {
		for _, sub := range subs {
			if err := sub.Drain(); err != nil {
				if !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
					errs = append(errs, fmt.Errorf("drain %q: %w", queue, err))
				}
				continue
			}
			draining = append(draining, sub)
		}
		delete(t.subs, queue)
	}
	t.deferredUnsub = false
	return draining, errors.Join(errs...)
}

// waitDrained blocks until every draining subscription has delivered its last message.
func waitDrained(ctx context.Context, subs []*nats.Subscription) error {
	if len(subs) == 0 {
		return nil
	}
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()
	for _, sub := range subs {
		for sub.IsValid() {
			select {
			case <-ctx.Done():
				return fmt.Errorf("wait for subscription drain: %w", ctx.Err())
			case <-ticker.C:
			}
		}
	}
	return nil
}

// flushDeferredUnsubscribe runs an unsubscribe requested while disconnected.
func (t *NATSTransport) flushDeferredUnsubscribe() {
	t.mu.Lock()
	if !t.deferredUnsub {
		t.mu.Unlock()
		return
	}
	draining, err := t.drainLocked()
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := errors.Join(err, waitDrained(ctx, draining)); err != nil {
		t.currentHooks().fireError(err)
	}
}

func (t *NATSTransport) subscriptionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	count := 0
	for _, subs := range t.subs {
		count += len(subs)
	}
	return count
}

// Connected reports current NATS connectivity.
func (t *NATSTransport) Connected() bool {
	return t.nc != nil && t.nc.IsConnected()
}

// SetHooks installs lifecycle hooks.
func (t *NATSTransport) SetHooks(hooks Hooks) {
	t.hooksMu.Lock()
	defer t.hooksMu.Unlock()
	t.hooks = hooks
}

// Close drains subscriptions and closes the connection.
// Params: none.
// Returns: drain error.
func (t *NATSTransport) Close() error {
	if !t.closing.CompareAndSwap(false, true) {
		return nil
	}
	t.mu.Lock()
	var errs []error
	for _, subs := range t.subs {
		for _, sub := range subs {
			if err := sub.Drain(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	t.subs = make(map[string][]*nats.Subscription)
	t.mu.Unlock()
	t.nc.Close()
	return errors.Join(errs...)
}
