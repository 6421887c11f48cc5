package transport

import (
	"context"
	"sync"
)

// MemoryTransport routes messages between in-process queues.
// Params: exchange bindings, per-queue buffers, and one consumer goroutine per subscribed queue.
// Returns: transport without external dependencies.
type MemoryTransport struct {
	mu       sync.Mutex
	bindings map[string]map[string]struct{}
	queues   map[string]*memoryQueue
	closed   bool
	hooks    Hooks

	wg sync.WaitGroup
}

type memoryQueue struct {
	pending   [][]byte
	wake      chan struct{}
	cancel    context.CancelFunc
	consumers sync.WaitGroup
}

// NewMemoryTransport creates in-process transport.
// Params: none.
// Returns: initialized transport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		bindings: make(map[string]map[string]struct{}),
		queues:   make(map[string]*memoryQueue),
	}
}

func (t *MemoryTransport) queueLocked(name string) *memoryQueue {
	queue, ok := t.queues[name]
	if !ok {
		queue = &memoryQueue{wake: make(chan struct{}, 1)}
		t.queues[name] = queue
	}
	return queue
}

// Publish copies payload into every queue bound to the exchange.
// Params: context (unused), exchange, and payload.
// Returns: ErrClosed after Close.
func (t *MemoryTransport) Publish(_ context.Context, exchange Exchange, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	for name := range t.bindings[exchange.Name] {
		queue := t.queueLocked(name)
		queue.pending = append(queue.pending, append([]byte(nil), payload...))
		signal(queue.wake)
	}
	return nil
}

// Bind routes the exchange into queue.
func (t *MemoryTransport) Bind(_ context.Context, queue string, exchange Exchange) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	bound, ok := t.bindings[exchange.Name]
	if !ok {
		bound = make(map[string]struct{})
		t.bindings[exchange.Name] = bound
	}
	bound[queue] = struct{}{}
	t.queueLocked(queue)
	return nil
}

// Subscribe starts serial delivery from queue to handler.
// Params: context bounding the subscription, queue name, and handler.
// Returns: ErrClosed after Close.
func (t *MemoryTransport) Subscribe(ctx context.Context, name string, handler Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	queue := t.queueLocked(name)
	if queue.cancel != nil {
		queue.cancel()
	}
	base := context.WithoutCancel(ctx)
	subCtx, cancel := context.WithCancel(base)
	queue.cancel = cancel
	t.wg.Add(1)
	queue.consumers.Add(1)
	go t.consume(subCtx, base, name, queue, handler)
	signal(queue.wake)
	return nil
}

// consume delivers pending payloads one at a time until ctx is cancelled;
// a delivery already handed to handler runs to completion under handlerCtx.
func (t *MemoryTransport) consume(ctx, handlerCtx context.Context, name string, queue *memoryQueue, handler Handler) {
	defer t.wg.Done()
	defer queue.consumers.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-queue.wake:
		}
		for {
			if ctx.Err() != nil {
				return
			}
			t.mu.Lock()
			if len(queue.pending) == 0 {
				t.mu.Unlock()
				break
			}
			body := queue.pending[0]
			queue.pending = queue.pending[1:]
			t.mu.Unlock()

			handler(handlerCtx, NewDelivery(name, body, nil, func() error {
				t.requeue(queue, body)
				return nil
			}))
		}
	}
}

func (t *MemoryTransport) requeue(queue *memoryQueue, body []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	queue.pending = append(queue.pending, body)
	signal(queue.wake)
}

// Unsubscribe stops every consumer and waits for deliveries being handled;
// undelivered payloads stay queued.
// Params: context bounding the wait.
// Returns: context error when handlers outlive it.
func (t *MemoryTransport) Unsubscribe(ctx context.Context) error {
	t.mu.Lock()
	var stopped []*memoryQueue
	for _, queue := range t.queues {
		if queue.cancel != nil {
			queue.cancel()
			queue.cancel = nil
			stopped = append(stopped, queue)
		}
	}
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, queue := range stopped {
			queue.consumers.Wait()
		}
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connected reports true until Close.
func (t *MemoryTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

// SetHooks stores hooks; the in-memory backend never reconnects.
func (t *MemoryTransport) SetHooks(hooks Hooks) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hooks = hooks
}

// Close stops consumers and rejects further use.
func (t *MemoryTransport) Close() error {
	_ = t.Unsubscribe(context.Background())
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.wg.Wait()
	return nil
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
