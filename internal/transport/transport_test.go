package transport

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"monitoring/internal/config"
	"monitoring/test/testutil"
)

func TestMemoryTransportRoutesBoundQueues(t *testing.T) {
	t.Parallel()

	tr := NewMemoryTransport()
	defer tr.Close()
	ctx := context.Background()

	results := Exchange{Name: "results", Type: ExchangeDirect}
	if err := tr.Bind(ctx, "results", results); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := tr.Publish(ctx, results, []byte("queued-before-subscribe")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := tr.Publish(ctx, Exchange{Name: "unbound"}, []byte("dropped")); err != nil {
		t.Fatalf("publish unbound: %v", err)
	}

	got := make(chan string, 4)
	if err := tr.Subscribe(ctx, "results", func(_ context.Context, d Delivery) {
		got <- string(d.Body)
		_ = d.Ack()
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := tr.Publish(ctx, results, []byte("second")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for _, want := range []string{"queued-before-subscribe", "second"} {
		select {
		case body := <-got:
			if body != want {
				t.Fatalf("expected %q, got %q", want, body)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestMemoryTransportNakRedelivers(t *testing.T) {
	t.Parallel()

	tr := NewMemoryTransport()
	defer tr.Close()
	ctx := context.Background()

	ex := Exchange{Name: "keepalives"}
	_ = tr.Bind(ctx, "keepalives", ex)
	attempts := make(chan int, 4)
	count := 0
	_ = tr.Subscribe(ctx, "keepalives", func(_ context.Context, d Delivery) {
		count++
		attempts <- count
		if count == 1 {
			_ = d.Nak()
			return
		}
		_ = d.Ack()
	})
	_ = tr.Publish(ctx, ex, []byte("{}"))

	for want := 1; want <= 2; want++ {
		select {
		case got := <-attempts:
			if got != want {
				t.Fatalf("expected attempt %d, got %d", want, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for attempt %d", want)
		}
	}
}

func TestMemoryTransportUnsubscribeKeepsBacklog(t *testing.T) {
	t.Parallel()

	tr := NewMemoryTransport()
	defer tr.Close()
	ctx := context.Background()

	ex := Exchange{Name: "results"}
	_ = tr.Bind(ctx, "results", ex)
	got := make(chan string, 2)
	handler := func(_ context.Context, d Delivery) { got <- string(d.Body) }
	_ = tr.Subscribe(ctx, "results", handler)
	_ = tr.Unsubscribe(ctx)
	time.Sleep(20 * time.Millisecond)
	_ = tr.Publish(ctx, ex, []byte("while-paused"))

	select {
	case body := <-got:
		t.Fatalf("unexpected delivery while unsubscribed: %q", body)
	case <-time.After(50 * time.Millisecond):
	}

	_ = tr.Subscribe(ctx, "results", handler)
	select {
	case body := <-got:
		if body != "while-paused" {
			t.Fatalf("unexpected body %q", body)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected backlog delivery after resubscribe")
	}
}

func TestMemoryTransportUnsubscribeWaitsForRunningHandler(t *testing.T) {
	t.Parallel()

	tr := NewMemoryTransport()
	defer tr.Close()
	ctx := context.Background()

	ex := Exchange{Name: "results"}
	_ = tr.Bind(ctx, "results", ex)
	entered := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	_ = tr.Subscribe(ctx, "results", func(_ context.Context, d Delivery) {
		close(entered)
		<-release
		finished.Store(true)
		_ = d.Ack()
	})
	_ = tr.Publish(ctx, ex, []byte("slow"))
	<-entered

	unsubscribed := make(chan error, 1)
	go func() {
		unsubscribed <- tr.Unsubscribe(ctx)
	}()
	select {
	case err := <-unsubscribed:
		t.Fatalf("unsubscribe returned while handler was running: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-unsubscribed:
		if err != nil {
			t.Fatalf("unsubscribe: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("unsubscribe did not return after handler finished")
	}
	if !finished.Load() {
		t.Fatalf("unsubscribe returned before handler completed")
	}

	timeout, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := tr.Unsubscribe(timeout); err != nil {
		t.Fatalf("unsubscribe without consumers: %v", err)
	}
}

func TestMemoryTransportClosed(t *testing.T) {
	t.Parallel()

	tr := NewMemoryTransport()
	_ = tr.Close()
	if tr.Connected() {
		t.Fatalf("expected closed transport to report disconnected")
	}
	if err := tr.Publish(context.Background(), Exchange{Name: "x"}, nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	t.Parallel()

	if _, err := New(config.TransportConfig{Backend: "amqp"}); err == nil || !strings.Contains(err.Error(), "bad transport type") {
		t.Fatalf("expected bad transport type error, got %v", err)
	}
	tr, err := New(config.TransportConfig{Backend: config.TransportBackendMemory})
	if err != nil {
		t.Fatalf("memory transport: %v", err)
	}
	_ = tr.Close()
}

func TestDurableName(t *testing.T) {
	t.Parallel()

	if got := durableName("checks.web", 0); got != "checks_web" {
		t.Fatalf("unexpected durable %q", got)
	}
	if got := durableName("results", 2); got != "results_2" {
		t.Fatalf("unexpected durable %q", got)
	}
}

func TestNATSTransportQueueGroupIntegration(t *testing.T) {
	server := testutil.StartNATSServer(t)

	for _, jetStream := range []bool{false, true} {
		tr, err := NewNATSTransport(config.NATSTransportConfig{
			URL:             []string{server.URL},
			SubjectPrefix:   testutil.SubjectPrefix,
			ReconnectWaitMS: 100,
			MaxReconnects:   -1,
			JetStream:       jetStream,
			Stream:          testutil.Stream,
			AckWaitSec:      5,
			MaxDeliver:      3,
			MaxAckPending:   16,
		})
		if err != nil {
			t.Fatalf("new nats transport (jetstream=%v): %v", jetStream, err)
		}

		ctx := context.Background()
		ex := Exchange{Name: "results", Type: ExchangeDirect}
		if err := tr.Bind(ctx, "results", ex); err != nil {
			t.Fatalf("bind: %v", err)
		}
		got := make(chan string, 1)
		if err := tr.Subscribe(ctx, "results", func(_ context.Context, d Delivery) {
			_ = d.Ack()
			got <- string(d.Body)
		}); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
		if err := tr.Publish(ctx, ex, []byte(`{"client":"web01"}`)); err != nil {
			t.Fatalf("publish: %v", err)
		}
		select {
		case body := <-got:
			if body != `{"client":"web01"}` {
				t.Fatalf("unexpected body %q", body)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for delivery (jetstream=%v)", jetStream)
		}
		if err := tr.Unsubscribe(ctx); err != nil {
			t.Fatalf("unsubscribe: %v", err)
		}
		_ = tr.Close()
	}
}

func TestNATSTransportDefersUnsubscribeUntilReconnect(t *testing.T) {
	server := testutil.StartNATSServer(t)

	tr, err := NewNATSTransport(config.NATSTransportConfig{
		URL:             []string{server.URL},
		SubjectPrefix:   testutil.SubjectPrefix,
		ReconnectWaitMS: 100,
		MaxReconnects:   -1,
	})
	if err != nil {
		t.Fatalf("new nats transport: %v", err)
	}
	defer tr.Close()

	subsAfterReconnect := make(chan int, 1)
	tr.SetHooks(Hooks{AfterReconnect: func() {
		select {
		case subsAfterReconnect <- tr.subscriptionCount():
		default:
		}
	}})

	ctx := context.Background()
	ex := Exchange{Name: "results", Type: ExchangeDirect}
	_ = tr.Bind(ctx, "results", ex)
	got := make(chan string, 4)
	handler := func(_ context.Context, d Delivery) { got <- string(d.Body) }
	if err := tr.Subscribe(ctx, "results", handler); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	server.Stop()
	deadline := time.Now().Add(5 * time.Second)
	for tr.Connected() && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if tr.Connected() {
		t.Fatalf("transport still connected after server stop")
	}

	if err := tr.Unsubscribe(ctx); err != nil {
		t.Fatalf("unsubscribe while disconnected: %v", err)
	}
	if count := tr.subscriptionCount(); count != 1 {
		t.Fatalf("expected subscription kept until reconnect, got %d", count)
	}

	server.Restart()
	select {
	case count := <-subsAfterReconnect:
		if count != 0 {
			t.Fatalf("expected subscriptions dropped before reconnect hook, got %d", count)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("transport did not reconnect")
	}

	if err := tr.Publish(ctx, ex, []byte("after-reconnect")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case body := <-got:
		t.Fatalf("deferred unsubscribe still delivered %q", body)
	case <-time.After(200 * time.Millisecond):
	}

	if err := tr.Subscribe(ctx, "results", handler); err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
	_ = tr.nc.Flush()
	if err := tr.Publish(ctx, ex, []byte("resumed")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case body := <-got:
		if body != "resumed" {
			t.Fatalf("unexpected body %q", body)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no delivery after resubscribe")
	}
}
