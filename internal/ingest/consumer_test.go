package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"monitoring/internal/domain"
	"monitoring/internal/transport"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func startConsumer(t *testing.T, processor Processor) *transport.MemoryTransport {
	t.Helper()
	tr := transport.NewMemoryTransport()
	t.Cleanup(func() { _ = tr.Close() })
	consumer := NewConsumer(tr, processor, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := consumer.Start(context.Background()); err != nil {
		t.Fatalf("start consumer: %v", err)
	}
	return tr
}

func TestConsumerProcessesQueues(t *testing.T) {
	t.Parallel()

	processor := &testProcessor{}
	tr := startConsumer(t, processor)
	ctx := context.Background()

	_ = tr.Publish(ctx, transport.Exchange{Name: KeepalivesQueue}, []byte(`{"name":"web01","timestamp":1700000000}`))
	_ = tr.Publish(ctx, transport.Exchange{Name: ResultsQueue}, []byte(testResultJSON("web01")))
	_ = tr.Publish(ctx, transport.Exchange{Name: ResultsQueue}, []byte(`not json`))
	_ = tr.Publish(ctx, transport.Exchange{Name: KeepalivesQueue}, []byte(`{"timestamp":1}`))

	waitFor(t, func() bool {
		results, keepalives := processor.counts()
		return results == 1 && keepalives == 1
	})
	time.Sleep(50 * time.Millisecond)
	if results, keepalives := processor.counts(); results != 1 || keepalives != 1 {
		t.Fatalf("invalid messages must be acked and dropped, got results=%d keepalives=%d", results, keepalives)
	}
}

type flakyProcessor struct {
	testProcessor
	failures int
}

func (f *flakyProcessor) ProcessResult(ctx context.Context, result domain.Result) error {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return errors.New("store unavailable")
	}
	f.mu.Unlock()
	return f.testProcessor.ProcessResult(ctx, result)
}

func TestConsumerNaksRetryableFailures(t *testing.T) {
	t.Parallel()

	processor := &flakyProcessor{failures: 2}
	tr := startConsumer(t, processor)
	_ = tr.Publish(context.Background(), transport.Exchange{Name: ResultsQueue}, []byte(testResultJSON("web01")))

	waitFor(t, func() bool {
		results, _ := processor.counts()
		return results == 1
	})
}
