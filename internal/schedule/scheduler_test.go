package schedule

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"monitoring/internal/clock"
	"monitoring/internal/domain"
	"monitoring/internal/transport"

	"github.com/robfig/cron/v3"
)

type checkList []domain.Check

func (c checkList) Checks() []domain.Check {
	return c
}

type published struct {
	exchange transport.Exchange
	payload  []byte
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []published
}

func (r *recordingPublisher) Publish(_ context.Context, exchange transport.Exchange, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, published{exchange: exchange, payload: payload})
	return nil
}

func (r *recordingPublisher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDelayStaggersWithinWindow(t *testing.T) {
	t.Parallel()

	cases := map[int]time.Duration{1: 2 * time.Second, 14: 28 * time.Second, 15: 0, 16: 2 * time.Second}
	for n, want := range cases {
		if got := Delay(n, StaggerUnit); got != want {
			t.Fatalf("Delay(%d) = %s, want %s", n, got, want)
		}
	}
	if got := Delay(7, 0); got != 0 {
		t.Fatalf("expected zero delay without stagger, got %s", got)
	}
}

func TestChecksSelection(t *testing.T) {
	t.Parallel()

	s := New(Options{
		Settings: checkList{
			{"name": "disk", "interval": 60, "subscribers": []any{"linux"}},
			{"name": "local", "interval": 60, "standalone": true},
			{"name": "silent", "interval": 60, "publish": false},
		},
		Extensions: checkList{
			{"name": "ext_interval", "interval": 30},
			{"name": "ext_float", "interval": 1.5},
			{"name": "ext_none"},
		},
		Publisher: &recordingPublisher{},
		Logger:    discardLogger(),
	})
	var names []string
	for _, check := range s.Checks() {
		names = append(names, check.Name())
	}
	if len(names) != 2 || names[0] != "disk" || names[1] != "ext_interval" {
		t.Fatalf("unexpected scheduled checks %v", names)
	}
}

func TestPublishFansOutToSubscribers(t *testing.T) {
	t.Parallel()

	publisher := &recordingPublisher{}
	s := New(Options{Publisher: publisher, Logger: discardLogger()})
	check := domain.Check{"name": "disk", "command": "check-disk -w 80", "subscribers": []any{"linux", "web"}}
	if err := s.Publish(context.Background(), check, time.Unix(1700000000, 0)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(publisher.sent) != 2 {
		t.Fatalf("expected 2 publishes, got %d", len(publisher.sent))
	}
	for i, want := range []string{"linux", "web"} {
		sent := publisher.sent[i]
		if sent.exchange.Name != want || sent.exchange.Type != transport.ExchangeFanout {
			t.Fatalf("unexpected exchange %+v", sent.exchange)
		}
		var request domain.CheckRequest
		if err := json.Unmarshal(sent.payload, &request); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if request.Name != "disk" || request.Issued != 1700000000 || request.Command != "check-disk -w 80" {
			t.Fatalf("unexpected request %+v", request)
		}
	}
}

func TestPublishOmitsMissingCommand(t *testing.T) {
	t.Parallel()

	publisher := &recordingPublisher{}
	s := New(Options{Publisher: publisher, Logger: discardLogger()})
	_ = s.Publish(context.Background(), domain.Check{"name": "ext", "subscribers": []any{"all"}}, time.Unix(10, 0))
	if string(publisher.sent[0].payload) != `{"name":"ext","issued":10}` {
		t.Fatalf("unexpected payload %s", publisher.sent[0].payload)
	}
}

func TestFireSkipsPublisherSubdue(t *testing.T) {
	t.Parallel()

	publisher := &recordingPublisher{}
	night := time.Date(2026, 3, 2, 23, 30, 0, 0, time.Local)
	s := New(Options{
		Publisher: publisher,
		Clock:     clock.Func(func() time.Time { return night }),
		Logger:    discardLogger(),
	})
	check := domain.Check{
		"name":        "backup",
		"subscribers": []any{"db"},
		"subdue":      map[string]any{"at": "publisher", "begin": "10:00 PM", "end": "6:00 AM"},
	}
	s.Fire(context.Background(), check)
	if publisher.count() != 0 {
		t.Fatalf("expected subdued check request to be skipped")
	}
	delete(check, "subdue")
	s.Fire(context.Background(), check)
	if publisher.count() != 1 {
		t.Fatalf("expected check request to be published")
	}
}

func TestRunTestingModeFiresAndStops(t *testing.T) {
	t.Parallel()

	publisher := &recordingPublisher{}
	s := New(Options{
		Settings:  checkList{{"name": "disk", "interval": 3600, "subscribers": []any{"linux"}}},
		Publisher: publisher,
		Testing:   true,
		Logger:    discardLogger(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(3 * time.Second)
	for publisher.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if publisher.count() == 0 {
		t.Fatalf("expected at least one check request in testing mode")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("scheduler did not stop after cancel")
	}
	stopped := publisher.count()
	time.Sleep(700 * time.Millisecond)
	if publisher.count() != stopped {
		t.Fatalf("check requests published after scheduler stopped")
	}
}

func TestCronScheduleNextFire(t *testing.T) {
	t.Parallel()

	schedule, err := cron.ParseStandard("*/5 * * * *")
	if err != nil {
		t.Fatalf("parse cron: %v", err)
	}
	from := time.Date(2026, 3, 2, 10, 7, 30, 0, time.UTC)
	if next := schedule.Next(from); !next.Equal(time.Date(2026, 3, 2, 10, 10, 0, 0, time.UTC)) {
		t.Fatalf("unexpected next fire %s", next)
	}
}
