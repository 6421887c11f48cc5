package keepalive

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"monitoring/internal/clock"
	"monitoring/internal/domain"
	"monitoring/internal/state"
	"monitoring/internal/transport"
)

func TestEvaluateThresholds(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000300, 0)
	cases := []struct {
		name   string
		client domain.Client
		status int
		output string
	}{
		{
			name:   "fresh",
			client: domain.Client{"name": "web01", "timestamp": float64(1700000290)},
			status: 0,
			output: "Keep-alive sent from client less than 120 seconds ago",
		},
		{
			name:   "warning",
			client: domain.Client{"name": "web01", "timestamp": float64(1700000150)},
			status: 1,
			output: "No keep-alive sent from client in over 120 seconds",
		},
		{
			name:   "critical",
			client: domain.Client{"name": "web01", "timestamp": float64(1700000100)},
			status: 2,
			output: "No keep-alive sent from client in over 180 seconds",
		},
		{
			name: "client override",
			client: domain.Client{
				"name":      "web01",
				"timestamp": float64(1700000260),
				"keepalive": map[string]any{"thresholds": map[string]any{"warning": float64(30)}, "handlers": []any{"pager"}},
			},
			status: 1,
			output: "No keep-alive sent from client in over 30 seconds",
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			check := Evaluate(tc.client, now)
			if check.Status() != tc.status || check.Output() != tc.output {
				t.Fatalf("unexpected keepalive check status=%d output=%q", check.Status(), check.Output())
			}
			if check.Name() != CheckName || check.Issued() != now.Unix() {
				t.Fatalf("unexpected keepalive identity %v", check)
			}
		})
	}

	override := Evaluate(cases[3].client, now)
	if names := override.HandlerNames(); len(names) != 1 || names[0] != "pager" {
		t.Fatalf("expected keepalive attributes merged into check, got %v", names)
	}
	thresholds, _ := override.Attributes().Map("thresholds")
	if critical, _ := thresholds.Int("critical"); critical != 180 {
		t.Fatalf("expected default critical threshold to survive merge, got %v", thresholds)
	}
}

func TestDetermineStalePublishesResults(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := state.NewMemoryStore()
	for name, ts := range map[string]int64{"web01": 1700000290, "db01": 1700000000} {
		body, _ := json.Marshal(domain.Client{"name": name, "timestamp": ts})
		_ = store.Set(ctx, "client:"+name, string(body))
		_ = store.SAdd(ctx, "clients", name)
	}
	_ = store.SAdd(ctx, "clients", "gone")

	tr := transport.NewMemoryTransport()
	defer tr.Close()
	_ = tr.Bind(ctx, "results", transport.Exchange{Name: ResultsExchange})
	got := make(chan domain.Result, 4)
	_ = tr.Subscribe(ctx, "results", func(_ context.Context, delivery transport.Delivery) {
		result, err := domain.DecodeResult(delivery.Body)
		if err == nil {
			got <- result
		}
		_ = delivery.Ack()
	})

	now := time.Unix(1700000300, 0)
	monitor := New(store, tr, clock.Func(func() time.Time { return now }), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := monitor.DetermineStale(ctx); err != nil {
		t.Fatalf("determine stale: %v", err)
	}

	statuses := map[string]int{}
	for i := 0; i < 2; i++ {
		select {
		case result := <-got:
			statuses[result.Client] = result.Check.Status()
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for keepalive results, got %v", statuses)
		}
	}
	if statuses["web01"] != 0 || statuses["db01"] != 2 {
		t.Fatalf("unexpected keepalive statuses %v", statuses)
	}
}
