package aggregate

import (
	"context"
	"strconv"
	"testing"

	"monitoring/internal/domain"
	"monitoring/internal/state"
)

func TestAddCountsSeverities(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := state.NewMemoryStore()
	agg := New(store, nil)

	check := domain.Check{"name": "disk", "issued": int64(1700000000), "status": 2, "output": "DISK CRITICAL"}
	if err := agg.Add(ctx, "web01", check); err != nil {
		t.Fatalf("add: %v", err)
	}
	check = domain.Check{"name": "disk", "issued": int64(1700000000), "status": 7, "output": "weird"}
	if err := agg.Add(ctx, "web02", check); err != nil {
		t.Fatalf("add: %v", err)
	}

	counts, err := store.HGetAll(ctx, "aggregate:disk:1700000000")
	if err != nil {
		t.Fatalf("hgetall: %v", err)
	}
	want := map[string]string{"ok": "0", "warning": "0", "critical": "1", "unknown": "1", "total": "2"}
	for key, value := range want {
		if counts[key] != value {
			t.Fatalf("expected %s=%s, got %v", key, value, counts)
		}
	}
	stored, err := store.HGet(ctx, "aggregation:disk:1700000000", "web01")
	if err != nil || stored != `{"output":"DISK CRITICAL","status":2}` {
		t.Fatalf("unexpected client result %q err=%v", stored, err)
	}
	if members, _ := store.SMembers(ctx, "aggregates"); len(members) != 1 || members[0] != "disk" {
		t.Fatalf("unexpected aggregated checks %v", members)
	}
}

func TestPruneKeepsNewestTwenty(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := state.NewMemoryStore()
	agg := New(store, nil)

	// 8..32 straddles a digit boundary so lexical ordering would prune the wrong entries.
	for issued := int64(8); issued < 33; issued++ {
		if err := agg.Add(ctx, "web01", domain.Check{"name": "load", "issued": issued, "status": 0}); err != nil {
			t.Fatalf("add %d: %v", issued, err)
		}
	}

	removed, err := agg.Prune(ctx)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 5 {
		t.Fatalf("expected 5 removed, got %d", removed)
	}
	members, _ := store.SMembers(ctx, "aggregates:load")
	if len(members) != MaxIssued {
		t.Fatalf("expected %d remaining, got %d", MaxIssued, len(members))
	}
	for issued := int64(8); issued < 13; issued++ {
		suffix := strconv.FormatInt(issued, 10)
		if counts, _ := store.HGetAll(ctx, "aggregate:load:"+suffix); len(counts) != 0 {
			t.Fatalf("expected pruned aggregate %s to be deleted, got %v", suffix, counts)
		}
	}
	if counts, _ := store.HGetAll(ctx, "aggregate:load:13"); counts["total"] != "1" {
		t.Fatalf("expected issued 13 to survive, got %v", counts)
	}

	if removed, _ := agg.Prune(ctx); removed != 0 {
		t.Fatalf("expected second prune to be a no-op, removed %d", removed)
	}
}
