package state

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"monitoring/internal/config"
	"monitoring/test/testutil"
)

func newIntegrationNATSStore(t *testing.T) *NATSStore {
	t.Helper()
	server := testutil.StartNATSServer(t)

	store, err := NewNATSStore(config.NATSStoreConfig{
		URL:               []string{server.URL},
		Bucket:            testutil.StateBucket,
		AllowCreateBucket: true,
	})
	if err != nil {
		t.Fatalf("new nats store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNATSStoreLeaseIntegration(t *testing.T) {
	store := newIntegrationNATSStore(t)
	ctx := context.Background()

	created, err := store.SetNX(ctx, "lock:master", "100")
	if err != nil || !created {
		t.Fatalf("expected setnx to create: created=%v err=%v", created, err)
	}
	created, err = store.SetNX(ctx, "lock:master", "200")
	if err != nil || created {
		t.Fatalf("expected setnx to refuse: created=%v err=%v", created, err)
	}
	previous, err := store.GetSet(ctx, "lock:master", "300")
	if err != nil || previous != "100" {
		t.Fatalf("unexpected getset: previous=%q err=%v", previous, err)
	}
	if err := store.Del(ctx, "lock:master"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if _, err := store.Get(ctx, "lock:master"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after del, got %v", err)
	}
	created, err = store.SetNX(ctx, "lock:master", "400")
	if err != nil || !created {
		t.Fatalf("expected setnx after delete to create: created=%v err=%v", created, err)
	}
}

func TestNATSStoreCollectionsIntegration(t *testing.T) {
	store := newIntegrationNATSStore(t)
	ctx := context.Background()

	if err := store.SAdd(ctx, "clients", "web01", "db01", "web01"); err != nil {
		t.Fatalf("sadd: %v", err)
	}
	members, err := store.SMembers(ctx, "clients")
	if err != nil || len(members) != 2 {
		t.Fatalf("unexpected members: %v err=%v", members, err)
	}

	for i := 0; i < 25; i++ {
		if _, err := store.RPush(ctx, "history:web01:disk", "0"); err != nil {
			t.Fatalf("rpush: %v", err)
		}
	}
	if err := store.LTrim(ctx, "history:web01:disk", -21, -1); err != nil {
		t.Fatalf("ltrim: %v", err)
	}
	history, _ := store.LRange(ctx, "history:web01:disk", 0, -1)
	if len(history) != 21 {
		t.Fatalf("expected trimmed history of 21, got %d", len(history))
	}

	if _, err := store.HIncrBy(ctx, "aggregate:disk:100", "critical", 1); err != nil {
		t.Fatalf("hincrby: %v", err)
	}
	total, err := store.HIncrBy(ctx, "aggregate:disk:100", "critical", 2)
	if err != nil || total != 3 {
		t.Fatalf("unexpected hincrby total %d err=%v", total, err)
	}
	if _, err := store.SMembers(ctx, "aggregate:disk:100"); !errors.Is(err, ErrWrongType) {
		t.Fatalf("expected wrong type, got %v", err)
	}

	if err := store.HSet(ctx, "events:web01", "disk", `{"status":2}`); err != nil {
		t.Fatalf("hset: %v", err)
	}
	if err := store.HDel(ctx, "events:web01", "disk"); err != nil {
		t.Fatalf("hdel: %v", err)
	}
	all, err := store.HGetAll(ctx, "events:web01")
	if err != nil || !reflect.DeepEqual(all, map[string]string{}) {
		t.Fatalf("expected emptied hash, got %v err=%v", all, err)
	}
}

func TestNATSStoreWatchDeleteIntegration(t *testing.T) {
	store := newIntegrationNATSStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deleted := make(chan struct{}, 1)
	stop, err := store.WatchDelete(ctx, "lock:master", func() {
		select {
		case deleted <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("watch delete: %v", err)
	}
	defer stop()

	if err := store.Set(ctx, "lock:master", "100"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Del(ctx, "lock:master"); err != nil {
		t.Fatalf("del: %v", err)
	}
	select {
	case <-deleted:
	case <-time.After(5 * time.Second):
		t.Fatalf("expected delete notification")
	}
}
