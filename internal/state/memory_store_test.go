package state

import (
	"context"
	"errors"
	"reflect"
	"strconv"
	"testing"
)

func TestMemoryStoreStringLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()

	if _, err := store.Get(ctx, "lock:master"); err != ErrNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	created, err := store.SetNX(ctx, "lock:master", "100")
	if err != nil || !created {
		t.Fatalf("expected setnx to create key: created=%v err=%v", created, err)
	}
	created, err = store.SetNX(ctx, "lock:master", "200")
	if err != nil || created {
		t.Fatalf("expected setnx to refuse existing key: created=%v err=%v", created, err)
	}
	previous, err := store.GetSet(ctx, "lock:master", "300")
	if err != nil || previous != "100" {
		t.Fatalf("unexpected getset: previous=%q err=%v", previous, err)
	}
	if value, _ := store.Get(ctx, "lock:master"); value != "300" {
		t.Fatalf("expected swapped value, got %q", value)
	}
	if err := store.Del(ctx, "lock:master"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if _, err := store.GetSet(ctx, "lock:master", "400"); err != ErrNotFound {
		t.Fatalf("expected getset on absent key to report not found, got %v", err)
	}
	if value, _ := store.Get(ctx, "lock:master"); value != "400" {
		t.Fatalf("expected getset to write absent key, got %q", value)
	}
}

func TestMemoryStoreListRangeAndTrim(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	for i := 0; i < 25; i++ {
		if _, err := store.RPush(ctx, "history:web01:disk", strconv.Itoa(i)); err != nil {
			t.Fatalf("rpush: %v", err)
		}
	}

	last, err := store.LRange(ctx, "history:web01:disk", -21, -1)
	if err != nil {
		t.Fatalf("lrange: %v", err)
	}
	if len(last) != 21 || last[0] != "4" || last[20] != "24" {
		t.Fatalf("unexpected range: %#v", last)
	}

	if err := store.LTrim(ctx, "history:web01:disk", -21, -1); err != nil {
		t.Fatalf("ltrim: %v", err)
	}
	all, _ := store.LRange(ctx, "history:web01:disk", 0, -1)
	if !reflect.DeepEqual(all, last) {
		t.Fatalf("expected trimmed list to equal last window: %#v", all)
	}

	short, _ := store.LRange(ctx, "history:web01:disk", -100, 1)
	if len(short) != 2 || short[0] != "4" {
		t.Fatalf("expected clamped range, got %#v", short)
	}
	if empty, _ := store.LRange(ctx, "history:web01:disk", 5, 2); len(empty) != 0 {
		t.Fatalf("expected empty range, got %#v", empty)
	}
}

func TestMemoryStoreSetsAndHashes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()

	_ = store.SAdd(ctx, "clients", "web02", "web01", "web01")
	members, err := store.SMembers(ctx, "clients")
	if err != nil {
		t.Fatalf("smembers: %v", err)
	}
	if !reflect.DeepEqual(members, []string{"web01", "web02"}) {
		t.Fatalf("unexpected members: %#v", members)
	}
	_ = store.SRem(ctx, "clients", "web01", "web02")
	if members, _ := store.SMembers(ctx, "clients"); len(members) != 0 {
		t.Fatalf("expected empty set, got %#v", members)
	}

	created, _ := store.HSetNX(ctx, "aggregate:disk:1", "ok", "0")
	if !created {
		t.Fatalf("expected hsetnx to create field")
	}
	created, _ = store.HSetNX(ctx, "aggregate:disk:1", "ok", "5")
	if created {
		t.Fatalf("expected hsetnx to keep existing field")
	}
	total, err := store.HIncrBy(ctx, "aggregate:disk:1", "total", 2)
	if err != nil || total != 2 {
		t.Fatalf("unexpected hincrby: total=%d err=%v", total, err)
	}
	fields, _ := store.HGetAll(ctx, "aggregate:disk:1")
	if fields["ok"] != "0" || fields["total"] != "2" {
		t.Fatalf("unexpected hash: %#v", fields)
	}
	if _, err := store.HGet(ctx, "aggregate:disk:1", "missing"); err != ErrNotFound {
		t.Fatalf("expected missing field not found, got %v", err)
	}
	_ = store.HDel(ctx, "aggregate:disk:1", "ok", "total")
	if _, err := store.HGet(ctx, "aggregate:disk:1", "total"); err != ErrNotFound {
		t.Fatalf("expected deleted field not found, got %v", err)
	}
}

func TestMemoryStoreWrongTypeAndClose(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	_ = store.Set(ctx, "client:web01", "{}")
	if err := store.SAdd(ctx, "client:web01", "x"); !errors.Is(err, ErrWrongType) {
		t.Fatalf("expected wrong type, got %v", err)
	}
	if !store.Connected() {
		t.Fatalf("expected open store to be connected")
	}
	_ = store.Close()
	if store.Connected() {
		t.Fatalf("expected closed store to be disconnected")
	}
	if err := store.Set(ctx, "k", "v"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
}

func TestNormalizeRange(t *testing.T) {
	t.Parallel()

	cases := []struct {
		start, stop int64
		length      int
		lo, hi      int
		ok          bool
	}{
		{start: 0, stop: -1, length: 3, lo: 0, hi: 3, ok: true},
		{start: -21, stop: -1, length: 3, lo: 0, hi: 3, ok: true},
		{start: 1, stop: 10, length: 3, lo: 1, hi: 3, ok: true},
		{start: 3, stop: 5, length: 3, ok: false},
		{start: 0, stop: -1, length: 0, ok: false},
	}
	for _, tc := range cases {
		lo, hi, ok := normalizeRange(tc.start, tc.stop, tc.length)
		if ok != tc.ok || (ok && (lo != tc.lo || hi != tc.hi)) {
			t.Fatalf("normalizeRange(%d,%d,%d) = %d,%d,%v", tc.start, tc.stop, tc.length, lo, hi, ok)
		}
	}
}
