package master

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"monitoring/internal/clock"
	"monitoring/internal/state"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestElectionRaceHasOneWinner(t *testing.T) {
	t.Parallel()

	store := state.NewMemoryStore()
	clk := &fakeClock{now: time.Unix(1700000000, 0)}
	coordinators := make([]*Coordinator, 8)
	for i := range coordinators {
		coordinators[i] = New(Options{Store: store, Clock: clk, Logger: discardLogger()})
	}

	var wg sync.WaitGroup
	var winners atomic.Int32
	for _, c := range coordinators {
		wg.Add(1)
		go func(c *Coordinator) {
			defer wg.Done()
			won, err := c.RequestElection(context.Background())
			if err != nil {
				t.Errorf("election: %v", err)
			}
			if won {
				winners.Add(1)
			}
		}(c)
	}
	wg.Wait()
	if winners.Load() != 1 {
		t.Fatalf("expected exactly one master, got %d", winners.Load())
	}
}

func TestCancelledElectionNeverTakesLease(t *testing.T) {
	t.Parallel()

	store := state.NewMemoryStore()
	c := New(Options{Store: store, Clock: &fakeClock{now: time.Unix(1700000000, 0)}, Logger: discardLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	won, err := c.RequestElection(ctx)
	if err != nil || won {
		t.Fatalf("expected no election after cancel, won=%v err=%v", won, err)
	}
	if c.IsMaster() {
		t.Fatalf("cancelled election must not make master")
	}
	if _, err := store.Get(context.Background(), LockKey); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected lease untouched, got %v", err)
	}
}

func TestStaleLeaseTakeover(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := state.NewMemoryStore()
	start := time.Unix(1700000000, 0)
	first := New(Options{Store: store, Clock: clock.Func(func() time.Time { return start }), Logger: discardLogger()})
	if won, _ := first.RequestElection(ctx); !won {
		t.Fatalf("first instance must win an empty lease")
	}

	laterClock := &fakeClock{now: start.Add(59 * time.Second)}
	second := New(Options{Store: store, Clock: laterClock, Logger: discardLogger()})
	if won, _ := second.RequestElection(ctx); won {
		t.Fatalf("fresh lease must not be taken over")
	}

	laterClock.Advance(2 * time.Second)
	won, err := second.RequestElection(ctx)
	if err != nil || !won {
		t.Fatalf("expected takeover of 61s old lease, won=%v err=%v", won, err)
	}
	lease, _ := store.Get(ctx, LockKey)
	if lease != strconv.FormatInt(start.Add(61*time.Second).Unix(), 10) {
		t.Fatalf("unexpected lease value %q", lease)
	}
}

type swappingStore struct {
	*state.MemoryStore
}

// GetSet simulates another instance renewing between the read and the swap.
func (s swappingStore) GetSet(ctx context.Context, key, value string) (string, error) {
	_ = s.MemoryStore.Set(ctx, key, "1700000100")
	return s.MemoryStore.GetSet(ctx, key, value)
}

func TestTakeoverLosesRaceWithRenewal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := swappingStore{MemoryStore: state.NewMemoryStore()}
	_ = store.Set(ctx, LockKey, "1700000000")
	c := New(Options{Store: store, Clock: clock.Func(func() time.Time { return time.Unix(1700000100, 0) }), Logger: discardLogger()})
	if won, _ := c.RequestElection(ctx); won {
		t.Fatalf("election must fail when the lease changed between read and swap")
	}
}

func TestDutiesRunWhileMasterAndStopOnResign(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := state.NewMemoryStore()
	started := make(chan struct{})
	var stopped atomic.Bool
	duty := func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		stopped.Store(true)
	}
	c := New(Options{Store: store, Clock: clock.RealClock{}, Duties: []Duty{duty}, Logger: discardLogger()})
	if won, _ := c.RequestElection(ctx); !won {
		t.Fatalf("expected to become master")
	}
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatalf("master duty did not start")
	}

	c.Resign(ctx)
	if !stopped.Load() {
		t.Fatalf("resign must wait for duties to stop")
	}
	if c.IsMaster() {
		t.Fatalf("expected follower after resign")
	}
	if _, err := store.Get(ctx, LockKey); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected lease to be deleted, got %v", err)
	}
}

type disconnectedStore struct {
	*state.MemoryStore
	dels atomic.Int32
}

func (d *disconnectedStore) Connected() bool { return false }

func (d *disconnectedStore) Del(ctx context.Context, keys ...string) error {
	d.dels.Add(1)
	return d.MemoryStore.Del(ctx, keys...)
}

func TestResignWhileDisconnectedForcesFollower(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &disconnectedStore{MemoryStore: state.NewMemoryStore()}
	c := New(Options{Store: store, Logger: discardLogger()})
	if won, _ := c.RequestElection(ctx); !won {
		t.Fatalf("expected to become master")
	}
	c.Resign(ctx)
	if c.IsMaster() {
		t.Fatalf("expected master flag forced false")
	}
	if store.dels.Load() != 0 {
		t.Fatalf("lease delete must not be attempted while disconnected")
	}
}

func TestRunRenewsLease(t *testing.T) {
	t.Parallel()

	store := state.NewMemoryStore()
	clk := &fakeClock{now: time.Unix(1700000000, 0)}
	c := New(Options{Store: store, Clock: clk, RenewInterval: 20 * time.Millisecond, Logger: discardLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !c.IsMaster() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !c.IsMaster() {
		t.Fatalf("expected Run to elect immediately")
	}
	clk.Advance(30 * time.Second)
	want := strconv.FormatInt(clk.Now().Unix(), 10)
	for time.Now().Before(deadline) {
		if lease, _ := store.Get(context.Background(), LockKey); lease == want {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if lease, _ := store.Get(context.Background(), LockKey); lease != want {
		t.Fatalf("expected renewed lease %s, got %s", want, lease)
	}
	cancel()
	<-done
	c.Resign(context.Background())
}
