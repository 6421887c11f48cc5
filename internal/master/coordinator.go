// Package master elects the single instance running singleton duties.
package master

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"monitoring/internal/clock"
	"monitoring/internal/metrics"
	"monitoring/internal/state"
)

const (
	// LockKey holds the master lease timestamp.
	LockKey = "lock:master"
	// LeaseTTL is the lease age after which another instance may take over.
	LeaseTTL = 60 * time.Second
	// RenewInterval is the lease refresh and election retry period.
	RenewInterval = 20 * time.Second
	// ResignGrace bounds how long resignation waits for the lease delete.
	ResignGrace = 3 * time.Second
)

// Duty is a master-only task running until its context is cancelled.
type Duty func(ctx context.Context)

// Options wires coordinator collaborators.
type Options struct {
	Store         state.Store
	Clock         clock.Clock
	Duties        []Duty
	RenewInterval time.Duration
	Logger        *slog.Logger
}

// Coordinator runs the lease election and owns master duties.
// Params: state store, clock, and duties started on becoming master.
// Returns: master election state machine.
type Coordinator struct {
	store    state.Store
	clock    clock.Clock
	duties   []Duty
	interval time.Duration
	logger   *slog.Logger

	isMaster atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates coordinator in follower state.
func New(opts Options) *Coordinator {
	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := opts.RenewInterval
	if interval <= 0 {
		interval = RenewInterval
	}
	return &Coordinator{
		store:    opts.Store,
		clock:    clk,
		duties:   opts.Duties,
		interval: interval,
		logger:   logger,
	}
}

// IsMaster reports whether this instance currently holds the lease.
func (c *Coordinator) IsMaster() bool {
	return c.isMaster.Load()
}

// RequestElection tries to acquire the lease once.
// Params: context.
// Returns: true when this instance is master after the attempt; store error.
// A cancelled ctx never takes the lease.
func (c *Coordinator) RequestElection(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isMaster.Load() {
		return true, nil
	}
	if ctx.Err() != nil {
		return false, nil
	}

	now := c.clock.Now().Unix()
	stamp := strconv.FormatInt(now, 10)
	acquired, err := c.store.SetNX(ctx, LockKey, stamp)
	if err != nil {
		return false, fmt.Errorf("acquire master lease: %w", err)
	}
	if acquired {
		c.becomeMasterLocked()
		return true, nil
	}

	current, err := c.store.Get(ctx, LockKey)
	found := true
	if errors.Is(err, state.ErrNotFound) {
		found = false
	} else if err != nil {
		return false, fmt.Errorf("read master lease: %w", err)
	}
	if found && now-leaseTime(current) < int64(LeaseTTL/time.Second) {
		return false, nil
	}

	previous, err := c.store.GetSet(ctx, LockKey, stamp)
	replaced := true
	if errors.Is(err, state.ErrNotFound) {
		replaced = false
	} else if err != nil {
		return false, fmt.Errorf("take over master lease: %w", err)
	}
	if replaced != found || previous != current {
		return false, nil
	}
	c.becomeMasterLocked()
	return true, nil
}

// leaseTime parses a lease value; unreadable values count as expired.
func leaseTime(raw string) int64 {
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return value
}

func (c *Coordinator) becomeMasterLocked() {
	c.isMaster.Store(true)
	metrics.IsMaster.Set(1)
	c.logger.Info("i am the master")

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	for _, duty := range c.duties {
		c.wg.Add(1)
		go func(duty Duty) {
			defer c.wg.Done()
			duty(ctx)
		}(duty)
	}
}

// Run elects immediately and then renews or retries on every interval.
// Params: context owning the election timer.
// Returns: when ctx is cancelled; leadership is kept until Resign.
func (c *Coordinator) Run(ctx context.Context) {
	c.elect(ctx)

	if watcher, ok := c.store.(state.DeleteWatcher); ok {
		stop, err := watcher.WatchDelete(ctx, LockKey, func() {
			if !c.IsMaster() {
				c.elect(ctx)
			}
		})
		if err != nil {
			c.logger.Warn("master lease watch unavailable", "error", err.Error())
		} else {
			defer stop()
		}
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.IsMaster() {
				c.renew(ctx)
				continue
			}
			c.elect(ctx)
		}
	}
}

func (c *Coordinator) elect(ctx context.Context) {
	if _, err := c.RequestElection(ctx); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Error("master election failed", "error", err.Error())
	}
}

func (c *Coordinator) renew(ctx context.Context) {
	stamp := strconv.FormatInt(c.clock.Now().Unix(), 10)
	if err := c.store.Set(ctx, LockKey, stamp); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Error("failed to renew master lease", "error", err.Error())
	}
}

// Resign stops master duties and releases the lease.
// Params: context bounding the lease delete together with ResignGrace.
// Returns: after duties stopped and the master flag is cleared.
func (c *Coordinator) Resign(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isMaster.Load() {
		return
	}
	c.logger.Warn("resigning as master")
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.wg.Wait()

	if c.store.Connected() {
		delCtx, cancel := context.WithTimeout(ctx, ResignGrace)
		err := c.store.Del(delCtx, LockKey)
		cancel()
		if err != nil {
			c.logger.Warn("failed to remove master lock", "error", err.Error())
		} else {
			c.logger.Info("removed master lock")
		}
	} else {
		c.logger.Warn("failed to remove master lock", "error", "store disconnected")
	}
	c.isMaster.Store(false)
	metrics.IsMaster.Set(0)
}
