package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"monitoring/internal/domain"
	"monitoring/internal/metrics"
	"monitoring/internal/state"
)

// MaxIssued is the number of issued timestamps kept per aggregated check.
const MaxIssued = 20

// Aggregator tallies results sharing a check name and issue time.
// Params: state store and logger.
// Returns: aggregate accounting and pruning.
type Aggregator struct {
	store  state.Store
	logger *slog.Logger
}

// New creates aggregator.
func New(store state.Store, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{store: store, logger: logger}
}

type clientResult struct {
	Output string `json:"output"`
	Status int    `json:"status"`
}

func resultSet(checkName string, issued int64) string {
	return checkName + ":" + strconv.FormatInt(issued, 10)
}

// Add records one client result in the aggregate for its check and issue time.
// Params: context, client name, and merged check.
// Returns: first store error.
func (a *Aggregator) Add(ctx context.Context, clientName string, check domain.Check) error {
	name := check.Name()
	issued := check.Issued()
	set := resultSet(name, issued)
	body, err := json.Marshal(clientResult{Output: check.Output(), Status: check.Status()})
	if err != nil {
		return fmt.Errorf("encode aggregate result: %w", err)
	}

	if err := a.store.HSet(ctx, "aggregation:"+set, clientName, string(body)); err != nil {
		return fmt.Errorf("store aggregation result: %w", err)
	}
	for _, severity := range domain.Severities {
		if _, err := a.store.HSetNX(ctx, "aggregate:"+set, severity, "0"); err != nil {
			return fmt.Errorf("init aggregate counter: %w", err)
		}
	}
	if _, err := a.store.HIncrBy(ctx, "aggregate:"+set, domain.SeverityName(check.Status()), 1); err != nil {
		return fmt.Errorf("increment aggregate severity: %w", err)
	}
	if _, err := a.store.HIncrBy(ctx, "aggregate:"+set, "total", 1); err != nil {
		return fmt.Errorf("increment aggregate total: %w", err)
	}
	if err := a.store.SAdd(ctx, "aggregates:"+name, strconv.FormatInt(issued, 10)); err != nil {
		return fmt.Errorf("track aggregate issued: %w", err)
	}
	if err := a.store.SAdd(ctx, "aggregates", name); err != nil {
		return fmt.Errorf("track aggregate check: %w", err)
	}
	return nil
}

// Prune keeps the newest MaxIssued issued timestamps of every aggregated check.
// Params: context.
// Returns: number of removed issued timestamps and joined store errors.
func (a *Aggregator) Prune(ctx context.Context) (int, error) {
	checks, err := a.store.SMembers(ctx, "aggregates")
	if err != nil {
		return 0, fmt.Errorf("list aggregated checks: %w", err)
	}
	removed := 0
	var errs []error
	for _, name := range checks {
		issued, err := a.store.SMembers(ctx, "aggregates:"+name)
		if err != nil {
			errs = append(errs, fmt.Errorf("list aggregates for %q: %w", name, err))
			continue
		}
		if len(issued) <= MaxIssued {
			continue
		}
		sortIssued(issued)
		for _, stale := range issued[:len(issued)-MaxIssued] {
			set := name + ":" + stale
			if err := a.store.SRem(ctx, "aggregates:"+name, stale); err != nil {
				errs = append(errs, err)
				continue
			}
			if err := a.store.Del(ctx, "aggregate:"+set, "aggregation:"+set); err != nil {
				errs = append(errs, err)
				continue
			}
			removed++
		}
	}
	metrics.AggregatesPruned.Add(float64(removed))
	return removed, errors.Join(errs...)
}

// sortIssued orders timestamps numerically; non-numeric members sort first.
func sortIssued(issued []string) {
	sort.SliceStable(issued, func(i, j int) bool {
		left, leftErr := strconv.ParseInt(issued[i], 10, 64)
		right, rightErr := strconv.ParseInt(issued[j], 10, 64)
		switch {
		case leftErr != nil && rightErr != nil:
			return issued[i] < issued[j]
		case leftErr != nil:
			return true
		case rightErr != nil:
			return false
		default:
			return left < right
		}
	})
}

// Run prunes on every tick until ctx is cancelled.
// Params: context and prune period.
// Returns: when ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := a.Prune(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("aggregate pruning failed", "error", err.Error())
			}
			if removed > 0 {
				a.logger.Debug("pruned aggregates", "removed", removed)
			}
		}
	}
}
