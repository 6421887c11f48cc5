// Package keepalive turns missing client keepalives into keepalive check results.
package keepalive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"monitoring/internal/clock"
	"monitoring/internal/domain"
	"monitoring/internal/metrics"
	"monitoring/internal/state"
	"monitoring/internal/transport"
)

const (
	// CheckName is the name of results produced for client keepalives.
	CheckName = "keepalive"
	// ResultsExchange receives check results.
	ResultsExchange = "results"

	defaultWarning  = 120
	defaultCritical = 180
)

// Publisher sends results to transport exchanges.
type Publisher interface {
	Publish(ctx context.Context, exchange transport.Exchange, payload []byte) error
}

// Monitor publishes keepalive results for every registered client.
// Params: state store, result publisher, clock, and logger.
// Returns: master-only stale client monitor.
type Monitor struct {
	store     state.Store
	publisher Publisher
	clock     clock.Clock
	logger    *slog.Logger
}

// New creates monitor.
func New(store state.Store, publisher Publisher, clk clock.Clock, logger *slog.Logger) *Monitor {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{store: store, publisher: publisher, clock: clk, logger: logger}
}

// Evaluate builds the keepalive check for client at now.
// Params: registered client and current time.
// Returns: keepalive check with status and output set from thresholds.
func Evaluate(client domain.Client, now time.Time) domain.Check {
	base := domain.Attributes{
		"thresholds": map[string]any{"warning": int64(defaultWarning), "critical": int64(defaultCritical)},
	}
	if overrides, ok := client.Keepalive(); ok {
		base = domain.DeepMerge(base, overrides)
	}
	check := domain.Check(base)
	check["name"] = CheckName
	check["issued"] = now.Unix()
	check["executed"] = now.Unix()

	thresholds, _ := base.Map("thresholds")
	warning, ok := thresholds.Int("warning")
	if !ok {
		warning = defaultWarning
	}
	critical, ok := thresholds.Int("critical")
	if !ok {
		critical = defaultCritical
	}

	since := now.Unix() - client.Timestamp()
	switch {
	case since >= critical:
		check["output"] = fmt.Sprintf("No keep-alive sent from client in over %d seconds", critical)
		check["status"] = domain.StatusCritical
	case since >= warning:
		check["output"] = fmt.Sprintf("No keep-alive sent from client in over %d seconds", warning)
		check["status"] = domain.StatusWarning
	default:
		check["output"] = fmt.Sprintf("Keep-alive sent from client less than %d seconds ago", warning)
		check["status"] = domain.StatusOK
	}
	return check
}

// DetermineStale publishes one keepalive result per registered client.
// Params: context.
// Returns: joined store and publish errors.
func (m *Monitor) DetermineStale(ctx context.Context) error {
	m.logger.Info("determining stale clients")
	names, err := m.store.SMembers(ctx, "clients")
	if err != nil {
		return fmt.Errorf("list clients: %w", err)
	}
	now := m.clock.Now()
	var errs []error
	for _, name := range names {
		raw, err := m.store.Get(ctx, "client:"+name)
		if errors.Is(err, state.ErrNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("load client %q: %w", name, err))
			continue
		}
		client, err := domain.DecodeClient([]byte(raw))
		if err != nil {
			m.logger.Warn("skipping unreadable client", "client", name, "error", err.Error())
			continue
		}
		check := Evaluate(client, now)
		if err := m.publish(ctx, client, check); err != nil {
			errs = append(errs, err)
			continue
		}
		metrics.StaleClientResults.WithLabelValues(domain.SeverityName(check.Status())).Inc()
	}
	return errors.Join(errs...)
}

func (m *Monitor) publish(ctx context.Context, client domain.Client, check domain.Check) error {
	payload, err := json.Marshal(domain.Result{Client: client.Name(), Check: check})
	if err != nil {
		return fmt.Errorf("encode keepalive result: %w", err)
	}
	m.logger.Debug("publishing check result", "client", client.Name(), "check", CheckName, "status", check.Status())
	exchange := transport.Exchange{Name: ResultsExchange, Type: transport.ExchangeDirect}
	if err := m.publisher.Publish(ctx, exchange, payload); err != nil {
		return fmt.Errorf("publish keepalive result for %q: %w", client.Name(), err)
	}
	return nil
}

// Run determines stale clients on every tick until ctx is cancelled.
// Params: context and check period.
// Returns: when ctx is cancelled.
func (m *Monitor) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.DetermineStale(ctx); err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Error("stale client check failed", "error", err.Error())
			}
		}
	}
}
