// Package schedule publishes check requests to subscribed clients.
package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"monitoring/internal/clock"
	"monitoring/internal/domain"
	"monitoring/internal/metrics"
	"monitoring/internal/subdue"
	"monitoring/internal/transport"

	"github.com/robfig/cron/v3"
)

const (
	// StaggerUnit spreads first fires of consecutive checks.
	StaggerUnit = 2 * time.Second
	// StaggerWindow bounds the first-fire delay.
	StaggerWindow = 30 * time.Second
	// TestingInterval replaces every check period in testing mode.
	TestingInterval = 500 * time.Millisecond
)

// CheckSource lists check definitions.
type CheckSource interface {
	Checks() []domain.Check
}

// Publisher sends check requests to transport exchanges.
type Publisher interface {
	Publish(ctx context.Context, exchange transport.Exchange, payload []byte) error
}

// Options wires scheduler collaborators.
type Options struct {
	Settings   CheckSource
	Extensions CheckSource
	Publisher  Publisher
	Clock      clock.Clock
	Testing    bool
	Logger     *slog.Logger
}

// Scheduler fires check requests on interval or cron schedules.
// Params: configured and extension checks, publisher, clock, and testing flag.
// Returns: master-only check request publisher.
type Scheduler struct {
	settings   CheckSource
	extensions CheckSource
	publisher  Publisher
	clock      clock.Clock
	testing    bool
	logger     *slog.Logger
}

// New creates scheduler.
func New(opts Options) *Scheduler {
	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		settings:   opts.Settings,
		extensions: opts.Extensions,
		publisher:  opts.Publisher,
		clock:      clk,
		testing:    opts.Testing,
		logger:     logger,
	}
}

// Delay returns the first-fire delay of the n-th scheduled check (1-based).
// Params: check position and stagger unit.
// Returns: (unit * n) mod StaggerWindow.
func Delay(n int, unit time.Duration) time.Duration {
	return (unit * time.Duration(n)) % StaggerWindow
}

// Checks returns the checks the scheduler publishes requests for.
// Params: none.
// Returns: configured checks followed by extension checks with an integer interval.
func (s *Scheduler) Checks() []domain.Check {
	var out []domain.Check
	if s.settings != nil {
		for _, check := range s.settings.Checks() {
			if check.Standalone() || !check.Publish() {
				continue
			}
			out = append(out, check)
		}
	}
	if s.extensions != nil {
		for _, check := range s.extensions.Checks() {
			if check.Standalone() || !check.Publish() {
				continue
			}
			if _, ok := check.Interval(); !ok {
				continue
			}
			out = append(out, check)
		}
	}
	return out
}

// Run schedules every check until ctx is cancelled.
// Params: context owning all check timers.
// Returns: after ctx is cancelled and no timer can fire anymore.
func (s *Scheduler) Run(ctx context.Context) {
	unit := StaggerUnit
	if s.testing {
		unit = 0
	}
	var wg sync.WaitGroup
	for i, check := range s.Checks() {
		delay := Delay(i+1, unit)
		if expr := check.Cron(); expr != "" && !s.testing {
			if _, ok := check.Interval(); !ok {
				schedule, err := cron.ParseStandard(expr)
				if err != nil {
					s.logger.Error("invalid check cron", "check", check.Name(), "cron", expr, "error", err.Error())
					continue
				}
				wg.Add(1)
				go func(check domain.Check) {
					defer wg.Done()
					s.runCron(ctx, check, schedule)
				}(check)
				continue
			}
		}
		period := TestingInterval
		if !s.testing {
			interval, _ := check.Interval()
			if interval <= 0 {
				s.logger.Error("check has no usable interval", "check", check.Name())
				continue
			}
			period = time.Duration(interval) * time.Second
		}
		wg.Add(1)
		go func(check domain.Check) {
			defer wg.Done()
			s.runInterval(ctx, check, delay, period)
		}(check)
	}
	<-ctx.Done()
	wg.Wait()
}

func (s *Scheduler) runInterval(ctx context.Context, check domain.Check, delay, period time.Duration) {
	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Fire(ctx, check)
		}
	}
}

func (s *Scheduler) runCron(ctx context.Context, check domain.Check, schedule cron.Schedule) {
	for {
		now := s.clock.Now()
		timer := time.NewTimer(schedule.Next(now).Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.Fire(ctx, check)
		}
	}
}

// Fire publishes one request for check unless it is subdued at the publisher.
// Params: context and check definition.
// Returns: none; publish failures are logged per exchange.
func (s *Scheduler) Fire(ctx context.Context, check domain.Check) {
	now := s.clock.Now()
	if subdue.PublisherSubdued(check, now) {
		metrics.CheckRequestsPublished.WithLabelValues("subdued").Inc()
		s.logger.Info("check request was subdued", "check", check.Name())
		return
	}
	if err := s.Publish(ctx, check, now); err != nil {
		s.logger.Error("failed to encode check request", "check", check.Name(), "error", err.Error())
	}
}

// Publish fans a check request out to every subscriber exchange.
// Params: context, check definition, and issue time.
// Returns: encode error; publish failures are logged and counted.
func (s *Scheduler) Publish(ctx context.Context, check domain.Check, issued time.Time) error {
	request := domain.CheckRequest{Name: check.Name(), Issued: issued.Unix()}
	if command, ok := check.Command(); ok {
		request.Command = command
	}
	payload, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("encode check request: %w", err)
	}
	subscribers := check.Subscribers()
	s.logger.Info("publishing check request", "check", request.Name, "issued", request.Issued, "subscribers", subscribers)
	for _, name := range subscribers {
		exchange := transport.Exchange{Name: name, Type: transport.ExchangeFanout}
		if err := s.publisher.Publish(ctx, exchange, payload); err != nil {
			metrics.CheckRequestsPublished.WithLabelValues("error").Inc()
			s.logger.Error("failed to publish check request", "exchange", name, "check", request.Name, "error", err.Error())
			continue
		}
		metrics.CheckRequestsPublished.WithLabelValues("ok").Inc()
	}
	return nil
}
