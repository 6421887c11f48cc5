package process

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"monitoring/internal/domain"
	"monitoring/internal/flap"
	"monitoring/internal/metrics"
	"monitoring/internal/permanent"
	"monitoring/internal/state"
)

// CheckSource looks up configured check definitions.
type CheckSource interface {
	Check(name string) (domain.Check, bool)
}

// Aggregator records aggregate-flagged results.
type Aggregator interface {
	Add(ctx context.Context, clientName string, check domain.Check) error
}

// EventHandler receives events selected for dispatch.
type EventHandler interface {
	Handle(ctx context.Context, event domain.Event)
}

// Processor turns check results into open-event ledger updates and dispatches.
// Params: state store, check settings, aggregator, event handler, and logger.
// Returns: result and keepalive processor.
type Processor struct {
	store      state.Store
	checks     CheckSource
	aggregator Aggregator
	handler    EventHandler
	logger     *slog.Logger
}

// New creates processor.
// Params: store, check source, aggregator, event handler, and logger.
// Returns: processor.
func New(store state.Store, checks CheckSource, aggregator Aggregator, handler EventHandler, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:      store,
		checks:     checks,
		aggregator: aggregator,
		handler:    handler,
		logger:     logger,
	}
}

// decision is the outcome of one result against the open event ledger.
type decision struct {
	upsert   bool
	resolve  bool
	dispatch bool
	event    domain.Event
}

// ProcessKeepalive registers a client from its keepalive payload.
// Params: context and decoded client.
// Returns: store error.
func (p *Processor) ProcessKeepalive(ctx context.Context, client domain.Client) error {
	body, err := json.Marshal(client)
	if err != nil {
		return fmt.Errorf("encode client: %w", err)
	}
	name := client.Name()
	if err := p.store.Set(ctx, "client:"+name, string(body)); err != nil {
		return fmt.Errorf("store client %q: %w", name, err)
	}
	if err := p.store.SAdd(ctx, "clients", name); err != nil {
		return fmt.Errorf("register client %q: %w", name, err)
	}
	metrics.KeepalivesProcessed.Inc()
	return nil
}

// ProcessResult records one check result and dispatches the resulting event.
// Params: context and validated result.
// Returns: store error; results from unknown clients are dropped without error.
func (p *Processor) ProcessResult(ctx context.Context, result domain.Result) error {
	client, err := p.client(ctx, result.Client)
	if errors.Is(err, state.ErrNotFound) {
		metrics.ResultsProcessed.WithLabelValues("unknown_client").Inc()
		p.logger.Debug("result dropped for unknown client", "client", result.Client, "check", result.Check.Name())
		return nil
	}
	if err != nil {
		metrics.ResultsProcessed.WithLabelValues("error").Inc()
		return err
	}

	check := result.Check.Clone()
	if definition, ok := p.checks.Check(check.Name()); ok {
		check = definition.Merge(check)
	}
	if check.Aggregate() && p.aggregator != nil {
		if err := p.aggregator.Add(ctx, client.Name(), check); err != nil {
			metrics.ResultsProcessed.WithLabelValues("error").Inc()
			return err
		}
	}

	history, err := p.recordHistory(ctx, client.Name(), check)
	if err != nil {
		metrics.ResultsProcessed.WithLabelValues("error").Inc()
		return err
	}
	check["history"] = history

	previous, found, err := p.openEvent(ctx, client.Name(), check.Name())
	if err != nil {
		metrics.ResultsProcessed.WithLabelValues("error").Inc()
		return err
	}

	flapping := false
	if low, high, ok := check.FlapThresholds(); ok {
		flapping = flap.Next(flap.Thresholds{Low: low, High: high, Configured: true}, found && previous.Flapping, history)
	}

	d := decide(client, check, previous, found, flapping)
	if err := p.apply(ctx, d); err != nil {
		metrics.ResultsProcessed.WithLabelValues("error").Inc()
		return err
	}
	metrics.ResultsProcessed.WithLabelValues("ok").Inc()
	return nil
}

// decide applies the open event decision table.
// Params: client, merged check with history, prior open event, and new flapping flag.
// Returns: ledger and dispatch decision.
func decide(client domain.Client, check domain.Check, previous domain.OpenEvent, found, flapping bool) decision {
	event := domain.Event{Client: client, Check: check, Occurrences: 1}
	status := check.Status()

	switch {
	case status != domain.StatusOK || flapping:
		if found && previous.Status == status {
			event.Occurrences = previous.Occurrences + 1
		}
		event.Action = domain.ActionCreate
		if flapping {
			event.Action = domain.ActionFlapping
		}
		return decision{upsert: true, dispatch: check.Handle(), event: event}
	case found:
		if !check.AutoResolve() && !check.ForceResolve() {
			return decision{event: event}
		}
		event.Occurrences = previous.Occurrences
		event.Action = domain.ActionResolve
		return decision{resolve: true, dispatch: check.Handle(), event: event}
	case check.Type() == domain.CheckTypeMetric:
		event.Action = domain.ActionCreate
		return decision{dispatch: true, event: event}
	default:
		return decision{event: event}
	}
}

func (p *Processor) apply(ctx context.Context, d decision) error {
	clientName := d.event.Client.Name()
	check := d.event.Check
	switch {
	case d.upsert:
		body, err := json.Marshal(domain.OpenEvent{
			Output:      check.Output(),
			Status:      check.Status(),
			Issued:      check.Issued(),
			Handlers:    check.HandlerNames(),
			Flapping:    d.event.Action == domain.ActionFlapping,
			Occurrences: d.event.Occurrences,
		})
		if err != nil {
			return fmt.Errorf("encode open event: %w", err)
		}
		if err := p.store.HSet(ctx, "events:"+clientName, check.Name(), string(body)); err != nil {
			return fmt.Errorf("store open event: %w", err)
		}
	case d.resolve:
		if err := p.store.HDel(ctx, "events:"+clientName, check.Name()); err != nil {
			return fmt.Errorf("delete open event: %w", err)
		}
	}
	if d.dispatch && p.handler != nil {
		p.handler.Handle(ctx, d.event)
	}
	return nil
}

func (p *Processor) client(ctx context.Context, name string) (domain.Client, error) {
	raw, err := p.store.Get(ctx, "client:"+name)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load client %q: %w", name, err)
	}
	client, err := domain.DecodeClient([]byte(raw))
	if err != nil {
		return nil, permanent.Mark("client", fmt.Errorf("load client %q: %w", name, err))
	}
	return client, nil
}

// recordHistory appends the status and returns the trimmed history window.
// Params: context, client name, and merged check.
// Returns: statuses oldest to newest, at most flap.HistorySize entries.
func (p *Processor) recordHistory(ctx context.Context, clientName string, check domain.Check) ([]int, error) {
	name := check.Name()
	if err := p.store.SAdd(ctx, "history:"+clientName, name); err != nil {
		return nil, fmt.Errorf("track history: %w", err)
	}
	key := "history:" + clientName + ":" + name
	if _, err := p.store.RPush(ctx, key, strconv.Itoa(check.Status())); err != nil {
		return nil, fmt.Errorf("append history: %w", err)
	}
	if err := p.store.Set(ctx, "execution:"+clientName+":"+name, strconv.FormatInt(check.Executed(), 10)); err != nil {
		return nil, fmt.Errorf("store execution time: %w", err)
	}
	raw, err := p.store.LRange(ctx, key, -flap.HistorySize, -1)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	if len(raw) >= flap.HistorySize {
		if err := p.store.LTrim(ctx, key, -flap.HistorySize, -1); err != nil {
			return nil, fmt.Errorf("trim history: %w", err)
		}
	}
	history := make([]int, 0, len(raw))
	for _, item := range raw {
		status, err := strconv.Atoi(item)
		if err != nil {
			status = domain.StatusUnknown
		}
		history = append(history, status)
	}
	return history, nil
}

func (p *Processor) openEvent(ctx context.Context, clientName, checkName string) (domain.OpenEvent, bool, error) {
	raw, err := p.store.HGet(ctx, "events:"+clientName, checkName)
	if errors.Is(err, state.ErrNotFound) {
		return domain.OpenEvent{}, false, nil
	}
	if err != nil {
		return domain.OpenEvent{}, false, fmt.Errorf("load open event: %w", err)
	}
	var event domain.OpenEvent
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		p.logger.Warn("discarding unreadable open event", "client", clientName, "check", checkName, "error", err.Error())
		return domain.OpenEvent{}, false, nil
	}
	return event, true, nil
}
