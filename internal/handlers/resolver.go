package handlers

import (
	"context"
	"log/slog"

	"monitoring/internal/clock"
	"monitoring/internal/domain"
	"monitoring/internal/subdue"
)

// Source looks up handler definitions by name.
type Source interface {
	Handler(name string) (domain.Handler, bool)
}

// FilterEngine decides whether a named filter suppresses an event.
type FilterEngine interface {
	Filtered(ctx context.Context, name string, event domain.Attributes) bool
}

// Resolver expands handler names and selects the handlers applicable to an event.
// Params: settings and extension handler sources, filter engine, clock, and logger.
// Returns: resolver used by the result processor.
type Resolver struct {
	settings   Source
	extensions Source
	filters    FilterEngine
	clock      clock.Clock
	logger     *slog.Logger
}

// NewResolver creates handler resolver.
// Params: settings source, extension source (may be nil), filter engine, clock, and logger.
// Returns: resolver.
func NewResolver(settings, extensions Source, filters FilterEngine, clk clock.Clock, logger *slog.Logger) *Resolver {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{settings: settings, extensions: extensions, filters: filters, clock: clk, logger: logger}
}

// lookup finds a handler in settings first, then in extensions.
func (r *Resolver) lookup(name string) (domain.Handler, bool) {
	if r.settings != nil {
		if handler, ok := r.settings.Handler(name); ok {
			handler.Name = name
			return handler, true
		}
	}
	if r.extensions != nil {
		if handler, ok := r.extensions.Handler(name); ok {
			return handler, true
		}
	}
	return domain.Handler{}, false
}

// Resolve expands names into concrete handlers.
// Params: handler names in declaration order.
// Returns: handlers deduplicated by name; sets are expanded once and unknown names skipped.
func (r *Resolver) Resolve(names []string) []domain.Handler {
	var (
		out      []domain.Handler
		seen     = make(map[string]struct{})
		expanded = make(map[string]struct{})
		pending  = append([]string(nil), names...)
	)
	for len(pending) > 0 {
		name := pending[0]
		pending = pending[1:]

		handler, ok := r.lookup(name)
		if !ok {
			r.logger.Error("unknown handler", "handler_name", name)
			continue
		}
		if handler.Kind == domain.HandlerSet {
			if _, done := expanded[name]; done {
				continue
			}
			expanded[name] = struct{}{}
			var nested []string
			if handler.Set != nil {
				nested = handler.Set.Handlers
			}
			pending = append(append([]string(nil), nested...), pending...)
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, handler)
	}
	return out
}

// Select keeps the handlers that accept the event.
// Params: context, event, and candidate handlers.
// Returns: handlers passing flapping, subdue, severity, and filter checks.
func (r *Resolver) Select(ctx context.Context, event domain.Event, candidates []domain.Handler) []domain.Handler {
	now := r.clock.Now()
	var attrs domain.Attributes
	selected := make([]domain.Handler, 0, len(candidates))
	for _, handler := range candidates {
		if event.Action == domain.ActionFlapping && !handler.HandleFlapping {
			r.logger.Info("handler does not handle flapping events", "handler", handler.Name, "check", event.Check.Name())
			continue
		}
		if subdue.HandlerSubdued(handler, event.Check, now) {
			r.logger.Info("handler is subdued", "handler", handler.Name, "check", event.Check.Name())
			continue
		}
		if handler.HasSeverities() && !handlesSeverity(handler, event) {
			r.logger.Debug("handler does not handle event severity", "handler", handler.Name, "check", event.Check.Name())
			continue
		}
		if len(handler.Filters) > 0 && r.filters != nil {
			if attrs == nil {
				attrs = event.Attributes()
			}
			if r.filtered(ctx, handler, attrs) {
				r.logger.Info("event filtered for handler", "handler", handler.Name, "check", event.Check.Name())
				continue
			}
		}
		selected = append(selected, handler)
	}
	return selected
}

// filtered reports whether any handler filter suppresses the event.
func (r *Resolver) filtered(ctx context.Context, handler domain.Handler, attrs domain.Attributes) bool {
	for _, name := range handler.Filters {
		if r.filters.Filtered(ctx, name, attrs) {
			return true
		}
	}
	return false
}

// Handlers resolves the check's handler names and selects applicable handlers.
// Params: context and event.
// Returns: handlers to dispatch to.
func (r *Resolver) Handlers(ctx context.Context, event domain.Event) []domain.Handler {
	return r.Select(ctx, event, r.Resolve(event.Check.HandlerNames()))
}

// handlesSeverity applies the handler severity list to the event.
// Params: handler with severities and event.
// Returns: true when an effective severity is listed.
func handlesSeverity(handler domain.Handler, event domain.Event) bool {
	if event.Action != domain.ActionResolve {
		return handler.HandlesSeverity(domain.SeverityName(event.Check.Status()))
	}
	for _, severity := range ResolvedSeverities(event.Check.History()) {
		if handler.HandlesSeverity(severity) {
			return true
		}
	}
	return false
}

// ResolvedSeverities lists the severities a resolve event recovers from.
// Params: status history oldest to newest, current status last.
// Returns: severities of prior statuses newest first, up to the most recent ok.
func ResolvedSeverities(history []int) []string {
	var out []string
	for i := len(history) - 2; i >= 0; i-- {
		if history[i] == domain.StatusOK {
			break
		}
		out = append(out, domain.SeverityName(history[i]))
	}
	return out
}
