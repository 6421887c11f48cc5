package filter

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"monitoring/internal/domain"
	"monitoring/internal/metrics"
)

const evalPrefix = "eval:"

var evalPrefixPattern = regexp.MustCompile(`^eval:\s*`)

// Source looks up named filter definitions.
type Source interface {
	Filter(name string) (domain.Filter, bool)
}

// Engine matches attribute patterns against events.
// Params: filter definitions, expression evaluator, and logger.
// Returns: filter matcher used by handler selection.
type Engine struct {
	filters   Source
	evaluator Evaluator
	logger    *slog.Logger
}

// NewEngine creates filter engine.
// Params: filter source, evaluator (nil disables eval: patterns), and logger.
// Returns: engine.
func NewEngine(filters Source, evaluator Evaluator, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{filters: filters, evaluator: evaluator, logger: logger}
}

// Matches reports whether every pattern key matches the event attributes.
// Params: context, pattern map, and event attribute map.
// Returns: conjunction of per-key matches; keys absent from pattern are ignored.
func (e *Engine) Matches(ctx context.Context, pattern, event domain.Attributes) bool {
	for key, want := range pattern {
		got := event[key]
		if domain.Equal(want, got) {
			continue
		}
		wantMap, wantIsMap := domain.AsAttributes(want)
		gotMap, gotIsMap := domain.AsAttributes(got)
		if wantIsMap && gotIsMap {
			if e.Matches(ctx, wantMap, gotMap) {
				continue
			}
			return false
		}
		if expression, ok := want.(string); ok && strings.HasPrefix(expression, evalPrefix) {
			if e.eval(ctx, evalPrefixPattern.ReplaceAllString(expression, ""), got) {
				continue
			}
			return false
		}
		return false
	}
	return true
}

// eval runs one eval: expression; errors are logged and count as non-match.
func (e *Engine) eval(ctx context.Context, expression string, value any) bool {
	if e.evaluator == nil {
		e.logger.Error("filter eval error", "expression", expression, "error", "no evaluator configured")
		return false
	}
	matched, err := e.evaluator.Eval(ctx, expression, value)
	if err != nil {
		metrics.FilterEvalErrors.Inc()
		e.logger.Error("filter eval error", "expression", expression, "value", value, "error", err.Error())
		return false
	}
	return matched
}

// Filtered reports whether the named filter suppresses the event.
// Params: context, filter name, and event attributes.
// Returns: negate ? matched : !matched; unknown filters never suppress.
func (e *Engine) Filtered(ctx context.Context, name string, event domain.Attributes) bool {
	definition, ok := e.filters.Filter(name)
	if !ok {
		e.logger.Error("unknown filter", "filter_name", name)
		return false
	}
	matched := e.Matches(ctx, definition.Attributes, event)
	if definition.Negate {
		return matched
	}
	return !matched
}
