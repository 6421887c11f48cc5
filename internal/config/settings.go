package config

import (
	"strings"
	"time"

	"monitoring/internal/domain"
)

// Settings exposes named definitions as typed domain values.
// Params: normalized checks, handlers, filters, and mutators.
// Returns: read-only lookups shared by processing components.
type Settings struct {
	checks   map[string]domain.Check
	handlers map[string]domain.Handler
	filters  map[string]domain.Filter
	mutators map[string]domain.Mutator
}

// NewSettings normalizes named definitions from a validated config.
// Params: configuration snapshot (after LoadSnapshot/Parse).
// Returns: settings lookups.
func NewSettings(cfg Config) *Settings {
	settings := &Settings{
		checks:   make(map[string]domain.Check, len(cfg.Checks)),
		handlers: make(map[string]domain.Handler, len(cfg.Handlers)),
		filters:  make(map[string]domain.Filter, len(cfg.Filters)),
		mutators: make(map[string]domain.Mutator, len(cfg.Mutators)),
	}
	for name, check := range cfg.Checks {
		normalized := check.Clone()
		normalized["name"] = name
		settings.checks[name] = normalized
	}
	for name, raw := range cfg.Handlers {
		settings.handlers[name] = buildHandler(name, raw)
	}
	for name, raw := range cfg.Filters {
		settings.filters[name] = domain.Filter{
			Name:       name,
			Negate:     raw.Negate,
			Attributes: domain.Attributes(raw.Attributes).Clone(),
		}
	}
	for name, raw := range cfg.Mutators {
		settings.mutators[name] = domain.Mutator{
			Name:    name,
			Command: raw.Command,
			Timeout: time.Duration(raw.Timeout) * time.Second,
		}
	}
	return settings
}

// buildHandler converts raw handler table into the tagged handler variant.
// Params: handler name and raw config (type already validated).
// Returns: handler with exactly one kind payload.
func buildHandler(name string, raw HandlerConfig) domain.Handler {
	kind, _ := domain.ParseHandlerKind(raw.Type)
	handler := domain.Handler{
		Name:           name,
		Kind:           kind,
		Mutator:        strings.TrimSpace(raw.Mutator),
		Timeout:        time.Duration(raw.Timeout) * time.Second,
		Filters:        raw.FilterNames(),
		HandleFlapping: raw.HandleFlapping,
	}
	if raw.Severities != nil {
		handler.Severities = append([]string{}, raw.Severities...)
	}
	if raw.Subdue != nil {
		cond := domain.SubdueConditionFrom(raw.Subdue)
		handler.Subdue = &cond
	}
	switch kind {
	case domain.HandlerPipe:
		handler.Pipe = &domain.PipeTarget{Command: raw.Command}
	case domain.HandlerTCP, domain.HandlerUDP:
		handler.Socket = &domain.SocketTarget{Host: raw.Socket.Host, Port: raw.Socket.Port}
	case domain.HandlerTransport:
		exchange := domain.Attributes(raw.Exchange)
		target := &domain.ExchangeTarget{Options: make(map[string]any)}
		target.Name, _ = exchange.String("name")
		target.Type, _ = exchange.String("type")
		if target.Type == "" {
			target.Type = "direct"
		}
		for key, value := range exchange {
			if key == "name" || key == "type" {
				continue
			}
			target.Options[key] = value
		}
		handler.Exchange = target
	case domain.HandlerSet:
		handler.Set = &domain.SetTarget{Handlers: append([]string(nil), raw.Handlers...)}
	}
	return handler
}

// Check returns a copy of the named check definition.
// Params: check name.
// Returns: check and presence flag.
func (s *Settings) Check(name string) (domain.Check, bool) {
	check, ok := s.checks[name]
	if !ok {
		return nil, false
	}
	return check.Clone(), true
}

// Checks returns copies of all check definitions ordered by name.
// Params: none.
// Returns: check list.
func (s *Settings) Checks() []domain.Check {
	names := sortedKeys(s.checks)
	out := make([]domain.Check, 0, len(names))
	for _, name := range names {
		out = append(out, s.checks[name].Clone())
	}
	return out
}

// Handler returns named handler definition.
func (s *Settings) Handler(name string) (domain.Handler, bool) {
	handler, ok := s.handlers[name]
	return handler, ok
}

// Filter returns named filter definition.
func (s *Settings) Filter(name string) (domain.Filter, bool) {
	filter, ok := s.filters[name]
	return filter, ok
}

// Mutator returns named mutator definition.
func (s *Settings) Mutator(name string) (domain.Mutator, bool) {
	mutator, ok := s.mutators[name]
	return mutator, ok
}

// HandlerNames lists configured handler names.
func (s *Settings) HandlerNames() []string {
	return sortedKeys(s.handlers)
}
