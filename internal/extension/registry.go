package extension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"monitoring/internal/domain"
)

// CheckExtension is an in-process check with its own definition.
type CheckExtension interface {
	domain.Runner
	Definition() domain.Check
}

// Stopper is implemented by extensions holding resources.
type Stopper interface {
	Stop(ctx context.Context) error
}

// Registry holds loaded handler, mutator, and check extensions.
// Params: name-keyed extension maps guarded by one lock.
// Returns: lookup surface for resolver, dispatcher, and scheduler.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]domain.Runner
	mutators map[string]domain.Runner
	checks   map[string]CheckExtension
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handlers: make(map[string]domain.Runner),
		mutators: make(map[string]domain.Runner),
		checks:   make(map[string]CheckExtension),
		logger:   logger,
	}
}

// NewDefault creates a registry preloaded with the built-in extensions.
// Params: logger shared with built-ins.
// Returns: registry with debug handler and only_check_output mutator.
func NewDefault(logger *slog.Logger) *Registry {
	registry := NewRegistry(logger)
	_ = registry.RegisterHandler(NewDebugHandler(registry.logger))
	_ = registry.RegisterMutator(OnlyCheckOutput{})
	return registry
}

// RegisterHandler adds a handler extension.
// Params: runner with unique name.
// Returns: error for empty or duplicate names.
func (r *Registry) RegisterHandler(runner domain.Runner) error {
	return r.register(r.handlers, "handler", runner)
}

// RegisterMutator adds a mutator extension.
func (r *Registry) RegisterMutator(runner domain.Runner) error {
	return r.register(r.mutators, "mutator", runner)
}

// RegisterCheck adds a check extension.
func (r *Registry) RegisterCheck(check CheckExtension) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := check.Name()
	if name == "" {
		return errors.New("check extension name is required")
	}
	if _, exists := r.checks[name]; exists {
		return fmt.Errorf("check extension %q already registered", name)
	}
	r.checks[name] = check
	return nil
}

func (r *Registry) register(target map[string]domain.Runner, category string, runner domain.Runner) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := runner.Name()
	if name == "" {
		return fmt.Errorf("%s extension name is required", category)
	}
	if _, exists := target[name]; exists {
		return fmt.Errorf("%s extension %q already registered", category, name)
	}
	target[name] = runner
	return nil
}

// Handler returns the named handler extension as a handler definition.
// Params: handler name.
// Returns: extension-kind handler and presence flag.
func (r *Registry) Handler(name string) (domain.Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	runner, ok := r.handlers[name]
	if !ok {
		return domain.Handler{}, false
	}
	return domain.Handler{Name: name, Kind: domain.HandlerExtension, Extension: runner}, true
}

// Mutator returns the named mutator extension.
func (r *Registry) Mutator(name string) (domain.Runner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	runner, ok := r.mutators[name]
	return runner, ok
}

// Checks returns check extension definitions ordered by name.
// Params: none.
// Returns: check definitions with the extension name filled in.
func (r *Registry) Checks() []domain.Check {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.checks))
	for name := range r.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]domain.Check, 0, len(names))
	for _, name := range names {
		definition := r.checks[name].Definition().Clone()
		definition["name"] = name
		out = append(out, definition)
	}
	return out
}

// StopAll stops every extension implementing Stopper.
// Params: context bounding the stop calls.
// Returns: joined stop errors.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.RLock()
	var stoppers []Stopper
	for _, group := range []map[string]domain.Runner{r.handlers, r.mutators} {
		for _, runner := range group {
			if stopper, ok := runner.(Stopper); ok {
				stoppers = append(stoppers, stopper)
			}
		}
	}
	for _, check := range r.checks {
		if stopper, ok := check.(Stopper); ok {
			stoppers = append(stoppers, stopper)
		}
	}
	r.mu.RUnlock()

	var errs []error
	for _, stopper := range stoppers {
		if err := stopper.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
