package filter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"monitoring/internal/domain"
)

type filterMap map[string]domain.Filter

func (m filterMap) Filter(name string) (domain.Filter, bool) {
	filter, ok := m[name]
	return filter, ok
}

type failingEvaluator struct{}

func (failingEvaluator) Eval(context.Context, string, any) (bool, error) {
	return false, errors.New("syntax error")
}

func testEvent() domain.Attributes {
	return domain.Event{
		Client: domain.Client{"name": "web01", "environment": "production"},
		Check:  domain.Check{"name": "disk", "status": 2, "output": "DISK CRITICAL"},
		Action: domain.ActionCreate,
	}.Attributes()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMatchesNestedAndEval(t *testing.T) {
	t.Parallel()

	engine := NewEngine(filterMap{}, NewOttoEvaluator(time.Second), quietLogger())
	ctx := context.Background()
	event := testEvent()

	cases := []struct {
		name    string
		pattern domain.Attributes
		want    bool
	}{
		{name: "nested equality", pattern: domain.Attributes{"client": map[string]any{"environment": "production"}}, want: true},
		{name: "numeric equality across types", pattern: domain.Attributes{"check": map[string]any{"status": int64(2)}}, want: true},
		{name: "nested mismatch", pattern: domain.Attributes{"client": map[string]any{"environment": "staging"}}, want: false},
		{name: "eval true", pattern: domain.Attributes{"check": map[string]any{"status": "eval: value > 1"}}, want: true},
		{name: "eval false", pattern: domain.Attributes{"check": map[string]any{"status": "eval:value == 0"}}, want: false},
		{name: "eval error fails closed", pattern: domain.Attributes{"check": map[string]any{"status": "eval: value >"}}, want: false},
		{name: "conjunction", pattern: domain.Attributes{"action": "create", "occurrences": 1}, want: false},
		{name: "empty pattern", pattern: domain.Attributes{}, want: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := engine.Matches(ctx, tc.pattern, event); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestFilteredNegateAndUnknown(t *testing.T) {
	t.Parallel()

	filters := filterMap{
		"production": {Name: "production", Attributes: domain.Attributes{"client": map[string]any{"environment": "production"}}},
		"not_production": {
			Name:       "not_production",
			Negate:     true,
			Attributes: domain.Attributes{"client": map[string]any{"environment": "production"}},
		},
		"broken": {Name: "broken", Attributes: domain.Attributes{"check": map[string]any{"status": "eval: nope("}}},
	}
	engine := NewEngine(filters, failingEvaluator{}, quietLogger())
	ctx := context.Background()
	event := testEvent()

	if engine.Filtered(ctx, "production", event) {
		t.Fatalf("matching non-negated filter must not suppress")
	}
	if !engine.Filtered(ctx, "not_production", event) {
		t.Fatalf("matching negated filter must suppress")
	}
	if engine.Filtered(ctx, "missing", event) {
		t.Fatalf("unknown filter must not suppress")
	}
	if !engine.Filtered(ctx, "broken", event) {
		t.Fatalf("eval error is a non-match so a plain filter suppresses")
	}
}

func TestOttoEvaluatorTimeout(t *testing.T) {
	t.Parallel()

	evaluator := NewOttoEvaluator(50 * time.Millisecond)
	_, err := evaluator.Eval(context.Background(), "while (true) {}", 1)
	if !errors.Is(err, ErrEvalTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}

	matched, err := evaluator.Eval(context.Background(), "value.indexOf('CRIT') >= 0", "DISK CRITICAL")
	if err != nil || !matched {
		t.Fatalf("expected string expression to match: matched=%v err=%v", matched, err)
	}
}
