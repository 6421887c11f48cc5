package filter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robertkrimen/otto"
)

// ErrEvalTimeout reports an expression interrupted by the sandbox deadline.
var ErrEvalTimeout = errors.New("filter expression timed out")

var halt = errors.New("halt")

// Evaluator runs one filter expression against a single value.
type Evaluator interface {
	Eval(ctx context.Context, expression string, value any) (bool, error)
}

// OttoEvaluator evaluates JavaScript expressions with the event value bound to `value`.
// Params: per-expression timeout (zero disables the deadline).
// Returns: evaluator backed by a fresh otto VM per call.
type OttoEvaluator struct {
	Timeout time.Duration
}

// NewOttoEvaluator creates sandboxed expression evaluator.
func NewOttoEvaluator(timeout time.Duration) *OttoEvaluator {
	return &OttoEvaluator{Timeout: timeout}
}

// Eval runs expression and converts its result to a boolean.
// Params: context (cancellation interrupts the VM), expression source, and bound value.
// Returns: truthiness of the result, or evaluation/timeout error.
func (e *OttoEvaluator) Eval(ctx context.Context, expression string, value any) (matched bool, err error) {
	vm := otto.New()
	vm.Interrupt = make(chan func(), 1)

	defer func() {
		if caught := recover(); caught != nil {
			if caught == halt {
				matched, err = false, ErrEvalTimeout
				return
			}
			panic(caught)
		}
	}()

	interrupt := func() {
		select {
		case vm.Interrupt <- func() { panic(halt) }:
		default:
		}
	}
	done := make(chan struct{})
	defer close(done)
	var deadline <-chan time.Time
	if e.Timeout > 0 {
		timer := time.NewTimer(e.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	go func() {
		select {
		case <-done:
		case <-ctx.Done():
			interrupt()
		case <-deadline:
			interrupt()
		}
	}()

	if err := vm.Set("value", value); err != nil {
		return false, fmt.Errorf("bind value: %w", err)
	}
	result, err := vm.Run(expression)
	if err != nil {
		return false, fmt.Errorf("run expression: %w", err)
	}
	matched, err = result.ToBoolean()
	if err != nil {
		return false, fmt.Errorf("convert result: %w", err)
	}
	return matched, nil
}
