package extension

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"monitoring/internal/domain"
)

// DebugHandler logs event data and echoes it as output.
type DebugHandler struct {
	logger *slog.Logger
}

// NewDebugHandler creates the debug handler extension.
func NewDebugHandler(logger *slog.Logger) *DebugHandler {
	return &DebugHandler{logger: logger}
}

// Name returns extension name.
func (d *DebugHandler) Name() string { return "debug" }

// Run logs event data.
// Params: context and event data.
// Returns: event data as output and status 0.
func (d *DebugHandler) Run(_ context.Context, data []byte) (string, int, error) {
	d.logger.Debug("debug handler received event", "event", string(data))
	return string(data), 0, nil
}

// OnlyCheckOutput mutates an event into its check output.
type OnlyCheckOutput struct{}

// Name returns extension name.
func (OnlyCheckOutput) Name() string { return "only_check_output" }

// Run extracts check.output from a serialized event.
// Params: context and serialized event.
// Returns: check output and status 0, or status 2 with decode error.
func (OnlyCheckOutput) Run(_ context.Context, data []byte) (string, int, error) {
	var event domain.Event
	if err := json.Unmarshal(data, &event); err != nil {
		return "", 2, fmt.Errorf("decode event: %w", err)
	}
	return event.Check.Output(), 0, nil
}
