package domain

import "strings"

const (
	// StatusOK is the check exit status for a healthy result.
	StatusOK = 0
	// StatusWarning is the check exit status for a warning result.
	StatusWarning = 1
	// StatusCritical is the check exit status for a critical result.
	StatusCritical = 2
	// StatusUnknown is the check exit status for an unknown result.
	StatusUnknown = 3
)

// CheckTypeMetric marks checks whose ok results still flow to handlers.
const CheckTypeMetric = "metric"

// DefaultHandlerName is used when a check names no handlers.
const DefaultHandlerName = "default"

// SubdueAtPublisher scopes a check subdue rule to check request publishing.
const SubdueAtPublisher = "publisher"

// Severities maps check status index to severity name.
var Severities = []string{"ok", "warning", "critical", "unknown"}

// SeverityName maps numeric status to severity name.
// Params: check status.
// Returns: severity name; out-of-range status maps to unknown.
func SeverityName(status int) string {
	if status < 0 || status >= len(Severities) {
		return "unknown"
	}
	return Severities[status]
}

// Check is a check definition or result merged with its definition.
// Params: decoded check attributes (name, status, output, issued, ...).
// Returns: attribute view with typed check accessors.
type Check map[string]any

// Attributes returns the check as a generic attribute map.
func (c Check) Attributes() Attributes {
	return Attributes(c)
}

// Name returns check name.
func (c Check) Name() string {
	value, _ := Attributes(c).String("name")
	return value
}

// Status returns numeric check status; absent or malformed status is unknown.
// Params: none.
// Returns: check status code.
func (c Check) Status() int {
	value, ok := Attributes(c).Int("status")
	if !ok {
		return StatusUnknown
	}
	return int(value)
}

// Output returns check output text.
func (c Check) Output() string {
	value, _ := Attributes(c).String("output")
	return value
}

// Issued returns check request issue time in unix seconds.
func (c Check) Issued() int64 {
	value, _ := Attributes(c).Int("issued")
	return value
}

// Executed returns check execution time in unix seconds.
func (c Check) Executed() int64 {
	value, _ := Attributes(c).Int("executed")
	return value
}

// Type returns check type (empty for standard checks).
func (c Check) Type() string {
	value, _ := Attributes(c).String("type")
	return value
}

// HandlerNames returns handler references from handlers, handler, or the default handler.
// Params: none.
// Returns: non-empty handler name list.
func (c Check) HandlerNames() []string {
	if names := Attributes(c).Strings("handlers"); len(names) > 0 {
		return names
	}
	if names := Attributes(c).Strings("handler"); len(names) > 0 {
		return names
	}
	return []string{DefaultHandlerName}
}

// Aggregate reports whether results of this check are aggregated.
func (c Check) Aggregate() bool {
	return truthy(c["aggregate"])
}

// Handle reports whether events of this check are dispatched; default true.
func (c Check) Handle() bool {
	value, ok := Attributes(c).Bool("handle")
	return !ok || value
}

// AutoResolve reports whether ok results resolve open events; default true.
func (c Check) AutoResolve() bool {
	value, ok := Attributes(c).Bool("auto_resolve")
	return !ok || value
}

// ForceResolve reports whether this result resolves even with auto_resolve disabled.
func (c Check) ForceResolve() bool {
	return truthy(c["force_resolve"])
}

// FlapThresholds returns low and high flap thresholds.
// Params: none.
// Returns: thresholds and true only when both are configured.
func (c Check) FlapThresholds() (int, int, bool) {
	low, lowOK := Attributes(c).Int("low_flap_threshold")
	high, highOK := Attributes(c).Int("high_flap_threshold")
	if !lowOK || !highOK {
		return 0, 0, false
	}
	return int(low), int(high), true
}

// Subdue returns check subdue condition.
// Params: none.
// Returns: parsed condition and presence flag.
func (c Check) Subdue() (SubdueCondition, bool) {
	raw, ok := Attributes(c).Map("subdue")
	if !ok {
		return SubdueCondition{}, false
	}
	return SubdueConditionFrom(raw), true
}

// Subscribers returns exchange names receiving check requests.
func (c Check) Subscribers() []string {
	return Attributes(c).Strings("subscribers")
}

// Interval returns check request interval in seconds.
// Params: none.
// Returns: interval and true when an integral interval is configured.
func (c Check) Interval() (int64, bool) {
	return Attributes(c).Int("interval")
}

// Cron returns the cron schedule expression when configured.
func (c Check) Cron() string {
	value, _ := Attributes(c).String("cron")
	return strings.TrimSpace(value)
}

// Standalone reports whether the check is scheduled by clients themselves.
func (c Check) Standalone() bool {
	return truthy(c["standalone"])
}

// Publish reports whether the server publishes requests for this check; default true.
func (c Check) Publish() bool {
	value, ok := Attributes(c).Bool("publish")
	return !ok || value
}

// Command returns check command when configured.
func (c Check) Command() (string, bool) {
	return Attributes(c).String("command")
}

// History returns the status history attached during result processing.
// Params: none.
// Returns: statuses oldest to newest.
func (c Check) History() []int {
	raw, ok := c["history"]
	if !ok {
		return nil
	}
	switch typed := raw.(type) {
	case []int:
		return append([]int(nil), typed...)
	case []any:
		out := make([]int, 0, len(typed))
		for _, item := range typed {
			value, ok := toInt(item)
			if !ok {
				value = StatusUnknown
			}
			out = append(out, int(value))
		}
		return out
	case []string:
		out := make([]int, 0, len(typed))
		for _, item := range typed {
			value, ok := toInt(item)
			if !ok {
				value = StatusUnknown
			}
			out = append(out, int(value))
		}
		return out
	default:
		return nil
	}
}

// Merge overlays incoming result attributes onto a check definition.
// Params: definition (may be nil) and incoming check attributes.
// Returns: merged check; incoming values win.
func (c Check) Merge(incoming Check) Check {
	return Check(DeepMerge(Attributes(c), Attributes(incoming)))
}

// Clone returns a deep copy of the check.
func (c Check) Clone() Check {
	return Check(Attributes(c).Clone())
}

func truthy(raw any) bool {
	switch typed := raw.(type) {
	case nil:
		return false
	case bool:
		return typed
	default:
		return true
	}
}
