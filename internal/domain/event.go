package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Client is a registered monitoring client as reported by its keepalive.
// Params: client attributes (name, timestamp, keepalive thresholds, ...).
// Returns: attribute view with typed client accessors.
type Client map[string]any

// Name returns client name.
func (c Client) Name() string {
	value, _ := Attributes(c).String("name")
	return value
}

// Timestamp returns last keepalive time in unix seconds.
func (c Client) Timestamp() int64 {
	value, _ := Attributes(c).Int("timestamp")
	return value
}

// Keepalive returns keepalive threshold overrides.
// Params: none.
// Returns: override attributes and presence flag.
func (c Client) Keepalive() (Attributes, bool) {
	return Attributes(c).Map("keepalive")
}

// DecodeClient decodes and validates one keepalive payload.
// Params: JSON document bytes.
// Returns: client or decode/validation error.
func DecodeClient(raw []byte) (Client, error) {
	var client Client
	if err := json.Unmarshal(raw, &client); err != nil {
		return nil, fmt.Errorf("decode client: %w", err)
	}
	if strings.TrimSpace(client.Name()) == "" {
		return nil, errors.New("client name is required")
	}
	return client, nil
}

// Result is one check execution result published by a client.
// Params: client name and check attributes.
// Returns: result payload for the result processor.
type Result struct {
	Client string `json:"client"`
	Check  Check  `json:"check"`
}

// Validate validates one result payload.
// Params: decoded result fields.
// Returns: validation error when the result cannot be processed.
func (r Result) Validate() error {
	if strings.TrimSpace(r.Client) == "" {
		return errors.New("client is required")
	}
	if r.Check == nil {
		return errors.New("check is required")
	}
	if strings.TrimSpace(r.Check.Name()) == "" {
		return errors.New("check name is required")
	}
	if _, ok := Attributes(r.Check).Int("status"); !ok {
		return errors.New("check status must be an integer")
	}
	return nil
}

// DecodeResult decodes and validates one result payload.
// Params: JSON document bytes.
// Returns: validated result or decode/validation error.
func DecodeResult(raw []byte) (Result, error) {
	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return Result{}, fmt.Errorf("decode result: %w", err)
	}
	if err := result.Validate(); err != nil {
		return Result{}, err
	}
	return result, nil
}

// DecodeResultsReader decodes and validates one batch of results from stream.
// Params: decoder positioned at a JSON array.
// Returns: validated results or decode/validation error.
func DecodeResultsReader(reader *json.Decoder) ([]Result, error) {
	var results []Result
	if err := reader.Decode(&results); err != nil {
		return nil, fmt.Errorf("decode result batch: %w", err)
	}
	if len(results) == 0 {
		return nil, errors.New("result batch must contain at least one result")
	}
	for i := range results {
		if err := results[i].Validate(); err != nil {
			return nil, fmt.Errorf("result[%d]: %w", i, err)
		}
	}
	return results, nil
}

// CheckRequest asks subscribed clients to execute a check.
type CheckRequest struct {
	Name    string `json:"name"`
	Issued  int64  `json:"issued"`
	Command string `json:"command,omitempty"`
}

// OpenEvent is the persisted record of an ongoing non-ok or flapping condition.
// Params: last output/status, issue time, handler names, flapping flag, occurrences.
// Returns: JSON-serializable event ledger entry.
type OpenEvent struct {
	Output      string   `json:"output"`
	Status      int      `json:"status"`
	Issued      int64    `json:"issued"`
	Handlers    []string `json:"handlers"`
	Flapping    bool     `json:"flapping"`
	Occurrences int      `json:"occurrences"`
}

// Action identifies why an event is dispatched.
type Action string

const (
	// ActionCreate marks a new or continuing problem (or a metric).
	ActionCreate Action = "create"
	// ActionResolve marks a resolved problem.
	ActionResolve Action = "resolve"
	// ActionFlapping marks an oscillating check.
	ActionFlapping Action = "flapping"
)

// Event is a dispatched occurrence of a client/check condition.
// Params: owning client, merged check, occurrences, and action.
// Returns: handler payload.
type Event struct {
	Client      Client `json:"client"`
	Check       Check  `json:"check"`
	Occurrences int    `json:"occurrences"`
	Action      Action `json:"action"`
}

// Attributes returns the event as a generic attribute tree for filter matching.
// Params: none.
// Returns: attribute map with client, check, occurrences, and action keys.
func (e Event) Attributes() Attributes {
	return Attributes{
		"client":      map[string]any(e.Client),
		"check":       map[string]any(e.Check),
		"occurrences": int64(e.Occurrences),
		"action":      string(e.Action),
	}
}

// Encode serializes event for handlers and mutators.
// Params: none.
// Returns: JSON bytes or encode error.
func (e Event) Encode() ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return body, nil
}
