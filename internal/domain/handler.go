package domain

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// HandlerKind identifies handler transport variant.
type HandlerKind string

const (
	// HandlerPipe feeds event data to a command on stdin.
	HandlerPipe HandlerKind = "pipe"
	// HandlerTCP writes event data to a TCP socket.
	HandlerTCP HandlerKind = "tcp"
	// HandlerUDP sends event data as one UDP datagram.
	HandlerUDP HandlerKind = "udp"
	// HandlerTransport publishes event data to a message bus exchange.
	HandlerTransport HandlerKind = "transport"
	// HandlerExtension runs an in-process extension.
	HandlerExtension HandlerKind = "extension"
	// HandlerSet groups other handlers by name.
	HandlerSet HandlerKind = "set"
)

// ParseHandlerKind normalizes configured handler type.
// Params: raw type string; "amqp" is accepted as an alias of "transport".
// Returns: handler kind or unsupported type error.
func ParseHandlerKind(raw string) (HandlerKind, error) {
	switch kind := HandlerKind(strings.ToLower(strings.TrimSpace(raw))); kind {
	case HandlerPipe, HandlerTCP, HandlerUDP, HandlerTransport, HandlerExtension, HandlerSet:
		return kind, nil
	case "amqp":
		return HandlerTransport, nil
	default:
		return "", fmt.Errorf("unsupported handler type %q", raw)
	}
}

// Handler is one resolved handler definition.
// Params: common routing/selection fields plus exactly one kind payload.
// Returns: handler ready for selection and dispatch.
type Handler struct {
	Name           string
	Kind           HandlerKind
	Mutator        string
	Timeout        time.Duration
	Subdue         *SubdueCondition
	Severities     []string
	Filters        []string
	HandleFlapping bool

	Pipe      *PipeTarget
	Socket    *SocketTarget
	Exchange  *ExchangeTarget
	Set       *SetTarget
	Extension Runner
}

// HasSeverities reports whether handler restricts event severities.
func (h Handler) HasSeverities() bool {
	return h.Severities != nil
}

// HandlesSeverity reports whether severity is accepted by the handler.
// Params: severity name.
// Returns: true when listed.
func (h Handler) HandlesSeverity(severity string) bool {
	for _, candidate := range h.Severities {
		if strings.EqualFold(candidate, severity) {
			return true
		}
	}
	return false
}

// PipeTarget is the pipe handler payload.
type PipeTarget struct {
	Command string
}

// SocketTarget is the tcp/udp handler payload.
type SocketTarget struct {
	Host string
	Port int
}

// Address returns host:port dial address.
func (s SocketTarget) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ExchangeTarget is the transport handler payload.
// Params: exchange name, exchange type (direct by default), and extra options.
// Returns: publish destination.
type ExchangeTarget struct {
	Name    string
	Type    string
	Options map[string]any
}

// SetTarget is the handler set payload.
type SetTarget struct {
	Handlers []string
}

// Runner is an in-process extension entry point.
// Params: event data (handler) or serialized event (mutator).
// Returns: output text, status code (0 = success), and execution error.
type Runner interface {
	Name() string
	Run(ctx context.Context, data []byte) (string, int, error)
}

// Filter is a named attribute predicate.
type Filter struct {
	Name       string
	Negate     bool
	Attributes Attributes
}

// Mutator is a named external event transform.
type Mutator struct {
	Name    string
	Command string
	Timeout time.Duration
}
