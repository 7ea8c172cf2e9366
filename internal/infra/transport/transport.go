// Package transport defines the boundary between the supervisor and the
// messaging platform connection.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/warden/internal/core/domain"
)

// ErrNotConnected is returned when no live handle exists.
var ErrNotConnected = errors.New("not connected")

// Machine-readable error codes attached by transports.
const (
	// CodeFatal marks a request that failed below the platform API
	// (no response was received).
	CodeFatal = "EFATAL"
	// CodePlatform marks an error response returned by the platform API.
	CodePlatform = "ETELEGRAM"
	// CodeParse marks a response that could not be decoded.
	CodeParse = "EPARSE"
)

// Credentials authenticate the bot against the platform.
type Credentials struct {
	Token string
}

// Options control how a connection is established.
type Options struct {
	// Streaming starts inbound delivery immediately after connecting.
	Streaming bool
	// PollTimeout is the long-poll window for platforms that poll.
	PollTimeout time.Duration
}

// Transport establishes connections to the messaging platform.
type Transport interface {
	// Connect authenticates, verifies the account and, when opts.Streaming
	// is set, starts inbound delivery.
	Connect(ctx context.Context, creds Credentials, opts Options) (Handle, error)
}

// Handle is one live connection. Events is closed after StopStreaming
// returns.
type Handle interface {
	// Identity returns the account the handle is authenticated as.
	Identity() domain.Identity

	// Events delivers inbound messages and asynchronous errors.
	Events() <-chan Event

	// Send delivers a reply.
	Send(ctx context.Context, reply domain.Reply) error

	// Probe performs a cheap round trip to confirm the connection is usable.
	Probe(ctx context.Context) error

	// StopStreaming stops inbound delivery.
	StopStreaming(ctx context.Context) error
}

// EventKind distinguishes handle events.
type EventKind int

const (
	EventMessage EventKind = iota
	// EventPollingError is raised by the inbound delivery loop.
	EventPollingError
	// EventError is raised by any other part of the connection.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "message"
	case EventPollingError:
		return "polling_error"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a single item on a handle's event stream.
type Event struct {
	Kind    EventKind
	Message domain.Message
	Err     error
}

// Error carries a machine-readable code alongside the underlying failure.
type Error struct {
	Code string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Code, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorCode returns the machine-readable error code.
func (e *Error) ErrorCode() string { return e.Code }
