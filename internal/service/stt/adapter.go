// Package stt defines the contract for upstream streaming Speech-to-Text providers.
package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// EventKind identifies an upstream recognizer event.
type EventKind int

const (
	EventOpen EventKind = iota
	EventPartial
	EventFinal
	EventError
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventPartial:
		return "partial"
	case EventFinal:
		return "final"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is a single upstream recognizer event.
// Text is set for Partial and Final, Err for Error.
type Event struct {
	Kind EventKind
	Text string
	Err  error
}

// Options configures one upstream recognition stream.
type Options struct {
	Model          string
	Language       string
	Encoding       string
	SampleRateHz   int
	Channels       int
	InterimResults bool
	SmartFormat    bool
}

// Adapter is an upstream streaming recognizer (Deepgram, Google, mock).
//
// Start opens the stream and returns the event channel. The adapter closes the
// channel after it emits EventClosed or when the stream otherwise ends.
// Finish asks the provider to flush pending results and end the stream.
// Close releases the connection and must be safe to call more than once.
type Adapter interface {
	Start(ctx context.Context, opts Options) (<-chan Event, error)
	SendAudio(ctx context.Context, audio []byte) error
	Finish(ctx context.Context) error
	Close() error
}

// Factory builds a fresh adapter for one session.
type Factory func(ctx context.Context) (Adapter, error)

// Provider names.
const (
	ProviderDeepgram = "deepgram"
	ProviderGoogle   = "google"
	ProviderMock     = "mock"
)

var (
	// ErrUpstreamOpen is returned when the upstream stream cannot be opened.
	ErrUpstreamOpen = errors.New("upstream open failed")
	// ErrUpstreamTransport is returned when audio cannot be delivered upstream.
	ErrUpstreamTransport = errors.New("upstream transport failed")
	// ErrUpstreamRejected is reported when the provider refuses the stream or audio.
	ErrUpstreamRejected = errors.New("upstream rejected request")
	// ErrUnknownProvider is returned for an unrecognized provider name.
	ErrUnknownProvider = errors.New("unknown stt provider")
	// ErrNotStarted is returned when audio is sent before Start.
	ErrNotStarted = errors.New("upstream stream not started")
	// ErrSessionClosed is returned when audio is sent after the session was closed.
	ErrSessionClosed = errors.New("upstream session closed")
)

// Registry maps provider names to adapter factories.
type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under a case-insensitive provider name.
func (r *Registry) Register(name string, f Factory) {
	r.factories[strings.ToLower(name)] = f
}

// Factory returns the factory for the named provider.
func (r *Registry) Factory(name string) (Factory, error) {
	f, ok := r.factories[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return f, nil
}

// ErrorType returns a short metrics label for an upstream error.
func ErrorType(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrUpstreamOpen):
		return "open"
	case errors.Is(err, ErrUpstreamRejected):
		return "rejected"
	case errors.Is(err, ErrUpstreamTransport):
		return "transport"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "other"
	}
}
