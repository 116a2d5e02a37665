// Package audio enforces per-session guardrails on client audio before it is
// forwarded upstream.
package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Limits defines safety guardrails for one relay session.
// Zero disables a limit.
type Limits struct {
	MaxFrameBytes int64         // Max size of a single binary frame
	MaxAudioBytes int64         // Max total audio per session
	MaxDuration   time.Duration // Max session duration from the first frame
}

// DefaultLimits returns sensible default limits.
func DefaultLimits() Limits {
	return Limits{
		MaxFrameBytes: 256 * 1024,
		MaxAudioBytes: 0,
		MaxDuration:   time.Hour,
	}
}

var (
	// ErrEmptyFrame is returned for zero-length frames, which are skipped.
	ErrEmptyFrame = errors.New("empty audio frame")
	// ErrLimitExceeded is returned when a frame would break a session limit.
	ErrLimitExceeded = errors.New("audio limit exceeded")
)

// Guard tracks the audio admitted for one session. Thread-safe.
type Guard struct {
	mu     sync.Mutex
	limits Limits
	now    func() time.Time

	started    time.Time
	frames     int
	audioBytes int64
}

// NewGuard creates a guard with the given limits.
func NewGuard(limits Limits) *Guard {
	return &Guard{limits: limits, now: time.Now}
}

// Admit checks one frame against the limits and, if allowed, counts it.
// A rejected frame is not counted.
func (g *Guard) Admit(frame []byte) error {
	if len(frame) == 0 {
		return ErrEmptyFrame
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	size := int64(len(frame))
	if g.limits.MaxFrameBytes > 0 && size > g.limits.MaxFrameBytes {
		return fmt.Errorf("%w: frame of %d bytes exceeds %d", ErrLimitExceeded, size, g.limits.MaxFrameBytes)
	}
	if g.limits.MaxAudioBytes > 0 && g.audioBytes+size > g.limits.MaxAudioBytes {
		return fmt.Errorf("%w: session audio would exceed %d bytes", ErrLimitExceeded, g.limits.MaxAudioBytes)
	}

	now := g.now()
	if g.frames == 0 {
		g.started = now
	} else if g.limits.MaxDuration > 0 && now.Sub(g.started) > g.limits.MaxDuration {
		return fmt.Errorf("%w: session exceeded %v", ErrLimitExceeded, g.limits.MaxDuration)
	}

	g.frames++
	g.audioBytes += size
	return nil
}

// Stats returns the number of frames and bytes admitted so far.
func (g *Guard) Stats() (frames int, audioBytes int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.frames, g.audioBytes
}

// Reason returns a short metrics label for an Admit error.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrEmptyFrame):
		return "empty"
	case errors.Is(err, ErrLimitExceeded):
		return "limit"
	default:
		return "other"
	}
}
