package stt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Session owns one upstream adapter for the lifetime of a relay session.
// Finish and Close each take effect at most once.
type Session struct {
	provider string
	adapter  Adapter
	events   <-chan Event
	log      zerolog.Logger

	finishOnce sync.Once
	finishErr  error
	closeOnce  sync.Once
	closeErr   error
	closed     atomic.Bool
}

// Open builds an adapter from factory and starts its stream.
func Open(ctx context.Context, factory Factory, provider string, opts Options, log zerolog.Logger) (*Session, error) {
	adapter, err := factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamOpen, err)
	}

	events, err := adapter.Start(ctx, opts)
	if err != nil {
		_ = adapter.Close()
		return nil, fmt.Errorf("%w: %w", ErrUpstreamOpen, err)
	}

	log.Info().
		Str("model", opts.Model).
		Str("language", opts.Language).
		Str("encoding", opts.Encoding).
		Int("sampleRateHz", opts.SampleRateHz).
		Msg("Upstream stream opened")

	return &Session{
		provider: provider,
		adapter:  adapter,
		events:   events,
		log:      log,
	}, nil
}

// Provider returns the provider name this session was opened with.
func (s *Session) Provider() string {
	return s.provider
}

// Events returns the upstream event channel.
func (s *Session) Events() <-chan Event {
	return s.events
}

// SendAudio forwards one audio frame upstream.
func (s *Session) SendAudio(ctx context.Context, audio []byte) error {
	if s.closed.Load() {
		return fmt.Errorf("%w: %w", ErrUpstreamTransport, ErrSessionClosed)
	}
	if err := s.adapter.SendAudio(ctx, audio); err != nil {
		return fmt.Errorf("%w: %w", ErrUpstreamTransport, err)
	}
	return nil
}

// Finish signals end of audio. Only the first call reaches the adapter.
func (s *Session) Finish(ctx context.Context) error {
	s.finishOnce.Do(func() {
		s.finishErr = s.adapter.Finish(ctx)
		if s.finishErr != nil {
			s.log.Warn().Err(s.finishErr).Msg("Upstream finish failed")
		} else {
			s.log.Debug().Msg("Upstream finish sent")
		}
	})
	return s.finishErr
}

// Close releases the upstream connection. Only the first call reaches the adapter.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.adapter.Close()
		s.log.Debug().Err(s.closeErr).Msg("Upstream stream closed")
	})
	return s.closeErr
}
