// Package relay bridges one client channel to one upstream recognizer stream.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/language"

	"care-transcript-relay/internal/config"
	"care-transcript-relay/internal/models"
	"care-transcript-relay/internal/observability/logging"
	"care-transcript-relay/internal/observability/metrics"
	"care-transcript-relay/internal/observability/tracing"
	"care-transcript-relay/internal/schema"
	"care-transcript-relay/internal/service/audio"
	"care-transcript-relay/internal/service/stt"
)

// MessageType distinguishes client text messages from binary audio frames.
type MessageType int

const (
	MessageText MessageType = iota
	MessageBinary
)

// ClientConn is the client-facing duplex channel of one session.
// ReadMessage is called from a single reader goroutine; WriteJSON and Close
// may be called from any goroutine.
type ClientConn interface {
	ReadMessage() (MessageType, []byte, error)
	WriteJSON(v any) error
	Close() error
}

// Resolver maps a requested language to an upstream profile.
type Resolver interface {
	Resolve(tag language.Tag) config.Profile
}

// TranscriptPublisher receives every relayed transcript result.
type TranscriptPublisher interface {
	PublishTranscript(ctx context.Context, update models.TranscriptUpdate) error
}

// TranscriptSink receives the accumulated final text of a session once it has
// ended. It is only called when the client supplied a caregiver id.
type TranscriptSink interface {
	Submit(ctx context.Context, caregiverID, rawText string) error
}

// Upstream stream parameters agreed with the client out of band.
type AudioFormat struct {
	Encoding       string
	SampleRateHz   int
	Channels       int
	InterimResults bool
	SmartFormat    bool
}

// Deps holds the process-wide collaborators shared by every session.
// Everything here is read-only after startup.
type Deps struct {
	Catalog       Resolver
	Provider      string
	Factory       stt.Factory
	Format        AudioFormat
	Limits        audio.Limits
	FinishTimeout time.Duration
	WriteTimeout  time.Duration
	Validator     *schema.Validator
	Publisher     TranscriptPublisher // optional
	PublishQueue  int                 // pending publishes per session; extra events are dropped
	Sink          TranscriptSink      // optional
	Metrics       *metrics.Metrics
}

// ErrRelayClosed is returned by Go and Serve once Wait has been called.
var ErrRelayClosed = errors.New("relay is shutting down")

// Relay creates and runs sessions.
type Relay struct {
	deps Deps

	mu     sync.Mutex
	closed bool
	active sync.WaitGroup
}

// New creates a relay with the given dependencies.
func New(deps Deps) *Relay {
	if deps.Validator == nil {
		deps.Validator = schema.New()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.DefaultMetrics
	}
	if deps.FinishTimeout <= 0 {
		deps.FinishTimeout = 5 * time.Second
	}
	if deps.WriteTimeout <= 0 {
		deps.WriteTimeout = 10 * time.Second
	}
	if deps.PublishQueue <= 0 {
		deps.PublishQueue = 64
	}
	return &Relay{deps: deps}
}

// NewSession creates a session for conn without running it.
func (r *Relay) NewSession(conn ClientConn) *Session {
	id := uuid.NewString()
	r.deps.Metrics.RecordSessionStart()
	return &Session{
		id:        id,
		deps:      r.deps,
		conn:      conn,
		lifecycle: NewLifecycle(),
		guard:     audio.NewGuard(r.deps.Limits),
		log:       logging.WithSession(id),
		createdAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// Go registers a session for conn and runs it on a new goroutine. The session
// is counted by Wait before Go returns. Cancelling ctx makes it flush and close.
func (r *Relay) Go(ctx context.Context, conn ClientConn) (*Session, error) {
	if err := r.register(); err != nil {
		return nil, err
	}
	s := r.NewSession(conn)
	go func() {
		defer r.active.Done()
		s.Run(ctx)
	}()
	return s, nil
}

// Serve runs a new session on conn and returns once it terminates.
func (r *Relay) Serve(ctx context.Context, conn ClientConn) (*Session, error) {
	if err := r.register(); err != nil {
		return nil, err
	}
	defer r.active.Done()

	s := r.NewSession(conn)
	s.Run(ctx)
	return s, nil
}

func (r *Relay) register() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRelayClosed
	}
	r.active.Add(1)
	return nil
}

// Wait stops the relay from accepting sessions and blocks until every running
// session has returned, or ctx is done.
func (r *Relay) Wait(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type inbound struct {
	kind MessageType
	data []byte
	err  error
}

// Session is one client-to-upstream bridge.
type Session struct {
	id        string
	deps      Deps
	conn      ClientConn
	lifecycle *Lifecycle
	guard     *audio.Guard
	log       zerolog.Logger
	createdAt time.Time

	mu       sync.Mutex
	upstream *stt.Session

	// Owned by the Run goroutine.
	cfg           schema.SessionConfig
	profile       config.Profile
	errorSent     bool
	clientGone    bool
	upstreamEnded bool
	finals        []string

	pubQueue chan models.TranscriptUpdate
	pubDone  chan struct{}

	done         chan struct{}
	teardownOnce sync.Once
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.lifecycle.State()
}

// RawText returns the final transcripts relayed so far, joined by spaces.
func (s *Session) RawText() string {
	return strings.Join(s.finals, " ")
}

// Run drives the session through its lifecycle. It returns once the session
// is terminal and every resource has been released.
func (s *Session) Run(ctx context.Context) {
	ctx, span := tracing.Tracer().Start(ctx, "relay.session",
		trace.WithAttributes(attribute.String("session.id", s.id)))
	defer span.End()

	s.log.Info().Msg("Relay session opened")

	in := make(chan inbound)
	go s.readLoop(in)

	if s.awaitConfig(ctx, in) {
		if s.deps.Publisher != nil {
			s.pubQueue = make(chan models.TranscriptUpdate, s.deps.PublishQueue)
			s.pubDone = make(chan struct{})
			go s.publishLoop(ctx)
		}
		s.relay(ctx, in)
		s.drain(ctx, in)
	}
	s.teardown()

	if s.pubQueue != nil {
		close(s.pubQueue)
		<-s.pubDone
	}

	frames, audioBytes := s.guard.Stats()
	span.SetAttributes(
		attribute.String("session.state", s.State().String()),
		attribute.Int("session.finals", len(s.finals)),
		attribute.Int("session.frames", frames),
	)
	s.log.Info().
		Str("state", s.State().String()).
		Int("finals", len(s.finals)).
		Int("frames", frames).
		Int64("audioBytes", audioBytes).
		Msg("Relay session finished")
	s.submitTranscript(ctx)
}

// Close tears the session down. Safe to call any number of times, from any goroutine.
func (s *Session) Close() error {
	s.teardown()
	return nil
}

// readLoop is the only caller of conn.ReadMessage. It stops after the first
// read error or once the session is torn down.
func (s *Session) readLoop(in chan<- inbound) {
	for {
		kind, data, err := s.conn.ReadMessage()
		select {
		case in <- inbound{kind: kind, data: data, err: err}:
		case <-s.done:
			return
		}
		if err != nil {
			return
		}
	}
}

// awaitConfig handles AWAITING_CONFIG. It returns true once the session is ACTIVE.
func (s *Session) awaitConfig(ctx context.Context, in <-chan inbound) bool {
	var msg inbound
	select {
	case msg = <-in:
	case <-ctx.Done():
		s.log.Info().Msg("Context cancelled before configuration")
		return false
	case <-s.done:
		return false
	}

	if msg.err != nil {
		s.clientGone = true
		s.log.Info().Err(msg.err).Msg("Client disconnected before configuration")
		return false
	}

	if msg.kind == MessageBinary {
		s.reject(schema.ErrUnexpectedAudio)
		return false
	}

	cfg, err := s.deps.Validator.ParseSessionConfig(msg.data)
	if err != nil {
		s.reject(err)
		return false
	}
	s.cfg = cfg
	s.profile = s.deps.Catalog.Resolve(cfg.Tag)
	s.log = s.log.With().
		Str("language", s.profile.Language).
		Str("model", s.profile.Model).
		Str("profile", s.profile.Kind).
		Logger()

	up, err := stt.Open(ctx, s.deps.Factory, s.deps.Provider, stt.Options{
		Model:          s.profile.Model,
		Language:       s.profile.Language,
		Encoding:       s.deps.Format.Encoding,
		SampleRateHz:   s.deps.Format.SampleRateHz,
		Channels:       s.deps.Format.Channels,
		InterimResults: s.deps.Format.InterimResults,
		SmartFormat:    s.deps.Format.SmartFormat,
	}, logging.WithUpstream(s.id, s.deps.Provider))
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to open upstream stream")
		s.deps.Metrics.RecordUpstreamError(s.deps.Provider, stt.ErrorType(err))
		s.sendError("speech recognition is unavailable")
		s.lifecycle.Fail()
		return false
	}

	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		_ = up.Close()
		return false
	default:
	}
	s.upstream = up
	s.mu.Unlock()
	s.deps.Metrics.RecordUpstreamOpened(up.Provider(), s.profile.Kind)

	if err := s.lifecycle.Activate(); err != nil {
		// Closed concurrently; teardown releases the upstream.
		s.log.Debug().Err(err).Msg("Session closed during configuration")
		return false
	}

	s.write(models.ConfigMessage{Config: models.EffectiveConfig{
		SessionID:    s.id,
		Language:     s.profile.Language,
		Model:        s.profile.Model,
		Profile:      s.profile.Kind,
		Encoding:     s.deps.Format.Encoding,
		SampleRateHz: s.deps.Format.SampleRateHz,
		Channels:     s.deps.Format.Channels,
	}})
	s.log.Info().Msg("Relay session active")
	return true
}

// reject answers a bad first message with a single error and ends the session.
func (s *Session) reject(err error) {
	s.log.Warn().Err(err).Msg("Rejected session configuration")
	s.deps.Metrics.RecordConfigRejected(schema.Reason(err))
	s.sendError(err.Error())
	s.lifecycle.Fail()
}

// relay handles ACTIVE until something moves the session to CLOSING.
func (s *Session) relay(ctx context.Context, in <-chan inbound) {
	if s.clientGone {
		s.lifecycle.BeginClosing()
		return
	}

	events := s.upstream.Events()
	for {
		select {
		case msg := <-in:
			if !s.handleClient(ctx, msg) {
				s.lifecycle.BeginClosing()
				return
			}
		case ev, ok := <-events:
			if !ok {
				s.upstreamEnded = true
				s.lifecycle.BeginClosing()
				return
			}
			s.handleEvent(ctx, ev)
			if ev.Kind == stt.EventClosed {
				s.upstreamEnded = true
				s.lifecycle.BeginClosing()
				return
			}
			if s.clientGone {
				s.lifecycle.BeginClosing()
				return
			}
		case <-ctx.Done():
			s.log.Info().Msg("Context cancelled, closing session")
			s.lifecycle.BeginClosing()
			return
		case <-s.done:
			return
		}
	}
}

// handleClient processes one inbound client message while ACTIVE.
// It returns false when the session must begin closing.
func (s *Session) handleClient(ctx context.Context, msg inbound) bool {
	if msg.err != nil {
		s.clientGone = true
		s.log.Info().Err(msg.err).Msg("Client disconnected")
		return false
	}

	if msg.kind == MessageText {
		if s.deps.Validator.ParseControl(msg.data) == schema.ControlFinish {
			s.log.Info().Msg("Client requested finish")
			return false
		}
		s.log.Debug().Int("bytes", len(msg.data)).Msg("Ignoring unexpected text message")
		return true
	}

	if !s.lifecycle.AcceptsAudio() {
		s.deps.Metrics.RecordAudioRejected("state")
		return false
	}

	if err := s.guard.Admit(msg.data); err != nil {
		s.deps.Metrics.RecordAudioRejected(audio.Reason(err))
		if errors.Is(err, audio.ErrEmptyFrame) {
			return true
		}
		s.log.Warn().Err(err).Msg("Audio limit reached")
		s.sendError(err.Error())
		return false
	}

	if err := s.upstream.SendAudio(ctx, msg.data); err != nil {
		s.log.Error().Err(err).Msg("Failed to forward audio upstream")
		s.deps.Metrics.RecordUpstreamError(s.upstream.Provider(), stt.ErrorType(err))
		s.sendError("speech recognition connection lost")
		return false
	}
	s.deps.Metrics.RecordAudioForwarded(len(msg.data))
	return true
}

// handleEvent forwards one upstream event to the client.
func (s *Session) handleEvent(ctx context.Context, ev stt.Event) {
	switch ev.Kind {
	case stt.EventOpen:
		s.log.Debug().Msg("Upstream reported open")
	case stt.EventPartial, stt.EventFinal:
		text := strings.TrimSpace(ev.Text)
		if text == "" {
			return
		}
		final := ev.Kind == stt.EventFinal
		if final {
			s.finals = append(s.finals, text)
			s.deps.Metrics.RecordFinalTranscript()
		} else {
			s.deps.Metrics.RecordPartialTranscript()
		}
		s.write(models.TranscriptMessage{Final: final, Text: text})
		s.publish(final, text)
	case stt.EventError:
		s.log.Error().Err(ev.Err).Msg("Upstream reported error")
		s.deps.Metrics.RecordUpstreamError(s.upstream.Provider(), stt.ErrorType(ev.Err))
		msg := "speech recognition error"
		if ev.Err != nil {
			msg = msg + ": " + ev.Err.Error()
		}
		s.sendError(msg)
	case stt.EventClosed:
		s.log.Info().Msg("Upstream reported closed")
	}
}

// drain handles CLOSING: ask upstream to finish, then relay whatever it still
// emits until it closes or the finish timeout elapses.
func (s *Session) drain(ctx context.Context, in <-chan inbound) {
	if s.lifecycle.State() != StateClosing {
		return
	}

	start := time.Now()
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.deps.FinishTimeout)
	defer cancel()

	if err := s.upstream.Finish(finishCtx); err != nil {
		s.deps.Metrics.RecordUpstreamError(s.upstream.Provider(), stt.ErrorType(err))
	}
	if s.upstreamEnded {
		return
	}

	events := s.upstream.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				s.deps.Metrics.RecordUpstreamFinish(s.upstream.Provider(), time.Since(start).Seconds())
				return
			}
			s.handleEvent(ctx, ev)
			if ev.Kind == stt.EventClosed {
				s.deps.Metrics.RecordUpstreamFinish(s.upstream.Provider(), time.Since(start).Seconds())
				return
			}
		case msg := <-in:
			// No new input is accepted; only a disconnect matters here.
			if msg.err != nil {
				s.clientGone = true
			}
		case <-finishCtx.Done():
			s.log.Warn().Dur("timeout", s.deps.FinishTimeout).Msg("Upstream did not close after finish")
			s.deps.Metrics.RecordUpstreamError(s.upstream.Provider(), "timeout")
			return
		case <-s.done:
			return
		}
	}
}

// teardown releases the upstream and the client channel exactly once.
func (s *Session) teardown() {
	s.teardownOnce.Do(func() {
		log := logging.WithSession(s.id)

		s.mu.Lock()
		close(s.done)
		up := s.upstream
		s.mu.Unlock()
		if up != nil {
			if err := up.Close(); err != nil {
				log.Warn().Err(err).Msg("Error closing upstream")
			}
		}
		if err := s.conn.Close(); err != nil {
			log.Debug().Err(err).Msg("Error closing client channel")
		}

		s.lifecycle.Close()
		state := s.lifecycle.State()
		s.deps.Metrics.RecordSessionEnd(state.String(), time.Since(s.createdAt).Seconds())
	})
}

// sendError writes the session's single client-visible error message.
func (s *Session) sendError(msg string) {
	if s.errorSent {
		return
	}
	s.errorSent = true
	s.write(models.ErrorMessage{Error: msg})
}

// write sends one message to the client unless it is already gone.
// A failed write marks the client as gone.
func (s *Session) write(v any) {
	if s.clientGone {
		return
	}
	if err := s.conn.WriteJSON(v); err != nil {
		s.clientGone = true
		s.log.Info().Err(fmt.Errorf("%w: %w", ErrClientTransport, err)).Msg("Client write failed")
	}
}

// publish queues a transcript event without blocking the relay loop.
// When the queue is full the event is dropped.
func (s *Session) publish(final bool, text string) {
	if s.pubQueue == nil {
		return
	}
	eventType := models.EventTranscriptPartial
	if final {
		eventType = models.EventTranscriptFinal
	}
	update := models.TranscriptUpdate{
		EventType:   eventType,
		SessionID:   s.id,
		CaregiverID: s.cfg.CaregiverID,
		Language:    s.profile.Language,
		Model:       s.profile.Model,
		Final:       final,
		Text:        text,
		Timestamp:   time.Now().UnixMilli(),
	}
	select {
	case s.pubQueue <- update:
	default:
		s.deps.Metrics.RecordTranscriptEventDropped(eventType)
		s.log.Warn().Str("eventType", eventType).Msg("Publish queue full, dropping transcript event")
	}
}

// publishLoop delivers queued events in order until the queue is closed.
func (s *Session) publishLoop(ctx context.Context) {
	defer close(s.pubDone)
	base := context.WithoutCancel(ctx)
	for update := range s.pubQueue {
		pubCtx, cancel := context.WithTimeout(base, s.deps.WriteTimeout)
		err := s.deps.Publisher.PublishTranscript(pubCtx, update)
		cancel()
		if err != nil {
			s.log.Warn().Err(err).Msg("Failed to publish transcript event")
		}
	}
}

// submitTranscript hands the session's final text to the sink.
func (s *Session) submitTranscript(ctx context.Context) {
	if s.deps.Sink == nil || s.cfg.CaregiverID == "" {
		return
	}
	raw := s.RawText()
	if raw == "" {
		return
	}
	if err := s.deps.Sink.Submit(context.WithoutCancel(ctx), s.cfg.CaregiverID, raw); err != nil {
		s.log.Error().Err(err).Str("caregiverId", s.cfg.CaregiverID).Msg("Failed to store session transcript")
	}
}
