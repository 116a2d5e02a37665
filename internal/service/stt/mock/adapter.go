// Package mock provides a mock STT adapter for running the relay without provider credentials.
// It simulates progressive partial transcripts followed by exactly one final transcript
// per utterance, then moves on to the next utterance.
package mock

import (
	"context"
	"sync"

	"care-transcript-relay/internal/service/stt"
)

// SimulatedUtterance represents a mock utterance with progressive transcripts.
type SimulatedUtterance struct {
	Partials []string // Progressive partial transcripts
	Final    string   // Final transcript text
}

// DefaultUtterances provides sample caregiver dictation for simulation.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials: []string{"She seemed", "She seemed tired", "She seemed tired this"},
		Final:    "She seemed tired this morning.",
	},
	{
		Partials: []string{"We walked", "We walked to the", "We walked to the park"},
		Final:    "We walked to the park after lunch.",
	},
	{
		Partials: []string{"Her cough", "Her cough is"},
		Final:    "Her cough is worse than yesterday.",
	},
	{
		Partials: []string{"I gave", "I gave him his", "I gave him his evening"},
		Final:    "I gave him his evening medication.",
	},
	{
		Partials: []string{"He was", "He was anxious"},
		Final:    "He was anxious before the appointment.",
	},
}

const eventBuffer = 64

// Adapter implements stt.Adapter with scripted responses.
// Each audio frame yields the next partial of the current utterance; the frame
// after the last partial yields the final and advances to the next utterance.
type Adapter struct {
	mu           sync.Mutex
	utterances   []SimulatedUtterance
	current      int
	partialIndex int
	pending      bool // current utterance has partials but no final yet
	events       chan stt.Event
	framesSeen   int
	finished     bool
	closed       bool
}

// utteranceCounter picks the starting utterance so consecutive sessions differ.
var (
	utteranceCounter int
	counterMu        sync.Mutex
)

// New creates a mock adapter cycling through DefaultUtterances.
func New() *Adapter {
	counterMu.Lock()
	idx := utteranceCounter % len(DefaultUtterances)
	utteranceCounter++
	counterMu.Unlock()

	return &Adapter{utterances: DefaultUtterances, current: idx}
}

// NewWithUtterances creates a mock adapter that plays the given utterances in order.
func NewWithUtterances(utterances []SimulatedUtterance) *Adapter {
	return &Adapter{utterances: utterances}
}

// Factory returns an stt.Factory producing mock adapters.
func Factory() stt.Factory {
	return func(ctx context.Context) (stt.Adapter, error) {
		return New(), nil
	}
}

// Start opens the simulated stream and emits an open event.
func (a *Adapter) Start(ctx context.Context, opts stt.Options) (<-chan stt.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.events = make(chan stt.Event, eventBuffer)
	a.emit(stt.Event{Kind: stt.EventOpen})
	return a.events, nil
}

// SendAudio advances the simulated recognition by one step.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.events == nil {
		return stt.ErrNotStarted
	}
	if a.closed || a.finished || len(a.utterances) == 0 {
		return nil
	}
	a.framesSeen++

	utt := a.utterances[a.current%len(a.utterances)]
	if a.partialIndex < len(utt.Partials) {
		a.emit(stt.Event{Kind: stt.EventPartial, Text: utt.Partials[a.partialIndex]})
		a.partialIndex++
		a.pending = true
		return nil
	}

	a.emit(stt.Event{Kind: stt.EventFinal, Text: utt.Final})
	a.current++
	a.partialIndex = 0
	a.pending = false
	return nil
}

// Finish flushes a pending utterance as final, then ends the stream.
func (a *Adapter) Finish(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.events == nil || a.closed || a.finished {
		return nil
	}
	a.finished = true

	if a.pending && len(a.utterances) > 0 {
		utt := a.utterances[a.current%len(a.utterances)]
		a.emit(stt.Event{Kind: stt.EventFinal, Text: utt.Final})
		a.pending = false
	}
	a.emit(stt.Event{Kind: stt.EventClosed})
	a.closed = true
	close(a.events)
	return nil
}

// Close ends the mock session.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	if a.events != nil {
		close(a.events)
	}
	return nil
}

// emit must be called with mu held. Events beyond the buffer are dropped.
func (a *Adapter) emit(ev stt.Event) {
	select {
	case a.events <- ev:
	default:
	}
}
