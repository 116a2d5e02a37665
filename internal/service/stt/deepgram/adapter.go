// Package deepgram provides a Deepgram live-streaming STT adapter over WebSocket.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"care-transcript-relay/internal/service/stt"
)

const (
	defaultBaseURL = "https://api.deepgram.com/v1"
	closeStreamMsg = `{"type":"CloseStream"}`
	keepAliveMsg   = `{"type":"KeepAlive"}`
)

// Config holds the provider credentials and endpoint.
type Config struct {
	APIKey    string
	BaseURL   string
	KeepAlive time.Duration // idle keepalive interval; zero disables
}

// Adapter implements stt.Adapter against the Deepgram /listen endpoint.
// One adapter serves exactly one stream.
type Adapter struct {
	cfg    Config
	dialer *websocket.Dialer

	conn       *websocket.Conn
	events     chan stt.Event
	audio      chan []byte
	stop       chan struct{}
	writerDone chan struct{}
	readerDone chan struct{}
	done       chan struct{}
	wg         sync.WaitGroup

	sendMu     sync.RWMutex
	sendClosed bool

	finishOnce sync.Once
	closeOnce  sync.Once
}

// New creates a Deepgram adapter.
func New(cfg Config) *Adapter {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return &Adapter{cfg: cfg, dialer: websocket.DefaultDialer}
}

// Factory returns an stt.Factory producing Deepgram adapters.
func Factory(cfg Config) stt.Factory {
	return func(ctx context.Context) (stt.Adapter, error) {
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("DEEPGRAM_API_KEY is not configured")
		}
		return New(cfg), nil
	}
}

// Start dials the listen endpoint and begins the read and write loops.
func (a *Adapter) Start(ctx context.Context, opts stt.Options) (<-chan stt.Event, error) {
	if a.conn != nil {
		return nil, errors.New("deepgram stream already started")
	}

	wsURL, err := buildListenURL(a.cfg.BaseURL, opts)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+a.cfg.APIKey)

	conn, resp, err := a.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusBadRequest) {
			return nil, fmt.Errorf("%w: deepgram returned %s", stt.ErrUpstreamRejected, resp.Status)
		}
		return nil, fmt.Errorf("failed to connect to Deepgram websocket: %w", err)
	}

	a.conn = conn
	a.events = make(chan stt.Event, 64)
	a.audio = make(chan []byte, 32)
	a.stop = make(chan struct{})
	a.writerDone = make(chan struct{})
	a.readerDone = make(chan struct{})
	a.done = make(chan struct{})

	a.emit(stt.Event{Kind: stt.EventOpen})

	a.wg.Add(2)
	go a.readLoop()
	go a.writeLoop()
	go func() {
		a.wg.Wait()
		close(a.events)
		close(a.done)
		_ = conn.Close()
	}()

	return a.events, nil
}

// SendAudio queues one frame for the write loop. Frames are sent in call order.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	if a.conn == nil {
		return stt.ErrNotStarted
	}
	if len(audio) == 0 {
		return nil
	}

	a.sendMu.RLock()
	defer a.sendMu.RUnlock()
	if a.sendClosed {
		return errors.New("audio stream is already finished")
	}

	chunk := append([]byte(nil), audio...)
	select {
	case a.audio <- chunk:
		return nil
	case <-a.writerDone:
		return errors.New("deepgram connection closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Finish stops accepting audio. The write loop flushes queued frames and then
// sends CloseStream so Deepgram emits its remaining finals and closes.
func (a *Adapter) Finish(ctx context.Context) error {
	if a.conn == nil {
		return nil
	}
	a.finishOnce.Do(func() {
		a.sendMu.Lock()
		a.sendClosed = true
		close(a.audio)
		a.sendMu.Unlock()
	})
	return nil
}

// Close tears down the connection and waits for both loops to exit.
func (a *Adapter) Close() error {
	if a.conn == nil {
		return nil
	}
	a.closeOnce.Do(func() {
		close(a.stop)
		_ = a.conn.Close()
	})
	<-a.done
	return nil
}

func (a *Adapter) writeLoop() {
	defer a.wg.Done()
	defer close(a.writerDone)

	var tick <-chan time.Time
	if a.cfg.KeepAlive > 0 {
		ticker := time.NewTicker(a.cfg.KeepAlive)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case chunk, ok := <-a.audio:
			if !ok {
				if err := a.conn.WriteMessage(websocket.TextMessage, []byte(closeStreamMsg)); err != nil {
					a.writeFailed(fmt.Errorf("%w: failed to close stream: %w", stt.ErrUpstreamTransport, err))
				}
				return
			}
			if err := a.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				a.writeFailed(fmt.Errorf("%w: failed to send audio: %w", stt.ErrUpstreamTransport, err))
				return
			}
		case <-tick:
			if err := a.conn.WriteMessage(websocket.TextMessage, []byte(keepAliveMsg)); err != nil {
				a.writeFailed(fmt.Errorf("%w: failed to send keepalive: %w", stt.ErrUpstreamTransport, err))
				return
			}
		case <-a.readerDone:
			return
		case <-a.stop:
			return
		}
	}
}

// writeFailed reports a write error unless the read side already ended the stream.
func (a *Adapter) writeFailed(err error) {
	select {
	case <-a.readerDone:
	default:
		a.fail(err)
	}
}

func (a *Adapter) readLoop() {
	defer a.wg.Done()
	defer close(a.readerDone)

	for {
		_, payload, err := a.conn.ReadMessage()
		if err != nil {
			if !a.stopped() && !isNormalClose(err) {
				a.fail(fmt.Errorf("%w: failed to read provider event: %w", stt.ErrUpstreamTransport, err))
			}
			a.emit(stt.Event{Kind: stt.EventClosed})
			return
		}

		var response deepgramResponse
		if err := json.Unmarshal(payload, &response); err != nil {
			continue
		}

		switch {
		case strings.EqualFold(response.Type, "Error"):
			message := strings.TrimSpace(response.Description)
			if message == "" {
				message = strings.TrimSpace(response.Message)
			}
			if message == "" {
				message = "deepgram returned an unknown error"
			}
			a.fail(fmt.Errorf("%w: %s", stt.ErrUpstreamRejected, message))
		case strings.EqualFold(response.Type, "Metadata"):
			// Request summary after CloseStream; open was reported at dial time.
			continue
		case response.Type == "" || strings.EqualFold(response.Type, "Results"):
			transcript := extractTranscript(response)
			if transcript == "" {
				continue
			}
			kind := stt.EventPartial
			if response.IsFinal {
				kind = stt.EventFinal
			}
			a.emit(stt.Event{Kind: kind, Text: transcript})
		}
	}
}

func (a *Adapter) fail(err error) {
	a.emit(stt.Event{Kind: stt.EventError, Err: err})
}

// emit blocks until the consumer takes the event or the adapter is closed.
func (a *Adapter) emit(ev stt.Event) {
	select {
	case a.events <- ev:
	case <-a.stop:
	}
}

func (a *Adapter) stopped() bool {
	select {
	case <-a.stop:
		return true
	default:
		return false
	}
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}

type deepgramResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	Description string `json:"description"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func extractTranscript(response deepgramResponse) string {
	if len(response.Channel.Alternatives) == 0 {
		return ""
	}
	return strings.TrimSpace(response.Channel.Alternatives[0].Transcript)
}

func buildListenURL(base string, opts stt.Options) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		base = defaultBaseURL
	}
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	listenURL, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}

	if opts.Encoding == "" {
		opts.Encoding = "linear16"
	}
	if opts.SampleRateHz <= 0 {
		opts.SampleRateHz = 48000
	}
	if opts.Channels <= 0 {
		opts.Channels = 1
	}

	query := listenURL.Query()
	if opts.Model != "" {
		query.Set("model", opts.Model)
	}
	if opts.Language != "" {
		query.Set("language", opts.Language)
	}
	query.Set("encoding", opts.Encoding)
	query.Set("sample_rate", strconv.Itoa(opts.SampleRateHz))
	query.Set("channels", strconv.Itoa(opts.Channels))
	query.Set("interim_results", strconv.FormatBool(opts.InterimResults))
	query.Set("smart_format", strconv.FormatBool(opts.SmartFormat))
	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}
