// Package google provides a Google Cloud Speech-to-Text adapter.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"care-transcript-relay/internal/service/stt"
)

// modelAliases maps the relay's profile models onto Google recognizer models.
// Unlisted names are passed through unchanged.
var modelAliases = map[string]string{
	"nova-3-medical": "medical_conversation",
	"nova-3":         "latest_long",
	"nova-2":         "latest_long",
}

// Adapter implements stt.Adapter using Google Cloud Speech-to-Text.
type Adapter struct {
	client *speech.Client
	open   func(ctx context.Context) (speechpb.Speech_StreamingRecognizeClient, error)
	stream speechpb.Speech_StreamingRecognizeClient
	cancel context.CancelFunc
	events chan stt.Event

	sendMu     sync.Mutex
	finishOnce sync.Once
	closeOnce  sync.Once
	closeErr   error
	stop       chan struct{}
	done       chan struct{}
}

// New creates a new Google STT adapter.
// Requires GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
func New(ctx context.Context) (*Adapter, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		client: c,
		open: func(ctx context.Context) (speechpb.Speech_StreamingRecognizeClient, error) {
			return c.StreamingRecognize(ctx)
		},
	}, nil
}

// Factory returns an stt.Factory producing Google adapters.
func Factory() stt.Factory {
	return func(ctx context.Context) (stt.Adapter, error) {
		return New(ctx)
	}
}

// Start opens a streaming recognition session and sends the config as the first message.
// The stream outlives ctx so a finish after cancellation still flushes results;
// Close ends it.
func (a *Adapter) Start(ctx context.Context, opts stt.Options) (<-chan stt.Event, error) {
	if a.open == nil {
		return nil, stt.ErrNotStarted
	}
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := a.open(streamCtx)
	if err != nil {
		cancel()
		return nil, classifyError(err)
	}

	if err := stream.Send(buildConfigRequest(opts)); err != nil {
		cancel()
		return nil, classifyError(err)
	}

	a.stream = stream
	a.cancel = cancel
	a.events = make(chan stt.Event, 64)
	a.stop = make(chan struct{})
	a.done = make(chan struct{})
	a.events <- stt.Event{Kind: stt.EventOpen}

	go a.listen()
	return a.events, nil
}

// SendAudio sends audio bytes to Google Speech-to-Text.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	if a.stream == nil {
		return stt.ErrNotStarted
	}
	a.sendMu.Lock()
	defer a.sendMu.Unlock()

	return a.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
}

// Finish half-closes the stream so Google returns its remaining results.
func (a *Adapter) Finish(ctx context.Context) error {
	if a.stream == nil {
		return nil
	}
	var err error
	a.finishOnce.Do(func() {
		a.sendMu.Lock()
		err = a.stream.CloseSend()
		a.sendMu.Unlock()
	})
	return err
}

// Close cancels the stream and releases the client.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		if a.cancel != nil {
			close(a.stop)
			a.cancel()
			<-a.done
		}
		if a.client != nil {
			a.closeErr = a.client.Close()
		}
	})
	return a.closeErr
}

// listen receives responses until the stream ends and translates them into events.
func (a *Adapter) listen() {
	defer close(a.done)
	defer close(a.events)

	for {
		resp, err := a.stream.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) && status.Code(err) != codes.Canceled {
				a.emit(stt.Event{Kind: stt.EventError, Err: classifyError(err)})
			}
			a.emit(stt.Event{Kind: stt.EventClosed})
			return
		}

		for _, ev := range resultEvents(resp) {
			a.emit(ev)
		}
	}
}

func (a *Adapter) emit(ev stt.Event) {
	select {
	case a.events <- ev:
	case <-a.stop:
	}
}

// resultEvents converts one response into transcript events, skipping empty alternatives.
func resultEvents(resp *speechpb.StreamingRecognizeResponse) []stt.Event {
	var out []stt.Event
	for _, r := range resp.GetResults() {
		if len(r.GetAlternatives()) == 0 {
			continue
		}
		text := strings.TrimSpace(r.GetAlternatives()[0].GetTranscript())
		if text == "" {
			continue
		}
		kind := stt.EventPartial
		if r.GetIsFinal() {
			kind = stt.EventFinal
		}
		out = append(out, stt.Event{Kind: kind, Text: text})
	}
	return out
}

func buildConfigRequest(opts stt.Options) *speechpb.StreamingRecognizeRequest {
	model := opts.Model
	if alias, ok := modelAliases[model]; ok {
		model = alias
	}
	channels := opts.Channels
	if channels <= 0 {
		channels = 1
	}

	return &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   parseAudioEncoding(opts.Encoding),
					SampleRateHertz:            int32(opts.SampleRateHz),
					AudioChannelCount:          int32(channels),
					LanguageCode:               opts.Language,
					Model:                      model,
					EnableAutomaticPunctuation: opts.SmartFormat,
				},
				InterimResults: opts.InterimResults,
			},
		},
	}
}

// parseAudioEncoding maps an encoding name to the Google enum, case-insensitively.
// Unknown names fall back to LINEAR16.
func parseAudioEncoding(encoding string) speechpb.RecognitionConfig_AudioEncoding {
	v, ok := speechpb.RecognitionConfig_AudioEncoding_value[strings.ToUpper(strings.TrimSpace(encoding))]
	if !ok || v == int32(speechpb.RecognitionConfig_ENCODING_UNSPECIFIED) {
		return speechpb.RecognitionConfig_LINEAR16
	}
	return speechpb.RecognitionConfig_AudioEncoding(v)
}

// classifyError wraps gRPC failures in the relay's upstream error taxonomy.
func classifyError(err error) error {
	switch status.Code(err) {
	case codes.InvalidArgument, codes.PermissionDenied, codes.Unauthenticated, codes.ResourceExhausted:
		return fmt.Errorf("%w: %w", stt.ErrUpstreamRejected, err)
	default:
		return fmt.Errorf("%w: %w", stt.ErrUpstreamTransport, err)
	}
}
