package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"care-transcript-relay/internal/config"
	"care-transcript-relay/internal/events"
	"care-transcript-relay/internal/observability/logging"
	"care-transcript-relay/internal/observability/metrics"
	"care-transcript-relay/internal/schema"
	"care-transcript-relay/internal/service/audio"
	"care-transcript-relay/internal/service/classifier"
	"care-transcript-relay/internal/service/relay"
	"care-transcript-relay/internal/service/stt"
	"care-transcript-relay/internal/service/stt/deepgram"
	"care-transcript-relay/internal/service/stt/google"
	"care-transcript-relay/internal/service/stt/mock"
	"care-transcript-relay/internal/service/transcript"
	"care-transcript-relay/internal/store"
)

// Application holds process-wide state for the service.
// Every collaborator is built once in New and is read-only afterwards.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration

	Catalog    *config.Catalog
	Publisher  *events.Publisher
	Store      *store.Store // nil when storage is disabled
	Classifier *classifier.Classifier
	Processor  *transcript.Processor
	Relay      *relay.Relay
	Metrics    *metrics.Metrics

	ready atomic.Bool
}

// New constructs a new Application from the provided configuration.
func New(ctx context.Context, cfg *config.Configuration) (*Application, error) {
	a := &Application{
		Cfg:     cfg,
		Metrics: metrics.DefaultMetrics,
	}
	a.setupLogger()

	appLogger := a.Logger.With().
		Str("component", "application").
		Str("method", "New").
		Logger()

	catalog, err := config.LoadCatalog(cfg.STT)
	if err != nil {
		return nil, fmt.Errorf("load language catalog: %w", err)
	}
	a.Catalog = catalog

	a.Publisher = events.New(&events.Config{
		Enabled:         cfg.Kafka.Enabled,
		Brokers:         cfg.Kafka.Brokers,
		TopicPartial:    cfg.Kafka.TopicPartial,
		TopicFinal:      cfg.Kafka.TopicFinal,
		TopicClassified: cfg.Kafka.TopicClassified,
		Principal:       cfg.Kafka.Principal,
	})

	if a.Store, err = store.Open(ctx, cfg.Store); err != nil {
		a.Publisher.Close()
		return nil, fmt.Errorf("open transcript store: %w", err)
	}

	if a.Classifier, err = classifier.FromConfig(cfg.Classifier); err != nil {
		a.closeResources()
		return nil, fmt.Errorf("build classifier: %w", err)
	}

	// A nil *store.Store must not become a non-nil interface.
	var st transcript.Store
	if a.Store != nil {
		st = a.Store
	}
	a.Processor = transcript.NewProcessor(a.Classifier, st, a.Publisher)

	factory, err := Providers(cfg.STT).Factory(cfg.STT.Provider)
	if err != nil {
		a.closeResources()
		return nil, err
	}

	a.Relay = relay.New(relay.Deps{
		Catalog:  catalog,
		Provider: cfg.STT.Provider,
		Factory:  factory,
		Format: relay.AudioFormat{
			Encoding:       cfg.STT.AudioEncoding,
			SampleRateHz:   cfg.STT.SampleRateHz,
			Channels:       cfg.STT.Channels,
			InterimResults: cfg.STT.InterimResults,
			SmartFormat:    cfg.STT.SmartFormat,
		},
		Limits: audio.Limits{
			MaxFrameBytes: cfg.Relay.MaxFrameBytes,
			MaxAudioBytes: cfg.Relay.MaxAudioBytes,
			MaxDuration:   cfg.Relay.MaxDuration,
		},
		FinishTimeout: cfg.Relay.FinishTimeout,
		WriteTimeout:  cfg.Relay.WriteTimeout,
		Validator:     schema.New(),
		Publisher:     a.Publisher,
		PublishQueue:  cfg.Relay.PublishQueue,
		Sink:          a.Processor,
		Metrics:       a.Metrics,
	})

	appLogger.Info().
		Str("sttProvider", cfg.STT.Provider).
		Str("defaultLanguage", catalog.DefaultLanguage()).
		Str("scorer", cfg.Classifier.Scorer).
		Bool("storeEnabled", a.Store != nil).
		Bool("kafkaEnabled", cfg.Kafka.Enabled).
		Msg("Care transcript relay application created")
	return a, nil
}

// Providers returns the upstream registry for cfg. Providers needing
// credentials fail when their factory is first called, not at registration.
func Providers(cfg config.STTConfig) *stt.Registry {
	r := stt.NewRegistry()
	r.Register(stt.ProviderMock, mock.Factory())
	r.Register(stt.ProviderDeepgram, deepgram.Factory(deepgram.Config{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
	}))
	r.Register(stt.ProviderGoogle, google.Factory())
	return r
}

// setupLogger configures zerolog for the service.
func (a *Application) setupLogger() {
	cfg := logging.DefaultConfig()
	if a.Cfg.Observability.LogLevel != "" {
		cfg.Level = a.Cfg.Observability.LogLevel
	}
	if a.Cfg.Observability.LogFormat != "" {
		cfg.Format = a.Cfg.Observability.LogFormat
	}
	if os.Getenv("ENV") == "dev" {
		cfg.Format = "console"
	}
	logging.Init(cfg)

	a.Logger = logging.WithComponent("application")
	a.Logger.Info().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("logFormat", cfg.Format).
		Str("environment", os.Getenv("ENV")).
		Msg("Logger setup completed")
}

// Start performs any startup work required before serving traffic.
func (a *Application) Start(ctx context.Context) error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	if a.Store != nil {
		if err := a.Store.Ping(ctx); err != nil {
			return fmt.Errorf("transcript store unavailable: %w", err)
		}
	}

	a.StartupTime = time.Now().UTC()
	a.ready.Store(true)
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Care transcript relay starting")

	return nil
}

// Ready reports whether Start has completed and Shutdown has not begun.
func (a *Application) Ready() bool {
	return a.ready.Load()
}

// Shutdown waits for live relay sessions to drain, then releases resources.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	a.ready.Store(false)
	shutdownLogger.Info().Msg("Care transcript relay shutting down")

	var errs []error
	if err := a.Relay.Wait(ctx); err != nil {
		shutdownLogger.Warn().Err(err).Msg("Relay sessions still open at shutdown")
		errs = append(errs, err)
	}
	if err := a.closeResources(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *Application) closeResources() error {
	var errs []error
	if a.Publisher != nil {
		errs = append(errs, a.Publisher.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
