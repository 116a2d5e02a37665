// Package config loads process-wide configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Configuration is the root configuration for the relay service.
// It is loaded once at startup and passed explicitly to each component.
type Configuration struct {
	Service       ServiceConfig
	STT           STTConfig
	Relay         RelayConfig
	Kafka         KafkaConfig
	Store         StoreConfig
	Classifier    ClassifierConfig
	Observability ObservabilityConfig
}

// ServiceConfig holds listener and identity settings.
type ServiceConfig struct {
	Principal   string
	HTTPPort    string
	GRPCPort    string
	MetricsAddr string
}

// STTConfig holds upstream recognizer settings.
type STTConfig struct {
	Provider        string // deepgram, google, mock
	APIKey          string
	BaseURL         string
	DefaultLanguage string // language served by the clinical profile
	ClinicalModel   string
	GeneralModel    string
	AudioEncoding   string
	SampleRateHz    int
	Channels        int
	InterimResults  bool
	SmartFormat     bool
	CatalogFile     string
}

// RelayConfig holds per-session guardrails for the client relay.
type RelayConfig struct {
	FinishTimeout  time.Duration
	WriteTimeout   time.Duration
	MaxFrameBytes  int64
	MaxAudioBytes  int64
	MaxDuration    time.Duration
	PublishQueue   int
	AllowedOrigins []string
}

// KafkaConfig holds transcript event publishing settings.
type KafkaConfig struct {
	Enabled         bool
	Brokers         []string
	TopicPartial    string
	TopicFinal      string
	TopicClassified string
	Principal       string
}

// StoreConfig holds transcript storage settings.
type StoreConfig struct {
	Enabled bool
	Path    string
}

// ClassifierConfig holds sentence classifier settings.
type ClassifierConfig struct {
	Scorer     string // keyword, zeroshot
	Endpoint   string
	APIToken   string
	LabelsFile string
	Locale     string
	Timeout    time.Duration
}

// ObservabilityConfig holds logging and tracing settings.
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	TracingEnabled bool
	OTLPEndpoint   string
	OTLPInsecure   bool
}

// Load reads the configuration from the environment, falling back to
// defaults for unset or unparsable values.
func Load() *Configuration {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-care-relay")

	return &Configuration{
		Service: ServiceConfig{
			Principal:   principal,
			HTTPPort:    envOrDefault("HTTP_PORT", "8080"),
			GRPCPort:    envOrDefault("GRPC_PORT", "50051"),
			MetricsAddr: envOrDefault("METRICS_ADDR", ":9090"),
		},
		STT: STTConfig{
			Provider:        strings.ToLower(envOrDefault("STT_PROVIDER", "mock")),
			APIKey:          os.Getenv("DEEPGRAM_API_KEY"),
			BaseURL:         envOrDefault("DEEPGRAM_BASE_URL", "https://api.deepgram.com/v1"),
			DefaultLanguage: envOrDefault("STT_LANGUAGE_CODE", "en-US"),
			ClinicalModel:   envOrDefault("STT_CLINICAL_MODEL", "nova-3-medical"),
			GeneralModel:    envOrDefault("STT_GENERAL_MODEL", "nova-2"),
			AudioEncoding:   envOrDefault("STT_AUDIO_ENCODING", "linear16"),
			SampleRateHz:    envOrDefaultInt("STT_SAMPLE_RATE_HZ", 48000),
			Channels:        envOrDefaultInt("STT_CHANNELS", 1),
			InterimResults:  envOrDefaultBool("STT_INTERIM_RESULTS", true),
			SmartFormat:     envOrDefaultBool("STT_SMART_FORMAT", true),
			CatalogFile:     os.Getenv("STT_CATALOG_FILE"),
		},
		Relay: RelayConfig{
			FinishTimeout:  envOrDefaultDuration("RELAY_FINISH_TIMEOUT", 5*time.Second),
			WriteTimeout:   envOrDefaultDuration("RELAY_WRITE_TIMEOUT", 10*time.Second),
			MaxFrameBytes:  envOrDefaultInt64("RELAY_MAX_FRAME_BYTES", 256*1024),
			MaxAudioBytes:  envOrDefaultInt64("RELAY_MAX_AUDIO_BYTES", 0),
			MaxDuration:    envOrDefaultDuration("RELAY_MAX_DURATION", time.Hour),
			PublishQueue:   envOrDefaultInt("RELAY_PUBLISH_QUEUE", 64),
			AllowedOrigins: envOrDefaultList("RELAY_ALLOWED_ORIGINS", nil),
		},
		Kafka: KafkaConfig{
			Enabled:         envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:         envOrDefaultList("KAFKA_BROKERS", []string{"localhost:9092"}),
			TopicPartial:    envOrDefault("KAFKA_TOPIC_PARTIAL", "care.transcript.partial"),
			TopicFinal:      envOrDefault("KAFKA_TOPIC_FINAL", "care.transcript.final"),
			TopicClassified: envOrDefault("KAFKA_TOPIC_CLASSIFIED", "care.transcript.classified"),
			Principal:       envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Store: StoreConfig{
			Enabled: envOrDefaultBool("STORE_ENABLED", true),
			Path:    envOrDefault("STORE_PATH", "data/care-transcripts.db"),
		},
		Classifier: ClassifierConfig{
			Scorer:     strings.ToLower(envOrDefault("CLASSIFIER_SCORER", "keyword")),
			Endpoint:   os.Getenv("CLASSIFIER_ENDPOINT"),
			APIToken:   os.Getenv("CLASSIFIER_API_TOKEN"),
			LabelsFile: os.Getenv("CLASSIFIER_LABELS_FILE"),
			Locale:     envOrDefault("CLASSIFIER_LOCALE", "en"),
			Timeout:    envOrDefaultDuration("CLASSIFIER_TIMEOUT", 10*time.Second),
		},
		Observability: ObservabilityConfig{
			LogLevel:       strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
			LogFormat:      envOrDefault("LOG_FORMAT", "json"),
			TracingEnabled: envOrDefaultBool("TRACING_ENABLED", false),
			OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			OTLPInsecure:   envOrDefaultBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envOrDefaultInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envOrDefaultBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// envOrDefaultList splits a comma-separated value, dropping empty entries.
func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
