package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/text/language"
)

func TestLoad_Defaults(t *testing.T) {
	// Clear relevant env vars
	envVars := []string{
		"SERVICE_PRINCIPAL", "HTTP_PORT", "GRPC_PORT", "LOG_LEVEL",
		"STT_PROVIDER", "STT_LANGUAGE_CODE", "STT_SAMPLE_RATE_HZ",
		"STT_INTERIM_RESULTS", "STT_AUDIO_ENCODING", "STT_CLINICAL_MODEL", "STT_GENERAL_MODEL",
		"RELAY_FINISH_TIMEOUT", "RELAY_MAX_FRAME_BYTES", "RELAY_MAX_DURATION",
		"KAFKA_PRINCIPAL", "KAFKA_ENABLED", "STORE_ENABLED", "CLASSIFIER_SCORER",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}

	cfg := Load()

	// Service defaults
	if cfg.Service.Principal != "svc-care-relay" {
		t.Errorf("expected default principal 'svc-care-relay', got %s", cfg.Service.Principal)
	}
	if cfg.Service.HTTPPort != "8080" {
		t.Errorf("expected default http port '8080', got %s", cfg.Service.HTTPPort)
	}
	if cfg.Service.GRPCPort != "50051" {
		t.Errorf("expected default grpc port '50051', got %s", cfg.Service.GRPCPort)
	}

	// STT defaults
	if cfg.STT.Provider != "mock" {
		t.Errorf("expected default STT provider 'mock', got %s", cfg.STT.Provider)
	}
	if cfg.STT.DefaultLanguage != "en-US" {
		t.Errorf("expected default language 'en-US', got %s", cfg.STT.DefaultLanguage)
	}
	if cfg.STT.ClinicalModel != "nova-3-medical" {
		t.Errorf("expected clinical model 'nova-3-medical', got %s", cfg.STT.ClinicalModel)
	}
	if cfg.STT.SampleRateHz != 48000 {
		t.Errorf("expected default sample rate 48000, got %d", cfg.STT.SampleRateHz)
	}
	if !cfg.STT.InterimResults || !cfg.STT.SmartFormat {
		t.Errorf("expected interim results and smart format enabled by default")
	}
	if cfg.STT.AudioEncoding != "linear16" {
		t.Errorf("expected default encoding 'linear16', got %s", cfg.STT.AudioEncoding)
	}

	// Relay defaults
	if cfg.Relay.FinishTimeout != 5*time.Second {
		t.Errorf("expected default finish timeout 5s, got %v", cfg.Relay.FinishTimeout)
	}
	if cfg.Relay.MaxFrameBytes != 256*1024 {
		t.Errorf("expected default max frame bytes 256KiB, got %d", cfg.Relay.MaxFrameBytes)
	}
	if cfg.Relay.MaxDuration != time.Hour {
		t.Errorf("expected default max duration 1h, got %v", cfg.Relay.MaxDuration)
	}

	if cfg.Kafka.Enabled {
		t.Error("expected kafka disabled by default")
	}
	if !cfg.Store.Enabled {
		t.Error("expected store enabled by default")
	}
	if cfg.Classifier.Scorer != "keyword" {
		t.Errorf("expected default scorer 'keyword', got %s", cfg.Classifier.Scorer)
	}

	// Observability defaults
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("expected default log level 'info', got %s", cfg.Observability.LogLevel)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	os.Setenv("SERVICE_PRINCIPAL", "custom-principal")
	os.Setenv("GRPC_PORT", "9999")
	os.Setenv("LOG_LEVEL", "DEBUG")
	os.Setenv("STT_PROVIDER", "Deepgram")
	os.Setenv("STT_LANGUAGE_CODE", "es-ES")
	os.Setenv("STT_SAMPLE_RATE_HZ", "16000")
	os.Setenv("STT_INTERIM_RESULTS", "false")
	os.Setenv("RELAY_FINISH_TIMEOUT", "2s")
	os.Setenv("KAFKA_BROKERS", "b1:9092, b2:9092,")

	defer func() {
		os.Unsetenv("SERVICE_PRINCIPAL")
		os.Unsetenv("GRPC_PORT")
		os.Unsetenv("LOG_LEVEL")
		os.Unsetenv("STT_PROVIDER")
		os.Unsetenv("STT_LANGUAGE_CODE")
		os.Unsetenv("STT_SAMPLE_RATE_HZ")
		os.Unsetenv("STT_INTERIM_RESULTS")
		os.Unsetenv("RELAY_FINISH_TIMEOUT")
		os.Unsetenv("KAFKA_BROKERS")
	}()

	cfg := Load()

	if cfg.Service.Principal != "custom-principal" {
		t.Errorf("expected principal 'custom-principal', got %s", cfg.Service.Principal)
	}
	if cfg.Service.GRPCPort != "9999" {
		t.Errorf("expected port '9999', got %s", cfg.Service.GRPCPort)
	}
	if cfg.STT.Provider != "deepgram" {
		t.Errorf("expected STT provider 'deepgram', got %s", cfg.STT.Provider)
	}
	if cfg.STT.DefaultLanguage != "es-ES" {
		t.Errorf("expected language 'es-ES', got %s", cfg.STT.DefaultLanguage)
	}
	if cfg.STT.SampleRateHz != 16000 {
		t.Errorf("expected sample rate 16000, got %d", cfg.STT.SampleRateHz)
	}
	if cfg.STT.InterimResults {
		t.Errorf("expected interim results false")
	}
	if cfg.Relay.FinishTimeout != 2*time.Second {
		t.Errorf("expected finish timeout 2s, got %v", cfg.Relay.FinishTimeout)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "b2:9092" {
		t.Errorf("expected two trimmed brokers, got %v", cfg.Kafka.Brokers)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.Observability.LogLevel)
	}
}

func TestLoad_InvalidValues_FallbackToDefaults(t *testing.T) {
	os.Setenv("STT_SAMPLE_RATE_HZ", "not-a-number")
	os.Setenv("STT_INTERIM_RESULTS", "invalid")
	os.Setenv("RELAY_MAX_FRAME_BYTES", "invalid")
	os.Setenv("RELAY_MAX_DURATION", "invalid")

	defer func() {
		os.Unsetenv("STT_SAMPLE_RATE_HZ")
		os.Unsetenv("STT_INTERIM_RESULTS")
		os.Unsetenv("RELAY_MAX_FRAME_BYTES")
		os.Unsetenv("RELAY_MAX_DURATION")
	}()

	cfg := Load()

	if cfg.STT.SampleRateHz != 48000 {
		t.Errorf("expected default sample rate on invalid input, got %d", cfg.STT.SampleRateHz)
	}
	if cfg.STT.InterimResults != true {
		t.Errorf("expected default interim results on invalid input, got %v", cfg.STT.InterimResults)
	}
	if cfg.Relay.MaxFrameBytes != 256*1024 {
		t.Errorf("expected default max frame bytes on invalid input, got %d", cfg.Relay.MaxFrameBytes)
	}
	if cfg.Relay.MaxDuration != time.Hour {
		t.Errorf("expected default max duration on invalid input, got %v", cfg.Relay.MaxDuration)
	}
}

func TestLoad_KafkaPrincipal_FallsBackToServicePrincipal(t *testing.T) {
	os.Setenv("SERVICE_PRINCIPAL", "my-service")
	os.Unsetenv("KAFKA_PRINCIPAL")

	defer os.Unsetenv("SERVICE_PRINCIPAL")

	cfg := Load()

	if cfg.Kafka.Principal != "my-service" {
		t.Errorf("expected Kafka principal to fall back to service principal, got %s", cfg.Kafka.Principal)
	}
}

func TestEnvOrDefaultBool(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      bool
		expected bool
	}{
		{"true string", "true", false, true},
		{"false string", "false", true, false},
		{"1", "1", false, true},
		{"0", "0", true, false},
		{"TRUE uppercase", "TRUE", false, true},
		{"invalid", "invalid", true, true},
		{"empty", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_BOOL_VAR"
			if tt.envValue != "" {
				os.Setenv(key, tt.envValue)
			} else {
				os.Unsetenv(key)
			}
			defer os.Unsetenv(key)

			got := envOrDefaultBool(key, tt.def)
			if got != tt.expected {
				t.Errorf("envOrDefaultBool(%s, %v) = %v, want %v", tt.envValue, tt.def, got, tt.expected)
			}
		})
	}
}

func testSTTConfig() STTConfig {
	return STTConfig{
		DefaultLanguage: "en-US",
		ClinicalModel:   "nova-3-medical",
		GeneralModel:    "nova-2",
	}
}

func TestCatalog_Resolve(t *testing.T) {
	c, err := NewCatalog(testSTTConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		lang      string
		wantKind  string
		wantModel string
		wantLang  string
	}{
		{"en-US", ProfileClinical, "nova-3-medical", "en-US"},
		{"en-us", ProfileClinical, "nova-3-medical", "en-US"},
		{"en", ProfileGeneral, "nova-2", "en"},
		{"es-ES", ProfileGeneral, "nova-2", "es-ES"},
		{"fr", ProfileGeneral, "nova-2", "fr"},
	}

	for _, tt := range tests {
		t.Run(tt.lang, func(t *testing.T) {
			got := c.Resolve(language.MustParse(tt.lang))
			if got.Kind != tt.wantKind || got.Model != tt.wantModel || got.Language != tt.wantLang {
				t.Errorf("Resolve(%s) = %+v, want kind=%s model=%s language=%s",
					tt.lang, got, tt.wantKind, tt.wantModel, tt.wantLang)
			}
		})
	}
}

func TestCatalog_ResolveIsDeterministic(t *testing.T) {
	c, err := NewCatalog(testSTTConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first := c.Resolve(language.MustParse("de-DE"))
	for i := 0; i < 10; i++ {
		if got := c.Resolve(language.MustParse("de-DE")); got != first {
			t.Fatalf("resolve %d returned %+v, want %+v", i, got, first)
		}
	}
}

func TestNewCatalog_InvalidDefaultLanguage(t *testing.T) {
	cfg := testSTTConfig()
	cfg.DefaultLanguage = "not a tag!"
	if _, err := NewCatalog(cfg); err == nil {
		t.Fatal("expected error for invalid default language")
	}
}

func TestLoadCatalog_FileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	content := `
profiles:
  - languages: ["es", "es-MX"]
    model: nova-2-general
    language: es
  - languages: ["en-GB"]
    model: nova-3-medical
    kind: clinical
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	cfg := testSTTConfig()
	cfg.CatalogFile = path
	c, err := LoadCatalog(cfg)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}

	got := c.Resolve(language.MustParse("es-MX"))
	if got.Model != "nova-2-general" || got.Language != "es" || got.Kind != ProfileGeneral {
		t.Errorf("unexpected es-MX profile: %+v", got)
	}
	got = c.Resolve(language.MustParse("en-GB"))
	if got.Model != "nova-3-medical" || got.Language != "en-GB" || got.Kind != ProfileClinical {
		t.Errorf("unexpected en-GB profile: %+v", got)
	}
	// Default language is unaffected by overrides for other tags.
	if got := c.Resolve(language.MustParse("en-US")); got.Kind != ProfileClinical {
		t.Errorf("expected clinical profile for en-US, got %+v", got)
	}
}

func TestLoadCatalog_MissingModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte("profiles:\n  - languages: [\"es\"]\n"), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	cfg := testSTTConfig()
	cfg.CatalogFile = path
	if _, err := LoadCatalog(cfg); err == nil {
		t.Fatal("expected error for profile without model")
	}
}
