package schema

import (
	"errors"
	"testing"
)

func TestParseSessionConfig(t *testing.T) {
	v := New()

	tests := []struct {
		name      string
		payload   string
		wantLang  string
		wantCare  string
		wantErr   error
	}{
		{"language only", `{"language":"en-US"}`, "en-US", "", nil},
		{"lowercase tag canonicalized", `{"language":"en-us"}`, "en-US", "", nil},
		{"with caregiver", `{"language":"es","caregiver_id":"cg-1"}`, "es", "cg-1", nil},
		{"null caregiver", `{"language":"fr","caregiver_id":null}`, "fr", "", nil},
		{"extra fields ignored", `{"language":"de","sample_rate":16000}`, "de", "", nil},
		{"not json", `hello`, "", "", ErrNotJSON},
		{"json array", `["en-US"]`, "", "", ErrNotJSON},
		{"json null", `null`, "", "", ErrNotJSON},
		{"missing language", `{}`, "", "", ErrMissingLanguage},
		{"null language", `{"language":null}`, "", "", ErrMissingLanguage},
		{"blank language", `{"language":"  "}`, "", "", ErrMissingLanguage},
		{"numeric language", `{"language":5}`, "", "", ErrInvalidLanguage},
		{"malformed tag", `{"language":"not a tag!"}`, "", "", ErrInvalidLanguage},
		{"undetermined tag", `{"language":"und"}`, "", "", ErrInvalidLanguage},
		{"numeric caregiver", `{"language":"en","caregiver_id":7}`, "", "", ErrInvalidCaregiver},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := v.ParseSessionConfig([]byte(tt.payload))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseSessionConfig(%s) error = %v, want %v", tt.payload, err, tt.wantErr)
				}
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("error %v should match ErrInvalidConfig", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSessionConfig(%s) unexpected error: %v", tt.payload, err)
			}
			if cfg.Language != tt.wantLang {
				t.Errorf("Language = %q, want %q", cfg.Language, tt.wantLang)
			}
			if cfg.CaregiverID != tt.wantCare {
				t.Errorf("CaregiverID = %q, want %q", cfg.CaregiverID, tt.wantCare)
			}
			if cfg.Tag.String() != cfg.Language {
				t.Errorf("Tag = %q, want %q", cfg.Tag.String(), cfg.Language)
			}
		})
	}
}

func TestParseControl(t *testing.T) {
	v := New()

	tests := []struct {
		payload string
		want    ControlType
	}{
		{`{"type":"finish"}`, ControlFinish},
		{`{"type":"CloseStream"}`, ControlFinish},
		{`{"type":"keepalive"}`, ControlUnknown},
		{`{"language":"en-US"}`, ControlUnknown},
		{`garbage`, ControlUnknown},
	}

	for _, tt := range tests {
		if got := v.ParseControl([]byte(tt.payload)); got != tt.want {
			t.Errorf("ParseControl(%s) = %q, want %q", tt.payload, got, tt.want)
		}
	}
}

func TestReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrUnexpectedAudio, "audio_before_config"},
		{ErrNotJSON, "not_json"},
		{ErrMissingLanguage, "missing_language"},
		{ErrInvalidLanguage, "invalid_language"},
		{ErrInvalidCaregiver, "invalid_caregiver"},
		{errors.New("boom"), "other"},
	}

	for _, tt := range tests {
		if got := Reason(tt.err); got != tt.want {
			t.Errorf("Reason(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
