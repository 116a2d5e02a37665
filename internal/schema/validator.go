// Package schema validates client control messages on the relay channel.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// ErrInvalidConfig is the root of every configuration error.
var ErrInvalidConfig = errors.New("invalid session configuration")

// Configuration errors, all matching ErrInvalidConfig with errors.Is.
var (
	ErrNotJSON          = fmt.Errorf("%w: payload is not a JSON object", ErrInvalidConfig)
	ErrMissingLanguage  = fmt.Errorf("%w: language is required", ErrInvalidConfig)
	ErrInvalidLanguage  = fmt.Errorf("%w: language is not a valid language tag", ErrInvalidConfig)
	ErrInvalidCaregiver = fmt.Errorf("%w: caregiver_id must be a string", ErrInvalidConfig)
	ErrUnexpectedAudio  = fmt.Errorf("%w: audio received before configuration", ErrInvalidConfig)
)

// SessionConfig is a validated client configuration message.
type SessionConfig struct {
	Language    string
	CaregiverID string
	Tag         language.Tag
}

// ControlType identifies a client control message received after configuration.
type ControlType string

const (
	ControlUnknown ControlType = ""
	ControlFinish  ControlType = "finish"
)

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// ParseSessionConfig validates the first client message. The payload must be
// a JSON object with a non-empty, well-formed "language" tag.
func (v *Validator) ParseSessionConfig(payload []byte) (SessionConfig, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		return SessionConfig{}, ErrNotJSON
	}

	raw, ok := fields["language"]
	if !ok || string(raw) == "null" {
		return SessionConfig{}, ErrMissingLanguage
	}
	var lang string
	if err := json.Unmarshal(raw, &lang); err != nil {
		return SessionConfig{}, ErrInvalidLanguage
	}
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return SessionConfig{}, ErrMissingLanguage
	}
	tag, err := language.Parse(lang)
	if err != nil || tag == language.Und {
		return SessionConfig{}, ErrInvalidLanguage
	}

	cfg := SessionConfig{Language: tag.String(), Tag: tag}
	if raw, ok := fields["caregiver_id"]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &cfg.CaregiverID); err != nil {
			return SessionConfig{}, ErrInvalidCaregiver
		}
		cfg.CaregiverID = strings.TrimSpace(cfg.CaregiverID)
	}
	return cfg, nil
}

// ParseControl classifies a text message received after configuration.
// Unrecognized messages yield ControlUnknown.
func (v *Validator) ParseControl(payload []byte) ControlType {
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return ControlUnknown
	}
	switch strings.ToLower(msg.Type) {
	case "finish", "closestream":
		return ControlFinish
	default:
		return ControlUnknown
	}
}

// Reason returns a short metrics label for a configuration error.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrUnexpectedAudio):
		return "audio_before_config"
	case errors.Is(err, ErrNotJSON):
		return "not_json"
	case errors.Is(err, ErrMissingLanguage):
		return "missing_language"
	case errors.Is(err, ErrInvalidLanguage):
		return "invalid_language"
	case errors.Is(err, ErrInvalidCaregiver):
		return "invalid_caregiver"
	default:
		return "other"
	}
}
