// Package models defines the wire messages and records shared across the service.
package models

import "time"

// Event types published to Kafka.
const (
	EventTranscriptPartial   = "care.transcript.partial"
	EventTranscriptFinal     = "care.transcript.final"
	EventSentencesClassified = "care.transcript.sentences.classified"
)

// TranscriptMessage is the client-visible transcript update.
type TranscriptMessage struct {
	Final bool   `json:"final"`
	Text  string `json:"text"`
}

// ErrorMessage is the client-visible error notification.
type ErrorMessage struct {
	Error string `json:"error"`
}

// ConfigMessage echoes the effective session configuration to the client.
type ConfigMessage struct {
	Config EffectiveConfig `json:"config"`
}

// EffectiveConfig is the negotiated configuration of a relay session.
type EffectiveConfig struct {
	SessionID    string `json:"session_id"`
	Language     string `json:"language"`
	Model        string `json:"model"`
	Profile      string `json:"profile"`
	Encoding     string `json:"encoding"`
	SampleRateHz int    `json:"sample_rate"`
	Channels     int    `json:"channels"`
}

// TranscriptUpdate is the Kafka event for one relayed transcript result.
type TranscriptUpdate struct {
	EventType   string `json:"eventType"`
	SessionID   string `json:"sessionId"`
	CaregiverID string `json:"caregiverId,omitempty"`
	Language    string `json:"language"`
	Model       string `json:"model"`
	Final       bool   `json:"final"`
	Text        string `json:"text"`
	Timestamp   int64  `json:"timestamp"`
}

// SentencesClassified is the Kafka event emitted after a transcript is classified.
type SentencesClassified struct {
	EventType    string               `json:"eventType"`
	TranscriptID string               `json:"transcriptId,omitempty"`
	CaregiverID  string               `json:"caregiverId,omitempty"`
	Sentences    []ClassifiedSentence `json:"sentences"`
	Timestamp    int64                `json:"timestamp"`
}

// Category is the classifier's sentence category.
type Category string

const (
	CategoryObservation Category = "observation"
	CategoryActivity    Category = "activity"
)

// ClassifiedSentence is one categorized, scored sentence of a transcript.
type ClassifiedSentence struct {
	SequenceID       int      `json:"sequence_id"`
	Text             string   `json:"text"`
	Category         Category `json:"category"`
	ScoreObservation float64  `json:"score_observation"`
	ScoreActivity    float64  `json:"score_activity"`
}

// Transcript is a stored transcript record.
type Transcript struct {
	ID          string    `json:"id"`
	CaregiverID string    `json:"caregiver_id"`
	RawText     string    `json:"raw_text"`
	CreatedAt   time.Time `json:"created_at"`
}

// SentenceInput is one sentence to insert for a transcript.
type SentenceInput struct {
	SequenceID int      `json:"sequence_id"`
	Text       string   `json:"text"`
	Category   Category `json:"category"`
}

// Sentence is a stored sentence record.
type Sentence struct {
	ID           string   `json:"id"`
	TranscriptID string   `json:"transcript_id"`
	SequenceID   int      `json:"sequence_id"`
	Text         string   `json:"text"`
	Category     Category `json:"category"`
}
