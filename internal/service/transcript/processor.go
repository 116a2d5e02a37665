// Package transcript runs the post-session pipeline: persist a transcript,
// classify its sentences, persist them and announce the result.
package transcript

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"care-transcript-relay/internal/models"
	"care-transcript-relay/internal/observability/logging"
	"care-transcript-relay/internal/observability/tracing"
)

// ErrMissingCaregiver is returned when a transcript has no caregiver id.
var ErrMissingCaregiver = errors.New("caregiver_id is required")

// Classifier labels the sentences of a text.
type Classifier interface {
	Classify(ctx context.Context, text string) ([]models.ClassifiedSentence, error)
}

// Store persists transcripts and sentences.
type Store interface {
	CreateTranscript(ctx context.Context, caregiverID, rawText string) (models.Transcript, error)
	CreateSentences(ctx context.Context, transcriptID string, inputs []models.SentenceInput) ([]models.Sentence, error)
}

// Publisher announces classified transcripts.
type Publisher interface {
	PublishClassified(ctx context.Context, event models.SentencesClassified) error
}

// Result is a processed transcript.
type Result struct {
	Transcript models.Transcript           `json:"transcript"`
	Sentences  []models.ClassifiedSentence `json:"sentences"`
	Stored     bool                        `json:"stored"`
}

// Processor wires the classifier to storage and publishing.
// Store and Publisher are optional.
type Processor struct {
	classifier Classifier
	store      Store
	publisher  Publisher
	clock      func() time.Time
}

// NewProcessor returns a Processor. Pass a nil store to classify without persisting.
func NewProcessor(classifier Classifier, store Store, publisher Publisher) *Processor {
	return &Processor{
		classifier: classifier,
		store:      store,
		publisher:  publisher,
		clock:      time.Now,
	}
}

// Submit processes a finished session transcript, discarding the result.
func (p *Processor) Submit(ctx context.Context, caregiverID, rawText string) error {
	_, err := p.Process(ctx, caregiverID, rawText)
	return err
}

// Process classifies rawText, then stores the transcript and its sentences.
// Publishing failures are logged and do not fail the call.
func (p *Processor) Process(ctx context.Context, caregiverID, rawText string) (Result, error) {
	ctx, span := tracing.Tracer().Start(ctx, "transcript.process")
	defer span.End()

	caregiverID = strings.TrimSpace(caregiverID)
	if caregiverID == "" {
		return Result{}, ErrMissingCaregiver
	}

	// Classify first so a classifier failure stores nothing.
	classified, err := p.classifier.Classify(ctx, rawText)
	if err != nil {
		span.RecordError(err)
		return Result{}, fmt.Errorf("classify transcript: %w", err)
	}

	res := Result{Sentences: classified}
	if p.store != nil {
		t, err := p.store.CreateTranscript(ctx, caregiverID, rawText)
		if err != nil {
			span.RecordError(err)
			return Result{}, fmt.Errorf("store transcript: %w", err)
		}
		res.Transcript = t
		res.Stored = true
	} else {
		res.Transcript = models.Transcript{
			ID:          uuid.NewString(),
			CaregiverID: caregiverID,
			RawText:     rawText,
			CreatedAt:   p.clock().UTC(),
		}
	}

	log := logging.WithTranscript(res.Transcript.ID, caregiverID)
	span.SetAttributes(attribute.String("transcript.id", res.Transcript.ID))

	if p.store != nil {
		inputs := make([]models.SentenceInput, len(classified))
		for i, c := range classified {
			inputs[i] = models.SentenceInput{SequenceID: c.SequenceID, Text: c.Text, Category: c.Category}
		}
		if _, err := p.store.CreateSentences(ctx, res.Transcript.ID, inputs); err != nil {
			span.RecordError(err)
			return res, fmt.Errorf("store sentences for %s: %w", res.Transcript.ID, err)
		}
	}

	if p.publisher != nil {
		err := p.publisher.PublishClassified(ctx, models.SentencesClassified{
			EventType:    models.EventSentencesClassified,
			TranscriptID: res.Transcript.ID,
			CaregiverID:  caregiverID,
			Sentences:    classified,
			Timestamp:    p.clock().UnixMilli(),
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to publish classified sentences")
		}
	}

	log.Info().
		Int("sentences", len(classified)).
		Bool("stored", res.Stored).
		Msg("Transcript processed")
	return res, nil
}
