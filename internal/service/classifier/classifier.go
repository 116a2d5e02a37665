// Package classifier splits transcripts into sentences and labels each one
// as an observation of the care recipient or an activity done by or for them.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"care-transcript-relay/internal/config"
	"care-transcript-relay/internal/models"
	"care-transcript-relay/internal/observability/logging"
	"care-transcript-relay/internal/observability/metrics"
	"care-transcript-relay/internal/observability/tracing"
)

// Scorer kinds accepted by FromConfig.
const (
	ScorerKeyword  = "keyword"
	ScorerZeroShot = "zeroshot"
)

// Classifier labels the sentences of a transcript.
type Classifier struct {
	segmenter Segmenter
	scorer    Scorer
	labels    LabelSet
	metrics   *metrics.Metrics
}

// New returns a Classifier. The label set must contain at least one label per group.
func New(segmenter Segmenter, scorer Scorer, labels LabelSet) (*Classifier, error) {
	if segmenter == nil || scorer == nil {
		return nil, errors.New("classifier requires a segmenter and a scorer")
	}
	if err := labels.Validate(); err != nil {
		return nil, err
	}
	return &Classifier{
		segmenter: segmenter,
		scorer:    scorer,
		labels:    labels,
		metrics:   metrics.DefaultMetrics,
	}, nil
}

// FromConfig builds the Classifier selected by cfg.
func FromConfig(cfg config.ClassifierConfig) (*Classifier, error) {
	labels := DefaultLabels()
	if cfg.LabelsFile != "" {
		var err error
		if labels, err = LoadLabels(cfg.LabelsFile); err != nil {
			return nil, err
		}
	}

	segmenter, err := NewPunktSegmenter(cfg.Locale)
	if err != nil {
		return nil, err
	}

	var scorer Scorer
	switch strings.ToLower(cfg.Scorer) {
	case "", ScorerKeyword:
		scorer = NewKeywordScorer()
	case ScorerZeroShot:
		if scorer, err = NewZeroShotScorer(cfg.Endpoint, cfg.APIToken, cfg.Timeout); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown classifier scorer %q", cfg.Scorer)
	}

	c, err := New(segmenter, scorer, labels)
	if err != nil {
		return nil, err
	}
	logger := logging.WithComponent("classifier")
	logger.Info().
		Str("locale", segmenter.Locale().String()).
		Str("scorer", cfg.Scorer).
		Strs("labels", labels.Names()).
		Msg("Classifier configured")
	return c, nil
}

// Classify splits text into sentences and labels each one. Sequence ids are
// contiguous from zero in input order. Blank input yields an empty slice.
func (c *Classifier) Classify(ctx context.Context, text string) ([]models.ClassifiedSentence, error) {
	ctx, span := tracing.Tracer().Start(ctx, "classifier.classify")
	defer span.End()

	start := time.Now()
	out := []models.ClassifiedSentence{}
	if strings.TrimSpace(text) == "" {
		return out, nil
	}

	sentences := c.segmenter.Split(text)
	span.SetAttributes(attribute.Int("sentences", len(sentences)))

	categories := make([]string, 0, len(sentences))
	for i, s := range sentences {
		scores, err := c.scorer.Score(ctx, s, c.labels)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("score sentence %d: %w", i, err)
		}
		cs := c.aggregate(i, s, scores)
		out = append(out, cs)
		categories = append(categories, string(cs.Category))
	}

	c.metrics.RecordClassification(categories, time.Since(start).Seconds())
	logger := logging.WithComponent("classifier")
	logger.Debug().
		Int("sentences", len(out)).
		Dur("elapsed", time.Since(start)).
		Msg("Transcript classified")
	return out, nil
}

// aggregate sums label scores per group. Ties go to observation.
func (c *Classifier) aggregate(seq int, text string, scores map[string]float64) models.ClassifiedSentence {
	var obs, act float64
	for _, l := range c.labels.Labels {
		switch groupOf(l.Name) {
		case models.CategoryObservation:
			obs += scores[l.Name]
		case models.CategoryActivity:
			act += scores[l.Name]
		}
	}

	category := models.CategoryActivity
	if obs >= act {
		category = models.CategoryObservation
	}
	return models.ClassifiedSentence{
		SequenceID:       seq,
		Text:             text,
		Category:         category,
		ScoreObservation: obs,
		ScoreActivity:    act,
	}
}
