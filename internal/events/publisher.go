// Package events provides event publishing functionality.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"care-transcript-relay/internal/models"
	"care-transcript-relay/internal/observability/metrics"
)

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher publishes transcript events to separate Kafka topics.
type Publisher struct {
	writerPartial    messageWriter
	writerFinal      messageWriter
	writerClassified messageWriter
	principal        string
	topicPartial     string
	topicFinal       string
	topicClassified  string
	enabled          bool
	metrics          *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers         []string
	TopicPartial    string
	TopicFinal      string
	TopicClassified string
	Principal       string
	Enabled         bool
}

// New creates a Kafka event publisher with one topic each for partial
// transcripts, final transcripts and classified sentences.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	// Handle nil config case
	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			enabled: false,
			metrics: m,
		}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:       cfg.Principal,
			topicPartial:    cfg.TopicPartial,
			topicFinal:      cfg.TopicFinal,
			topicClassified: cfg.TopicClassified,
			enabled:         false,
			metrics:         m,
		}
	}

	// Longer dial timeout for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicPartial", cfg.TopicPartial).
		Str("topicFinal", cfg.TopicFinal).
		Str("topicClassified", cfg.TopicClassified).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerPartial:    newWriter(cfg.TopicPartial),
		writerFinal:      newWriter(cfg.TopicFinal),
		writerClassified: newWriter(cfg.TopicClassified),
		principal:        cfg.Principal,
		topicPartial:     cfg.TopicPartial,
		topicFinal:       cfg.TopicFinal,
		topicClassified:  cfg.TopicClassified,
		enabled:          true,
		metrics:          m,
	}
}

// PublishTranscript publishes a relayed transcript result, keyed by session,
// to the partial or final topic.
func (p *Publisher) PublishTranscript(ctx context.Context, update models.TranscriptUpdate) error {
	if update.Final {
		return p.publish(ctx, p.writerFinal, p.topicFinal, models.EventTranscriptFinal, update.SessionID, update)
	}
	return p.publish(ctx, p.writerPartial, p.topicPartial, models.EventTranscriptPartial, update.SessionID, update)
}

// PublishClassified publishes the classified sentences of a stored transcript.
func (p *Publisher) PublishClassified(ctx context.Context, event models.SentencesClassified) error {
	key := event.TranscriptID
	if key == "" {
		key = event.CaregiverID
	}
	return p.publish(ctx, p.writerClassified, p.topicClassified, models.EventSentencesClassified, key, event)
}

// publish is the internal method that writes to a specific Kafka writer.
func (p *Publisher) publish(ctx context.Context, writer messageWriter, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	// If Kafka is disabled, just log
	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes all Kafka writers.
func (p *Publisher) Close() error {
	var err error
	for name, w := range map[string]messageWriter{
		"partial":    p.writerPartial,
		"final":      p.writerFinal,
		"classified": p.writerClassified,
	} {
		if w == nil {
			continue
		}
		if e := w.Close(); e != nil {
			log.Error().Err(e).Str("writer", name).Msg("Error closing Kafka writer")
			err = e
		}
	}
	return err
}
