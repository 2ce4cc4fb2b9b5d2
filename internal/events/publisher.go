// Package events publishes solver outcome events.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"recaptcha-audio-solver/internal/models"
	"recaptcha-audio-solver/internal/observability/metrics"
)

const (
	EventTypeAttempt = "recaptcha.solver.attempt"
	EventTypeResult  = "recaptcha.solver.result"
)

// Publisher publishes attempt and result events to separate Kafka topics.
type Publisher struct {
	writerAttempts *kafka.Writer
	writerResults  *kafka.Writer
	principal      string
	topicAttempts  string
	topicResults   string
	enabled        bool
	metrics        *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers       []string
	TopicAttempts string
	TopicResults  string
	Principal     string
	Enabled       bool
}

// New creates a Kafka event publisher. A nil or disabled config yields a
// publisher that only logs.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

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
			principal:     cfg.Principal,
			topicAttempts: cfg.TopicAttempts,
			topicResults:  cfg.TopicResults,
			enabled:       false,
			metrics:       m,
		}
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicAttempts", cfg.TopicAttempts).
		Str("topicResults", cfg.TopicResults).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerAttempts: newWriter(cfg.Brokers, cfg.TopicAttempts, transport),
		writerResults:  newWriter(cfg.Brokers, cfg.TopicResults, transport),
		principal:      cfg.Principal,
		topicAttempts:  cfg.TopicAttempts,
		topicResults:   cfg.TopicResults,
		enabled:        true,
		metrics:        m,
	}
}

func newWriter(brokers []string, topic string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
}

// PublishAttempt publishes one verify attempt keyed by session id.
func (p *Publisher) PublishAttempt(ctx context.Context, event models.AttemptEvent) error {
	if event.EventType == "" {
		event.EventType = EventTypeAttempt
	}
	return p.publish(ctx, p.writerAttempts, p.topicAttempts, "attempt", event.SessionID, event)
}

// PublishResult publishes a finished session keyed by session id.
func (p *Publisher) PublishResult(ctx context.Context, event models.SolveResult) error {
	if event.EventType == "" {
		event.EventType = EventTypeResult
	}
	return p.publish(ctx, p.writerResults, p.topicResults, "result", event.SessionID, event)
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
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

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerAttempts != nil {
		if e := p.writerAttempts.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing attempts writer")
			err = e
		}
	}
	if p.writerResults != nil {
		if e := p.writerResults.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing results writer")
			err = e
		}
	}
	return err
}
