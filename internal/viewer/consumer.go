package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"recaptcha-audio-solver/internal/events"
	"recaptcha-audio-solver/internal/models"
	"recaptcha-audio-solver/internal/observability/logging"
)

// ErrUnknownEvent is returned by Decode for payloads that are not solver events.
var ErrUnknownEvent = errors.New("unknown event type")

const retryDelay = time.Second

// Message is what browsers receive for each consumed event.
type Message struct {
	Topic      string          `json:"topic"`
	SessionID  string          `json:"sessionId"`
	EventType  string          `json:"eventType"`
	Event      json.RawMessage `json:"event"`
	ReceivedAt int64           `json:"receivedAt"`
}

// Reader is the subset of *kafka.Reader used by Consume.
type Reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// NewReader creates a partition-0 reader positioned at events newer than since.
// No consumer group is used, so every viewer sees every event.
func NewReader(ctx context.Context, brokers []string, topic string, since time.Duration) *kafka.Reader {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	if err := r.SetOffsetAt(ctx, time.Now().Add(-since)); err != nil {
		logger := logging.WithComponent("viewer")
		logger.Warn().Err(err).Str("topic", topic).Msg("Failed to seek, reading from the start")
	}
	return r
}

// Decode validates a Kafka message as a solver event.
func Decode(msg kafka.Message) (Message, error) {
	var envelope struct {
		EventType string `json:"eventType"`
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		return Message{}, fmt.Errorf("decode event: %w", err)
	}
	switch envelope.EventType {
	case events.EventTypeAttempt, events.EventTypeResult:
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownEvent, envelope.EventType)
	}
	sessionID := envelope.SessionID
	if sessionID == "" {
		sessionID = string(msg.Key)
	}
	return Message{
		Topic:      msg.Topic,
		SessionID:  sessionID,
		EventType:  envelope.EventType,
		Event:      json.RawMessage(msg.Value),
		ReceivedAt: time.Now().UnixMilli(),
	}, nil
}

// Consume reads topic until ctx is done or the reader is closed, forwarding
// every solver event to the hub.
func Consume(ctx context.Context, r Reader, topic string, hub *Hub) {
	logger := logging.WithComponent("viewer").With().Str("topic", topic).Logger()
	logger.Info().Msg("Consuming outcome events")

	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			logger.Error().Err(err).Msg("Kafka read failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryDelay):
			}
			continue
		}
		if msg.Topic == "" {
			msg.Topic = topic
		}

		m, err := Decode(msg)
		if err != nil {
			logger.Warn().Err(err).Int64("offset", msg.Offset).Msg("Skipping message")
			continue
		}
		logEvent(logger, m)
		hub.Broadcast(ctx, m)
	}
}

func logEvent(logger zerolog.Logger, m Message) {
	switch m.EventType {
	case events.EventTypeAttempt:
		var ev models.AttemptEvent
		if err := json.Unmarshal(m.Event, &ev); err == nil {
			logger.Info().
				Str("sessionId", ev.SessionID).
				Int("attempt", ev.Attempt).
				Str("outcome", ev.Outcome).
				Msg("Attempt received")
		}
	case events.EventTypeResult:
		var ev models.SolveResult
		if err := json.Unmarshal(m.Event, &ev); err == nil {
			logger.Info().
				Str("sessionId", ev.SessionID).
				Bool("solved", ev.Solved).
				Str("state", ev.State).
				Int("attempts", ev.Attempts).
				Msg("Result received")
		}
	}
}
