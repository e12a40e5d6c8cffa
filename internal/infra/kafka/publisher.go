// Package kafka publishes resolution events for the notification service.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"dilemma-cloud/internal/domain"
	"dilemma-cloud/internal/logging"
	"github.com/segmentio/kafka-go"
)

// DefaultTopic carries one message per settled dilemma, keyed by dilemma id.
const DefaultTopic = "dilemma.resolved"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ResolutionPublisher implements app.ResolutionNotifier on a Kafka topic.
type ResolutionPublisher struct {
	w   messageWriter
	log *slog.Logger
}

// NewResolutionPublisher writes synchronously to topic with leader acks.
func NewResolutionPublisher(brokers []string, topic string, log *slog.Logger) *ResolutionPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
		Async:        false,
	}
	return newPublisher(w, log)
}

func newPublisher(w messageWriter, log *slog.Logger) *ResolutionPublisher {
	return &ResolutionPublisher{w: w, log: logging.Component(logging.Resolve(log), "kafka-publisher")}
}

type resolutionMessage struct {
	Type       string        `json:"type"`
	DilemmaID  string        `json:"dilemmaId"`
	Kind       domain.Kind   `json:"kind"`
	Answer     domain.Choice `json:"answer"`
	Updated    int           `json:"updated"`
	ResolvedAt time.Time     `json:"resolvedAt"`
}

// PublishResolution implements app.ResolutionNotifier.
func (p *ResolutionPublisher) PublishResolution(ctx context.Context, ev domain.ResolutionEvent) error {
	body, err := json.Marshal(resolutionMessage{
		Type:       "dilemma.resolved",
		DilemmaID:  ev.DilemmaID,
		Kind:       ev.Kind,
		Answer:     ev.Answer,
		Updated:    ev.Updated,
		ResolvedAt: ev.ResolvedAt,
	})
	if err != nil {
		return fmt.Errorf("encode resolution event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.DilemmaID),
		Value: body,
		Time:  ev.ResolvedAt,
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish resolution of %s: %w", ev.DilemmaID, err)
	}
	p.log.Debug("resolution_published", slog.String("dilemma_id", ev.DilemmaID))
	return nil
}

func (p *ResolutionPublisher) Close() error {
	return p.w.Close()
}
