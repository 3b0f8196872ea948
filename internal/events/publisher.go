// Package events streams processing events to Kafka as CloudEvents.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/segmentio/kafka-go"

	"github.com/joseph-ayodele/requirements-intake/constants"
	"github.com/joseph-ayodele/requirements-intake/internal/common"
	"github.com/joseph-ayodele/requirements-intake/internal/entity"
)

const (
	Source = "requirements-intake/pipeline"

	TypeBatchSucceeded = "intake.batch.succeeded"
	TypeBatchFailed    = "intake.batch.failed"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one message per processing event, keyed by document
// id so a document's events stay ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
	logger *slog.Logger
}

func NewKafkaPublisher(cfg common.EventsConfig, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    50,
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireAll,
	}
	return newKafkaPublisher(w, logger.With("component", "events", "topic", cfg.Topic))
}

func newKafkaPublisher(w messageWriter, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev entity.ProcessingEvent) error {
	value, err := Encode(ev)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(ev.DocumentID.String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/cloudevents+json")},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("events.publish.failed", "document_id", ev.DocumentID, "event_id", ev.ID, "error", err)
		return fmt.Errorf("publishing to kafka: %w", err)
	}
	p.logger.Debug("events.published", "document_id", ev.DocumentID, "event_id", ev.ID, "value_size", len(value))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Encode wraps a processing event in a structured-mode CloudEvent.
func Encode(ev entity.ProcessingEvent) ([]byte, error) {
	ce := cloudevents.NewEvent()
	ce.SetID(ev.ID.String())
	ce.SetSource(Source)
	ce.SetType(typeFor(ev))
	ce.SetSubject(ev.DocumentID.String())
	ce.SetTime(ev.FinishedAt)
	if err := ce.SetData(cloudevents.ApplicationJSON, ev); err != nil {
		return nil, fmt.Errorf("encoding event data: %w", err)
	}
	out, err := json.Marshal(ce)
	if err != nil {
		return nil, fmt.Errorf("marshaling cloudevent: %w", err)
	}
	return out, nil
}

// Decode is the inverse of Encode, for consumers and tests.
func Decode(data []byte) (entity.ProcessingEvent, string, error) {
	ce := cloudevents.NewEvent()
	var ev entity.ProcessingEvent
	if err := json.Unmarshal(data, &ce); err != nil {
		return ev, "", fmt.Errorf("decoding cloudevent: %w", err)
	}
	if err := ce.DataAs(&ev); err != nil {
		return ev, "", fmt.Errorf("decoding event data: %w", err)
	}
	return ev, ce.Type(), nil
}

func typeFor(ev entity.ProcessingEvent) string {
	if ev.Status == constants.EventFailed {
		return TypeBatchFailed
	}
	return TypeBatchSucceeded
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, entity.ProcessingEvent) error { return nil }
func (Nop) Close() error { return nil }
