// Package scan handles Kafka event production for orchestrator cycle events.
package scan

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/ortelius/avr-backend/model"
)

// CycleProducer handles sending cycle completion events to Kafka
type CycleProducer struct {
	Writer *kafka.Writer
}

// NewCycleProducer initializes a new Kafka writer for cycle events
func NewCycleProducer(brokers []string, topic string) *CycleProducer {
	return &CycleProducer{
		Writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// PublishCycleCompleted sends the event to the Kafka topic
func (p *CycleProducer) PublishCycleCompleted(ctx context.Context, report *model.CycleReport) error {
	event := CycleCompletedEvent{
		EventType:     "cycle.completed",
		EventID:       uuid.New().String(),
		EventTime:     time.Now().UTC(),
		SchemaVersion: "v1",
		Report:        report,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(report.CycleID),
		Value: payload,
	})
}

// Close cleans up the Kafka writer
func (p *CycleProducer) Close() error {
	return p.Writer.Close()
}
