// Package events publishes job lifecycle events to Kafka for downstream
// consumers. Jobs are never dispatched through it.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/wb-go/wbf/retry"

	"github.com/aliskhannn/image-transformer/internal/model"
)

const (
	TypeJobCompleted = "job.completed"
	TypeJobFailed    = "job.failed"
)

// Event describes a job reaching a terminal state.
type Event struct {
	Type       string       `json:"type"`
	JobID      uuid.UUID    `json:"job_id"`
	Status     model.Status `json:"status"`
	ErrorKind  string       `json:"error_kind,omitempty"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// ForStatus builds the event for a job that reached status.
func ForStatus(id uuid.UUID, status model.Status, errorKind string, at time.Time) Event {
	typ := TypeJobCompleted
	if status == model.StatusFailed {
		typ = TypeJobFailed
	}

	return Event{Type: typ, JobID: id, Status: status, ErrorKind: errorKind, OccurredAt: at}
}

// messageWriter is the subset of *kafka.Writer used by the publisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a Kafka topic, keyed by job ID.
type KafkaPublisher struct {
	writer   messageWriter
	strategy retry.Strategy
}

// NewKafkaPublisher creates a publisher for topic on brokers.
func NewKafkaPublisher(brokers []string, topic string, s retry.Strategy) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}

	return &KafkaPublisher{writer: w, strategy: s}
}

// Publish serializes the event to JSON and sends it with retries.
// The job ID is used as the message key so events of a job stay ordered.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(e.JobID.String()),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	}

	err = retry.Do(func() error {
		return p.writer.WriteMessages(ctx, msg)
	}, p.strategy)
	if err != nil {
		return fmt.Errorf("failed to send event: %w", err)
	}

	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Nop discards events. It is used when no brokers are configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

func (Nop) Close() error { return nil }
