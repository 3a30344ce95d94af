// Package webhookbus is the Kafka transport carrying webhook-delivery
// events from the Pipeline Driver to cmd/dispatcher. Job distribution
// itself stays on the in-process Priority Queue (C2); this bus only
// decouples "a job just finished" from "deliver its webhook", so a slow
// or down caller endpoint never backs up the worker pool.
//
// Grounded on the teacher's internal/kafka/{producer,consumer}.go: the
// writer/reader wiring, manual offset commits and exponential-backoff
// retry-then-skip loop are kept verbatim in shape, narrowed from the
// teacher's two topics (job distribution + webhooks) to this one.
package webhookbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// DeliveryEvent names a terminal job state that a caller-configured
// webhook should be notified about.
type DeliveryEvent struct {
	JobID   string `json:"job_id"`
	Event   string `json:"event"` // "completed" or "failed"
	TraceID string `json:"trace_id,omitempty"`
}

const (
	EventCompleted = "completed"
	EventFailed    = "failed"
)

// Producer publishes DeliveryEvents.
type Producer struct {
	writer *kafka.Writer
	topic  string
}

// NewProducer builds a Producer against topic on brokers.
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
			RequiredAcks:           kafka.RequireOne,
			Async:                  false,
		},
		topic: topic,
	}
}

// Publish emits one delivery event, keyed by jobID so all events for a
// job land on the same partition and are observed in order.
func (p *Producer) Publish(ctx context.Context, jobID, event, traceID string) error {
	data, err := json.Marshal(DeliveryEvent{JobID: jobID, Event: event, TraceID: traceID})
	if err != nil {
		return fmt.Errorf("marshal delivery event: %w", err)
	}
	msg := kafka.Message{Key: []byte(jobID), Value: data}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write delivery event: %w", err)
	}
	log.Info().Str("job_id", jobID).Str("event", event).Str("topic", p.topic).Msg("webhook delivery event published")
	return nil
}

// Close closes the underlying writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Handler processes a DeliveryEvent read off the bus.
type Handler interface {
	HandleDeliveryEvent(ctx context.Context, event *DeliveryEvent) error
}

// Consumer wraps a Kafka reader with manual offset commits.
type Consumer struct {
	reader  *kafka.Reader
	handler Handler
}

// NewConsumer builds a Consumer reading topic as groupID.
func NewConsumer(brokers []string, topic, groupID string, handler Handler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
	})
	return &Consumer{reader: reader, handler: handler}
}

// Run consumes until ctx is cancelled, retrying a failing message with
// exponential backoff before skipping it so one bad message never blocks
// the rest of the topic.
func (c *Consumer) Run(ctx context.Context) error {
	const (
		baseDelay  = 1 * time.Second
		maxDelay   = 5 * time.Minute
		maxRetries = 50
	)

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Msg("webhookbus: fetch message failed")
			continue
		}

		var lastErr error
		for attempt := 0; attempt < maxRetries; attempt++ {
			if err := c.process(ctx, msg); err != nil {
				lastErr = err
				delay := baseDelay * time.Duration(1<<uint(min(attempt, 10)))
				if delay > maxDelay {
					delay = maxDelay
				}
				log.Warn().Err(err).Int("attempt", attempt+1).Msg("webhookbus: handler failed, retrying")
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(delay):
				}
				continue
			}
			lastErr = nil
			break
		}

		if lastErr != nil {
			log.Error().Err(lastErr).Int64("offset", msg.Offset).Msg("webhookbus: giving up on message, skipping")
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			log.Error().Err(err).Msg("webhookbus: commit failed")
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	var event DeliveryEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("unmarshal delivery event: %w", err)
	}
	return c.handler.HandleDeliveryEvent(ctx, &event)
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
