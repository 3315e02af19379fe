package report

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"layer-monitor/internal/defect"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafka.Writer used by Publisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Event is the message published for every inspected layer.
type Event struct {
	JobID    string              `json:"job_id"`
	PartName string              `json:"part_name"`
	SentAt   time.Time           `json:"sent_at"`
	Summary  defect.LayerSummary `json:"summary"`
}

// Record writes one message synchronously and must not linger for a batch.
const (
	publishBatchSize    = 1
	publishBatchTimeout = 5 * time.Millisecond
)

// Publisher streams layer summaries to a Kafka topic keyed by job.
type Publisher struct {
	writer messageWriter
	jobID  string
	part   string
}

// NewPublisher creates a Publisher writing to topic on brokers.
func NewPublisher(brokers []string, topic, jobID, part string) *Publisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    publishBatchSize,
		BatchTimeout: publishBatchTimeout,
	}
	return &Publisher{writer: writer, jobID: jobID, part: part}
}

// Record publishes one summary.
func (p *Publisher) Record(ctx context.Context, sum defect.LayerSummary) error {
	value, err := json.Marshal(Event{
		JobID:    p.jobID,
		PartName: p.part,
		SentAt:   time.Now().UTC(),
		Summary:  sum,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(p.jobID), Value: value}); err != nil {
		return fmt.Errorf("kafka publish layer %d: %w", sum.Layer, err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
