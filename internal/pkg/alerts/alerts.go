// Package alerts publishes operational alerts: orphan leads, payment
// failures, dead outbox rows. Alerts are fire-and-forget; a failed publish
// is logged and never fails the business operation that raised it.
package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/segmentio/kafka-go"
)

const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

const (
	KindOrphanLead      = "orphan_lead"
	KindPaymentFailed   = "payment_failed"
	KindPaymentMismatch = "payment_mismatch"
	KindOutboxDead      = "outbox_dead"
	KindSweepErrors     = "sweep_errors"
)

// Alert is the message body published to the alerts topic.
type Alert struct {
	Kind       string         `json:"kind"`
	Severity   string         `json:"severity"`
	Message    string         `json:"message"`
	ResourceID string         `json:"resource_id,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Publisher delivers alerts to operators.
type Publisher interface {
	Publish(ctx context.Context, alert Alert) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes alerts as JSON messages keyed by kind.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

// NewKafkaPublisher creates a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are not configured")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		WriteTimeout:           5 * time.Second,
		AllowAutoTopicCreation: true,
	}
	log.Infof("[Alerts] Kafka publisher initialized (topic %s)", topic)
	return &KafkaPublisher{writer: writer, topic: topic}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, alert Alert) error {
	value, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(alert.Kind),
		Value: value,
		Time:  alert.OccurredAt,
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher writes alerts to the application log. Used when no brokers
// are configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, alert Alert) error {
	log.Warnf("[Alerts] %s (%s) %s resource=%s fields=%v", alert.Kind, alert.Severity, alert.Message, alert.ResourceID, alert.Fields)
	return nil
}

func (LogPublisher) Close() error { return nil }

// Raise publishes the alert with a short timeout. Errors are logged only.
func Raise(ctx context.Context, p Publisher, alert Alert) {
	if p == nil {
		return
	}
	if alert.OccurredAt.IsZero() {
		alert.OccurredAt = time.Now().UTC()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.Publish(ctx, alert); err != nil {
		log.Errorf("[Alerts] Failed to publish %s alert: %v", alert.Kind, err)
	}
}
