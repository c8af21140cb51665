package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"alertresolver/internal/config"
	"alertresolver/internal/permanent"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the subset of kafka.Writer used by KafkaSender.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSender publishes notification events to a Kafka topic keyed by alert key.
type KafkaSender struct {
	writer messageWriter
}

// NewKafkaSender builds a hash-balanced writer so one alert key stays on one partition.
// Params: Kafka channel config.
// Returns: initialized sender or config error.
func NewKafkaSender(cfg config.KafkaConfig) (*KafkaSender, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("kafka topic is required")
	}
	return &KafkaSender{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
			WriteTimeout: time.Duration(cfg.WriteTimeoutSec) * time.Second,
			BatchTimeout: time.Duration(cfg.BatchTimeoutMS) * time.Millisecond,
		},
	}, nil
}

// Send publishes one message.
func (s *KafkaSender) Send(ctx context.Context, msg Message) error {
	return s.SendBatch(ctx, []Message{msg})[0]
}

// SendBatch publishes all messages with one WriteMessages call.
// Params: context and rendered messages.
// Returns: per-message errors split from kafka.WriteErrors.
func (s *KafkaSender) SendBatch(ctx context.Context, msgs []Message) []error {
	errs := make([]error, len(msgs))
	records := make([]kafka.Message, 0, len(msgs))
	owners := make([]int, 0, len(msgs))
	for i, msg := range msgs {
		value, err := encodeEvent(msg)
		if err != nil {
			errs[i] = permanent.Mark(fmt.Errorf("kafka encode payload: %w", err))
			continue
		}
		records = append(records, kafka.Message{
			Key:   []byte(msg.Notification.AlertKey),
			Value: value,
			Headers: []kafka.Header{
				{Key: "action", Value: []byte(msg.Action)},
				{Key: "alert_type", Value: []byte(msg.Notification.AlertType)},
				{Key: "alert_id", Value: []byte(msg.Notification.ID)},
			},
		})
		owners = append(owners, i)
	}
	if len(records) == 0 {
		return errs
	}

	err := s.writer.WriteMessages(ctx, records...)
	if err == nil {
		return errs
	}
	var writeErrs kafka.WriteErrors
	if errors.As(err, &writeErrs) && len(writeErrs) == len(records) {
		for j, idx := range owners {
			if writeErrs[j] != nil {
				errs[idx] = fmt.Errorf("kafka write: %w", writeErrs[j])
			}
		}
		return errs
	}
	for _, idx := range owners {
		errs[idx] = fmt.Errorf("kafka write: %w", err)
	}
	return errs
}

// Close flushes and closes the writer.
func (s *KafkaSender) Close() error {
	return s.writer.Close()
}
