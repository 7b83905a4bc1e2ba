package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/realtime/internal/domain"
)

// messageWriter is the part of *kafka.Writer the notifier uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier produces notifications to a topic keyed by recipient, so one
// recipient's notifications stay ordered within a partition.
type KafkaNotifier struct {
	writer      messageWriter
	maxAttempts int
	backoff     time.Duration
	logger      *zap.Logger
}

// NewKafkaNotifier creates a synchronous writer for topic on brokers.
func NewKafkaNotifier(brokers []string, topic string, logger *zap.Logger) *KafkaNotifier {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		// retries are done here so each attempt is logged
		MaxAttempts: 1,
	}
	return newKafkaNotifier(w, logger)
}

func newKafkaNotifier(w messageWriter, logger *zap.Logger) *KafkaNotifier {
	return &KafkaNotifier{writer: w, maxAttempts: 3, backoff: 500 * time.Millisecond, logger: logger}
}

func (k *KafkaNotifier) Notify(ctx context.Context, n domain.Notification) error {
	value, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	msg := kafka.Message{
		Key:     []byte(n.RecipientID),
		Value:   value,
		Headers: []kafka.Header{{Key: "kind", Value: []byte(n.Kind)}},
		Time:    n.CreatedAt,
	}

	var writeErr error
	for attempt := 0; attempt < k.maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * k.backoff
			k.logger.Debug("retrying notification produce",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return fmt.Errorf("notification produce cancelled: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}
		writeErr = k.writer.WriteMessages(ctx, msg)
		if writeErr == nil {
			return nil
		}
	}
	return fmt.Errorf("failed to produce notification after %d attempts: %w", k.maxAttempts, writeErr)
}

// Close flushes and closes the writer.
func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}
