package firehose

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/lydianai/otoail.ailydian.com-sub005/metrics"
)

// Kafka publishes fan-out envelopes to a topic, partitioned by vehicle id
// so each vehicle's stream stays ordered within its partition. Delivery is
// best-effort and asynchronous; the relay's channel fan-out never waits on
// it, and batch failures surface through the completion callback.
type Kafka struct {
	writer *kafka.Writer
}

func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 100 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
			Async:        true,
			Completion:   onCompletion,
		},
	}
}

func onCompletion(messages []kafka.Message, err error) {
	if err == nil {
		return
	}
	slog.Warn("kafka delivery failed", "messages", len(messages), "error", err)
	for range messages {
		metrics.IncDropped("kafka-delivery")
	}
}

func (k *Kafka) Publish(vehicleID string, payload []byte) error {
	return k.writer.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(vehicleID),
		Value: payload,
	})
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
