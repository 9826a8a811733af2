package broadcast

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaSink forwards every message to a per-channel topic. Writes are
// asynchronous; failures are logged and never reach the engine.
type KafkaSink struct {
	writer *kafka.Writer
	prefix string
	logger *slog.Logger
}

var _ Sink = (*KafkaSink)(nil)

// NewKafkaSink creates a sink writing to "<prefix>.<channel>" topics.
func NewKafkaSink(brokers []string, prefix string, logger *slog.Logger) *KafkaSink {
	if logger == nil {
		logger = slog.Default()
	}
	s := &KafkaSink{prefix: prefix, logger: logger}
	s.writer = &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		Async:                  true,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
		Completion:             s.completion,
	}
	return s
}

func (s *KafkaSink) topic(channel string) string {
	if s.prefix == "" {
		return channel
	}
	return s.prefix + "." + channel
}

func (s *KafkaSink) message(channel, key string, payload []byte) kafka.Message {
	return kafka.Message{
		Topic: s.topic(channel),
		Key:   []byte(key),
		Value: payload,
	}
}

func (s *KafkaSink) Deliver(channel, key string, payload []byte) {
	if err := s.writer.WriteMessages(context.Background(), s.message(channel, key, payload)); err != nil {
		s.logger.Error("kafka enqueue failed",
			slog.String("topic", s.topic(channel)),
			slog.String("error", err.Error()),
		)
	}
}

func (s *KafkaSink) completion(messages []kafka.Message, err error) {
	if err == nil {
		return
	}
	s.logger.Error("kafka delivery failed",
		slog.Int("messages", len(messages)),
		slog.String("error", err.Error()),
	)
}

// Close flushes pending messages and closes the writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
