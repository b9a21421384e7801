package kafka

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"rifas-backend/internal/logger"
)

// Producer publishes settlement events. One writer serves every topic; the
// topic travels on each message.
type Producer struct {
	Writer *kafka.Writer
	Logger *logger.Logger
}

func NewProducer(brokers []string, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Balancer: &kafka.Hash{},
	}
	return &Producer{Writer: writer, Logger: log}
}

// Publish streams one event to a topic, keyed so every event for the same
// reference lands on the same partition in order.
func (p *Producer) Publish(ctx context.Context, topic, key string, value interface{}) error {
	msgBytes, err := json.Marshal(value)
	if err != nil {
		return err
	}

	p.Logger.LogKafka("PUBLISH", topic, string(msgBytes))

	return p.Writer.WriteMessages(ctx,
		kafka.Message{
			Topic: topic,
			Key:   []byte(key),
			Value: msgBytes,
		},
	)
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
