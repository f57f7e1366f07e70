package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"hcen_sync/internal/metrics"

	"github.com/IBM/sarama"
)

type Producer struct {
	producer sarama.SyncProducer
}

func NewSyncProducer(brokers []string) (*Producer, error) {
	cfg := sarama.NewConfig()

	// SyncProducer обязательно:
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true

	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 500 * time.Millisecond
	// ключ = documentId, один документ всегда в одной партиции
	cfg.Producer.Partitioner = sarama.NewHashPartitioner

	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create sarama sync producer: %w", err)
	}

	return &Producer{producer: prod}, nil
}

// NewProducerFromClient - обёртка над готовым sarama.SyncProducer (mocks в тестах).
func NewProducerFromClient(p sarama.SyncProducer) *Producer {
	return &Producer{producer: p}
}

func (p *Producer) Close() error {
	return p.producer.Close()
}

// Publish отправляет payload и возвращает id сообщения в очереди: "topic/partition/offset".
func (p *Producer) Publish(ctx context.Context, topic, key string, payload []byte) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("topic is empty")
	}
	if len(payload) == 0 {
		return "", fmt.Errorf("payload is empty")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(payload),
		Timestamp: time.Now(),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		metrics.IncKafkaError("producer", "send")
		return "", fmt.Errorf("send kafka message: %w", err)
	}

	metrics.IncKafkaSent(topic)
	return QueueMessageID(topic, partition, offset), nil
}

// PublishJSON - Publish с json.Marshal.
func (p *Producer) PublishJSON(ctx context.Context, topic, key string, v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		metrics.IncKafkaError("producer", "prepare")
		return "", fmt.Errorf("marshal kafka payload: %w", err)
	}
	return p.Publish(ctx, topic, key, b)
}

func QueueMessageID(topic string, partition int32, offset int64) string {
	return fmt.Sprintf("%s/%d/%d", topic, partition, offset)
}
