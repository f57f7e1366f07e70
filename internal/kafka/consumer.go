package kafka

import (
	"context"
	"fmt"
	"time"

	"hcen_sync/internal/metrics"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// MessageProcessor - сервис, который обрабатывает одно сообщение топика.
// Ошибка = временная проблема, сообщение будет обработано повторно.
// Poison-сообщения процессор логирует сам и возвращает nil.
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, payload []byte) error
}

type Consumer struct {
	group   sarama.ConsumerGroup
	topic   string
	handler sarama.ConsumerGroupHandler
	logger  *zap.Logger
}

func NewConsumer(
	brokers []string,
	groupID string,
	topic string,
	processor MessageProcessor,
	logger *zap.Logger,
) (*Consumer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg := sarama.NewConfig()

	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest

	// Важно: коммит только руками после успешной обработки
	cfg.Consumer.Offsets.AutoCommit.Enable = false

	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{
		sarama.NewBalanceStrategyRange(),
	}
	cfg.Consumer.Group.Session.Timeout = 30 * time.Second
	cfg.Consumer.Group.Heartbeat.Interval = 3 * time.Second

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	return &Consumer{
		group:   group,
		topic:   topic,
		handler: newGroupHandler(processor, logger.With(zap.String("topic", topic))),
		logger:  logger,
	}, nil
}

// Start блокирует до отмены ctx.
func (c *Consumer) Start(ctx context.Context) error {
	// Ошибки группы в отдельный поток логов
	go func() {
		for err := range c.group.Errors() {
			c.logger.Warn("consumer group error", zap.String("topic", c.topic), zap.Error(err))
			metrics.IncKafkaError("consumer", "group")
		}
	}()

	for {
		err := c.group.Consume(ctx, []string{c.topic}, c.handler)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("consume loop error", zap.String("topic", c.topic), zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) Close() error {
	return c.group.Close()
}

type groupHandler struct {
	processor MessageProcessor
	logger    *zap.Logger
	backoff   func(attempt int) time.Duration
}

func newGroupHandler(processor MessageProcessor, logger *zap.Logger) *groupHandler {
	return &groupHandler{
		processor: processor,
		logger:    logger,
		backoff:   retryBackoff,
	}
}

func (h *groupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(
	session sarama.ConsumerGroupSession,
	claim sarama.ConsumerGroupClaim,
) error {
	for {
		select {
		case <-session.Context().Done():
			return nil
		case kafkaMsg, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			lag := claim.HighWaterMarkOffset() - kafkaMsg.Offset - 1
			metrics.SetKafkaConsumerLag(kafkaMsg.Topic, kafkaMsg.Partition, lag)

			// retry до успеха (или пока не отменён контекст)
			if err := h.processWithRetry(session.Context(), kafkaMsg); err != nil {
				metrics.IncKafkaError("consumer", "process")
				// Сообщение НЕ отмечаем и НЕ коммитим -> будет прочитано снова
				return err
			}
			metrics.IncKafkaProcessed(kafkaMsg.Topic)

			// Только после успеха:
			session.MarkMessage(kafkaMsg, "")
			session.Commit()
		}
	}
}

func (h *groupHandler) processWithRetry(ctx context.Context, m *sarama.ConsumerMessage) error {
	attempt := 0

	for {
		attempt++
		err := h.processor.ProcessMessage(ctx, m.Value)
		if err == nil {
			return nil
		}

		backoff := h.backoff(attempt)
		h.logger.Warn("process kafka message failed",
			zap.Int32("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func retryBackoff(attempt int) time.Duration {
	// линейный backoff 1..30 сек
	d := time.Duration(attempt) * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}
