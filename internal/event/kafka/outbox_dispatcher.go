package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ADX777/timelock-backend-clean/internal/repository"
)

// OutboxDispatcher публикует события жизненного цикла заказа из outbox таблицы в Kafka
// События order.recorded и order.notarization.failed вставляются репозиторием
// в одной транзакции с переходом состояния, dispatcher доставляет их асинхронно
// Это канал для оператора: re-drive неудачной записи живёт поверх state machine,
// не затрагивая её контракт
type OutboxDispatcher struct {
	logger     *zap.Logger
	repo       repository.OrderRepository
	writer     *kafka.Writer
	topic      string
	batchSize  int
	interval   time.Duration
	maxRetries int
	backoff    time.Duration
}

// NewOutboxDispatcher создаёт новый outbox dispatcher
func NewOutboxDispatcher(
	logger *zap.Logger,
	repo repository.OrderRepository,
	brokers []string,
	topic string,
	batchSize int,
	interval time.Duration,
	maxRetries int,
	backoff time.Duration,
) *OutboxDispatcher {
	// Safety defaults на случай кривого env/config
	if batchSize <= 0 {
		batchSize = 50
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if backoff <= 0 {
		backoff = 1 * time.Second
	}

	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}

	return &OutboxDispatcher{
		logger:     logger,
		repo:       repo,
		writer:     writer,
		topic:      topic,
		batchSize:  batchSize,
		interval:   interval,
		maxRetries: maxRetries,
		backoff:    backoff,
	}
}

// Close закрывает Kafka writer
func (d *OutboxDispatcher) Close() error {
	return d.writer.Close()
}

// Start запускает dispatcher в фоновом режиме до отмены контекста
func (d *OutboxDispatcher) Start(ctx context.Context) error {
	d.logger.Info("starting outbox dispatcher",
		zap.String("topic", d.topic),
		zap.Int("batch_size", d.batchSize),
		zap.Duration("interval", d.interval),
	)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	// Обрабатываем сразу при старте
	if err := d.processBatch(ctx); err != nil && ctx.Err() == nil {
		d.logger.Error("failed to process initial batch", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("outbox dispatcher context cancelled, stopping")
			return nil
		case <-ticker.C:
			if err := d.processBatch(ctx); err != nil && ctx.Err() == nil {
				d.logger.Error("failed to process batch", zap.Error(err))
			}
		}
	}
}

// processBatch обрабатывает батч неопубликованных событий
func (d *OutboxDispatcher) processBatch(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	events, err := d.repo.GetPendingOutboxEvents(ctx, d.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to get pending events: %w", err)
	}

	if len(events) == 0 {
		return nil
	}

	d.logger.Debug("processing outbox batch",
		zap.Int("count", len(events)),
	)

	for _, event := range events {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := d.processEvent(ctx, event); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.logger.Error("failed to process event",
				zap.Error(err),
				zap.String("event_id", event.EventID),
				zap.String("event_type", event.EventType),
			)
			// Продолжаем обработку следующих событий
		}
	}

	return nil
}

// processEvent публикует одно событие с retry и помечает его опубликованным
func (d *OutboxDispatcher) processEvent(ctx context.Context, event repository.OutboxEvent) error {
	message := kafka.Message{
		Key:   []byte(event.OrderID), //все события одного заказа в одной партиции
		Value: event.Payload,
	}

	var lastErr error
	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		lastErr = d.writer.WriteMessages(ctx, message)
		if lastErr == nil {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		d.logger.Warn("failed to publish outbox event, will retry",
			zap.Error(lastErr),
			zap.String("event_id", event.EventID),
			zap.Int("attempt", attempt),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.backoff * time.Duration(attempt)):
		}
	}
	if lastErr != nil {
		// Событие остаётся pending и будет подхвачено следующим батчем
		return fmt.Errorf("failed to publish event after %d attempts: %w", d.maxRetries, lastErr)
	}

	if err := d.repo.MarkOutboxEventPublished(ctx, event.EventID); err != nil {
		// Публикация прошла, а пометить не удалось: событие уйдёт повторно,
		// потребители должны быть идемпотентны по event_id
		return fmt.Errorf("failed to mark event as published: %w", err)
	}

	d.logger.Info("outbox event published",
		zap.String("event_id", event.EventID),
		zap.String("event_type", event.EventType),
		zap.String("order_id", event.OrderID),
	)

	return nil
}
