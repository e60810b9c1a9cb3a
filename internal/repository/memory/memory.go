package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ADX777/timelock-backend-clean/internal/repository"
)

// MemoryRepository реализует OrderRepository используя in-memory хранилище
// Используется для разработки и тестирования
// В production заменяется на реализацию с PostgreSQL
type MemoryRepository struct {
	mu     sync.RWMutex
	orders map[string]repository.Order
	outbox []repository.OutboxEvent
}

// NewMemoryRepository создаёт новый in-memory репозиторий
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders: make(map[string]repository.Order),
		outbox: make([]repository.OutboxEvent, 0),
	}
}

// Create сохраняет новый заказ
// Защищён мьютексом для безопасного доступа из разных горутин
func (r *MemoryRepository) Create(ctx context.Context, order repository.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.ID]; exists {
		return repository.ErrAlreadyExists
	}

	now := time.Now().Unix()
	if order.CreatedAt == 0 {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	r.orders[order.ID] = order
	return nil
}

// GetByID получает заказ по ID
func (r *MemoryRepository) GetByID(ctx context.Context, id string) (repository.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, exists := r.orders[id]
	if !exists {
		return repository.Order{}, repository.ErrNotFound
	}

	return order, nil
}

// ConfirmPayment переводит заказ awaiting_payment -> confirmed
// Проверка и запись выполняются под одним lock - это in-memory эквивалент
// условного UPDATE в PostgreSQL
func (r *MemoryRepository) ConfirmPayment(ctx context.Context, id string) (repository.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, exists := r.orders[id]
	if !exists {
		return repository.Order{}, repository.ErrNotFound
	}

	if order.Status != repository.StatusAwaitingPayment {
		return repository.Order{}, repository.ErrStateConflict
	}

	order.Status = repository.StatusConfirmed
	order.UpdatedAt = time.Now().Unix()
	r.orders[id] = order

	return order, nil
}

// MarkRecorded переводит заказ confirmed -> recorded и сохраняет txReference
// Outbox событие добавляется под тем же lock, что и переход состояния
func (r *MemoryRepository) MarkRecorded(ctx context.Context, id, txReference string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, exists := r.orders[id]
	if !exists {
		return repository.ErrNotFound
	}

	if order.Status != repository.StatusConfirmed {
		return repository.ErrStateConflict
	}

	order.Status = repository.StatusRecorded
	order.TxReference = txReference
	order.UpdatedAt = time.Now().Unix()
	r.orders[id] = order

	r.outbox = append(r.outbox, newOutboxEvent("order.recorded", id, map[string]string{
		"tx_reference": txReference,
	}))

	return nil
}

// MarkFailed переводит заказ confirmed -> failed и сохраняет причину
func (r *MemoryRepository) MarkFailed(ctx context.Context, id, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, exists := r.orders[id]
	if !exists {
		return repository.ErrNotFound
	}

	if order.Status != repository.StatusConfirmed {
		return repository.ErrStateConflict
	}

	order.Status = repository.StatusFailed
	order.FailureReason = reason
	order.UpdatedAt = time.Now().Unix()
	r.orders[id] = order

	r.outbox = append(r.outbox, newOutboxEvent("order.notarization.failed", id, map[string]string{
		"reason": reason,
	}))

	return nil
}

// GetPendingOutboxEvents возвращает неопубликованные outbox события
func (r *MemoryRepository) GetPendingOutboxEvents(ctx context.Context, limit int) ([]repository.OutboxEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := make([]repository.OutboxEvent, 0)
	for _, event := range r.outbox {
		if event.Published {
			continue
		}
		events = append(events, event)
		if len(events) >= limit {
			break
		}
	}

	return events, nil
}

// MarkOutboxEventPublished помечает outbox событие как опубликованное
func (r *MemoryRepository) MarkOutboxEventPublished(ctx context.Context, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.outbox {
		if r.outbox[i].EventID == eventID {
			r.outbox[i].Published = true
			return nil
		}
	}

	return repository.ErrNotFound
}

// newOutboxEvent формирует outbox событие с JSON payload
// Формат payload совпадает с postgres реализацией
func newOutboxEvent(eventType, orderID string, extra map[string]string) repository.OutboxEvent {
	occurredAt := time.Now().UTC()
	eventID := uuid.New().String()

	payload := map[string]interface{}{
		"event_id":      eventID,
		"event_type":    eventType,
		"event_version": 1,
		"occurred_at":   occurredAt.Format(time.RFC3339),
		"order_id":      orderID,
	}
	for k, v := range extra {
		payload[k] = v
	}

	// map[string]interface{} со строками и числом маршалится без ошибок
	body, _ := json.Marshal(payload)

	return repository.OutboxEvent{
		EventID:    eventID,
		EventType:  eventType,
		OrderID:    orderID,
		Payload:    body,
		OccurredAt: occurredAt,
	}
}
