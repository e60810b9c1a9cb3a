package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ADX777/timelock-backend-clean/internal/repository"
)

// Repository реализует OrderRepository используя PostgreSQL
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository создаёт новый PostgreSQL репозиторий
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{
		pool: pool,
	}
}

// Create сохраняет новый заказ
// Дубликат ID определяется по unique violation, а не по предварительному SELECT
func (r *Repository) Create(ctx context.Context, order repository.Order) error {
	createdAt := time.Now()
	if order.CreatedAt > 0 {
		createdAt = time.Unix(order.CreatedAt, 0)
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO orders (id, encrypted_payload, status, payment_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)`,
		order.ID, order.EncryptedPayload, string(order.Status), order.PaymentID, createdAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return repository.ErrAlreadyExists
		}
		return err
	}

	return nil
}

// GetByID получает заказ по ID из PostgreSQL
func (r *Repository) GetByID(ctx context.Context, id string) (repository.Order, error) {
	var order repository.Order
	var status string
	var createdAt, updatedAt time.Time

	err := r.pool.QueryRow(ctx,
		`SELECT id, encrypted_payload, status, payment_id, tx_reference, failure_reason, created_at, updated_at
		 FROM orders
		 WHERE id = $1`,
		id).Scan(&order.ID, &order.EncryptedPayload, &status, &order.PaymentID,
		&order.TxReference, &order.FailureReason, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.Order{}, repository.ErrNotFound
		}
		return repository.Order{}, err
	}

	order.Status = repository.OrderStatus(status)
	order.CreatedAt = createdAt.Unix()
	order.UpdatedAt = updatedAt.Unix()

	return order, nil
}

// ConfirmPayment атомарно переводит заказ awaiting_payment -> confirmed
// Условный UPDATE - настоящий compare-and-set на уровне БД, поэтому два
// конкурентных уведомления по одному заказу не дадут двух переходов
func (r *Repository) ConfirmPayment(ctx context.Context, id string) (repository.Order, error) {
	var order repository.Order
	var status string
	var createdAt, updatedAt time.Time

	err := r.pool.QueryRow(ctx,
		`UPDATE orders
		 SET status = $2, updated_at = now()
		 WHERE id = $1 AND status = $3
		 RETURNING id, encrypted_payload, status, payment_id, tx_reference, failure_reason, created_at, updated_at`,
		id, string(repository.StatusConfirmed), string(repository.StatusAwaitingPayment)).
		Scan(&order.ID, &order.EncryptedPayload, &status, &order.PaymentID,
			&order.TxReference, &order.FailureReason, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// UPDATE ничего не обновил: либо заказа нет, либо он уже прошёл awaiting_payment
			return repository.Order{}, r.classifyMiss(ctx, id)
		}
		return repository.Order{}, err
	}

	order.Status = repository.OrderStatus(status)
	order.CreatedAt = createdAt.Unix()
	order.UpdatedAt = updatedAt.Unix()

	return order, nil
}

// MarkRecorded переводит заказ confirmed -> recorded и сохраняет txReference
// Переход состояния и вставка outbox события выполняются в одной транзакции
func (r *Repository) MarkRecorded(ctx context.Context, id, txReference string) error {
	return r.transitionWithOutbox(ctx, id,
		`UPDATE orders
		 SET status = $2, tx_reference = $3, updated_at = now()
		 WHERE id = $1 AND status = $4`,
		[]interface{}{id, string(repository.StatusRecorded), txReference, string(repository.StatusConfirmed)},
		"order.recorded",
		map[string]string{"tx_reference": txReference},
	)
}

// MarkFailed переводит заказ confirmed -> failed и сохраняет причину
func (r *Repository) MarkFailed(ctx context.Context, id, reason string) error {
	return r.transitionWithOutbox(ctx, id,
		`UPDATE orders
		 SET status = $2, failure_reason = $3, updated_at = now()
		 WHERE id = $1 AND status = $4`,
		[]interface{}{id, string(repository.StatusFailed), reason, string(repository.StatusConfirmed)},
		"order.notarization.failed",
		map[string]string{"reason": reason},
	)
}

// transitionWithOutbox выполняет условный UPDATE и вставляет outbox событие в одной транзакции
func (r *Repository) transitionWithOutbox(
	ctx context.Context,
	orderID, updateSQL string,
	updateArgs []interface{},
	eventType string,
	extra map[string]string,
) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, updateSQL, updateArgs...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.classifyMiss(ctx, orderID)
	}

	eventID := uuid.New().String()
	occurredAt := time.Now().UTC()

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

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO order_outbox_events (event_id, event_type, order_id, payload, occurred_at, published)
		 VALUES ($1, $2, $3, $4, $5, false)`,
		eventID, eventType, orderID, body, occurredAt)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// classifyMiss различает "заказа нет" и "заказ в другом состоянии"
// после условного UPDATE, который ничего не обновил
func (r *Repository) classifyMiss(ctx context.Context, id string) error {
	var status string
	err := r.pool.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.ErrNotFound
		}
		return err
	}
	return repository.ErrStateConflict
}

// GetPendingOutboxEvents возвращает неопубликованные outbox события
// Повторная выборка одного события двумя инстансами не страшна:
// события идемпотентны по event_id на стороне потребителя
func (r *Repository) GetPendingOutboxEvents(ctx context.Context, limit int) ([]repository.OutboxEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT event_id, event_type, order_id, payload, occurred_at
		 FROM order_outbox_events
		 WHERE published = false
		 ORDER BY occurred_at
		 LIMIT $1`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]repository.OutboxEvent, 0)
	for rows.Next() {
		var event repository.OutboxEvent
		if err := rows.Scan(&event.EventID, &event.EventType, &event.OrderID,
			&event.Payload, &event.OccurredAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}

// MarkOutboxEventPublished помечает outbox событие как опубликованное
func (r *Repository) MarkOutboxEventPublished(ctx context.Context, eventID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE order_outbox_events SET published = true, published_at = now() WHERE event_id = $1`,
		eventID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
