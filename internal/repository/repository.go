package repository

import (
	"context"
	"errors"
	"time"
)

// OrderStatus представляет состояние заказа в жизненном цикле оплаты
// Переходы только вперёд: awaiting_payment -> confirmed -> recorded | failed
type OrderStatus string

const (
	// StatusAwaitingPayment - заказ создан, платёж ещё не подтверждён
	StatusAwaitingPayment OrderStatus = "awaiting_payment"
	// StatusConfirmed - платёж подтверждён IPN-уведомлением, запись в блокчейн ещё не выполнена
	StatusConfirmed OrderStatus = "confirmed"
	// StatusRecorded - данные записаны в блокчейн, txReference заполнен
	StatusRecorded OrderStatus = "recorded"
	// StatusFailed - запись в блокчейн не удалась после подтверждённой оплаты
	StatusFailed OrderStatus = "failed"
)

// Order представляет доменную модель заказа на запись зашифрованных данных
// Это бизнес-сущность, не привязанная к HTTP или БД
type Order struct {
	ID               string
	EncryptedPayload []byte // opaque данные, сервис их не интерпретирует
	Status           OrderStatus
	PaymentID        string // идентификатор платежа от платёжного шлюза, выставляется один раз
	TxReference      string // идентификатор транзакции от notarization сервиса, только при recorded
	FailureReason    string // причина ошибки, только при failed
	CreatedAt        int64  // Unix timestamp
	UpdatedAt        int64
}

// OutboxEvent представляет событие жизненного цикла заказа, ожидающее публикации в Kafka
// Вставляется в той же транзакции, что и переход состояния (transactional outbox)
type OutboxEvent struct {
	EventID    string
	EventType  string // order.recorded | order.notarization.failed
	OrderID    string
	Payload    []byte // JSON тело события
	OccurredAt time.Time
	Published  bool
}

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name=OrderRepository --dir=. --output=./mocks --outpkg=mocks

// OrderRepository определяет интерфейс для работы с хранилищем заказов
// Service слой зависит от этого интерфейса, а не от конкретной реализации
//
// Переходы состояний выражены явными методами с compare-and-set семантикой:
// conditional UPDATE в БД, а не check-then-act. Именно это предотвращает
// повторную запись в блокчейн при дублированных или конкурентных уведомлениях.
type OrderRepository interface {
	// Create сохраняет новый заказ в состоянии awaiting_payment
	// Возвращает ErrAlreadyExists, если заказ с таким ID уже существует
	Create(ctx context.Context, order Order) error

	// GetByID получает заказ по ID
	// Возвращает ErrNotFound, если заказ не найден
	GetByID(ctx context.Context, id string) (Order, error)

	// ConfirmPayment атомарно переводит заказ awaiting_payment -> confirmed
	// Возвращает обновлённый заказ. Если заказ существует, но уже прошёл
	// awaiting_payment, возвращает ErrStateConflict (дубликат уведомления)
	ConfirmPayment(ctx context.Context, id string) (Order, error)

	// MarkRecorded атомарно переводит заказ confirmed -> recorded и сохраняет txReference
	// В той же транзакции вставляет outbox событие order.recorded
	MarkRecorded(ctx context.Context, id, txReference string) error

	// MarkFailed атомарно переводит заказ confirmed -> failed и сохраняет причину
	// В той же транзакции вставляет outbox событие order.notarization.failed
	MarkFailed(ctx context.Context, id, reason string) error

	// GetPendingOutboxEvents возвращает неопубликованные outbox события (не больше limit)
	GetPendingOutboxEvents(ctx context.Context, limit int) ([]OutboxEvent, error)

	// MarkOutboxEventPublished помечает outbox событие как опубликованное
	MarkOutboxEventPublished(ctx context.Context, eventID string) error
}

// ErrNotFound возвращается, когда заказ не найден в хранилище
var ErrNotFound = errors.New("order not found")

// ErrAlreadyExists возвращается при попытке создать заказ с уже занятым ID
var ErrAlreadyExists = errors.New("order already exists")

// ErrStateConflict возвращается, когда условный переход состояния не выполнился,
// потому что заказ уже находится в другом состоянии
var ErrStateConflict = errors.New("order state conflict")
