package memory

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ADX777/timelock-backend-clean/internal/repository"
)

func newOrder(id string) repository.Order {
	return repository.Order{
		ID:               id,
		EncryptedPayload: []byte{0xAA, 0xBB},
		Status:           repository.StatusAwaitingPayment,
		PaymentID:        "P1",
	}
}

func TestMemoryRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	require.NoError(t, repo.Create(ctx, newOrder("N1")))

	got, err := repo.GetByID(ctx, "N1")
	require.NoError(t, err)
	assert.Equal(t, "N1", got.ID)
	assert.Equal(t, repository.StatusAwaitingPayment, got.Status)
	assert.Equal(t, []byte{0xAA, 0xBB}, got.EncryptedPayload)
	assert.NotZero(t, got.CreatedAt)

	// Повторное создание с тем же ID отклоняется
	err = repo.Create(ctx, newOrder("N1"))
	assert.ErrorIs(t, err, repository.ErrAlreadyExists)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestMemoryRepository_ConfirmPayment(t *testing.T) {
	ctx := context.Background()

	t.Run("awaiting -> confirmed", func(t *testing.T) {
		repo := NewMemoryRepository()
		require.NoError(t, repo.Create(ctx, newOrder("N1")))

		order, err := repo.ConfirmPayment(ctx, "N1")
		require.NoError(t, err)
		assert.Equal(t, repository.StatusConfirmed, order.Status)
		// Возвращённый заказ содержит payload - он нужен для записи в блокчейн
		assert.Equal(t, []byte{0xAA, 0xBB}, order.EncryptedPayload)
	})

	t.Run("second confirm -> ErrStateConflict", func(t *testing.T) {
		repo := NewMemoryRepository()
		require.NoError(t, repo.Create(ctx, newOrder("N1")))

		_, err := repo.ConfirmPayment(ctx, "N1")
		require.NoError(t, err)

		_, err = repo.ConfirmPayment(ctx, "N1")
		assert.ErrorIs(t, err, repository.ErrStateConflict)
	})

	t.Run("unknown order -> ErrNotFound", func(t *testing.T) {
		repo := NewMemoryRepository()

		_, err := repo.ConfirmPayment(ctx, "missing")
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("concurrent confirms: exactly one winner", func(t *testing.T) {
		repo := NewMemoryRepository()
		require.NoError(t, repo.Create(ctx, newOrder("N1")))

		const goroutines = 20
		var wg sync.WaitGroup
		var mu sync.Mutex
		winners := 0

		for i := 0; i < goroutines; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := repo.ConfirmPayment(ctx, "N1"); err == nil {
					mu.Lock()
					winners++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, winners)
	})
}

func TestMemoryRepository_MarkRecorded(t *testing.T) {
	ctx := context.Background()

	t.Run("confirmed -> recorded with outbox event", func(t *testing.T) {
		repo := NewMemoryRepository()
		require.NoError(t, repo.Create(ctx, newOrder("N1")))
		_, err := repo.ConfirmPayment(ctx, "N1")
		require.NoError(t, err)

		require.NoError(t, repo.MarkRecorded(ctx, "N1", "T1"))

		order, err := repo.GetByID(ctx, "N1")
		require.NoError(t, err)
		assert.Equal(t, repository.StatusRecorded, order.Status)
		assert.Equal(t, "T1", order.TxReference)

		events, err := repo.GetPendingOutboxEvents(ctx, 10)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "order.recorded", events[0].EventType)
		assert.Equal(t, "N1", events[0].OrderID)

		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
		assert.Equal(t, "T1", payload["tx_reference"])
		assert.Equal(t, "N1", payload["order_id"])
	})

	t.Run("awaiting order -> ErrStateConflict", func(t *testing.T) {
		repo := NewMemoryRepository()
		require.NoError(t, repo.Create(ctx, newOrder("N1")))

		err := repo.MarkRecorded(ctx, "N1", "T1")
		assert.ErrorIs(t, err, repository.ErrStateConflict)
	})

	t.Run("unknown order -> ErrNotFound", func(t *testing.T) {
		repo := NewMemoryRepository()

		err := repo.MarkRecorded(ctx, "missing", "T1")
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})
}

func TestMemoryRepository_MarkFailed(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	require.NoError(t, repo.Create(ctx, newOrder("N1")))
	_, err := repo.ConfirmPayment(ctx, "N1")
	require.NoError(t, err)

	require.NoError(t, repo.MarkFailed(ctx, "N1", "chain unavailable"))

	order, err := repo.GetByID(ctx, "N1")
	require.NoError(t, err)
	assert.Equal(t, repository.StatusFailed, order.Status)
	assert.Equal(t, "chain unavailable", order.FailureReason)
	assert.Empty(t, order.TxReference)

	// Из failed заказ никуда не переходит
	err = repo.MarkRecorded(ctx, "N1", "T1")
	assert.ErrorIs(t, err, repository.ErrStateConflict)

	events, err := repo.GetPendingOutboxEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "order.notarization.failed", events[0].EventType)
}

func TestMemoryRepository_Outbox(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	for _, id := range []string{"N1", "N2", "N3"} {
		require.NoError(t, repo.Create(ctx, newOrder(id)))
		_, err := repo.ConfirmPayment(ctx, id)
		require.NoError(t, err)
		require.NoError(t, repo.MarkRecorded(ctx, id, "T-"+id))
	}

	// limit ограничивает размер батча
	events, err := repo.GetPendingOutboxEvents(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)

	// Опубликованные события из pending выборки исчезают
	require.NoError(t, repo.MarkOutboxEventPublished(ctx, events[0].EventID))

	events, err = repo.GetPendingOutboxEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	for _, event := range events {
		assert.False(t, event.Published)
	}

	err = repo.MarkOutboxEventPublished(ctx, "unknown-event")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
