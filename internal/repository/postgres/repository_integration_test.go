//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	_ "github.com/jackc/pgx/v5/stdlib" //для goose миграций

	"github.com/ADX777/timelock-backend-clean/internal/repository"
)

func TestRepository_Integration(t *testing.T) {
	ctx := context.Background()

	// Поднимаем PostgreSQL контейнер через testcontainers
	postgresContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		postgres.WithDatabase("timelock"),
		postgres.WithUsername("timelock_user"),
		postgres.WithPassword("timelock_password"),
	)
	require.NoError(t, err)
	defer func() {
		err := postgresContainer.Terminate(ctx)
		require.NoError(t, err)
	}()

	// ConnectionString собирает правильный DSN, включая реальный порт контейнера
	dsn, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Открываем *sql.DB через pgx stdlib для goose миграций
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	defer db.Close()

	// Ждём готовности БД через ping с retry
	var pingErr error
	for i := 0; i < 10; i++ {
		pingErr = db.PingContext(ctx)
		if pingErr == nil {
			break
		}
		time.Sleep(1 * time.Second)
	}
	require.NoError(t, pingErr, "Failed to ping database after retries")

	// Вычисляем путь к migrations относительно текущего файла
	_, filename, _, ok := runtime.Caller(0)
	require.True(t, ok, "Failed to get current file path")

	// Текущий файл: internal/repository/postgres/repository_integration_test.go
	// Нужно получить: migrations в корне модуля
	testDir := filepath.Dir(filename)
	repoDir := filepath.Dir(testDir)      // internal/repository
	internalDir := filepath.Dir(repoDir)  // internal
	moduleDir := filepath.Dir(internalDir)
	migrationsDir := filepath.Join(moduleDir, "migrations")

	// Накатываем миграции через goose
	err = goose.UpContext(ctx, db, migrationsDir)
	require.NoError(t, err, "Failed to run migrations")

	// Создаём pgxpool для repository
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	repo := NewRepository(pool)

	newOrder := func(id string) repository.Order {
		return repository.Order{
			ID:               id,
			EncryptedPayload: []byte{0xAA, 0xBB},
			Status:           repository.StatusAwaitingPayment,
			PaymentID:        "P1",
		}
	}

	t.Run("Create and GetByID", func(t *testing.T) {
		require.NoError(t, repo.Create(ctx, newOrder("order-1")))

		got, err := repo.GetByID(ctx, "order-1")
		require.NoError(t, err)
		require.Equal(t, "order-1", got.ID)
		require.Equal(t, repository.StatusAwaitingPayment, got.Status)
		require.Equal(t, []byte{0xAA, 0xBB}, got.EncryptedPayload)
		require.Equal(t, "P1", got.PaymentID)
	})

	t.Run("Create duplicate -> ErrAlreadyExists", func(t *testing.T) {
		require.NoError(t, repo.Create(ctx, newOrder("order-dup")))

		err := repo.Create(ctx, newOrder("order-dup"))
		require.True(t, errors.Is(err, repository.ErrAlreadyExists), "Expected ErrAlreadyExists, got: %v", err)
	})

	t.Run("GetByID not found", func(t *testing.T) {
		_, err := repo.GetByID(ctx, "missing")
		require.True(t, errors.Is(err, repository.ErrNotFound), "Expected ErrNotFound, got: %v", err)
	})

	t.Run("ConfirmPayment transitions and conflicts", func(t *testing.T) {
		require.NoError(t, repo.Create(ctx, newOrder("order-confirm")))

		order, err := repo.ConfirmPayment(ctx, "order-confirm")
		require.NoError(t, err)
		require.Equal(t, repository.StatusConfirmed, order.Status)
		require.Equal(t, []byte{0xAA, 0xBB}, order.EncryptedPayload)

		// Повторный confirm - конфликт состояния
		_, err = repo.ConfirmPayment(ctx, "order-confirm")
		require.True(t, errors.Is(err, repository.ErrStateConflict), "Expected ErrStateConflict, got: %v", err)

		// Неизвестный заказ - not found
		_, err = repo.ConfirmPayment(ctx, "missing")
		require.True(t, errors.Is(err, repository.ErrNotFound), "Expected ErrNotFound, got: %v", err)
	})

	t.Run("ConfirmPayment concurrent: exactly one winner", func(t *testing.T) {
		require.NoError(t, repo.Create(ctx, newOrder("order-race")))

		const goroutines = 10
		var wg sync.WaitGroup
		var mu sync.Mutex
		winners := 0

		for i := 0; i < goroutines; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := repo.ConfirmPayment(ctx, "order-race"); err == nil {
					mu.Lock()
					winners++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		require.Equal(t, 1, winners, "conditional UPDATE must admit exactly one transition")
	})

	t.Run("MarkRecorded stores txReference and outbox event", func(t *testing.T) {
		require.NoError(t, repo.Create(ctx, newOrder("order-record")))
		_, err := repo.ConfirmPayment(ctx, "order-record")
		require.NoError(t, err)

		require.NoError(t, repo.MarkRecorded(ctx, "order-record", "0xT1"))

		got, err := repo.GetByID(ctx, "order-record")
		require.NoError(t, err)
		require.Equal(t, repository.StatusRecorded, got.Status)
		require.Equal(t, "0xT1", got.TxReference)

		// Из recorded заказ никуда не переходит
		err = repo.MarkRecorded(ctx, "order-record", "0xT2")
		require.True(t, errors.Is(err, repository.ErrStateConflict), "Expected ErrStateConflict, got: %v", err)

		// Outbox событие появилось в той же транзакции
		events, err := repo.GetPendingOutboxEvents(ctx, 100)
		require.NoError(t, err)
		found := false
		for _, event := range events {
			if event.OrderID == "order-record" && event.EventType == "order.recorded" {
				found = true
				require.NoError(t, repo.MarkOutboxEventPublished(ctx, event.EventID))
			}
		}
		require.True(t, found, "order.recorded outbox event must exist")
	})

	t.Run("MarkFailed stores reason and outbox event", func(t *testing.T) {
		require.NoError(t, repo.Create(ctx, newOrder("order-fail")))
		_, err := repo.ConfirmPayment(ctx, "order-fail")
		require.NoError(t, err)

		require.NoError(t, repo.MarkFailed(ctx, "order-fail", "chain unavailable"))

		got, err := repo.GetByID(ctx, "order-fail")
		require.NoError(t, err)
		require.Equal(t, repository.StatusFailed, got.Status)
		require.Equal(t, "chain unavailable", got.FailureReason)

		events, err := repo.GetPendingOutboxEvents(ctx, 100)
		require.NoError(t, err)
		found := false
		for _, event := range events {
			if event.OrderID == "order-fail" && event.EventType == "order.notarization.failed" {
				found = true
			}
		}
		require.True(t, found, "order.notarization.failed outbox event must exist")
	})

	t.Run("MarkOutboxEventPublished removes event from pending", func(t *testing.T) {
		require.NoError(t, repo.Create(ctx, newOrder("order-outbox")))
		_, err := repo.ConfirmPayment(ctx, "order-outbox")
		require.NoError(t, err)
		require.NoError(t, repo.MarkRecorded(ctx, "order-outbox", "0xT1"))

		events, err := repo.GetPendingOutboxEvents(ctx, 100)
		require.NoError(t, err)

		var eventID string
		for _, event := range events {
			if event.OrderID == "order-outbox" {
				eventID = event.EventID
			}
		}
		require.NotEmpty(t, eventID)

		require.NoError(t, repo.MarkOutboxEventPublished(ctx, eventID))

		events, err = repo.GetPendingOutboxEvents(ctx, 100)
		require.NoError(t, err)
		for _, event := range events {
			require.NotEqual(t, eventID, event.EventID, "published event must not be returned as pending")
		}

		err = repo.MarkOutboxEventPublished(ctx, "unknown-event")
		require.True(t, errors.Is(err, repository.ErrNotFound), "Expected ErrNotFound, got: %v", err)
	})
}
