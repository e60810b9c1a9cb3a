package app

import (
	"context"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	httpapi "github.com/ADX777/timelock-backend-clean/internal/api/http"
	"github.com/ADX777/timelock-backend-clean/internal/client/nowpayments"
	"github.com/ADX777/timelock-backend-clean/internal/client/tatum"
	"github.com/ADX777/timelock-backend-clean/internal/config"
	eventkafka "github.com/ADX777/timelock-backend-clean/internal/event/kafka"
	"github.com/ADX777/timelock-backend-clean/internal/repository"
	"github.com/ADX777/timelock-backend-clean/internal/repository/memory"
	"github.com/ADX777/timelock-backend-clean/internal/repository/postgres"
	"github.com/ADX777/timelock-backend-clean/internal/service"
	"github.com/ADX777/timelock-backend-clean/internal/webhook"
	platformlogging "github.com/ADX777/timelock-backend-clean/platform/logging"
	platformshutdown "github.com/ADX777/timelock-backend-clean/platform/shutdown"
)

// App содержит все зависимости для запуска и корректного shutdown сервиса
type App struct {
	logger      *zap.Logger
	httpServer  *http.Server
	dispatcher  *eventkafka.OutboxDispatcher
	shutdownMgr *platformshutdown.Manager
	readiness   func() bool
	wg          sync.WaitGroup

	// dispatcherCancel останавливает фоновый outbox dispatcher
	dispatcherCancel context.CancelFunc
	dispatcherCtx    context.Context
}

// Build создаёт и настраивает все зависимости сервиса
func Build(cfg config.Config) (*App, error) {
	const op = "app.Build"

	logger, err := platformlogging.New(platformlogging.Config{
		ServiceName: "timelock",
		Env:         string(cfg.AppEnv),
		Level:       os.Getenv("LOG_LEVEL"),
		Format:      os.Getenv("LOG_FORMAT"),
	})
	if err != nil {
		return nil, err
	}

	logger = logger.With(zap.String("op", op))
	logger.Info("Building Timelock service", zap.String("http_addr", cfg.HTTPAddr))

	// Хранилище заказов: PostgreSQL когда DSN задан, иначе in-memory (dev режим)
	var orderRepo repository.OrderRepository
	var pool *pgxpool.Pool
	readiness := func() bool { return true }

	if cfg.PostgresDSN != "" {
		logger.Info("Connecting to PostgreSQL")
		pool, err = pgxpool.New(context.Background(), cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(context.Background()); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("PostgreSQL connection established")

		orderRepo = postgres.NewRepository(pool)

		// readiness завязан на ping БД
		dbPool := pool
		readiness = func() bool {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return dbPool.Ping(ctx) == nil
		}
	} else {
		logger.Warn("TIMELOCK_POSTGRES_DSN is empty, using in-memory store (orders are lost on restart)")
		orderRepo = memory.NewMemoryRepository()
	}

	// Вендорные клиенты и верификатор подписи
	verifier := webhook.NewVerifier(cfg.NowPaymentsIPNSecret)
	gateway := nowpayments.NewClient(logger, cfg.NowPaymentsAPIKey, cfg.PayoutWallet, cfg.NowPaymentsBaseURL)
	notary := tatum.NewClient(logger, cfg.TatumAPIKey, cfg.BSCPrivateKey, cfg.TatumBaseURL)

	callbackURL := cfg.PublicBaseURL + "/webhook/nowpayments"

	// Service слой с зависимостями
	orderService := service.NewOrderService(logger, orderRepo, gateway, notary, verifier, callbackURL)

	// HTTP handler и роутер
	handler := httpapi.NewHandler(logger, orderService)
	router := httpapi.NewRouter(handler, readiness)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Outbox dispatcher: события переходов состояний уходят в Kafka
	dispatcher := eventkafka.NewOutboxDispatcher(
		logger,
		orderRepo,
		cfg.KafkaBrokers,
		cfg.OrderEventsTopic,
		cfg.OutboxBatchSize,
		cfg.OutboxInterval,
		cfg.OutboxMaxRetries,
		cfg.OutboxBackoff,
	)

	dispatcherCtx, dispatcherCancel := context.WithCancel(context.Background())

	// Shutdown manager: функции выполняются в порядке, обратном регистрации
	shutdownMgr := platformshutdown.New(cfg.ShutdownTimeout, logger)
	if pool != nil {
		shutdownMgr.Add("postgres_pool", platformshutdown.ClosePool(pool))
	}
	shutdownMgr.Add("outbox_dispatcher", func(ctx context.Context) error {
		dispatcherCancel()
		return dispatcher.Close()
	})
	shutdownMgr.Add("http_server", platformshutdown.ShutdownHTTPServer(httpServer))

	return &App{
		logger:           logger,
		httpServer:       httpServer,
		dispatcher:       dispatcher,
		shutdownMgr:      shutdownMgr,
		readiness:        readiness,
		dispatcherCancel: dispatcherCancel,
		dispatcherCtx:    dispatcherCtx,
	}, nil
}

// Run запускает сервис и блокируется до получения сигнала shutdown
func (a *App) Run() error {
	defer platformlogging.Sync(a.logger)

	a.logger.Info("Starting Timelock service", zap.String("addr", a.httpServer.Addr))
	a.logger.Info("Health check available", zap.String("url", "http://"+a.httpServer.Addr+"/health"))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.dispatcher.Start(a.dispatcherCtx); err != nil {
			a.logger.Error("Outbox dispatcher error", zap.Error(err))
		}
	}()

	// Ожидаем сигнал и выполняем shutdown
	a.shutdownMgr.Wait()

	a.wg.Wait()
	a.logger.Info("Timelock service stopped")
	return nil
}
