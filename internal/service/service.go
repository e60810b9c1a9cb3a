package service

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ADX777/timelock-backend-clean/internal/repository"
)

// paymentStatusFinished - финальный успешный статус платежа в IPN-уведомлении NowPayments
const paymentStatusFinished = "finished"

// ErrValidation возвращается при некорректных входных данных от вызывающей стороны
var ErrValidation = errors.New("validation error")

// ErrInvalidSignature возвращается, когда подпись IPN-уведомления не сходится
// Уведомление отбрасывается, состояние заказов не меняется
var ErrInvalidSignature = errors.New("invalid notification signature")

// OrderService содержит бизнес-логику жизненного цикла заказа:
// создание счёта, обработка подтверждения оплаты, запись в блокчейн, выдача txReference
// Зависит от интерфейсов, а не от конкретных vendor клиентов и хранилища
type OrderService struct {
	logger      *zap.Logger
	repo        repository.OrderRepository
	gateway     PaymentGateway
	notary      NotarizationClient
	verifier    SignatureVerifier
	callbackURL string
}

// NewOrderService создаёт новый экземпляр OrderService
// Принимает интерфейсы как зависимости - это позволяет легко подменять их в тестах
func NewOrderService(
	logger *zap.Logger,
	repo repository.OrderRepository,
	gateway PaymentGateway,
	notary NotarizationClient,
	verifier SignatureVerifier,
	callbackURL string,
) *OrderService {
	return &OrderService{
		logger:      logger,
		repo:        repo,
		gateway:     gateway,
		notary:      notary,
		verifier:    verifier,
		callbackURL: callbackURL,
	}
}

// CreateOrderInput содержит входные данные для создания заказа
type CreateOrderInput struct {
	OrderID          string // пустой = сгенерировать
	Amount           float64
	EncryptedPayload []byte
}

// CreateOrderOutput содержит результат создания заказа
type CreateOrderOutput struct {
	OrderID    string
	PayAddress string
	QRCode     string
	PaymentID  string
}

// CreateOrder создаёт заказ: счёт у платёжного шлюза + запись awaiting_payment
// Заказ сохраняется только после успешного ответа шлюза - при ошибке шлюза
// ничего не персистится
func (s *OrderService) CreateOrder(ctx context.Context, input CreateOrderInput) (*CreateOrderOutput, error) {
	if input.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if len(input.EncryptedPayload) == 0 {
		return nil, fmt.Errorf("%w: encrypted payload is required", ErrValidation)
	}

	orderID := input.OrderID
	if orderID == "" {
		orderID = uuid.New().String()
	}

	// Ранний отказ для занятого ID, чтобы не создавать счёт впустую
	// Гонку двух одновременных создании с одним ID закрывает unique constraint в Create
	if _, err := s.repo.GetByID(ctx, orderID); err == nil {
		return nil, repository.ErrAlreadyExists
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to check existing order: %w", err)
	}

	s.logger.Info("creating order",
		zap.String("order_id", orderID),
		zap.Float64("amount", input.Amount),
	)

	charge, err := s.gateway.CreateCharge(ctx, CreateChargeInput{
		OrderID:     orderID,
		Amount:      input.Amount,
		Description: fmt.Sprintf("Timelock Note %s", orderID),
		CallbackURL: s.callbackURL,
	})
	if err != nil {
		s.logger.Error("payment gateway error",
			zap.Error(err),
			zap.String("order_id", orderID),
		)
		return nil, fmt.Errorf("payment gateway error: %w", err)
	}

	order := repository.Order{
		ID:               orderID,
		EncryptedPayload: input.EncryptedPayload,
		Status:           repository.StatusAwaitingPayment,
		PaymentID:        charge.PaymentID,
	}

	if err := s.repo.Create(ctx, order); err != nil {
		s.logger.Error("failed to save order",
			zap.Error(err),
			zap.String("order_id", orderID),
		)
		return nil, err
	}

	s.logger.Info("order created, awaiting payment",
		zap.String("order_id", orderID),
		zap.String("payment_id", charge.PaymentID),
	)

	return &CreateOrderOutput{
		OrderID:    orderID,
		PayAddress: charge.PayAddress,
		QRCode:     charge.QRCode,
		PaymentID:  charge.PaymentID,
	}, nil
}

// notification - IPN-уведомление от платёжного процессора
// Остальные поля тела нас не интересуют
type notification struct {
	OrderID       string `json:"order_id"`
	PaymentStatus string `json:"payment_status"`
}

// HandleNotification обрабатывает IPN-уведомление о платеже
//
// Порядок строго такой: сначала подпись (fail closed), потом статус, потом
// compare-and-set перехода awaiting_payment -> confirmed. Неудавшийся CAS
// означает дубликат уведомления и превращается в no-op - именно это
// гарантирует не больше одной записи в блокчейн на заказ
//
// Возвращает nil для всех обработанных случаев (включая дубликаты и
// неуспешную запись в блокчейн - она терминальна и уходит в failed)
func (s *OrderService) HandleNotification(ctx context.Context, rawBody []byte, signature string) error {
	if !s.verifier.Verify(rawBody, signature) {
		// Security-relevant событие: либо подделка, либо рассинхрон секрета
		s.logger.Warn("notification signature mismatch",
			zap.Int("body_bytes", len(rawBody)),
		)
		return ErrInvalidSignature
	}

	var notif notification
	if err := json.Unmarshal(rawBody, &notif); err != nil {
		// Подпись сходится только у валидного JSON, сюда попасть почти невозможно
		return fmt.Errorf("%w: malformed notification body", ErrValidation)
	}

	if notif.PaymentStatus != paymentStatusFinished {
		// Промежуточные статусы (waiting, confirming, partially_paid...) просто подтверждаем
		s.logger.Debug("ignoring non-final payment status",
			zap.String("order_id", notif.OrderID),
			zap.String("payment_status", notif.PaymentStatus),
		)
		return nil
	}

	order, err := s.repo.ConfirmPayment(ctx, notif.OrderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Уведомление по неизвестному заказу: payload никогда не сохранялся
			// Не фатально для процесса, но для вызывающей стороны это 404
			s.logger.Warn("notification for unknown order",
				zap.String("order_id", notif.OrderID),
			)
			return repository.ErrNotFound
		}
		if errors.Is(err, repository.ErrStateConflict) {
			// Заказ уже прошёл awaiting_payment - повторная доставка, подтверждаем без side effects
			s.logger.Info("duplicate notification, order already confirmed",
				zap.String("order_id", notif.OrderID),
			)
			return nil
		}
		return fmt.Errorf("failed to confirm payment: %w", err)
	}

	s.logger.Info("payment confirmed, recording to blockchain",
		zap.String("order_id", order.ID),
		zap.String("payment_id", order.PaymentID),
	)

	// Переход в confirmed выигран этим вызовом, запись выполняется ровно один раз
	txReference, err := s.notary.Record(ctx, order.EncryptedPayload)
	if err != nil {
		s.logger.Error("notarization failed, order moved to failed",
			zap.Error(err),
			zap.String("order_id", order.ID),
		)
		if markErr := s.repo.MarkFailed(ctx, order.ID, err.Error()); markErr != nil {
			s.logger.Error("failed to mark order as failed",
				zap.Error(markErr),
				zap.String("order_id", order.ID),
			)
			return fmt.Errorf("failed to mark order as failed: %w", markErr)
		}
		// Платёж принят, запись не удалась - терминальное состояние,
		// дальнейший re-drive через outbox событие, уведомление подтверждаем
		return nil
	}

	if err := s.repo.MarkRecorded(ctx, order.ID, txReference); err != nil {
		// Запись в блокчейн прошла, а состояние обновить не удалось
		// txReference обязательно в лог - иначе он потерян для оператора
		s.logger.Error("failed to mark order as recorded",
			zap.Error(err),
			zap.String("order_id", order.ID),
			zap.String("tx_reference", txReference),
		)
		return fmt.Errorf("failed to mark order as recorded: %w", err)
	}

	s.logger.Info("order recorded",
		zap.String("order_id", order.ID),
		zap.String("tx_reference", txReference),
	)

	return nil
}

// TxStatusOutput содержит результат запроса статуса заказа
type TxStatusOutput struct {
	OrderID       string
	Status        repository.OrderStatus
	TxReference   string // заполнен только при recorded
	FailureReason string // заполнен только при failed
}

// GetTxReference возвращает текущий статус заказа и txReference, когда он доступен
// Никогда не блокируется в ожидании записи
func (s *OrderService) GetTxReference(ctx context.Context, orderID string) (*TxStatusOutput, error) {
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrValidation)
	}

	order, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	return &TxStatusOutput{
		OrderID:       order.ID,
		Status:        order.Status,
		TxReference:   order.TxReference,
		FailureReason: order.FailureReason,
	}, nil
}

// PreviewData возвращает hex-представление payload для предпросмотра на фронте
func (s *OrderService) PreviewData(payload []byte) string {
	return hex.EncodeToString(payload)
}
