package service

import "context"

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name=PaymentGateway --dir=. --output=./mocks --outpkg=mocks

// PaymentGateway определяет интерфейс платёжного шлюза
// Использует доменные типы вместо vendor DTO - это делает service независимым
// от конкретного провайдера (NowPayments, моки в тестах)
type PaymentGateway interface {
	// CreateCharge создаёт счёт на оплату заказа
	// Возвращает адрес для оплаты, QR-код и идентификатор платежа
	CreateCharge(ctx context.Context, input CreateChargeInput) (*Charge, error)
}

// CreateChargeInput содержит входные данные для создания счёта
type CreateChargeInput struct {
	OrderID     string
	Amount      float64
	Description string
	CallbackURL string
}

// Charge содержит результат создания счёта у платёжного шлюза
type Charge struct {
	PayAddress string
	QRCode     string
	PaymentID  string
}

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name=NotarizationClient --dir=. --output=./mocks --outpkg=mocks

// NotarizationClient определяет интерфейс сервиса записи данных в блокчейн
type NotarizationClient interface {
	// Record записывает данные в блокчейн
	// Возвращает идентификатор транзакции
	Record(ctx context.Context, data []byte) (string, error)
}

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name=SignatureVerifier --dir=. --output=./mocks --outpkg=mocks

// SignatureVerifier проверяет подлинность входящего IPN-уведомления
type SignatureVerifier interface {
	// Verify возвращает true, если подпись сходится с телом уведомления
	Verify(rawBody []byte, signature string) bool
}
