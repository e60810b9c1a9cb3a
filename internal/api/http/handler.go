package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/ADX777/timelock-backend-clean/internal/repository"
	"github.com/ADX777/timelock-backend-clean/internal/service"
)

// Handler содержит HTTP-обработчики сервиса
// Зависит от service слоя, но не знает о деталях реализации (vendor API, БД и т.д.)
type Handler struct {
	logger       *zap.Logger
	orderService *service.OrderService
}

// NewHandler создаёт новый HTTP handler
func NewHandler(logger *zap.Logger, orderService *service.OrderService) *Handler {
	return &Handler{
		logger:       logger,
		orderService: orderService,
	}
}

// CreatePaymentRequest представляет HTTP запрос на создание платежа
type CreatePaymentRequest struct {
	Amount           *float64 `json:"amount"`
	NoteID           *string  `json:"noteId"`
	EncryptedPayload *string  `json:"encryptedPayload"`
}

// CreatePaymentResponse представляет HTTP ответ с данными для оплаты
type CreatePaymentResponse struct {
	QRCode         string `json:"qrCode"`
	PaymentAddress string `json:"paymentAddress"`
	PaymentID      string `json:"paymentId"`
	NoteID         string `json:"noteId"`
}

// PostCreatePayment обрабатывает POST /api/create-payment
func (h *Handler) PostCreatePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var reqBody CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		h.logger.Warn("create-payment: JSON decode error", zap.Error(err))
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	// Валидация входных данных: нужны все три поля
	if reqBody.Amount == nil || reqBody.NoteID == nil || *reqBody.NoteID == "" ||
		reqBody.EncryptedPayload == nil || *reqBody.EncryptedPayload == "" {
		h.logger.Warn("create-payment: missing required fields")
		writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	result, err := h.orderService.CreateOrder(ctx, service.CreateOrderInput{
		OrderID:          *reqBody.NoteID,
		Amount:           *reqBody.Amount,
		EncryptedPayload: []byte(*reqBody.EncryptedPayload),
	})
	if err != nil {
		h.logger.Error("create-payment: order creation error", zap.Error(err))
		switch {
		case errors.Is(err, service.ErrValidation):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, repository.ErrAlreadyExists):
			writeError(w, http.StatusConflict, "Order already exists")
		default:
			// Платёжный шлюз отказал или недоступен
			writeError(w, http.StatusBadGateway, "Failed to create payment")
		}
		return
	}

	writeJSON(w, http.StatusCreated, CreatePaymentResponse{
		QRCode:         result.QRCode,
		PaymentAddress: result.PayAddress,
		PaymentID:      result.PaymentID,
		NoteID:         result.OrderID,
	})
}

// PostWebhook обрабатывает POST /webhook/nowpayments - IPN от платёжного процессора
// Процессору нужен только acknowledgement: 200 на любой обработанный случай,
// включая дубликаты; ошибки аутентификации отдаются не-2xx
func (h *Handler) PostWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("webhook: failed to read body", zap.Error(err))
		writeError(w, http.StatusBadRequest, "Failed to read body")
		return
	}

	signature := r.Header.Get("x-nowpayments-sig")

	err = h.orderService.HandleNotification(ctx, rawBody, signature)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidSignature):
			writeError(w, http.StatusUnauthorized, "Invalid signature")
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, http.StatusNotFound, "No data for order")
		case errors.Is(err, service.ErrValidation):
			writeError(w, http.StatusBadRequest, "Malformed notification")
		default:
			// Временная ошибка (хранилище и т.п.): не-2xx, процессор доставит повторно,
			// идемпотентность на CAS переходе делает повтор безопасным
			h.logger.Error("webhook: processing error", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Processing error")
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// GetTxRequest представляет HTTP запрос на получение txHash
type GetTxRequest struct {
	NoteID *string `json:"noteId"`
}

// PostGetTx обрабатывает POST /api/get-tx - запрос идентификатора транзакции
func (h *Handler) PostGetTx(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var reqBody GetTxRequest
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if reqBody.NoteID == nil || *reqBody.NoteID == "" {
		writeError(w, http.StatusBadRequest, "Missing noteId")
		return
	}

	result, err := h.orderService.GetTxReference(ctx, *reqBody.NoteID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Order not found")
			return
		}
		h.logger.Error("get-tx: query error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Query error")
		return
	}

	switch result.Status {
	case repository.StatusRecorded:
		writeJSON(w, http.StatusOK, map[string]string{
			"txHash": result.TxReference,
			"status": string(result.Status),
		})
	case repository.StatusFailed:
		// Платёж принят, запись не прошла - терминальное состояние,
		// вызывающая сторона обязана его обрабатывать
		writeJSON(w, http.StatusOK, map[string]string{
			"status": string(result.Status),
			"error":  result.FailureReason,
		})
	default:
		// Оплата ещё не подтверждена или запись ещё не выполнена
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{
			"error":  "Not confirmed yet",
			"status": string(result.Status),
		})
	}
}

// PreviewDataRequest представляет HTTP запрос на предпросмотр данных
type PreviewDataRequest struct {
	EncryptedPayload *string `json:"encryptedPayload"`
}

// PostPreviewData обрабатывает POST /api/preview-data - hex предпросмотр payload
func (h *Handler) PostPreviewData(w http.ResponseWriter, r *http.Request) {
	var reqBody PreviewDataRequest
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if reqBody.EncryptedPayload == nil || *reqBody.EncryptedPayload == "" {
		writeError(w, http.StatusBadRequest, "Missing encryptedPayload")
		return
	}

	preview := h.orderService.PreviewData([]byte(*reqBody.EncryptedPayload))
	writeJSON(w, http.StatusOK, map[string]string{"previewData": preview})
}

// writeJSON пишет JSON ответ с указанным статусом
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError пишет JSON ошибку вида {"error": "..."}
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
