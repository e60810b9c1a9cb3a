package nowpayments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ADX777/timelock-backend-clean/internal/service"
)

// DefaultBaseURL - боевой адрес NowPayments API
const DefaultBaseURL = "https://api.nowpayments.io"

// payCurrency - валюта оплаты и выплаты (USDT BEP-20)
const payCurrency = "usdtbep20"

// Client реализует service.PaymentGateway через NowPayments API
type Client struct {
	logger        *zap.Logger
	apiKey        string
	payoutAddress string
	baseURL       string
	client        *http.Client
}

// NewClient создаёт новый NowPayments клиент
// baseURL можно переопределить для тестов, пустая строка = боевой адрес
func NewClient(logger *zap.Logger, apiKey, payoutAddress, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		logger:        logger,
		apiKey:        apiKey,
		payoutAddress: payoutAddress,
		baseURL:       strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// createPaymentRequest - тело запроса POST /v1/payment
type createPaymentRequest struct {
	PriceAmount      float64 `json:"price_amount"`
	PriceCurrency    string  `json:"price_currency"`
	PayCurrency      string  `json:"pay_currency"`
	OrderID          string  `json:"order_id"`
	OrderDescription string  `json:"order_description"`
	IPNCallbackURL   string  `json:"ipn_callback_url"`
	PayoutAddress    string  `json:"payout_address"`
}

// createPaymentResponse - тело ответа NowPayments
// payment_id приходит числом, поэтому json.Number
type createPaymentResponse struct {
	PaymentID      json.Number `json:"payment_id"`
	PaymentAddress string      `json:"payment_address"`
	QRCode         string      `json:"qr_code"`
	Message        string      `json:"message"`
}

// CreateCharge создаёт счёт на оплату через NowPayments
func (c *Client) CreateCharge(ctx context.Context, input service.CreateChargeInput) (*service.Charge, error) {
	url := c.baseURL + "/v1/payment"

	reqBody := createPaymentRequest{
		PriceAmount:      input.Amount,
		PriceCurrency:    payCurrency,
		PayCurrency:      payCurrency,
		OrderID:          input.OrderID,
		OrderDescription: input.Description,
		IPNCallbackURL:   input.CallbackURL,
		PayoutAddress:    c.payoutAddress,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payment request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	// При не-2xx читаем тело ответа для диагностики
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("nowpayments API status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result createPaymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if result.PaymentID.String() == "" || result.PaymentAddress == "" {
		return nil, fmt.Errorf("nowpayments API returned incomplete payment: %s", result.Message)
	}

	c.logger.Debug("nowpayments charge created",
		zap.String("order_id", input.OrderID),
		zap.String("payment_id", result.PaymentID.String()),
	)

	return &service.Charge{
		PayAddress: result.PaymentAddress,
		QRCode:     result.QRCode,
		PaymentID:  result.PaymentID.String(),
	}, nil
}
