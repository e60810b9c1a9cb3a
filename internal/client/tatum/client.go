package tatum

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultBaseURL - боевой адрес Tatum API
const DefaultBaseURL = "https://api.tatum.io"

// zeroAddress - нулевой адрес BSC, данные пишутся переводом на него
const zeroAddress = "0x0000000000000000000000000000000000000000"

// Client реализует service.NotarizationClient через Tatum API
// Записывает произвольные байты в BSC блокчейн (POST /v3/record)
type Client struct {
	logger     *zap.Logger
	apiKey     string
	privateKey string
	baseURL    string
	client     *http.Client
}

// NewClient создаёт новый Tatum клиент
// baseURL можно переопределить для тестов, пустая строка = боевой адрес
func NewClient(logger *zap.Logger, apiKey, privateKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		logger:     logger,
		apiKey:     apiKey,
		privateKey: privateKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			// Запись в блокчейн медленная, таймаут больше обычного
			Timeout: 60 * time.Second,
		},
	}
}

// recordRequest - тело запроса POST /v3/record
type recordRequest struct {
	Chain          string `json:"chain"`
	Data           string `json:"data"`
	FromPrivateKey string `json:"fromPrivateKey"`
	To             string `json:"to"`
}

// recordResponse - тело ответа Tatum
type recordResponse struct {
	TxID string `json:"txId"`
}

// Record записывает данные в BSC блокчейн
// Возвращает идентификатор транзакции
func (c *Client) Record(ctx context.Context, data []byte) (string, error) {
	url := c.baseURL + "/v3/record"

	reqBody := recordRequest{
		Chain:          "BSC",
		Data:           hex.EncodeToString(data),
		FromPrivateKey: c.privateKey,
		To:             zeroAddress,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal record request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("tatum API status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result recordResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if result.TxID == "" {
		return "", fmt.Errorf("tatum API returned empty txId")
	}

	c.logger.Debug("tatum record transaction sent",
		zap.String("tx_id", result.TxID),
		zap.Int("data_bytes", len(data)),
	)

	return result.TxID, nil
}
