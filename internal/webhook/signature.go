package webhook

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
)

// Verifier проверяет подпись IPN-уведомлений от NowPayments
//
// NowPayments подписывает JSON тело, сериализованное с лексикографически
// отсортированными ключами: HMAC-SHA512 от этой строки, hex digest,
// заголовок x-nowpayments-sig. Go encoding/json сортирует ключи map
// лексикографически при маршалинге, поэтому повторный Marshal декодированного
// тела даёт ту же каноническую форму
type Verifier struct {
	secret []byte
}

// NewVerifier создаёт Verifier с общим IPN секретом
func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
	}
}

// Verify проверяет подпись сырого тела уведомления
// Возвращает false для любого некорректного входа (битый JSON, пустая подпись),
// никогда не возвращает ошибку - невалидный вход это просто невалидная подпись
func (v *Verifier) Verify(rawBody []byte, signature string) bool {
	if len(rawBody) == 0 || signature == "" {
		return false
	}

	canonical, ok := canonicalize(rawBody)
	if !ok {
		return false
	}

	mac := hmac.New(sha512.New, v.secret)
	mac.Write(canonical)
	expected := hex.EncodeToString(mac.Sum(nil))

	// Сравнение за константное время, чтобы не давать timing oracle
	return hmac.Equal([]byte(expected), []byte(signature))
}

// canonicalize приводит JSON тело к канонической форме:
// декодирование в map и повторный Marshal с отсортированными ключами
func canonicalize(rawBody []byte) ([]byte, bool) {
	var body map[string]interface{}
	if err := json.Unmarshal(rawBody, &body); err != nil {
		return nil, false
	}

	canonical, err := json.Marshal(body)
	if err != nil {
		return nil, false
	}

	return canonical, true
}
