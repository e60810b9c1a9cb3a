package webhook

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-ipn-secret"

// signCanonical имитирует подпись на стороне процессора:
// HMAC-SHA512 hex от канонической (отсортированной) сериализации тела
func signCanonical(t *testing.T, canonical string) string {
	t.Helper()
	mac := hmac.New(sha512.New, []byte(testSecret))
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifier_ValidSignature(t *testing.T) {
	verifier := NewVerifier(testSecret)

	// Процессор подписывает тело с лексикографически отсортированными ключами
	canonical := `{"order_id":"N1","payment_status":"finished"}`
	signature := signCanonical(t, canonical)

	ok := verifier.Verify([]byte(canonical), signature)
	assert.True(t, ok)
}

func TestVerifier_KeyOrderIndependent(t *testing.T) {
	verifier := NewVerifier(testSecret)

	// Сырое тело приходит с произвольным порядком ключей,
	// но подпись вычислена от отсортированной формы
	rawBody := `{"payment_status":"finished","order_id":"N1","pay_amount":10}`
	canonical := `{"order_id":"N1","pay_amount":10,"payment_status":"finished"}`
	signature := signCanonical(t, canonical)

	ok := verifier.Verify([]byte(rawBody), signature)
	assert.True(t, ok)
}

func TestVerifier_Deterministic(t *testing.T) {
	verifier := NewVerifier(testSecret)

	canonical := `{"order_id":"N1","payment_status":"finished"}`
	signature := signCanonical(t, canonical)

	// Одинаковый вход всегда даёт одинаковый вердикт
	for i := 0; i < 3; i++ {
		require.True(t, verifier.Verify([]byte(canonical), signature))
	}
}

func TestVerifier_TamperedBody(t *testing.T) {
	verifier := NewVerifier(testSecret)

	canonical := `{"order_id":"N1","payment_status":"finished"}`
	signature := signCanonical(t, canonical)

	// Меняем order_id - подпись перестаёт сходиться
	tampered := `{"order_id":"N2","payment_status":"finished"}`
	ok := verifier.Verify([]byte(tampered), signature)
	assert.False(t, ok)
}

func TestVerifier_TamperedSignature(t *testing.T) {
	verifier := NewVerifier(testSecret)

	canonical := `{"order_id":"N1","payment_status":"finished"}`
	signature := signCanonical(t, canonical)

	// Портим один символ подписи
	tamperedSig := []byte(signature)
	if tamperedSig[0] == 'a' {
		tamperedSig[0] = 'b'
	} else {
		tamperedSig[0] = 'a'
	}

	ok := verifier.Verify([]byte(canonical), string(tamperedSig))
	assert.False(t, ok)
}

func TestVerifier_WrongSecret(t *testing.T) {
	canonical := `{"order_id":"N1","payment_status":"finished"}`
	signature := signCanonical(t, canonical)

	verifier := NewVerifier("another-secret")
	ok := verifier.Verify([]byte(canonical), signature)
	assert.False(t, ok)
}

func TestVerifier_MalformedInput(t *testing.T) {
	verifier := NewVerifier(testSecret)

	tests := []struct {
		name      string
		rawBody   string
		signature string
	}{
		{name: "broken json", rawBody: `{"order_id":`, signature: "deadbeef"},
		{name: "not an object", rawBody: `[1,2,3]`, signature: "deadbeef"},
		{name: "empty body", rawBody: ``, signature: "deadbeef"},
		{name: "empty signature", rawBody: `{"order_id":"N1"}`, signature: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Некорректный вход - это просто невалидная подпись, не ошибка
			ok := verifier.Verify([]byte(tt.rawBody), tt.signature)
			assert.False(t, ok)
		})
	}
}
