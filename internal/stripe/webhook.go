package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// SignatureTolerance — максимально допустимое расхождение временной метки подписи с текущим временем.
const SignatureTolerance = 5 * time.Minute

// Ошибки проверки подписи вебхука.
var (
	ErrInvalidSignatureHeader = errors.New("invalid signature header")
	ErrSignatureMismatch      = errors.New("signature mismatch")
	ErrSignatureExpired       = errors.New("signature timestamp outside tolerance")
)

// VerifySignature проверяет подпись вебхука Stripe по схеме v1.
// Заголовок имеет формат "t={timestamp},v1={signature}", где signature —
// HMAC-SHA256 от строки "{timestamp}.{payload}" с секретом эндпоинта.
// Тело запроса должно передаваться в исходном виде, без переразбора JSON.
func VerifySignature(payload []byte, header, secret string) error {
	return verifySignatureAt(payload, header, secret, time.Now())
}

func verifySignatureAt(payload []byte, header, secret string, now time.Time) error {
	if header == "" {
		return ErrInvalidSignatureHeader
	}

	var timestamp int64
	var signatures []string

	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return ErrInvalidSignatureHeader
			}
			timestamp = ts
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}

	if timestamp == 0 || len(signatures) == 0 {
		return ErrInvalidSignatureHeader
	}

	diff := now.Sub(time.Unix(timestamp, 0))
	if diff > SignatureTolerance || diff < -SignatureTolerance {
		return ErrSignatureExpired
	}

	expected := ComputeSignature(timestamp, payload, secret)
	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}

	return ErrSignatureMismatch
}

// ComputeSignature вычисляет v1-подпись Stripe для указанной временной метки и тела.
func ComputeSignature(timestamp int64, payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeader формирует значение заголовка Stripe-Signature для указанного тела.
// Используется в тестах для генерации корректно подписанных запросов.
func SignatureHeader(timestamp int64, payload []byte, secret string) string {
	return "t=" + strconv.FormatInt(timestamp, 10) + ",v1=" + ComputeSignature(timestamp, payload, secret)
}
