package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lapak-dev/backend-lapak/internal/money"
)

// SignatureHeader carries the hex-encoded HMAC-SHA256 digest of the raw
// request body on Creem-style callbacks.
const SignatureHeader = "X-Webhook-Signature"

// Creem verifies and normalises Creem-style JSON callbacks. The signature is
// an HMAC-SHA256 over the raw body with a shared secret, compared in constant
// time.
type Creem struct {
	Secret string
	Now    func() time.Time
}

type creemPayload struct {
	TransactionID string `json:"transaction_id"`
	OrderID       string `json:"order_id"`
	Status        string `json:"status"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	CreatedAt     int64  `json:"created_at"`
}

// Name implements Gateway.
func (Creem) Name() string { return "creem" }

// AckBody implements Gateway.
func (Creem) AckBody() string { return `{"received":true}` }

// Verify implements Gateway.
func (c Creem) Verify(headers http.Header, body []byte) VerifyResult {
	if strings.TrimSpace(c.Secret) == "" {
		return VerifyResult{Valid: false, Method: "hmac_missing_key", Err: errors.New("creem: webhook secret not configured")}
	}
	provided := strings.TrimSpace(headers.Get(SignatureHeader))
	if provided == "" {
		return VerifyResult{Valid: false, Method: "hmac_missing_signature", Err: fmt.Errorf("creem: %s header absent", SignatureHeader)}
	}
	decoded, err := hex.DecodeString(provided)
	if err != nil {
		return VerifyResult{Valid: false, Method: "hmac", Err: errors.New("creem: signature not hex")}
	}
	mac := hmac.New(sha256.New, []byte(c.Secret))
	mac.Write(body)
	if !hmac.Equal(decoded, mac.Sum(nil)) {
		return VerifyResult{Valid: false, Method: "hmac", Err: errors.New("creem: signature mismatch")}
	}
	var payload creemPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return VerifyResult{Valid: false, Method: "hmac", Err: fmt.Errorf("%w: %v", ErrMalformedPayload, err)}
	}
	if payload.CreatedAt > 0 {
		now := c.clock()
		ts := time.Unix(payload.CreatedAt, 0)
		if ts.Before(now.Add(-FreshnessWindow)) || ts.After(now.Add(FreshnessWindow)) {
			return VerifyResult{Valid: false, Method: "hmac", Err: ErrStaleTimestamp}
		}
	}
	return VerifyResult{Valid: true, Method: "hmac"}
}

// Normalize implements Gateway. Creem reports amounts in minor units already.
func (c Creem) Normalize(body []byte) (Callback, error) {
	var payload creemPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Callback{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	orderRef := strings.TrimSpace(payload.OrderID)
	gatewayRef := strings.TrimSpace(payload.TransactionID)
	if orderRef == "" || gatewayRef == "" {
		return Callback{}, fmt.Errorf("%w: missing order_id or transaction_id", ErrMalformedPayload)
	}
	outcome, err := creemOutcome(payload.Status)
	if err != nil {
		return Callback{}, err
	}
	currency := strings.ToUpper(strings.TrimSpace(payload.Currency))
	if currency == "" {
		currency = "USD"
	}
	if payload.Amount < 0 {
		return Callback{}, fmt.Errorf("%w: negative amount", ErrMalformedPayload)
	}
	occurredAt := c.clock()
	if payload.CreatedAt > 0 {
		occurredAt = time.Unix(payload.CreatedAt, 0)
	}
	return Callback{
		OrderRef:   orderRef,
		GatewayRef: gatewayRef,
		Outcome:    outcome,
		Amount:     money.Amount(payload.Amount),
		Currency:   currency,
		OccurredAt: occurredAt,
	}, nil
}

func (c Creem) clock() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// SignHex computes the hex HMAC signature for a body. Exposed for tests and
// local tooling that replays callbacks.
func SignHex(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func creemOutcome(raw string) (Outcome, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "payment_succeeded":
		return OutcomePaid, nil
	case "payment_cancelled":
		return OutcomeCancelled, nil
	case "payment_failed":
		return OutcomeFailed, nil
	case "payment_pending":
		return OutcomePending, nil
	default:
		return "", fmt.Errorf("%w: status %q", ErrUnknownStatus, raw)
	}
}
