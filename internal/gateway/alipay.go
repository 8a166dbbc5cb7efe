package gateway

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/lapak-dev/backend-lapak/internal/money"
)

// Alipay verifies and normalises Alipay-style asynchronous notifications.
// Payloads arrive form-encoded; the signature covers every field except
// sign and sign_type, joined as k=v pairs in lexicographic key order and
// verified with RSA-SHA256 against the merchant-configured public key.
type Alipay struct {
	PublicKey *rsa.PublicKey
	Now       func() time.Time
}

// alipayTimeLayout is the timestamp format used in notify payloads.
const alipayTimeLayout = "2006-01-02 15:04:05"

// NewAlipay constructs the gateway from a PEM-encoded public key. An empty
// key is tolerated at construction time; verification then reports
// rsa2_missing_key so the misconfiguration is visible per callback.
func NewAlipay(publicKeyPEM string) (Alipay, error) {
	trimmed := strings.TrimSpace(publicKeyPEM)
	if trimmed == "" {
		return Alipay{}, nil
	}
	block, _ := pem.Decode([]byte(trimmed))
	if block == nil {
		return Alipay{}, errors.New("alipay: public key is not valid PEM")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return Alipay{}, fmt.Errorf("alipay: parse public key: %w", err)
	}
	rsaKey, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return Alipay{}, errors.New("alipay: public key is not RSA")
	}
	return Alipay{PublicKey: rsaKey}, nil
}

// Name implements Gateway.
func (Alipay) Name() string { return "alipay" }

// AckBody implements Gateway. Alipay stops retrying once it reads the plain
// "success" body.
func (Alipay) AckBody() string { return "success" }

// Verify implements Gateway.
func (a Alipay) Verify(_ http.Header, body []byte) VerifyResult {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return VerifyResult{Valid: false, Method: "rsa2", Err: fmt.Errorf("%w: %v", ErrMalformedPayload, err)}
	}
	if a.PublicKey == nil {
		return VerifyResult{Valid: false, Method: "rsa2_missing_key", Err: errors.New("alipay: public key not configured")}
	}
	signature := strings.TrimSpace(values.Get("sign"))
	if signature == "" {
		return VerifyResult{Valid: false, Method: "rsa2_missing_signature", Err: errors.New("alipay: sign field absent")}
	}
	raw, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return VerifyResult{Valid: false, Method: "rsa2", Err: fmt.Errorf("alipay: signature not base64: %w", err)}
	}
	digest := sha256.Sum256([]byte(signContent(values)))
	if err := rsa.VerifyPKCS1v15(a.PublicKey, crypto.SHA256, digest[:], raw); err != nil {
		return VerifyResult{Valid: false, Method: "rsa2", Err: errors.New("alipay: signature mismatch")}
	}
	// Freshness only matters once the signature holds: a captured-but-valid
	// payload replayed later must still be refused.
	if ts := strings.TrimSpace(values.Get("timestamp")); ts != "" {
		parsed, err := time.ParseInLocation(alipayTimeLayout, ts, time.Local)
		if err != nil {
			return VerifyResult{Valid: false, Method: "rsa2", Err: fmt.Errorf("alipay: unparseable timestamp %q", ts)}
		}
		now := a.clock()
		if parsed.Before(now.Add(-FreshnessWindow)) || parsed.After(now.Add(FreshnessWindow)) {
			return VerifyResult{Valid: false, Method: "rsa2", Err: ErrStaleTimestamp}
		}
	}
	return VerifyResult{Valid: true, Method: "rsa2"}
}

// Normalize implements Gateway.
func (a Alipay) Normalize(body []byte) (Callback, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return Callback{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	orderRef := strings.TrimSpace(values.Get("out_trade_no"))
	gatewayRef := strings.TrimSpace(values.Get("trade_no"))
	if orderRef == "" || gatewayRef == "" {
		return Callback{}, fmt.Errorf("%w: missing out_trade_no or trade_no", ErrMalformedPayload)
	}
	outcome, err := alipayOutcome(values.Get("trade_status"))
	if err != nil {
		return Callback{}, err
	}
	currency := strings.ToUpper(strings.TrimSpace(values.Get("currency")))
	if currency == "" {
		currency = "CNY"
	}
	amount, err := money.Parse(values.Get("total_amount"), currency)
	if err != nil {
		return Callback{}, fmt.Errorf("%w: total_amount: %v", ErrMalformedPayload, err)
	}
	occurredAt := a.clock()
	for _, field := range []string{"gmt_payment", "notify_time"} {
		if raw := strings.TrimSpace(values.Get(field)); raw != "" {
			if parsed, err := time.ParseInLocation(alipayTimeLayout, raw, time.Local); err == nil {
				occurredAt = parsed
				break
			}
		}
	}
	return Callback{
		OrderRef:   orderRef,
		GatewayRef: gatewayRef,
		Outcome:    outcome,
		Amount:     amount,
		Currency:   currency,
		OccurredAt: occurredAt,
	}, nil
}

func (a Alipay) clock() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// signContent rebuilds the signed string: all fields except sign and
// sign_type, empty values skipped, keys in lexicographic order, joined as
// k=v with & separators.
func signContent(values url.Values) string {
	keys := make([]string, 0, len(values))
	for key := range values {
		if key == "sign" || key == "sign_type" {
			continue
		}
		if strings.TrimSpace(values.Get(key)) == "" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+values.Get(key))
	}
	return strings.Join(pairs, "&")
}

func alipayOutcome(raw string) (Outcome, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "TRADE_SUCCESS", "TRADE_FINISHED":
		return OutcomePaid, nil
	case "TRADE_CLOSED":
		return OutcomeFailed, nil
	case "WAIT_BUYER_PAY":
		return OutcomePending, nil
	default:
		return "", fmt.Errorf("%w: trade_status %q", ErrUnknownStatus, raw)
	}
}
