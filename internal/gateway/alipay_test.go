package gateway_test

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lapak-dev/backend-lapak/internal/gateway"
	"github.com/lapak-dev/backend-lapak/internal/money"
)

type alipayFixture struct {
	key *rsa.PrivateKey
	gw  gateway.Alipay
}

func newAlipayFixture(t *testing.T, now time.Time) alipayFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	gw, err := gateway.NewAlipay(string(pemKey))
	require.NoError(t, err)
	gw.Now = func() time.Time { return now }
	return alipayFixture{key: key, gw: gw}
}

// sign reproduces the merchant-side signing: sorted k=v pairs over all
// non-empty fields except sign and sign_type, RSA-SHA256, base64.
func (f alipayFixture) sign(t *testing.T, values url.Values) string {
	t.Helper()
	keys := make([]string, 0, len(values))
	for key := range values {
		if key == "sign" || key == "sign_type" || strings.TrimSpace(values.Get(key)) == "" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+values.Get(key))
	}
	digest := sha256.Sum256([]byte(strings.Join(pairs, "&")))
	sig, err := rsa.SignPKCS1v15(rand.Reader, f.key, crypto.SHA256, digest[:])
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(sig)
}

func (f alipayFixture) body(t *testing.T, now time.Time, overrides map[string]string) []byte {
	t.Helper()
	values := url.Values{}
	values.Set("out_trade_no", "ord-123")
	values.Set("trade_no", "2026082422001")
	values.Set("trade_status", "TRADE_SUCCESS")
	values.Set("total_amount", "99.00")
	values.Set("timestamp", now.In(time.Local).Format("2006-01-02 15:04:05"))
	for k, v := range overrides {
		if v == "" {
			values.Del(k)
			continue
		}
		values.Set(k, v)
	}
	values.Set("sign_type", "RSA2")
	values.Set("sign", f.sign(t, values))
	return []byte(values.Encode())
}

func TestAlipayVerify(t *testing.T) {
	now := time.Now()
	f := newAlipayFixture(t, now)

	t.Run("valid signature", func(t *testing.T) {
		res := f.gw.Verify(nil, f.body(t, now, nil))
		require.True(t, res.Valid)
		require.Equal(t, "rsa2", res.Method)
	})

	t.Run("tampered amount", func(t *testing.T) {
		body := f.body(t, now, nil)
		tampered := strings.Replace(string(body), "99.00", "1.00", 1)
		res := f.gw.Verify(nil, []byte(tampered))
		require.False(t, res.Valid)
	})

	t.Run("missing signature", func(t *testing.T) {
		values := url.Values{}
		values.Set("out_trade_no", "ord-123")
		values.Set("trade_no", "t-1")
		res := f.gw.Verify(nil, []byte(values.Encode()))
		require.False(t, res.Valid)
		require.Equal(t, "rsa2_missing_signature", res.Method)
	})

	t.Run("missing key", func(t *testing.T) {
		unconfigured, err := gateway.NewAlipay("")
		require.NoError(t, err)
		res := unconfigured.Verify(nil, f.body(t, now, nil))
		require.False(t, res.Valid)
		require.Equal(t, "rsa2_missing_key", res.Method)
	})

	t.Run("stale timestamp", func(t *testing.T) {
		old := now.Add(-10 * time.Minute)
		body := f.body(t, old, nil)
		res := f.gw.Verify(nil, body)
		require.False(t, res.Valid)
		require.ErrorIs(t, res.Err, gateway.ErrStaleTimestamp)
	})

	t.Run("future timestamp", func(t *testing.T) {
		future := now.Add(10 * time.Minute)
		body := f.body(t, future, nil)
		res := f.gw.Verify(nil, body)
		require.False(t, res.Valid)
		require.ErrorIs(t, res.Err, gateway.ErrStaleTimestamp)
	})
}

func TestAlipayNormalize(t *testing.T) {
	now := time.Now()
	f := newAlipayFixture(t, now)

	cases := []struct {
		name      string
		overrides map[string]string
		outcome   gateway.Outcome
		amount    money.Amount
		currency  string
		wantErr   error
	}{
		{name: "trade success", outcome: gateway.OutcomePaid, amount: 9900, currency: "CNY"},
		{
			name:      "trade finished",
			overrides: map[string]string{"trade_status": "TRADE_FINISHED"},
			outcome:   gateway.OutcomePaid, amount: 9900, currency: "CNY",
		},
		{
			name:      "trade closed",
			overrides: map[string]string{"trade_status": "TRADE_CLOSED"},
			outcome:   gateway.OutcomeFailed, amount: 9900, currency: "CNY",
		},
		{
			name:      "wait buyer pay",
			overrides: map[string]string{"trade_status": "WAIT_BUYER_PAY"},
			outcome:   gateway.OutcomePending, amount: 9900, currency: "CNY",
		},
		{
			name:      "explicit currency",
			overrides: map[string]string{"currency": "usd", "total_amount": "12.34"},
			outcome:   gateway.OutcomePaid, amount: 1234, currency: "USD",
		},
		{
			name:      "unknown status",
			overrides: map[string]string{"trade_status": "TRADE_PARTIAL"},
			wantErr:   gateway.ErrUnknownStatus,
		},
		{
			name:      "missing order ref",
			overrides: map[string]string{"out_trade_no": ""},
			wantErr:   gateway.ErrMalformedPayload,
		},
		{
			name:      "sub minor unit precision",
			overrides: map[string]string{"total_amount": "9.999"},
			wantErr:   gateway.ErrMalformedPayload,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cb, err := f.gw.Normalize(f.body(t, now, tc.overrides))
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, "ord-123", cb.OrderRef)
			require.Equal(t, "2026082422001", cb.GatewayRef)
			require.Equal(t, tc.outcome, cb.Outcome)
			require.Equal(t, tc.amount, cb.Amount)
			require.Equal(t, tc.currency, cb.Currency)
		})
	}
}
