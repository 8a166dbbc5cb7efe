package webhook_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/lapak-dev/backend-lapak/internal/audit"
	"github.com/lapak-dev/backend-lapak/internal/gateway"
	"github.com/lapak-dev/backend-lapak/internal/order"
	"github.com/lapak-dev/backend-lapak/internal/resilience"
	"github.com/lapak-dev/backend-lapak/internal/webhook"
)

const handlerSecret = "whsec_handler"

func creemCallbackBody(orderID string, amount int64) []byte {
	return []byte(fmt.Sprintf(
		`{"transaction_id":"txn_42","order_id":%q,"status":"payment_succeeded","amount":%d,"currency":"usd","created_at":%d}`,
		orderID, amount, time.Now().Unix()))
}

func newCallbackServer(t *testing.T, store *memStorage) *httptest.Server {
	t.Helper()
	processor := &webhook.Processor{
		Gateways: map[string]gateway.Gateway{"creem": gateway.Creem{Secret: handlerSecret}},
		Storage:  store,
		Audit:    audit.Recorder{Sink: store, Logger: zerolog.Nop()},
		Machine:  order.Machine{Logger: zerolog.Nop()},
		Retry:    resilience.RetryPolicy{MaxAttempts: 1, Base: time.Millisecond, MaxDelay: time.Millisecond},
		Validate: validator.New(),
		Timeout:  5 * time.Second,
		Logger:   zerolog.Nop(),
	}
	r := chi.NewRouter()
	webhook.Handler{Processor: processor}.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func postCallback(t *testing.T, srv *httptest.Server, path string, body []byte, sign bool) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if sign {
		req.Header.Set(gateway.SignatureHeader, gateway.SignHex(handlerSecret, body))
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeErrorBody(t *testing.T, resp *http.Response) (code, message string) {
	t.Helper()
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return payload.Error.Code, payload.Error.Message
}

func TestHandleCallbackSuccess(t *testing.T) {
	o := pendingOrder()
	o.ID = "ord-123"
	store := newMemStorage(o)
	srv := newCallbackServer(t, store)

	resp := postCallback(t, srv, "/webhooks/payment/creem", creemCallbackBody("ord-123", 9900), true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var ack struct {
		Received bool `json:"received"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
	require.True(t, ack.Received)

	require.Equal(t, order.StatusPaid, store.orders["ord-123"].Status)
}

func TestHandleCallbackDuplicateStillAcks(t *testing.T) {
	o := pendingOrder()
	o.ID = "ord-123"
	store := newMemStorage(o)
	store.successRefs["creem:txn_42"] = true
	srv := newCallbackServer(t, store)

	resp := postCallback(t, srv, "/webhooks/payment/creem", creemCallbackBody("ord-123", 9900), true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, order.StatusPending, store.orders["ord-123"].Status)
}

func TestHandleCallbackTamperedSignature(t *testing.T) {
	store := newMemStorage(pendingOrder())
	srv := newCallbackServer(t, store)

	body := creemCallbackBody("ord-123", 9900)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/webhooks/payment/creem", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(gateway.SignatureHeader, gateway.SignHex("wrong-secret", body))
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	code, message := decodeErrorBody(t, resp)
	require.Equal(t, "SIGNATURE_INVALID", code)
	// Taxonomy message only, no internal cause text.
	require.NotContains(t, message, "secret")
}

func TestHandleCallbackMissingSignature(t *testing.T) {
	store := newMemStorage(pendingOrder())
	srv := newCallbackServer(t, store)

	resp := postCallback(t, srv, "/webhooks/payment/creem", creemCallbackBody("ord-123", 9900), false)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandleCallbackUnknownGateway(t *testing.T) {
	store := newMemStorage(pendingOrder())
	srv := newCallbackServer(t, store)

	resp := postCallback(t, srv, "/webhooks/payment/stripe", creemCallbackBody("ord-123", 9900), true)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	code, _ := decodeErrorBody(t, resp)
	require.Equal(t, "UNKNOWN_GATEWAY", code)
}

func TestHandleCallbackAmountMismatch(t *testing.T) {
	o := pendingOrder()
	o.ID = "ord-123"
	store := newMemStorage(o)
	srv := newCallbackServer(t, store)

	resp := postCallback(t, srv, "/webhooks/payment/creem", creemCallbackBody("ord-123", 100), true)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	code, _ := decodeErrorBody(t, resp)
	require.Equal(t, "AMOUNT_MISMATCH", code)
}

func TestHandleCallbackOversizedBody(t *testing.T) {
	store := newMemStorage(pendingOrder())
	srv := newCallbackServer(t, store)

	huge := []byte(strings.Repeat("a", (1<<20)+1))
	resp := postCallback(t, srv, "/webhooks/payment/creem", huge, true)
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	code, _ := decodeErrorBody(t, resp)
	require.Equal(t, "PAYLOAD_TOO_LARGE", code)
	// Never processed: no attempt row for abuse-sized payloads.
	require.Empty(t, store.attempts)
}
