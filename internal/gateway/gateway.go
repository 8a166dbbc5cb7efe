// Package gateway contains the payment gateway integrations: signature
// verification and normalisation of raw callback payloads into the canonical
// shape consumed by the fulfillment pipeline.
package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/lapak-dev/backend-lapak/internal/money"
)

// Outcome is the canonical payment outcome extracted from a callback.
type Outcome string

const (
	// OutcomePending means the buyer has not completed payment yet.
	OutcomePending Outcome = "pending"
	// OutcomePaid means payment is confirmed and fulfillment may begin.
	OutcomePaid Outcome = "paid"
	// OutcomeCancelled means the buyer or gateway abandoned the payment.
	OutcomeCancelled Outcome = "cancelled"
	// OutcomeFailed means the gateway reported a definitive failure.
	OutcomeFailed Outcome = "failed"
)

// FreshnessWindow bounds how far a callback timestamp may drift from the
// server clock before the callback is rejected as a replay.
const FreshnessWindow = 5 * time.Minute

var (
	// ErrStaleTimestamp marks a correctly signed callback whose timestamp is
	// outside the freshness window.
	ErrStaleTimestamp = errors.New("gateway: callback timestamp outside freshness window")
	// ErrUnknownStatus marks a payload whose status vocabulary is not mapped.
	ErrUnknownStatus = errors.New("gateway: unrecognised payment status")
	// ErrMalformedPayload marks a payload that cannot be parsed at all.
	ErrMalformedPayload = errors.New("gateway: malformed payload")
)

// Callback is the gateway-agnostic representation of a payment notification.
// It is transient: produced by Normalize, consumed by the pipeline, never
// persisted as-is.
type Callback struct {
	OrderRef   string       `validate:"required"`
	GatewayRef string       `validate:"required"`
	Outcome    Outcome      `validate:"required,oneof=pending paid cancelled failed"`
	Amount     money.Amount `validate:"gte=0"`
	Currency   string       `validate:"required,len=3"`
	OccurredAt time.Time
}

// VerifyResult reports the outcome of a signature check. Method identifies
// which mechanism ran (or why none could) so operators can tell configuration
// gaps apart from forged requests.
type VerifyResult struct {
	Valid  bool
	Method string
	Err    error
}

// Gateway abstracts a payment provider's callback protocol.
type Gateway interface {
	// Name returns the stable gateway identifier used in routes and storage.
	Name() string
	// Verify checks authenticity and freshness of the raw callback. It never
	// performs I/O.
	Verify(headers http.Header, body []byte) VerifyResult
	// Normalize maps the raw payload to the canonical callback. Pure and
	// deterministic; unknown statuses are an error, not a guess.
	Normalize(body []byte) (Callback, error)
	// AckBody is the acknowledgment body the gateway expects on a 200.
	AckBody() string
}
