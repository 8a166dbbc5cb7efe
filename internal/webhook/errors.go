package webhook

import (
	"errors"
	"net/http"

	"github.com/lapak-dev/backend-lapak/internal/common"
)

// ErrDuplicateReplay signals that the callback's effect was already applied.
// It is not a failure: the pipeline acknowledges duplicates with a 200 so the
// gateway stops redelivering. The storage layer returns it when the partial
// unique success index rejects a concurrent second commit.
var ErrDuplicateReplay = errors.New("webhook: callback already processed")

// errReplayFinal reclassifies a mid-commit replay as non-retryable so the
// retry loop hands it back immediately. It stays unexported: callers match
// the wrapped ErrDuplicateReplay.
var errReplayFinal = &common.AppError{
	Code:    "DUPLICATE_REPLAY",
	Message: "callback already processed",
}

// Pipeline error taxonomy. Codes are stable API surface: gateways key their
// redelivery behaviour off the HTTP status, operators key dashboards off the
// code strings.
var (
	// ErrSignatureInvalid rejects callbacks whose signature does not verify.
	// 401 so the gateway does not redeliver a forged or corrupted request.
	ErrSignatureInvalid = &common.AppError{
		Code:       "SIGNATURE_INVALID",
		Message:    "callback signature verification failed",
		HTTPStatus: http.StatusUnauthorized,
	}

	// ErrReplayExpired rejects correctly signed callbacks whose timestamp is
	// outside the freshness window.
	ErrReplayExpired = &common.AppError{
		Code:       "REPLAY_EXPIRED",
		Message:    "callback timestamp outside freshness window",
		HTTPStatus: http.StatusUnauthorized,
	}

	// ErrAmountMismatch rejects callbacks whose reported amount deviates from
	// the order beyond tolerance.
	ErrAmountMismatch = &common.AppError{
		Code:       "AMOUNT_MISMATCH",
		Message:    "reported amount does not match order",
		HTTPStatus: http.StatusBadRequest,
	}

	// ErrMalformedPayload rejects payloads that cannot be parsed or fail
	// field validation after normalization.
	ErrMalformedPayload = &common.AppError{
		Code:       "MALFORMED_PAYLOAD",
		Message:    "callback payload is malformed",
		HTTPStatus: http.StatusBadRequest,
	}

	// ErrUnknownGateway rejects callbacks for a gateway this deployment does
	// not serve.
	ErrUnknownGateway = &common.AppError{
		Code:       "UNKNOWN_GATEWAY",
		Message:    "unknown payment gateway",
		HTTPStatus: http.StatusNotFound,
	}

	// ErrTransientStorage wraps storage failures worth retrying. 500 invites
	// gateway redelivery, which the idempotency guard makes safe.
	ErrTransientStorage = &common.AppError{
		Code:       "TRANSIENT_STORAGE",
		Message:    "temporary storage failure",
		HTTPStatus: http.StatusInternalServerError,
		Retryable:  true,
	}
)
