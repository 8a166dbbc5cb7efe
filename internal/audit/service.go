package audit

import (
	"context"

	"github.com/rs/zerolog"
)

// Sink is the storage surface the recorder writes through.
type Sink interface {
	InsertAttempt(ctx context.Context, a Attempt) (Attempt, error)
	MarkAttemptResult(ctx context.Context, id string, result Result, errorCode, errorDetail, orderID string) error
	SetAttemptGatewayRef(ctx context.Context, id, gatewayRef string) error
}

// Recorder writes attempt records best-effort. A broken audit trail is an
// operational problem, not a reason to reject a valid payment callback, so
// every failure here is logged and swallowed.
type Recorder struct {
	Sink   Sink
	Logger zerolog.Logger
}

// Record persists the initial attempt row and returns its id. Empty id means
// recording failed and later finalisation calls become no-ops.
func (r Recorder) Record(ctx context.Context, a Attempt) string {
	if r.Sink == nil {
		return ""
	}
	stored, err := r.Sink.InsertAttempt(ctx, a)
	if err != nil {
		r.Logger.Error().Err(err).
			Str("gateway", a.Gateway).
			Str("payload_hash", a.PayloadHash).
			Msg("record callback attempt")
		return ""
	}
	return stored.ID
}

// SetGatewayRef backfills the reference once normalization extracted it.
func (r Recorder) SetGatewayRef(ctx context.Context, id, gatewayRef string) {
	if r.Sink == nil || id == "" || gatewayRef == "" {
		return
	}
	if err := r.Sink.SetAttemptGatewayRef(ctx, id, gatewayRef); err != nil {
		r.Logger.Error().Err(err).Str("attempt_id", id).Msg("set attempt gateway ref")
	}
}

// Finalize stamps the attempt with its terminal classification.
func (r Recorder) Finalize(ctx context.Context, id string, result Result, errorCode, errorDetail, orderID string) {
	if r.Sink == nil || id == "" {
		return
	}
	if err := r.Sink.MarkAttemptResult(ctx, id, result, errorCode, errorDetail, orderID); err != nil {
		r.Logger.Error().Err(err).
			Str("attempt_id", id).
			Str("result", string(result)).
			Msg("finalize callback attempt")
	}
}
