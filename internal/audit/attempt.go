// Package audit keeps the durable record of every inbound callback attempt,
// accepted or rejected, for dispute resolution and admin inspection.
package audit

import "time"

// Result classifies the terminal outcome of a callback attempt.
type Result string

const (
	// ResultReceived marks an attempt that is recorded but effected nothing,
	// either because it is still in flight or because it was a benign no-op.
	ResultReceived Result = "received"
	// ResultSuccess marks the attempt that effected the order transition.
	ResultSuccess Result = "success"
	// ResultDuplicate marks a replay of an already-processed callback.
	ResultDuplicate Result = "duplicate"
	// ResultFailed marks an attempt rejected by validation or storage.
	ResultFailed Result = "failed"
)

// Attempt is the audit record kept for every inbound callback. RawPayload
// stores the body verbatim.
type Attempt struct {
	ID               string
	Gateway          string
	GatewayRef       string
	OrderID          string
	RawPayload       []byte
	PayloadHash      string
	SignatureValid   bool
	ProcessingResult Result
	ErrorCode        string
	ErrorDetail      string
	SourceIP         string
	ReceivedAt       time.Time
	DecidedAt        *time.Time
}

// AttemptFilter narrows admin attempt listings.
type AttemptFilter struct {
	Gateway    string
	GatewayRef string
	OrderID    string
	Result     Result
	Since      time.Time
	Limit      int
	Offset     int
}

// AttemptStats aggregates attempt counts per gateway and result.
type AttemptStats struct {
	Gateway string `json:"gateway"`
	Result  Result `json:"result"`
	Count   int64  `json:"count"`
}
