// Package order holds the order model and the status state machine that
// gates every mutation an inbound payment callback can cause.
package order

import (
	"net/http"
	"time"

	"github.com/lapak-dev/backend-lapak/internal/common"
	"github.com/lapak-dev/backend-lapak/internal/money"
)

// Status enumerates the order lifecycle states.
type Status string

const (
	// StatusPending is the initial state assigned at checkout.
	StatusPending Status = "pending"
	// StatusPaid means payment is confirmed; delivery may start.
	StatusPaid Status = "paid"
	// StatusDelivered means the digital goods were handed to the buyer.
	StatusDelivered Status = "delivered"
	// StatusFailed is terminal: payment definitively failed.
	StatusFailed Status = "failed"
	// StatusRefunded is terminal: the payment was returned.
	StatusRefunded Status = "refunded"
	// StatusCancelled is terminal: the order was abandoned or voided.
	StatusCancelled Status = "cancelled"
)

// Order is the persisted order record. Only the state machine mutates Status.
type Order struct {
	ID             string
	BuyerEmail     string
	Gateway        string
	Amount         money.Amount
	Currency       string
	Status         Status
	GatewayRef     string
	GatewayPayload []byte
	Notes          string
	CreatedAt      time.Time
	PaidAt         *time.Time
	DeliveredAt    *time.Time
	RefundedAt     *time.Time
	UpdatedAt      time.Time
}

// ErrOrderNotFound is returned when the referenced order does not exist. A
// signed callback naming an unknown order is a malformed or forged reference,
// so the gateway must not retry it.
var ErrOrderNotFound = &common.AppError{
	Code:       "ORDER_NOT_FOUND",
	Message:    "order not found",
	HTTPStatus: http.StatusBadRequest,
}

// ErrInvalidTransition is returned when the requested status is not reachable
// from the order's current status.
var ErrInvalidTransition = &common.AppError{
	Code:       "INVALID_TRANSITION",
	Message:    "status transition not allowed",
	HTTPStatus: http.StatusBadRequest,
}

// transitions is the closed set of legal forward moves. Absent states
// (failed, refunded, cancelled) are terminal.
var transitions = map[Status][]Status{
	StatusPending:   {StatusPaid, StatusFailed, StatusCancelled},
	StatusPaid:      {StatusDelivered, StatusRefunded, StatusCancelled},
	StatusDelivered: {StatusRefunded},
}

// CanTransition reports whether to is reachable from from.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status has no outgoing transitions.
func IsTerminal(s Status) bool {
	return len(transitions[s]) == 0
}

// ValidStatus reports whether s is a known lifecycle state.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusPaid, StatusDelivered, StatusFailed, StatusRefunded, StatusCancelled:
		return true
	default:
		return false
	}
}

// Triggered-action names emitted by the state machine. The machine never
// executes these itself; callers dispatch them to the delivery pipeline.
const (
	ActionDeliveryProcess           = "delivery_process"
	ActionCompletionNotifications   = "completion_notifications"
	ActionFailureNotifications      = "failure_notifications"
	ActionRefundNotifications       = "refund_notifications"
	ActionCancellationNotifications = "cancellation_notifications"
)

// TriggeredActions returns the follow-on action names for a committed
// transition.
func TriggeredActions(from, to Status) []string {
	var actions []string
	if from == StatusPending && to == StatusPaid {
		actions = append(actions, ActionDeliveryProcess)
	}
	switch to {
	case StatusDelivered:
		actions = append(actions, ActionCompletionNotifications)
	case StatusFailed:
		actions = append(actions, ActionFailureNotifications)
	case StatusRefunded:
		actions = append(actions, ActionRefundNotifications)
	case StatusCancelled:
		actions = append(actions, ActionCancellationNotifications)
	}
	return actions
}
