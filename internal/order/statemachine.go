package order

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/lapak-dev/backend-lapak/internal/obs"
)

// Actor identifies what initiated a transition.
type Actor string

const (
	// ActorWebhook marks transitions applied by gateway callbacks.
	ActorWebhook Actor = "webhook"
	// ActorManual marks transitions applied by an operator.
	ActorManual Actor = "manual"
	// ActorSystem marks transitions applied by internal workers.
	ActorSystem Actor = "system"
)

// Store is the storage contract the state machine drives. Implementations are
// transaction-scoped: every call inside one Apply invocation must observe and
// mutate the same transaction so the status write, its side fields and the
// audit append commit atomically.
type Store interface {
	// GetOrderForUpdate loads the order and locks its row for the remainder
	// of the transaction. Returns ErrOrderNotFound when absent.
	GetOrderForUpdate(ctx context.Context, id string) (Order, error)
	// ApplyTransition persists the new status, side fields and merged
	// metadata in one write and returns the updated order.
	ApplyTransition(ctx context.Context, params TransitionParams) (Order, error)
	// InsertTransitionAudit appends the audit record for the transition.
	InsertTransitionAudit(ctx context.Context, event TransitionAudit) error
}

// TransitionParams is the single atomic write applied on a legal transition.
type TransitionParams struct {
	ID             string
	Status         Status
	GatewayRef     string
	GatewayPayload []byte
	Notes          string
	PaidAt         *time.Time
	DeliveredAt    *time.Time
	RefundedAt     *time.Time
}

// TransitionAudit captures who moved which order from where to where.
type TransitionAudit struct {
	OrderID    string
	Actor      Actor
	FromStatus Status
	ToStatus   Status
	Gateway    string
	GatewayRef string
	RequestID  string
	Metadata   []byte
}

// TransitionRequest describes a requested status change plus the metadata to
// merge into the order on success.
type TransitionRequest struct {
	OrderID    string
	To         Status
	Actor      Actor
	GatewayRef string
	RawPayload []byte
	Notes      string
	RequestID  string
}

// Transition is the result of a committed status change.
type Transition struct {
	Order    Order
	Previous Status
	New      Status
	Actions  []string
}

// Machine enforces the transition table and applies status changes through a
// transaction-scoped store. It returns triggered-action names; dispatching
// them is the caller's job, so a downstream delivery failure can never roll
// back a committed transition.
type Machine struct {
	Logger zerolog.Logger
	Now    func() time.Time
}

// Apply validates and commits a single transition.
func (m Machine) Apply(ctx context.Context, store Store, req TransitionRequest) (Transition, error) {
	current, err := store.GetOrderForUpdate(ctx, req.OrderID)
	if err != nil {
		return Transition{}, err
	}
	if !ValidStatus(req.To) || !CanTransition(current.Status, req.To) {
		if obs.OrderTransitionTotal != nil {
			obs.OrderTransitionTotal.WithLabelValues(string(current.Status), string(req.To), "rejected").Inc()
		}
		return Transition{}, ErrInvalidTransition
	}

	now := m.clock()
	params := TransitionParams{
		ID:             req.OrderID,
		Status:         req.To,
		GatewayRef:     req.GatewayRef,
		GatewayPayload: req.RawPayload,
		Notes:          req.Notes,
	}
	switch req.To {
	case StatusPaid:
		params.PaidAt = &now
	case StatusDelivered:
		params.DeliveredAt = &now
	case StatusRefunded:
		params.RefundedAt = &now
	}

	updated, err := store.ApplyTransition(ctx, params)
	if err != nil {
		return Transition{}, err
	}
	if err := store.InsertTransitionAudit(ctx, TransitionAudit{
		OrderID:    req.OrderID,
		Actor:      req.Actor,
		FromStatus: current.Status,
		ToStatus:   req.To,
		Gateway:    current.Gateway,
		GatewayRef: req.GatewayRef,
		RequestID:  req.RequestID,
	}); err != nil {
		return Transition{}, err
	}

	if obs.OrderTransitionTotal != nil {
		obs.OrderTransitionTotal.WithLabelValues(string(current.Status), string(req.To), "applied").Inc()
	}
	m.Logger.Info().
		Str("order_id", req.OrderID).
		Str("from_status", string(current.Status)).
		Str("to_status", string(req.To)).
		Str("actor", string(req.Actor)).
		Msg("order_transition")

	return Transition{
		Order:    updated,
		Previous: current.Status,
		New:      req.To,
		Actions:  TriggeredActions(current.Status, req.To),
	}, nil
}

func (m Machine) clock() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}
