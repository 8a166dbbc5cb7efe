// Package events turns committed order transitions into durable domain
// events and queued triggered-action tasks.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/lapak-dev/backend-lapak/internal/money"
	"github.com/lapak-dev/backend-lapak/internal/order"
	"github.com/lapak-dev/backend-lapak/internal/queue"
)

// DomainEvent is the persisted record of something that happened to an order.
type DomainEvent struct {
	ID        int64
	Kind      string
	DedupKey  string
	Payload   []byte
	CreatedAt time.Time
}

// Recorder persists domain events. Implemented by the postgres store.
type Recorder interface {
	InsertDomainEvent(ctx context.Context, e DomainEvent) error
}

// TaskPayload is the JSON body carried by every triggered-action task.
type TaskPayload struct {
	OrderID    string       `json:"order_id"`
	BuyerEmail string       `json:"buyer_email"`
	Gateway    string       `json:"gateway"`
	GatewayRef string       `json:"gateway_ref,omitempty"`
	Amount     money.Amount `json:"amount"`
	Currency   string       `json:"currency"`
	FromStatus order.Status `json:"from_status"`
	ToStatus   order.Status `json:"to_status"`
	Actor      order.Actor  `json:"actor"`
	RequestID  string       `json:"request_id,omitempty"`
}

// Bus fans a committed transition out to the event log and the action queue.
// Dispatch runs after the storage commit: a failure here is logged and left to
// queue-level retries, it never rolls back the transition.
type Bus struct {
	Recorder    Recorder
	Enqueuer    queue.Enqueuer
	MaxAttempts int
	Logger      zerolog.Logger
}

// Dispatch persists one domain event per triggered action and enqueues the
// matching task. The dedup key pins each action to its transition so queue
// retries of the same transition collapse.
func (b Bus) Dispatch(ctx context.Context, tr order.Transition, actor order.Actor, requestID string) {
	payload := TaskPayload{
		OrderID:    tr.Order.ID,
		BuyerEmail: tr.Order.BuyerEmail,
		Gateway:    tr.Order.Gateway,
		GatewayRef: tr.Order.GatewayRef,
		Amount:     tr.Order.Amount,
		Currency:   tr.Order.Currency,
		FromStatus: tr.Previous,
		ToStatus:   tr.New,
		Actor:      actor,
		RequestID:  requestID,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		b.Logger.Error().Err(err).Str("order_id", tr.Order.ID).Msg("encode action payload")
		return
	}

	for _, action := range tr.Actions {
		dedup := dedupKey(tr.Order.ID, tr.Previous, tr.New, action)
		if b.Recorder != nil {
			if err := b.Recorder.InsertDomainEvent(ctx, DomainEvent{
				Kind:     action,
				DedupKey: dedup,
				Payload:  raw,
			}); err != nil {
				b.Logger.Error().Err(err).
					Str("order_id", tr.Order.ID).
					Str("action", action).
					Msg("persist domain event")
			}
		}
		if err := b.Enqueuer.Enqueue(ctx, queue.Task{
			Kind:           action,
			Payload:        raw,
			IdempotencyKey: dedup,
			MaxAttempts:    b.MaxAttempts,
		}); err != nil {
			b.Logger.Error().Err(err).
				Str("order_id", tr.Order.ID).
				Str("action", action).
				Msg("enqueue triggered action")
		}
	}
}

func dedupKey(orderID string, from, to order.Status, action string) string {
	return orderID + ":" + string(from) + ">" + string(to) + ":" + action
}
