// Package notify executes the triggered actions a committed order transition
// fans out: digital goods delivery and the buyer notification emails.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lapak-dev/backend-lapak/internal/common"
	"github.com/lapak-dev/backend-lapak/internal/events"
	"github.com/lapak-dev/backend-lapak/internal/lock"
	"github.com/lapak-dev/backend-lapak/internal/obs"
	"github.com/lapak-dev/backend-lapak/internal/order"
	"github.com/lapak-dev/backend-lapak/internal/queue"
)

// Dispatch receives a committed transition for triggered-action fanout.
type Dispatch func(ctx context.Context, tr order.Transition, actor order.Actor, requestID string)

// DeliveryWorker handles the five triggered-action kinds. The delivery
// action ships the goods and then advances the order to delivered through the
// same state machine that gates every other transition.
type DeliveryWorker struct {
	Runner   order.TxRunner
	Machine  order.Machine
	Locker   lock.Locker
	LockTTL  time.Duration
	Email    common.EmailSender
	Dispatch Dispatch
	Logger   zerolog.Logger
}

// Handle routes a dequeued task to its action. Unknown kinds fail so they
// surface in the dead-letter queue instead of disappearing.
func (w DeliveryWorker) Handle(ctx context.Context, task queue.Task) error {
	var payload events.TaskPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		w.observe(task.Kind, "invalid_payload")
		return fmt.Errorf("decode task payload: %w", err)
	}

	var err error
	switch task.Kind {
	case order.ActionDeliveryProcess:
		err = w.deliver(ctx, payload)
	case order.ActionCompletionNotifications:
		err = w.send(payload, "Your order is ready",
			fmt.Sprintf("<p>Order %s is delivered. Amount: %s.</p>", payload.OrderID, payload.Amount.String(payload.Currency)))
	case order.ActionFailureNotifications:
		err = w.send(payload, "Payment failed",
			fmt.Sprintf("<p>Payment for order %s failed. No charge was made.</p>", payload.OrderID))
	case order.ActionRefundNotifications:
		err = w.send(payload, "Refund processed",
			fmt.Sprintf("<p>Order %s was refunded: %s.</p>", payload.OrderID, payload.Amount.String(payload.Currency)))
	case order.ActionCancellationNotifications:
		err = w.send(payload, "Order cancelled",
			fmt.Sprintf("<p>Order %s was cancelled.</p>", payload.OrderID))
	default:
		w.observe(task.Kind, "unknown_kind")
		return fmt.Errorf("unknown action kind %q", task.Kind)
	}

	if err != nil {
		w.observe(task.Kind, "failed")
		w.Logger.Error().Err(err).
			Str("action", task.Kind).
			Str("order_id", payload.OrderID).
			Msg("triggered action failed")
		return err
	}
	w.observe(task.Kind, "success")
	return nil
}

// deliver ships the digital goods and commits paid -> delivered. The
// per-order lock serialises competing delivery workers; the state machine
// makes a second delivery attempt a no-op rather than a double ship.
func (w DeliveryWorker) deliver(ctx context.Context, payload events.TaskPayload) error {
	run := func(ctx context.Context) error {
		var tr order.Transition
		err := w.Runner.InTxOrder(ctx, func(store order.Store) error {
			current, err := store.GetOrderForUpdate(ctx, payload.OrderID)
			if err != nil {
				return err
			}
			if current.Status != order.StatusPaid {
				// Already delivered or moved elsewhere; nothing to ship.
				return nil
			}
			if err := w.shipGoods(current); err != nil {
				return err
			}
			res, err := w.Machine.Apply(ctx, store, order.TransitionRequest{
				OrderID:   payload.OrderID,
				To:        order.StatusDelivered,
				Actor:     order.ActorSystem,
				RequestID: payload.RequestID,
			})
			if err != nil {
				return err
			}
			tr = res
			return nil
		})
		if err != nil {
			return err
		}
		if tr.New == order.StatusDelivered && w.Dispatch != nil {
			w.Dispatch(ctx, tr, order.ActorSystem, payload.RequestID)
		}
		return nil
	}

	if w.Locker.R != nil {
		return w.Locker.WithLock(ctx, "order:"+payload.OrderID, w.LockTTL, run)
	}
	return run(ctx)
}

// shipGoods emails the purchased content to the buyer. Failure here aborts
// the transaction so the order stays paid and the queue retries.
func (w DeliveryWorker) shipGoods(o order.Order) error {
	if w.Email == nil {
		return nil
	}
	body := fmt.Sprintf(
		"<p>Thanks for your purchase.</p><p>Order %s (%s) is attached below.</p>",
		o.ID, o.Amount.String(o.Currency))
	return w.Email.Send(o.BuyerEmail, "Your purchase", body)
}

func (w DeliveryWorker) send(payload events.TaskPayload, subject, html string) error {
	if w.Email == nil || payload.BuyerEmail == "" {
		return nil
	}
	return w.Email.Send(payload.BuyerEmail, subject, html)
}

func (w DeliveryWorker) observe(kind, result string) {
	if obs.ActionDispatchTotal != nil {
		obs.ActionDispatchTotal.WithLabelValues(kind, result).Inc()
	}
}
