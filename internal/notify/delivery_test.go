package notify_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/lapak-dev/backend-lapak/internal/common"
	"github.com/lapak-dev/backend-lapak/internal/events"
	"github.com/lapak-dev/backend-lapak/internal/notify"
	"github.com/lapak-dev/backend-lapak/internal/order"
	"github.com/lapak-dev/backend-lapak/internal/queue"
)

// txStore is a single-order in-memory order.Store plus order.TxRunner.
type txStore struct {
	order   order.Order
	present bool
	audits  []order.TransitionAudit
}

func (s *txStore) InTxOrder(ctx context.Context, fn func(order.Store) error) error {
	return fn(s)
}

func (s *txStore) GetOrderForUpdate(_ context.Context, id string) (order.Order, error) {
	if !s.present || s.order.ID != id {
		return order.Order{}, order.ErrOrderNotFound
	}
	return s.order, nil
}

func (s *txStore) ApplyTransition(_ context.Context, p order.TransitionParams) (order.Order, error) {
	s.order.Status = p.Status
	s.order.DeliveredAt = p.DeliveredAt
	return s.order, nil
}

func (s *txStore) InsertTransitionAudit(_ context.Context, e order.TransitionAudit) error {
	s.audits = append(s.audits, e)
	return nil
}

func paidTask(t *testing.T, kind string) (queue.Task, events.TaskPayload) {
	t.Helper()
	payload := events.TaskPayload{
		OrderID:    "ord-1",
		BuyerEmail: "buyer@example.com",
		Gateway:    "creem",
		GatewayRef: "txn-1",
		Amount:     9900,
		Currency:   "USD",
		FromStatus: order.StatusPending,
		ToStatus:   order.StatusPaid,
		Actor:      order.ActorWebhook,
		RequestID:  "req-1",
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return queue.Task{Kind: kind, Payload: raw}, payload
}

func newWorker(store *txStore, email common.EmailSender, dispatch notify.Dispatch) notify.DeliveryWorker {
	return notify.DeliveryWorker{
		Runner:   store,
		Machine:  order.Machine{Logger: zerolog.Nop()},
		LockTTL:  time.Second,
		Email:    email,
		Dispatch: dispatch,
		Logger:   zerolog.Nop(),
	}
}

func TestDeliveryShipsAndAdvancesOrder(t *testing.T) {
	store := &txStore{
		order:   order.Order{ID: "ord-1", BuyerEmail: "buyer@example.com", Amount: 9900, Currency: "USD", Status: order.StatusPaid},
		present: true,
	}
	outbox := &common.InMemoryEmail{}
	var dispatched []order.Transition
	worker := newWorker(store, outbox, func(_ context.Context, tr order.Transition, actor order.Actor, _ string) {
		require.Equal(t, order.ActorSystem, actor)
		dispatched = append(dispatched, tr)
	})

	task, _ := paidTask(t, order.ActionDeliveryProcess)
	require.NoError(t, worker.Handle(context.Background(), task))

	require.Equal(t, order.StatusDelivered, store.order.Status)
	require.NotNil(t, store.order.DeliveredAt)
	require.Len(t, store.audits, 1)
	require.Equal(t, order.ActorSystem, store.audits[0].Actor)

	require.Len(t, outbox.Outbox, 1)
	require.Equal(t, "buyer@example.com", outbox.Outbox[0].To)
	require.Contains(t, outbox.Outbox[0].HTML, "ord-1")

	// The delivered transition fans out its own completion notification.
	require.Len(t, dispatched, 1)
	require.Equal(t, []string{order.ActionCompletionNotifications}, dispatched[0].Actions)
}

func TestDeliverySkipsNonPaidOrder(t *testing.T) {
	store := &txStore{
		order:   order.Order{ID: "ord-1", BuyerEmail: "buyer@example.com", Status: order.StatusDelivered},
		present: true,
	}
	outbox := &common.InMemoryEmail{}
	worker := newWorker(store, outbox, nil)

	task, _ := paidTask(t, order.ActionDeliveryProcess)
	require.NoError(t, worker.Handle(context.Background(), task))

	// Redelivered task against an already delivered order: no email, no
	// second transition.
	require.Empty(t, outbox.Outbox)
	require.Empty(t, store.audits)
	require.Equal(t, order.StatusDelivered, store.order.Status)
}

func TestDeliveryMissingOrderFails(t *testing.T) {
	store := &txStore{}
	worker := newWorker(store, &common.InMemoryEmail{}, nil)

	task, _ := paidTask(t, order.ActionDeliveryProcess)
	require.Error(t, worker.Handle(context.Background(), task))
}

func TestNotificationKinds(t *testing.T) {
	cases := []struct {
		kind    string
		subject string
	}{
		{order.ActionCompletionNotifications, "Your order is ready"},
		{order.ActionFailureNotifications, "Payment failed"},
		{order.ActionRefundNotifications, "Refund processed"},
		{order.ActionCancellationNotifications, "Order cancelled"},
	}
	for _, tc := range cases {
		t.Run(tc.kind, func(t *testing.T) {
			outbox := &common.InMemoryEmail{}
			worker := newWorker(&txStore{}, outbox, nil)
			task, payload := paidTask(t, tc.kind)
			require.NoError(t, worker.Handle(context.Background(), task))
			require.Len(t, outbox.Outbox, 1)
			require.Equal(t, payload.BuyerEmail, outbox.Outbox[0].To)
			require.Equal(t, tc.subject, outbox.Outbox[0].Subject)
		})
	}
}

func TestNotificationsWithoutMailerAreNoOps(t *testing.T) {
	worker := newWorker(&txStore{}, nil, nil)
	task, _ := paidTask(t, order.ActionRefundNotifications)
	require.NoError(t, worker.Handle(context.Background(), task))

	worker = newWorker(&txStore{}, common.NopEmailSender{}, nil)
	require.NoError(t, worker.Handle(context.Background(), task))
}

func TestUnknownKindFails(t *testing.T) {
	worker := newWorker(&txStore{}, nil, nil)
	task, _ := paidTask(t, "reindex_catalog")
	require.Error(t, worker.Handle(context.Background(), task))
}

func TestMalformedPayloadFails(t *testing.T) {
	worker := newWorker(&txStore{}, nil, nil)
	err := worker.Handle(context.Background(), queue.Task{Kind: order.ActionDeliveryProcess, Payload: []byte("{")})
	require.Error(t, err)
}
