package order_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/lapak-dev/backend-lapak/internal/order"
)

type stubStore struct {
	order      order.Order
	getErr     error
	applyErr   error
	auditErr   error
	applied    *order.TransitionParams
	audits     []order.TransitionAudit
	lockCalled bool
}

func (s *stubStore) GetOrderForUpdate(_ context.Context, id string) (order.Order, error) {
	s.lockCalled = true
	if s.getErr != nil {
		return order.Order{}, s.getErr
	}
	if s.order.ID != id {
		return order.Order{}, order.ErrOrderNotFound
	}
	return s.order, nil
}

func (s *stubStore) ApplyTransition(_ context.Context, p order.TransitionParams) (order.Order, error) {
	if s.applyErr != nil {
		return order.Order{}, s.applyErr
	}
	s.applied = &p
	updated := s.order
	updated.Status = p.Status
	updated.PaidAt = p.PaidAt
	updated.DeliveredAt = p.DeliveredAt
	updated.RefundedAt = p.RefundedAt
	return updated, nil
}

func (s *stubStore) InsertTransitionAudit(_ context.Context, e order.TransitionAudit) error {
	if s.auditErr != nil {
		return s.auditErr
	}
	s.audits = append(s.audits, e)
	return nil
}

func newMachine(now time.Time) order.Machine {
	return order.Machine{Logger: zerolog.Nop(), Now: func() time.Time { return now }}
}

func TestTransitionTable(t *testing.T) {
	allowed := []struct{ from, to order.Status }{
		{order.StatusPending, order.StatusPaid},
		{order.StatusPending, order.StatusFailed},
		{order.StatusPending, order.StatusCancelled},
		{order.StatusPaid, order.StatusDelivered},
		{order.StatusPaid, order.StatusRefunded},
		{order.StatusPaid, order.StatusCancelled},
		{order.StatusDelivered, order.StatusRefunded},
	}
	for _, tc := range allowed {
		require.True(t, order.CanTransition(tc.from, tc.to), "%s -> %s should be legal", tc.from, tc.to)
	}

	denied := []struct{ from, to order.Status }{
		{order.StatusPending, order.StatusDelivered},
		{order.StatusPending, order.StatusRefunded},
		{order.StatusPaid, order.StatusPending},
		{order.StatusPaid, order.StatusPaid},
		{order.StatusDelivered, order.StatusPaid},
		{order.StatusDelivered, order.StatusCancelled},
		{order.StatusFailed, order.StatusPaid},
		{order.StatusRefunded, order.StatusPending},
		{order.StatusCancelled, order.StatusPaid},
	}
	for _, tc := range denied {
		require.False(t, order.CanTransition(tc.from, tc.to), "%s -> %s should be rejected", tc.from, tc.to)
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []order.Status{order.StatusFailed, order.StatusRefunded, order.StatusCancelled} {
		require.True(t, order.IsTerminal(s), "%s should be terminal", s)
	}
	for _, s := range []order.Status{order.StatusPending, order.StatusPaid, order.StatusDelivered} {
		require.False(t, order.IsTerminal(s), "%s should not be terminal", s)
	}
}

func TestTriggeredActions(t *testing.T) {
	require.Equal(t,
		[]string{order.ActionDeliveryProcess},
		order.TriggeredActions(order.StatusPending, order.StatusPaid))
	require.Equal(t,
		[]string{order.ActionCompletionNotifications},
		order.TriggeredActions(order.StatusPaid, order.StatusDelivered))
	require.Equal(t,
		[]string{order.ActionFailureNotifications},
		order.TriggeredActions(order.StatusPending, order.StatusFailed))
	require.Equal(t,
		[]string{order.ActionRefundNotifications},
		order.TriggeredActions(order.StatusPaid, order.StatusRefunded))
	require.Equal(t,
		[]string{order.ActionCancellationNotifications},
		order.TriggeredActions(order.StatusPending, order.StatusCancelled))
	require.Empty(t, order.TriggeredActions(order.StatusPending, order.StatusPending))
}

func TestMachineApply(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	t.Run("pending to paid stamps paid_at and triggers delivery", func(t *testing.T) {
		store := &stubStore{order: order.Order{ID: "ord-1", Status: order.StatusPending, Gateway: "alipay"}}
		tr, err := newMachine(now).Apply(context.Background(), store, order.TransitionRequest{
			OrderID:    "ord-1",
			To:         order.StatusPaid,
			Actor:      order.ActorWebhook,
			GatewayRef: "txn-1",
			RequestID:  "req-1",
		})
		require.NoError(t, err)
		require.True(t, store.lockCalled)
		require.Equal(t, order.StatusPending, tr.Previous)
		require.Equal(t, order.StatusPaid, tr.New)
		require.Equal(t, []string{order.ActionDeliveryProcess}, tr.Actions)
		require.NotNil(t, store.applied.PaidAt)
		require.Equal(t, now, *store.applied.PaidAt)
		require.Nil(t, store.applied.DeliveredAt)
		require.Len(t, store.audits, 1)
		require.Equal(t, order.ActorWebhook, store.audits[0].Actor)
		require.Equal(t, "txn-1", store.audits[0].GatewayRef)
	})

	t.Run("illegal transition is rejected before any write", func(t *testing.T) {
		store := &stubStore{order: order.Order{ID: "ord-1", Status: order.StatusRefunded}}
		_, err := newMachine(now).Apply(context.Background(), store, order.TransitionRequest{
			OrderID: "ord-1",
			To:      order.StatusPaid,
			Actor:   order.ActorWebhook,
		})
		require.ErrorIs(t, err, order.ErrInvalidTransition)
		require.Nil(t, store.applied)
		require.Empty(t, store.audits)
	})

	t.Run("unknown status is rejected", func(t *testing.T) {
		store := &stubStore{order: order.Order{ID: "ord-1", Status: order.StatusPending}}
		_, err := newMachine(now).Apply(context.Background(), store, order.TransitionRequest{
			OrderID: "ord-1",
			To:      order.Status("shipped"),
			Actor:   order.ActorManual,
		})
		require.ErrorIs(t, err, order.ErrInvalidTransition)
	})

	t.Run("missing order surfaces not found", func(t *testing.T) {
		store := &stubStore{order: order.Order{ID: "other", Status: order.StatusPending}}
		_, err := newMachine(now).Apply(context.Background(), store, order.TransitionRequest{
			OrderID: "ord-1",
			To:      order.StatusPaid,
			Actor:   order.ActorWebhook,
		})
		require.ErrorIs(t, err, order.ErrOrderNotFound)
	})

	t.Run("refund stamps refunded_at", func(t *testing.T) {
		store := &stubStore{order: order.Order{ID: "ord-1", Status: order.StatusDelivered}}
		tr, err := newMachine(now).Apply(context.Background(), store, order.TransitionRequest{
			OrderID: "ord-1",
			To:      order.StatusRefunded,
			Actor:   order.ActorManual,
		})
		require.NoError(t, err)
		require.NotNil(t, store.applied.RefundedAt)
		require.Equal(t, []string{order.ActionRefundNotifications}, tr.Actions)
	})

	t.Run("audit failure aborts", func(t *testing.T) {
		store := &stubStore{
			order:    order.Order{ID: "ord-1", Status: order.StatusPending},
			auditErr: context.DeadlineExceeded,
		}
		_, err := newMachine(now).Apply(context.Background(), store, order.TransitionRequest{
			OrderID: "ord-1",
			To:      order.StatusPaid,
			Actor:   order.ActorWebhook,
		})
		require.Error(t, err)
	})
}
