package postgres

import (
	"context"

	"github.com/lapak-dev/backend-lapak/internal/order"
)

// InsertTransitionAudit appends the audit record inside the commit
// transaction so the trail is exactly as durable as the transition itself.
func (t *TxStore) InsertTransitionAudit(ctx context.Context, e order.TransitionAudit) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO order_audit_events
			(order_id, actor, from_status, to_status, gateway, gateway_ref, request_id, metadata)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8)`,
		e.OrderID, e.Actor, e.FromStatus, e.ToStatus,
		e.Gateway, e.GatewayRef, e.RequestID, nullableBytes(e.Metadata))
	return classify(err)
}

// ListAuditForOrder returns the transition trail for an order, oldest first.
func (s *Store) ListAuditForOrder(ctx context.Context, orderID string) ([]order.TransitionAudit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT order_id, actor, from_status, to_status,
			COALESCE(gateway, ''), COALESCE(gateway_ref, ''), COALESCE(request_id, ''),
			COALESCE(metadata, ''::bytea)
		FROM order_audit_events
		WHERE order_id = $1
		ORDER BY id ASC`, orderID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var out []order.TransitionAudit
	for rows.Next() {
		var e order.TransitionAudit
		if err := rows.Scan(&e.OrderID, &e.Actor, &e.FromStatus, &e.ToStatus,
			&e.Gateway, &e.GatewayRef, &e.RequestID, &e.Metadata); err != nil {
			return nil, classify(err)
		}
		out = append(out, e)
	}
	return out, classify(rows.Err())
}
