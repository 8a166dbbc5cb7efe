package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/lapak-dev/backend-lapak/internal/order"
)

const orderColumns = `id, buyer_email, gateway, amount_minor, currency, status,
	COALESCE(gateway_ref, ''), COALESCE(gateway_payload, ''::bytea),
	COALESCE(notes, ''), created_at, paid_at, delivered_at, refunded_at, updated_at`

func scanOrder(row pgx.Row) (order.Order, error) {
	var o order.Order
	err := row.Scan(
		&o.ID, &o.BuyerEmail, &o.Gateway, &o.Amount, &o.Currency, &o.Status,
		&o.GatewayRef, &o.GatewayPayload,
		&o.Notes, &o.CreatedAt, &o.PaidAt, &o.DeliveredAt, &o.RefundedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return order.Order{}, order.ErrOrderNotFound
		}
		return order.Order{}, classify(err)
	}
	return o, nil
}

func getOrder(ctx context.Context, q querier, id string, forUpdate bool) (order.Order, error) {
	sql := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	return scanOrder(q.QueryRow(ctx, sql, id))
}

// GetOrder loads a single order by id.
func (s *Store) GetOrder(ctx context.Context, id string) (order.Order, error) {
	return getOrder(ctx, s.pool, id, false)
}

// FindOrderByGatewayRef resolves the order a gateway reference was recorded
// against, if any.
func (s *Store) FindOrderByGatewayRef(ctx context.Context, gateway, gatewayRef string) (order.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE gateway = $1 AND gateway_ref = $2`,
		gateway, gatewayRef)
	return scanOrder(row)
}

// InsertOrder creates a new pending order. Used by checkout and test seeding.
func (s *Store) InsertOrder(ctx context.Context, o order.Order) (order.Order, error) {
	status := o.Status
	if status == "" {
		status = order.StatusPending
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO orders (buyer_email, gateway, amount_minor, currency, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+orderColumns,
		o.BuyerEmail, o.Gateway, o.Amount, o.Currency, status, o.Notes)
	return scanOrder(row)
}

// GetOrder loads the order inside the transaction without locking it.
func (t *TxStore) GetOrder(ctx context.Context, id string) (order.Order, error) {
	return getOrder(ctx, t.tx, id, false)
}

// GetOrderForUpdate loads the order and locks its row until the transaction
// ends, serialising concurrent transitions on the same order.
func (t *TxStore) GetOrderForUpdate(ctx context.Context, id string) (order.Order, error) {
	return getOrder(ctx, t.tx, id, true)
}

// ApplyTransition writes the new status, side fields and merged metadata in a
// single statement. Existing metadata is only overwritten when the transition
// supplies a value.
func (t *TxStore) ApplyTransition(ctx context.Context, p order.TransitionParams) (order.Order, error) {
	row := t.tx.QueryRow(ctx, `
		UPDATE orders SET
			status          = $2,
			gateway_ref     = COALESCE(NULLIF($3, ''), gateway_ref),
			gateway_payload = COALESCE($4, gateway_payload),
			notes           = CASE WHEN $5 <> '' THEN $5 ELSE notes END,
			paid_at         = COALESCE($6, paid_at),
			delivered_at    = COALESCE($7, delivered_at),
			refunded_at     = COALESCE($8, refunded_at),
			updated_at      = now()
		WHERE id = $1
		RETURNING `+orderColumns,
		p.ID, p.Status, p.GatewayRef, nullableBytes(p.GatewayPayload), p.Notes,
		p.PaidAt, p.DeliveredAt, p.RefundedAt)
	return scanOrder(row)
}

// nullableBytes maps an empty payload to SQL NULL so COALESCE keeps the
// previous value.
func nullableBytes(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
