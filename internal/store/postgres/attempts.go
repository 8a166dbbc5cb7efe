package postgres

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/lapak-dev/backend-lapak/internal/audit"
	"github.com/lapak-dev/backend-lapak/internal/webhook"
)

const attemptColumns = `id, gateway, COALESCE(gateway_ref, ''), COALESCE(order_id::text, ''),
	raw_payload, payload_hash, signature_valid, processing_result,
	COALESCE(error_code, ''), COALESCE(error_detail, ''), COALESCE(source_ip, ''),
	received_at, decided_at`

func scanAttempt(row interface{ Scan(...any) error }) (audit.Attempt, error) {
	var a audit.Attempt
	err := row.Scan(
		&a.ID, &a.Gateway, &a.GatewayRef, &a.OrderID,
		&a.RawPayload, &a.PayloadHash, &a.SignatureValid, &a.ProcessingResult,
		&a.ErrorCode, &a.ErrorDetail, &a.SourceIP,
		&a.ReceivedAt, &a.DecidedAt,
	)
	if err != nil {
		return audit.Attempt{}, classify(err)
	}
	return a, nil
}

// InsertAttempt records an inbound callback before any processing decision is
// made. The row survives even when the pipeline later rejects the callback.
func (s *Store) InsertAttempt(ctx context.Context, a audit.Attempt) (audit.Attempt, error) {
	result := a.ProcessingResult
	if result == "" {
		result = audit.ResultReceived
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO webhook_attempts
			(gateway, gateway_ref, raw_payload, payload_hash, signature_valid, processing_result, source_ip)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, NULLIF($7, ''))
		RETURNING `+attemptColumns,
		a.Gateway, a.GatewayRef, a.RawPayload, a.PayloadHash, a.SignatureValid, result, a.SourceIP)
	return scanAttempt(row)
}

// MarkAttemptResult finalises an attempt with its terminal classification.
func (s *Store) MarkAttemptResult(ctx context.Context, id string, result audit.Result, errorCode, errorDetail, orderID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE webhook_attempts SET
			processing_result = $2,
			error_code        = NULLIF($3, ''),
			error_detail      = NULLIF($4, ''),
			order_id          = COALESCE(NULLIF($5, '')::uuid, order_id),
			decided_at        = now()
		WHERE id = $1`,
		id, result, errorCode, truncateDetail(errorDetail), orderID)
	return classify(err)
}

// SetAttemptGatewayRef backfills the gateway reference once normalization
// extracted it.
func (s *Store) SetAttemptGatewayRef(ctx context.Context, id, gatewayRef string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE webhook_attempts SET gateway_ref = NULLIF($2, '') WHERE id = $1`,
		id, gatewayRef)
	return classify(err)
}

// HasSuccessfulAttempt reports whether a callback for this gateway reference
// already effected a transition within the window. Zero window means ever.
func (s *Store) HasSuccessfulAttempt(ctx context.Context, gw, gatewayRef string, window time.Duration) (bool, error) {
	return hasSuccessfulAttempt(ctx, s.pool, gw, gatewayRef, window)
}

// HasSuccessfulAttempt is the in-transaction variant used for the re-check
// after the order row is locked.
func (t *TxStore) HasSuccessfulAttempt(ctx context.Context, gw, gatewayRef string, window time.Duration) (bool, error) {
	return hasSuccessfulAttempt(ctx, t.tx, gw, gatewayRef, window)
}

func hasSuccessfulAttempt(ctx context.Context, q querier, gw, gatewayRef string, window time.Duration) (bool, error) {
	sql := `SELECT EXISTS (
		SELECT 1 FROM webhook_attempts
		WHERE gateway = $1 AND gateway_ref = $2 AND processing_result = 'success'`
	args := []any{gw, gatewayRef}
	if window > 0 {
		sql += ` AND received_at >= $3`
		args = append(args, time.Now().Add(-window))
	}
	sql += `)`
	var exists bool
	if err := q.QueryRow(ctx, sql, args...).Scan(&exists); err != nil {
		return false, classify(err)
	}
	return exists, nil
}

// MarkAttemptSuccess flips the attempt to success inside the commit
// transaction. The partial unique index on (gateway, gateway_ref) rejects a
// concurrent second success for the same reference.
func (t *TxStore) MarkAttemptSuccess(ctx context.Context, id, orderID string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE webhook_attempts SET
			processing_result = 'success',
			order_id          = NULLIF($2, '')::uuid,
			decided_at        = now()
		WHERE id = $1`,
		id, orderID)
	if IsUniqueViolation(err, "uq_webhook_attempts_success") {
		return webhook.ErrDuplicateReplay
	}
	return classify(err)
}

// ListAttempts returns attempts matching the filter, newest first.
func (s *Store) ListAttempts(ctx context.Context, f audit.AttemptFilter) ([]audit.Attempt, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, strings.Replace(cond, "?", "$"+strconv.Itoa(len(args)), 1))
	}
	if f.Gateway != "" {
		add("gateway = ?", f.Gateway)
	}
	if f.GatewayRef != "" {
		add("gateway_ref = ?", f.GatewayRef)
	}
	if f.OrderID != "" {
		add("order_id = ?::uuid", f.OrderID)
	}
	if f.Result != "" {
		add("processing_result = ?", string(f.Result))
	}
	if !f.Since.IsZero() {
		add("received_at >= ?", f.Since)
	}
	sql := `SELECT ` + attemptColumns + ` FROM webhook_attempts`
	if len(conds) > 0 {
		sql += ` WHERE ` + strings.Join(conds, " AND ")
	}
	sql += ` ORDER BY received_at DESC`
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	sql += ` LIMIT $` + strconv.Itoa(len(args))
	if f.Offset > 0 {
		args = append(args, f.Offset)
		sql += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var out []audit.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, classify(rows.Err())
}

// AttemptStatsSince aggregates attempt counts per gateway and result.
func (s *Store) AttemptStatsSince(ctx context.Context, since time.Time) ([]audit.AttemptStats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT gateway, processing_result, COUNT(*)
		FROM webhook_attempts
		WHERE received_at >= $1
		GROUP BY gateway, processing_result
		ORDER BY gateway, processing_result`, since)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var out []audit.AttemptStats
	for rows.Next() {
		var st audit.AttemptStats
		if err := rows.Scan(&st.Gateway, &st.Result, &st.Count); err != nil {
			return nil, classify(err)
		}
		out = append(out, st)
	}
	return out, classify(rows.Err())
}

// truncateDetail keeps error details storable without bloating the table.
func truncateDetail(detail string) string {
	const max = 1000
	if len(detail) > max {
		return detail[:max]
	}
	return detail
}
