package postgres

import (
	"context"

	"github.com/lapak-dev/backend-lapak/internal/events"
)

// InsertDomainEvent appends to the domain event log. Duplicate dedup keys are
// ignored so redispatching a transition stays idempotent.
func (s *Store) InsertDomainEvent(ctx context.Context, e events.DomainEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO domain_events (kind, dedup_key, payload)
		VALUES ($1, NULLIF($2, ''), $3)
		ON CONFLICT (dedup_key) DO NOTHING`,
		e.Kind, e.DedupKey, nullableBytes(e.Payload))
	return classify(err)
}

// ListDomainEvents returns recent events of a kind, newest first. Admin use.
func (s *Store) ListDomainEvents(ctx context.Context, kind string, limit int) ([]events.DomainEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, kind, COALESCE(dedup_key, ''), COALESCE(payload, ''::bytea), created_at
		FROM domain_events
		WHERE $1 = '' OR kind = $1
		ORDER BY id DESC
		LIMIT $2`, kind, limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var out []events.DomainEvent
	for rows.Next() {
		var e events.DomainEvent
		if err := rows.Scan(&e.ID, &e.Kind, &e.DedupKey, &e.Payload, &e.CreatedAt); err != nil {
			return nil, classify(err)
		}
		out = append(out, e)
	}
	return out, classify(rows.Err())
}
