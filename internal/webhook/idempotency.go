package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Guard is the Redis fast path of the idempotency check, keyed by gateway
// plus transaction reference. It only short-circuits obvious replays; the
// authoritative check is the in-transaction lookup against the attempt table,
// so a Redis outage degrades latency, never correctness.
type Guard struct {
	R      *redis.Client
	Prefix string
	TTL    time.Duration
	Logger zerolog.Logger
}

func (g Guard) key(gw, gatewayRef string) string {
	if g.Prefix == "" {
		return fmt.Sprintf("wh:seen:%s:%s", gw, gatewayRef)
	}
	return fmt.Sprintf("%s:wh:seen:%s:%s", g.Prefix, gw, gatewayRef)
}

// Reserve marks the reference as in flight. It returns false when another
// callback already holds the reservation. Redis errors are logged and
// reported as reserved so processing falls through to the durable check.
func (g Guard) Reserve(ctx context.Context, gw, gatewayRef string) bool {
	if g.R == nil || gatewayRef == "" {
		return true
	}
	ttl := g.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	ok, err := g.R.SetNX(ctx, g.key(gw, gatewayRef), "1", ttl).Result()
	if err != nil {
		g.Logger.Warn().Err(err).
			Str("gateway", gw).
			Str("gateway_ref", gatewayRef).
			Msg("idempotency fast path unavailable")
		return true
	}
	return ok
}

// Release frees the reservation after a failed attempt so the gateway's
// redelivery is not mistaken for a replay.
func (g Guard) Release(ctx context.Context, gw, gatewayRef string) {
	if g.R == nil || gatewayRef == "" {
		return
	}
	if err := g.R.Del(ctx, g.key(gw, gatewayRef)).Err(); err != nil {
		g.Logger.Warn().Err(err).
			Str("gateway", gw).
			Str("gateway_ref", gatewayRef).
			Msg("release idempotency reservation")
	}
}
