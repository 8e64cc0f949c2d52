package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/mirrorbot/internal/domain"
)

// reserveLua atomically prunes expired reservations and claims a new slot if
// fewer than the allowed number are pending. It returns 1 on success, 0 when
// the budget is spent.
const reserveLua = `
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
if redis.call('ZCARD', KEYS[1]) < tonumber(ARGV[2]) then
    redis.call('ZADD', KEYS[1], ARGV[3], ARGV[4])
    return 1
end
return 0
`

// QuotaReserver implements domain.QuotaReserver using a Redis sorted set of
// pending reservation tokens scored by their expiry time. Unconfirmed
// reservations drop out of the set once their score passes, so a crashed
// process cannot pin quota forever.
type QuotaReserver struct {
	rdb       *redis.Client
	reserveSc *redis.Script
	ttl       time.Duration
}

// NewQuotaReserver creates a QuotaReserver backed by the given Client.
// Reservations that are neither confirmed nor released expire after ttl.
func NewQuotaReserver(c *Client, ttl time.Duration) *QuotaReserver {
	return &QuotaReserver{
		rdb:       c.rdb,
		reserveSc: redis.NewScript(reserveLua),
		ttl:       ttl,
	}
}

func quotaKey(source domain.Source) string {
	return "quota:pending:" + string(source)
}

// Reserve claims one pending slot for the source if fewer than remaining are
// already pending. It returns domain.ErrQuotaExceeded when the budget is
// spent.
func (qr *QuotaReserver) Reserve(ctx context.Context, source domain.Source, remaining int64) (domain.Reservation, error) {
	if remaining <= 0 {
		return nil, domain.ErrQuotaExceeded
	}

	token := uuid.New().String()
	key := quotaKey(source)
	now := time.Now()

	res, err := qr.reserveSc.Run(ctx, qr.rdb, []string{key},
		now.UnixMilli(),
		remaining,
		now.Add(qr.ttl).UnixMilli(),
		token,
	).Int64()
	if err != nil {
		return nil, fmt.Errorf("redis: reserve quota for %s: %w", source, err)
	}
	if res != 1 {
		return nil, domain.ErrQuotaExceeded
	}

	return &reservation{rdb: qr.rdb, key: key, token: token}, nil
}

// reservation is one claimed pending slot. Both Confirm and Release drop the
// token: after a confirm the finished mirror is counted by the registry
// instead, and after a release the slot is free again.
type reservation struct {
	rdb   *redis.Client
	key   string
	token string
	done  bool
}

func (r *reservation) Confirm(ctx context.Context) error {
	return r.remove(ctx, "confirm")
}

func (r *reservation) Release(ctx context.Context) error {
	return r.remove(ctx, "release")
}

func (r *reservation) remove(ctx context.Context, action string) error {
	if r.done {
		return nil
	}
	r.done = true

	if err := r.rdb.ZRem(ctx, r.key, r.token).Err(); err != nil {
		return fmt.Errorf("redis: %s reservation: %w", action, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.QuotaReserver = (*QuotaReserver)(nil)
