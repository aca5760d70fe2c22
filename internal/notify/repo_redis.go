package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	maxPending = 50
	pendingTTL = 10 * time.Minute
)

// RedisRepo keeps one capped list per audience under vd:notify:<audience>.
type RedisRepo struct {
	rdb redis.Cmdable
}

func NewRedisRepo(rdb redis.Cmdable) *RedisRepo { return &RedisRepo{rdb: rdb} }

func notifyKey(audience string) string { return "vd:notify:" + audience }

func (r *RedisRepo) Append(ctx context.Context, n Notification) error {
	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	key := notifyKey(n.Audience)
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, b)
		p.LTrim(ctx, key, -maxPending, -1)
		p.Expire(ctx, key, pendingTTL)
		return nil
	})
	return err
}

func (r *RedisRepo) Drain(ctx context.Context, audience string) ([]Notification, error) {
	key := notifyKey(audience)
	var rng *redis.StringSliceCmd
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		rng = p.LRange(ctx, key, 0, -1)
		p.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]Notification, 0, len(rng.Val()))
	for _, raw := range rng.Val() {
		var n Notification
		if err := json.Unmarshal([]byte(raw), &n); err != nil {
			continue
		}
		n.Audience = audience
		out = append(out, n)
	}
	return out, nil
}
