package usage

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "aigate:usage:"

// DefaultRedisRetention keeps daily hashes long enough to cover a monthly
// report.
const DefaultRedisRetention = 40 * 24 * time.Hour

// incrScript applies a delta to the aggregate hash and refreshes its expiry
// in one round trip.
var incrScript = redis.NewScript(`
redis.call('HINCRBY', KEYS[1], 'requests', ARGV[1])
redis.call('HINCRBY', KEYS[1], 'prompt_units', ARGV[2])
redis.call('HINCRBY', KEYS[1], 'completion_units', ARGV[3])
redis.call('HINCRBY', KEYS[1], 'total_units', ARGV[4])
redis.call('HINCRBYFLOAT', KEYS[1], 'total_cost', ARGV[5])
redis.call('EXPIRE', KEYS[1], ARGV[6])
return 1
`)

// RedisStore keeps one hash per (user, period, feature).
type RedisStore struct {
	rdb       redis.UniversalClient
	retention time.Duration
}

func NewRedisStore(rdb redis.UniversalClient, retention time.Duration) *RedisStore {
	if retention <= 0 {
		retention = DefaultRedisRetention
	}
	return &RedisStore{rdb: rdb, retention: retention}
}

// key escapes every part so a ':' inside a user or feature name cannot
// shift the field boundaries.
func (s *RedisStore) key(k Key) string {
	return redisKeyPrefix + url.QueryEscape(k.UserID) + ":" + url.QueryEscape(k.Period) + ":" + url.QueryEscape(k.Feature)
}

func (s *RedisStore) Add(ctx context.Context, key Key, d Totals) error {
	err := incrScript.Run(ctx, s.rdb, []string{s.key(key)},
		d.Requests,
		d.PromptUnits,
		d.CompletionUnits,
		d.TotalUnits,
		strconv.FormatFloat(d.TotalCost, 'f', -1, 64),
		int64(s.retention.Seconds()),
	).Err()
	if err != nil {
		return fmt.Errorf("redis add usage: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key Key) (Totals, error) {
	vals, err := s.rdb.HGetAll(ctx, s.key(key)).Result()
	if err != nil {
		return Totals{}, fmt.Errorf("redis get usage: %w", err)
	}
	var t Totals
	ints := map[string]*int64{
		"requests":         &t.Requests,
		"prompt_units":     &t.PromptUnits,
		"completion_units": &t.CompletionUnits,
		"total_units":      &t.TotalUnits,
	}
	for field, dst := range ints {
		if v, ok := vals[field]; ok {
			if *dst, err = strconv.ParseInt(v, 10, 64); err != nil {
				return Totals{}, fmt.Errorf("parse %s: %w", field, err)
			}
		}
	}
	if v, ok := vals["total_cost"]; ok {
		if t.TotalCost, err = strconv.ParseFloat(v, 64); err != nil {
			return Totals{}, fmt.Errorf("parse total_cost: %w", err)
		}
	}
	return t, nil
}
