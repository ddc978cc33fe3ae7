package quota

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "quota:"

var admitScript = redis.NewScript(`
local vals = redis.call('HMGET', KEYS[1], 'count', 'reset_date', 'total')
local count = tonumber(vals[1]) or 0
local reset = vals[2]
local total = tonumber(vals[3]) or 0
local today = ARGV[1]
local limit = tonumber(ARGV[2])
if (not reset) or reset < today then
  count = 0
  reset = today
end
if count >= limit then
  return {0, count, reset, total}
end
count = count + 1
total = total + 1
redis.call('HSET', KEYS[1], 'count', count, 'reset_date', reset, 'total', total)
return {1, count, reset, total}
`)

var rollbackScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {0, 0, '', 0, 1}
end
local vals = redis.call('HMGET', KEYS[1], 'count', 'reset_date', 'total')
local count = tonumber(vals[1]) or 0
local reset = vals[2] or ''
local total = tonumber(vals[3]) or 0
local floored = 0
if count > 0 then count = count - 1 else floored = 1 end
if total > 0 then total = total - 1 else floored = 1 end
redis.call('HSET', KEYS[1], 'count', count, 'total', total)
return {1, count, reset, total, floored}
`)

// RedisStore keeps quota records in Redis hashes. Admit and Rollback each run
// as a single Lua script so they are atomic across API instances.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore constructs a Redis-backed quota store.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Admit(ctx context.Context, userID, today string, limit int) (Record, bool, error) {
	raw, err := admitScript.Run(ctx, s.client, []string{redisKey(userID)}, today, limit).Slice()
	if err != nil {
		return Record{}, false, err
	}
	if len(raw) != 4 {
		return Record{}, false, fmt.Errorf("quota admit script: unexpected reply length %d", len(raw))
	}
	rec := Record{
		UserID:         userID,
		DailyCount:     toInt(raw[1]),
		ResetDate:      toString(raw[2]),
		TotalProcessed: toInt(raw[3]),
	}
	return rec, toInt(raw[0]) == 1, nil
}

func (s *RedisStore) Rollback(ctx context.Context, userID string) (Record, bool, error) {
	raw, err := rollbackScript.Run(ctx, s.client, []string{redisKey(userID)}).Slice()
	if err != nil {
		return Record{}, false, err
	}
	if len(raw) != 5 {
		return Record{}, false, fmt.Errorf("quota rollback script: unexpected reply length %d", len(raw))
	}
	rec := Record{
		UserID:         userID,
		DailyCount:     toInt(raw[1]),
		ResetDate:      toString(raw[2]),
		TotalProcessed: toInt(raw[3]),
	}
	return rec, toInt(raw[4]) == 1, nil
}

func (s *RedisStore) Get(ctx context.Context, userID string) (Record, bool, error) {
	vals, err := s.client.HGetAll(ctx, redisKey(userID)).Result()
	if err != nil {
		return Record{}, false, err
	}
	if len(vals) == 0 {
		return Record{UserID: userID}, false, nil
	}
	return Record{
		UserID:         userID,
		DailyCount:     toInt(vals["count"]),
		ResetDate:      vals["reset_date"],
		TotalProcessed: toInt(vals["total"]),
	}, true, nil
}

func redisKey(userID string) string {
	return redisKeyPrefix + userID
}

func toInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case string:
		i, _ := strconv.Atoi(n)
		return i
	default:
		return 0
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
