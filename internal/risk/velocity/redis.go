package velocity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/svarade/payoutcore/internal/clock"
)

// Members are "<entryID>:<amount>" scored by unix milliseconds, so one sorted
// set holds both the count and the amount sum for a window.
const reserveScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local maxCount = tonumber(ARGV[3])
local maxAmount = tonumber(ARGV[4])
local member = ARGV[5]
local amount = tonumber(ARGV[6])

redis.call("ZREMRANGEBYSCORE", key, 0, now - window)

local members = redis.call("ZRANGE", key, 0, -1)
local count = #members
local sum = 0
for _, m in ipairs(members) do
  local sep = string.find(m, ":", 1, true)
  if sep then
    sum = sum + (tonumber(string.sub(m, sep + 1)) or 0)
  end
end

local oldest = now
local head = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
if head[2] then
  oldest = tonumber(head[2])
end

if count + 1 > maxCount or sum + amount > maxAmount then
  return {0, count, sum, oldest}
end

redis.call("ZADD", key, now, member)
redis.call("PEXPIRE", key, window)
if count == 0 then
  oldest = now
end
return {1, count + 1, sum + amount, oldest}
`

const releaseScript = `
local members = redis.call("ZRANGE", KEYS[1], 0, -1)
for _, m in ipairs(members) do
  if string.sub(m, 1, string.len(ARGV[1]) + 1) == ARGV[1] .. ":" then
    redis.call("ZREM", KEYS[1], m)
    return 1
  end
end
return 0
`

// RedisStore keeps velocity windows in redis sorted sets so every instance of
// the service shares one view of each window.
type RedisStore struct {
	client  *redis.Client
	clock   clock.Clock
	reserve *redis.Script
	release *redis.Script
	prefix  string
}

func NewRedisStore(client *redis.Client, clk clock.Clock) *RedisStore {
	if client == nil {
		return nil
	}
	return &RedisStore{
		client:  client,
		clock:   clk,
		reserve: redis.NewScript(reserveScript),
		release: redis.NewScript(releaseScript),
		prefix:  "velocity:",
	}
}

func (s *RedisStore) Reserve(ctx context.Context, key, entryID string, amount int64, limits Limits) (State, error) {
	if s == nil || s.client == nil {
		return State{}, errors.New("velocity store not configured")
	}
	if strings.TrimSpace(key) == "" || strings.TrimSpace(entryID) == "" {
		return State{}, errors.New("velocity key is empty")
	}

	now := s.clock.Now()
	member := fmt.Sprintf("%s:%d", entryID, amount)

	res, err := s.reserve.Run(ctx, s.client,
		[]string{s.prefix + key},
		now.UnixMilli(),
		limits.Window.Milliseconds(),
		limits.MaxTransactions,
		limits.MaxAmount,
		member,
		amount,
	).Slice()
	if err != nil {
		return State{}, err
	}
	if len(res) < 4 {
		return State{}, errors.New("invalid velocity script response")
	}

	allowed := toInt64(res[0]) == 1
	oldest := time.UnixMilli(toInt64(res[3])).UTC()

	return State{
		Count:         toInt64(res[1]),
		Amount:        toInt64(res[2]),
		LimitExceeded: !allowed,
		ResetTime:     oldest.Add(limits.Window),
	}, nil
}

func (s *RedisStore) Release(ctx context.Context, key, entryID string) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.release.Run(ctx, s.client, []string{s.prefix + key}, entryID).Err()
}

func toInt64(v interface{}) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case string:
		parsed, _ := strconv.ParseInt(val, 10, 64)
		return parsed
	case float64:
		return int64(val)
	default:
		return 0
	}
}
