package limitcount

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// limiterScript refills the key's token count when the interval elapsed
// and consumes one token atomically.
// KEYS[1] = counter key
// ARGV[1] = interval ms, ARGV[2] = refill, ARGV[3] = now ms, ARGV[4] = ttl s
// Returns [allowed (0/1), remaining].
var limiterScript = redis.NewScript(`
local key = KEYS[1]
local interval = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local last = tonumber(redis.call('HGET', key, 'last') or 0)
local tokens = tonumber(redis.call('HGET', key, 'tokens') or -1)

if tokens < 0 or now - last > interval then
    tokens = refill
    redis.call('HSET', key, 'last', now)
end

if tokens > 0 then
    tokens = tokens - 1
    redis.call('HSET', key, 'tokens', tokens)
    redis.call('EXPIRE', key, ttl)
    return {1, tokens}
end

redis.call('HSET', key, 'tokens', tokens)
redis.call('EXPIRE', key, ttl)
return {0, 0}
`)

// RedisStorageConfig selects Redis-backed distributed storage.
type RedisStorageConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database int    `json:"database,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// CreateStorage builds the Redis storage.
func (c *RedisStorageConfig) CreateStorage(intervalSec uint64, refill int) (Storage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		DB:       c.Database,
		Username: c.Username,
		Password: c.Password,
	})

	return &redisStorage{
		client:   client,
		interval: intervalSec,
		refill:   refill,
	}, nil
}

type redisStorage struct {
	client   *redis.Client
	interval uint64
	refill   int
}

// Check runs the limiter script under a short deadline so a slow Redis
// never stalls the request path for long.
func (s *redisStorage) Check(r *http.Request, key string) (bool, int, error) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	nowMs := time.Now().UnixMilli()
	ttl := s.interval*2 + 15

	result, err := limiterScript.Run(ctx, s.client,
		[]string{"gw:lc:" + key},
		s.interval*1000,
		s.refill,
		nowMs,
		ttl,
	).Int64Slice()
	if err != nil {
		return false, 0, err
	}
	if len(result) != 2 {
		return false, 0, fmt.Errorf("unexpected limiter script reply: %v", result)
	}

	return result[0] == 1, int(result[1]), nil
}
