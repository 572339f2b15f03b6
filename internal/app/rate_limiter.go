package app

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const ingestRateLimitWindow = time.Minute

// IngestRateLimiter counts ingestion attempts per subject inside a rolling
// window. Implementations must be safe for concurrent use.
type IngestRateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// SetIngestRateLimiter wires an optional per-restaurant ingestion limiter.
// A nil limiter or non-positive limit disables limiting entirely.
func (s *Service) SetIngestRateLimiter(limiter IngestRateLimiter, limitPerMinute int) {
	s.rateLimiter = limiter
	s.ingestRateLimitPerMin = limitPerMinute
}

// CheckIngestRateLimit reports whether a restaurant exceeded its per-minute
// ingestion budget. retryAfterSeconds is positive only when limited. Limiter
// outages fail open: ingestion availability beats throttling accuracy.
func (s *Service) CheckIngestRateLimit(ctx context.Context, restaurantID string) (retryAfterSeconds int, limited bool) {
	if s.rateLimiter == nil || s.ingestRateLimitPerMin <= 0 {
		return 0, false
	}

	count, retryAfter, err := s.rateLimiter.ConsumeRateLimit(ctx, "ingest", restaurantID, s.ingestRateLimitPerMin, ingestRateLimitWindow)
	if err != nil {
		log.Printf("level=warn component=ingest msg=\"rate limiter unavailable; allowing request\" restaurant_id=%s err=%v", restaurantID, err)
		return 0, false
	}
	if count > s.ingestRateLimitPerMin {
		return retryAfter, true
	}
	return 0, false
}

var ingestRateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisIngestRateLimiter implements distributed rate limiting using Redis.
type RedisIngestRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisIngestRateLimiter(client redis.UniversalClient, prefix string) *RedisIngestRateLimiter {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "ledger:rate_limit"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	return &RedisIngestRateLimiter{
		client: client,
		prefix: trimmedPrefix,
	}
}

func (r *RedisIngestRateLimiter) ConsumeRateLimit(
	ctx context.Context,
	scope string,
	subject string,
	limit int,
	window time.Duration,
) (count int, retryAfterSeconds int, err error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return 0, 0, nil
	}

	normalizedScope := strings.TrimSpace(scope)
	normalizedSubject := strings.TrimSpace(subject)
	if normalizedScope == "" || normalizedSubject == "" {
		return 0, 0, nil
	}

	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	key := fmt.Sprintf("%s:%s:%s", r.prefix, normalizedScope, normalizedSubject)
	rawResult, err := ingestRateLimitScript.Run(ctx, r.client, []string{key}, windowMs).Result()
	if err != nil {
		return 0, 0, err
	}

	values, ok := rawResult.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected redis limiter response shape: %T", rawResult)
	}

	currentCount, ok := values[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected redis limiter count type: %T", values[0])
	}

	ttlMs, ok := values[1].(int64)
	if !ok {
		return int(currentCount), 0, fmt.Errorf("unexpected redis limiter ttl type: %T", values[1])
	}
	if ttlMs < 0 {
		ttlMs = windowMs
	}

	retryAfter := int(math.Ceil(float64(ttlMs) / 1000.0))
	if retryAfter < 1 {
		retryAfter = 1
	}

	return int(currentCount), retryAfter, nil
}
