package peer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cyberinferno/iotquery/query"
	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// ErrUnknownQuery is returned by a ReplySource that has no reply for a token.
var ErrUnknownQuery = errors.New("unknown query")

// ReplySource resolves the reply text for one query token such as "1".
type ReplySource interface {
	// Reply returns the text for token, or ErrUnknownQuery.
	Reply(ctx context.Context, token string) (string, error)
}

// ReplyFunc adapts a function to ReplySource.
type ReplyFunc func(ctx context.Context, token string) (string, error)

// Reply implements ReplySource.
func (f ReplyFunc) Reply(ctx context.Context, token string) (string, error) {
	return f(ctx, token)
}

// StaticReplies is a fixed token-to-reply table.
type StaticReplies map[string]string

// Reply implements ReplySource.
func (s StaticReplies) Reply(ctx context.Context, token string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	reply, ok := s[token]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownQuery, token)
	}

	return reply, nil
}

// DefaultReplies returns canned telemetry answers for the three queries.
func DefaultReplies() StaticReplies {
	return StaticReplies{
		query.FridgeMoisture.String():   "avg_moisture=3.2C",
		query.DishwasherWater.String():  "avg_water_per_cycle=4.1gal",
		query.TopPowerConsumer.String(): "top_consumer=refrigerator-2 energy=12.7kWh",
	}
}

// EchoReplies answers every token with the token itself.
func EchoReplies() ReplySource {
	return ReplyFunc(func(ctx context.Context, token string) (string, error) {
		return token, nil
	})
}

// UnknownQueryReply is what the peer answers to tokens outside the closed set.
func UnknownQueryReply() string {
	questions := make([]string, 0, len(query.Processable))
	for _, c := range query.Processable {
		questions = append(questions, fmt.Sprintf("'%s' %s", c, c.Description()))
	}

	return "Sorry, this query cannot be processed. Please try one of the following: [" + strings.Join(questions, "; ") + "]"
}

// Fallback tries each source in order, moving on only when a source reports
// ErrUnknownQuery.
func Fallback(sources ...ReplySource) ReplySource {
	return ReplyFunc(func(ctx context.Context, token string) (string, error) {
		for _, src := range sources {
			reply, err := src.Reply(ctx, token)
			if errors.Is(err, ErrUnknownQuery) {
				continue
			}

			return reply, err
		}

		return "", fmt.Errorf("%w: %q", ErrUnknownQuery, token)
	})
}

// cachedReplies keeps resolved replies in memory for ttl. Concurrent misses
// for the same token share one lookup.
type cachedReplies struct {
	next  ReplySource
	ttl   time.Duration
	cache *cache.Cache
	group singleflight.Group
}

// CachedReplies wraps next with an in-memory cache. Failed lookups are not
// cached.
//
// Parameters:
//   - next: The source consulted on a miss
//   - ttl: How long a resolved reply is served from memory
//
// Returns:
//   - A ReplySource backed by go-cache and singleflight
func CachedReplies(next ReplySource, ttl time.Duration) ReplySource {
	return &cachedReplies{
		next:  next,
		ttl:   ttl,
		cache: cache.New(ttl, 2*ttl),
	}
}

// Reply implements ReplySource.
func (c *cachedReplies) Reply(ctx context.Context, token string) (string, error) {
	if val, found := c.cache.Get(token); found {
		return val.(string), nil
	}

	val, err, _ := c.group.Do(token, func() (interface{}, error) {
		if cached, found := c.cache.Get(token); found {
			return cached, nil
		}

		reply, err := c.next.Reply(ctx, token)
		if err != nil {
			return "", err
		}

		c.cache.Set(token, reply, c.ttl)
		return reply, nil
	})
	if err != nil {
		return "", err
	}

	return val.(string), nil
}

// redisReplies reads canned replies from Redis string keys <prefix><token>.
type redisReplies struct {
	client *redis.Client
	prefix string
}

// RedisReplies returns a ReplySource that looks replies up in Redis, so a
// fleet of stub peers can share one reply table.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	src := RedisReplies(client, "iotquery:reply:")
func RedisReplies(client *redis.Client, prefix string) ReplySource {
	return &redisReplies{client: client, prefix: prefix}
}

// Reply implements ReplySource.
func (r *redisReplies) Reply(ctx context.Context, token string) (string, error) {
	val, err := r.client.Get(ctx, r.prefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%w: %q", ErrUnknownQuery, token)
	}

	if err != nil {
		return "", fmt.Errorf("redis get error: %w", err)
	}

	return val, nil
}
