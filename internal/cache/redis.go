package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ErrCacheMiss is returned when a key is not present in the cache
var ErrCacheMiss = errors.New("cache miss")

const apiKeyPrefix = "apikey:"

// Redis wraps the Redis client used as a look-aside cache for the
// validation gateway. All callers fail open to the database on errors.
type Redis struct {
	Client *redis.Client
}

// New creates a new Redis cache from a URL
func New(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	log.Info().Msg("Redis connection established")
	return &Redis{Client: client}, nil
}

// Close closes the Redis connection
func (r *Redis) Close() error {
	return r.Client.Close()
}

// GetAPIKey returns the cached key record for a secret hash, or ErrCacheMiss
func (r *Redis) GetAPIKey(ctx context.Context, secretHash string) ([]byte, error) {
	val, err := r.Client.Get(ctx, apiKeyPrefix+secretHash).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}
	return val, nil
}

// SetAPIKey caches a key record under its secret hash with a TTL
func (r *Redis) SetAPIKey(ctx context.Context, secretHash string, payload []byte, ttl time.Duration) error {
	return r.Client.Set(ctx, apiKeyPrefix+secretHash, payload, ttl).Err()
}

// InvalidateAPIKey drops the cached record for a secret hash.
// Called on revocation and active-flag toggles so stale entries cannot
// authenticate past the TTL window.
func (r *Redis) InvalidateAPIKey(ctx context.Context, secretHash string) error {
	return r.Client.Del(ctx, apiKeyPrefix+secretHash).Err()
}
