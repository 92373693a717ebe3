// Package lease elects a single active lifecycle scheduler among replicas through a redis key.
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auction-service/utils"

	"github.com/redis/go-redis/v9"
)

// DefaultKey is the redis key holding the scan lease
const DefaultKey = "auction-service:scheduler:lease"

// renew extends the lease only while this holder still owns it
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// release deletes the lease only while this holder still owns it
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Options configures a RedisLease
type Options struct {
	Addr     string
	Password string
	DB       int
	Key      string
	TTL      time.Duration
}

// RedisLease is a renewable lease identified by a random holder token
type RedisLease struct {
	client redis.UniversalClient
	key    string
	token  string
	ttl    time.Duration
}

// Connect creates a client for opts and checks it with a ping
func Connect(ctx context.Context, opts Options) (*RedisLease, error) {
	if opts.Addr == "" {
		return nil, errors.New("lease: redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("lease: redis connection failed: %w", err)
	}
	return New(client, opts.Key, opts.TTL), nil
}

// New wraps an existing client. An empty key uses DefaultKey; ttl defaults to one minute.
func New(client redis.UniversalClient, key string, ttl time.Duration) *RedisLease {
	if key == "" {
		key = DefaultKey
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisLease{client: client, key: key, token: utils.GenerateID(), ttl: ttl}
}

// Acquire takes the lease or renews it when already held. It reports whether this holder
// owns the lease for the next TTL.
func (l *RedisLease) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lease: acquire %s: %w", l.key, err)
	}
	if ok {
		return true, nil
	}

	renewed, err := renewScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("lease: renew %s: %w", l.key, err)
	}
	return renewed == 1, nil
}

// Release gives the lease up if this holder owns it
func (l *RedisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("lease: release %s: %w", l.key, err)
	}
	return nil
}

// Close releases the lease and closes the client
func (l *RedisLease) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	releaseErr := l.Release(ctx)
	return errors.Join(releaseErr, l.client.Close())
}
