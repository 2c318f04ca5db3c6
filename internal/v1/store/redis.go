package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RoseWrightdev/sfu-signaling/internal/v1/resilience"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// Redis is the cluster-mode Store. Every call runs through a circuit breaker
// and a per-operation deadline so a sick Redis cannot stall signaling.
type Redis struct {
	client    *redis.Client
	breaker   *resilience.Breaker
	opTimeout time.Duration
}

// RedisConfig configures the remote store connection.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// OpTimeout bounds each store call. Zero means 5s.
	OpTimeout time.Duration
	// OnBreakerChange observes breaker transitions, e.g. for metrics.
	OnBreakerChange func(name string, from, to gobreaker.State)
}

// NewRedis connects and pings to verify reachability before returning.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	opTimeout := cfg.OpTimeout
	if opTimeout <= 0 {
		opTimeout = 5 * time.Second
	}

	return &Redis{
		client: rdb,
		breaker: resilience.NewBreaker(resilience.BreakerConfig{
			Name:          "state-store",
			OnStateChange: cfg.OnBreakerChange,
		}),
		opTimeout: opTimeout,
	}, nil
}

// execute funnels every call through the breaker and deadline. Failures come
// back as *OpError with the breaker or deadline cause still unwrappable.
func (r *Redis) execute(ctx context.Context, op string, fn func(ctx context.Context) (any, error)) (any, error) {
	res, err := r.breaker.Execute(func() (any, error) {
		return resilience.WithTimeoutResult(ctx, op, r.opTimeout, fn)
	})
	if err != nil {
		return nil, &OpError{Op: op, Err: err}
	}
	return res, nil
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	res, err := r.execute(ctx, "store.get", func(ctx context.Context) (any, error) {
		v, err := r.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return v, nil
	})
	if err != nil {
		return "", false, err
	}
	if res == nil {
		return "", false, nil
	}
	return res.(string), true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := r.execute(ctx, "store.set", func(ctx context.Context) (any, error) {
		return nil, r.client.Set(ctx, key, value, ttl).Err()
	})
	return err
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	_, err := r.execute(ctx, "store.delete", func(ctx context.Context) (any, error) {
		return nil, r.client.Del(ctx, key).Err()
	})
	return err
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	res, err := r.execute(ctx, "store.exists", func(ctx context.Context) (any, error) {
		n, err := r.client.Exists(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		return n > 0, nil
	})
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

func (r *Redis) Keys(ctx context.Context, pattern string) ([]string, error) {
	res, err := r.execute(ctx, "store.keys", func(ctx context.Context) (any, error) {
		var keys []string
		iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return nil, err
		}
		return keys, nil
	})
	if err != nil {
		return nil, err
	}
	keys, _ := res.([]string)
	return keys, nil
}

func (r *Redis) Clear(ctx context.Context) error {
	_, err := r.execute(ctx, "store.clear", func(ctx context.Context) (any, error) {
		return nil, r.client.FlushDB(ctx).Err()
	})
	return err
}

// Ping verifies connectivity, used by readiness checks.
func (r *Redis) Ping(ctx context.Context) error {
	_, err := r.execute(ctx, "store.ping", func(ctx context.Context) (any, error) {
		return nil, r.client.Ping(ctx).Err()
	})
	return err
}

func (r *Redis) Close() error {
	return r.client.Close()
}
