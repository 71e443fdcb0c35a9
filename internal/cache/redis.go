package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig mirrors the connection knobs the teacher's database manager
// exposes for its Redis client, scoped down to what this cache needs.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	if c.PoolSize == 0 {
		c.PoolSize = 10
	}
	if c.MinIdleConns == 0 {
		c.MinIdleConns = 5
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 3 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 3 * time.Second
	}
	return c
}

const quotaKey = "corpus-sync:quota"

func tokenKey(zoneID string) string { return "corpus-sync:change-token:" + zoneID }

// Redis is a redis-backed Cache for deployments that run multiple sync
// processes against the same account, or that want scratch state to
// survive a process restart without a full resync.
type Redis struct {
	client *redis.Client
}

// NewRedis dials redis eagerly, matching the teacher's connect-and-ping
// pattern so configuration mistakes surface at startup.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	cfg = cfg.withDefaults()
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{client: rdb}, nil
}

func (r *Redis) GetChangeToken(ctx context.Context, zoneID string) (string, bool, error) {
	v, err := r.client.Get(ctx, tokenKey(zoneID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get change token: %w", err)
	}
	return v, true, nil
}

func (r *Redis) PutChangeToken(ctx context.Context, zoneID, token string) error {
	if err := r.client.Set(ctx, tokenKey(zoneID), token, 0).Err(); err != nil {
		return fmt.Errorf("put change token: %w", err)
	}
	return nil
}

func (r *Redis) GetQuota(ctx context.Context) (QuotaState, bool, error) {
	raw, err := r.client.Get(ctx, quotaKey).Bytes()
	if err == redis.Nil {
		return QuotaState{}, false, nil
	}
	if err != nil {
		return QuotaState{}, false, fmt.Errorf("get quota: %w", err)
	}
	var q QuotaState
	if err := json.Unmarshal(raw, &q); err != nil {
		return QuotaState{}, false, fmt.Errorf("decode quota: %w", err)
	}
	return q, true, nil
}

func (r *Redis) PutQuota(ctx context.Context, q QuotaState) error {
	raw, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("encode quota: %w", err)
	}
	ttl := time.Until(q.ResetAt)
	if ttl <= 0 {
		ttl = time.Hour
	}
	if err := r.client.Set(ctx, quotaKey, raw, ttl).Err(); err != nil {
		return fmt.Errorf("put quota: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error { return r.client.Close() }

var _ Cache = (*Redis)(nil)
