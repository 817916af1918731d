package tankstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	"greasetrack/config"
	"greasetrack/projection"
)

var ErrCacheMiss = errors.New("tankstate: cache miss")

// RedisCache keeps one hash per projection side, keyed by entity id.
type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

// DialRedis builds the cache described by cfg, or returns nil when no
// address is configured. The connection is made lazily; use Ping to check it.
func DialRedis(cfg *config.RedisConfig) *RedisCache {
	if cfg.Address == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisCache(client, cfg.Prefix+":")
}

func (c *RedisCache) Close() error { return c.client.Close() }

func (c *RedisCache) tanksKey() string     { return c.prefix + "tanks" }
func (c *RedisCache) consumersKey() string { return c.prefix + "consumers" }

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// SetProjection replaces both hashes atomically.
func (c *RedisCache) SetProjection(ctx context.Context, res projection.Result) error {
	tanks := make(map[string]any, len(res.Tanks))
	for _, t := range res.Tanks {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshal tank %d: %w", t.ID, err)
		}
		tanks[strconv.FormatInt(t.ID, 10)] = data
	}
	consumers := make(map[string]any, len(res.Consumers))
	for _, cw := range res.Consumers {
		data, err := json.Marshal(cw)
		if err != nil {
			return fmt.Errorf("marshal consumer %d: %w", cw.ID, err)
		}
		consumers[strconv.FormatInt(cw.ID, 10)] = data
	}
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, c.tanksKey(), c.consumersKey())
		if len(tanks) > 0 {
			p.HSet(ctx, c.tanksKey(), tanks)
		}
		if len(consumers) > 0 {
			p.HSet(ctx, c.consumersKey(), consumers)
		}
		// An empty projection is still a populated cache.
		p.Set(ctx, c.prefix+"built", "1", 0)
		return nil
	})
	return err
}

func (c *RedisCache) built(ctx context.Context) error {
	n, err := c.client.Exists(ctx, c.prefix+"built").Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrCacheMiss
	}
	return nil
}

func (c *RedisCache) Tanks(ctx context.Context) ([]projection.TankWithLocation, error) {
	if err := c.built(ctx); err != nil {
		return nil, err
	}
	raw, err := c.client.HGetAll(ctx, c.tanksKey()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]projection.TankWithLocation, 0, len(raw))
	for id, v := range raw {
		var t projection.TankWithLocation
		if err := json.Unmarshal([]byte(v), &t); err != nil {
			return nil, fmt.Errorf("decode cached tank %s: %w", id, err)
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *RedisCache) Consumers(ctx context.Context) ([]projection.ConsumerWithTank, error) {
	if err := c.built(ctx); err != nil {
		return nil, err
	}
	raw, err := c.client.HGetAll(ctx, c.consumersKey()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]projection.ConsumerWithTank, 0, len(raw))
	for id, v := range raw {
		var cw projection.ConsumerWithTank
		if err := json.Unmarshal([]byte(v), &cw); err != nil {
			return nil, fmt.Errorf("decode cached consumer %s: %w", id, err)
		}
		out = append(out, cw)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *RedisCache) Flush(ctx context.Context) error {
	return c.client.Del(ctx, c.tanksKey(), c.consumersKey(), c.prefix+"built").Err()
}
