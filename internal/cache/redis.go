package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"railtrack/internal/geo"
)

type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisCache(addr, password string, db int, ttl time.Duration, logger *slog.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisCache{
		client: client,
		prefix: "railtrack:",
		ttl:    ttl,
		logger: logger.With("component", "redis_cache"),
	}, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) key(k string) string {
	return c.prefix + k
}

func (c *RedisCache) set(ctx context.Context, key string, value []byte) error {
	start := time.Now()
	if err := c.client.Set(ctx, c.key(key), value, c.ttl).Err(); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
		return err
	}
	c.logger.Debug("cache set", "key", key, "size_bytes", len(value), "ttl", c.ttl, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (c *RedisCache) get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	val, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		c.logger.Debug("cache miss", "key", key)
		return nil, nil
	}
	if err != nil {
		c.logger.Error("cache get failed", "key", key, "error", err)
		return nil, err
	}
	c.logger.Debug("cache hit", "key", key, "size_bytes", len(val), "duration_ms", time.Since(start).Milliseconds())
	return val, nil
}

// SetShape stores an assembled polyline for a line of a dataset.
func (c *RedisCache) SetShape(ctx context.Context, dataset, lineID string, pts []geo.Point) error {
	data, err := encodeShape(pts)
	if err != nil {
		return err
	}
	return c.set(ctx, KeyLineShape(dataset, lineID), data)
}

// GetShape returns a cached polyline. The bool is false on a miss.
func (c *RedisCache) GetShape(ctx context.Context, dataset, lineID string) ([]geo.Point, bool, error) {
	data, err := c.get(ctx, KeyLineShape(dataset, lineID))
	if err != nil || data == nil {
		return nil, false, err
	}
	pts, err := decodeShape(data)
	if err != nil {
		return nil, false, err
	}
	return pts, true, nil
}

// InvalidateDataset drops every cached shape of dataset.
func (c *RedisCache) InvalidateDataset(ctx context.Context, dataset string) error {
	iter := c.client.Scan(ctx, 0, c.key(KeyDatasetPattern(dataset)), 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan shapes: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func encodeShape(pts []geo.Point) ([]byte, error) {
	data, err := json.Marshal(pts)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}
	compressed, err := gzipCompress(data)
	if err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	return compressed, nil
}

func decodeShape(data []byte) ([]geo.Point, error) {
	raw, err := gzipDecompress(data)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	var pts []geo.Point
	if err := json.Unmarshal(raw, &pts); err != nil {
		return nil, fmt.Errorf("json unmarshal: %w", err)
	}
	return pts, nil
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
