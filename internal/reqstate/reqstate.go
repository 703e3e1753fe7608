// Package reqstate keeps live fulfillment snapshots in Redis so operators
// can watch a request progress without polling the database. The store is
// optional and strictly best effort: when Redis is not configured or a
// write fails, fulfillment carries on and the failure is only logged.
package reqstate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/luvidal/jogiscraper/internal/config"
	"github.com/luvidal/jogiscraper/pkg/types"
)

// Store writes per-request progress hashes. A nil *Store is a valid no-op
// so callers never need to branch on configuration.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// New connects to Redis, or returns nil when no address is configured.
func New(cfg config.StateConfig, logger *slog.Logger) *Store {
	if cfg.RedisAddr == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return &Store{
		client: client,
		prefix: cfg.KeyPrefix,
		ttl:    cfg.TTL.Duration,
		logger: logger,
	}
}

func (s *Store) key(id int64) string {
	return fmt.Sprintf("%s:%d", s.prefix, id)
}

// Update writes one progress snapshot. Snapshots expire on their own so
// finished requests do not accumulate.
func (s *Store) Update(ctx context.Context, id int64, status types.Status, current string, done, total int) {
	if s == nil {
		return
	}
	key := s.key(id)
	fields := map[string]any{
		"status":     string(status),
		"current":    current,
		"done":       done,
		"total":      total,
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	}
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, fields)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("progress snapshot failed", "id", id, "error", err)
	}
}

// Snapshot reads the current progress hash; an expired or never-written
// request yields an empty map.
func (s *Store) Snapshot(ctx context.Context, id int64) (map[string]string, error) {
	if s == nil {
		return nil, nil
	}
	return s.client.HGetAll(ctx, s.key(id)).Result()
}

// Close releases the Redis connection.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.client.Close()
}
