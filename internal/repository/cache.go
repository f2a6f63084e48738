package repository

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taskbridge/taskbridge/internal/common"
	"github.com/taskbridge/taskbridge/internal/connector"
)

// CachedStore wraps a Store with a redis read-through cache for the
// reference data every reconciliation re-reads: models, connectors, and
// model groups. Task records are never cached; they are the thing being
// mutated.
type CachedStore struct {
	Store
	rdb *redis.Client
	ttl time.Duration
	log *slog.Logger
}

func NewCachedStore(inner Store, cfg common.CacheConfig, logger *slog.Logger) (*CachedStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, common.Configuration("redis is unreachable at "+cfg.RedisAddr, err)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	logger.Info("repository.cache.enabled", "addr", cfg.RedisAddr, "ttl", ttl.String())
	return &CachedStore{Store: inner, rdb: rdb, ttl: ttl, log: logger}, nil
}

func (s *CachedStore) GetModel(ctx context.Context, id string) (*ModelRecord, bool, error) {
	key := "taskbridge:model:" + id
	var m ModelRecord
	if s.lookup(ctx, key, &m) {
		return &m, true, nil
	}
	rec, ok, err := s.Store.GetModel(ctx, id)
	if err != nil || !ok {
		return rec, ok, err
	}
	s.fill(ctx, key, rec)
	return rec, true, nil
}

func (s *CachedStore) GetConnector(ctx context.Context, id string) (connector.Connector, bool, error) {
	key := "taskbridge:connector:" + id
	var c connector.Connector
	if s.lookup(ctx, key, &c) {
		return c, true, nil
	}
	rec, ok, err := s.Store.GetConnector(ctx, id)
	if err != nil || !ok {
		return rec, ok, err
	}
	s.fill(ctx, key, rec)
	return rec, true, nil
}

func (s *CachedStore) GetModelGroup(ctx context.Context, id string) (*ModelGroupRecord, bool, error) {
	key := "taskbridge:model_group:" + id
	var g ModelGroupRecord
	if s.lookup(ctx, key, &g) {
		return &g, true, nil
	}
	rec, ok, err := s.Store.GetModelGroup(ctx, id)
	if err != nil || !ok {
		return rec, ok, err
	}
	s.fill(ctx, key, rec)
	return rec, true, nil
}

// lookup reports a decodable cache hit. Redis errors degrade to misses so
// the backing store stays authoritative.
func (s *CachedStore) lookup(ctx context.Context, key string, out any) bool {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		s.log.Warn("repository.cache.get_failed", "key", key, "error", err)
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		s.log.Warn("repository.cache.decode_failed", "key", key, "error", err)
		_ = s.rdb.Del(ctx, key).Err()
		return false
	}
	return true
}

func (s *CachedStore) fill(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		s.log.Warn("repository.cache.encode_failed", "key", key, "error", err)
		return
	}
	if err := s.rdb.Set(ctx, key, raw, s.ttl).Err(); err != nil {
		s.log.Warn("repository.cache.set_failed", "key", key, "error", err)
	}
}

func (s *CachedStore) Close() error {
	if err := s.rdb.Close(); err != nil {
		s.log.Warn("repository.cache.close_failed", "error", err)
	}
	return s.Store.Close()
}

var _ Store = (*CachedStore)(nil)
