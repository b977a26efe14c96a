package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Iriajul/LLM-model/internal/observability"
)

const (
	defaultKeyPrefix = "nl2sql:answer:"
	defaultOpTimeout = 2 * time.Second
	defaultTTL       = 5 * time.Minute
)

type RedisConfig struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL       string
	KeyPrefix string
	OpTimeout time.Duration
	TTL       time.Duration
}

// RedisStore is the Redis-backed answer cache. Backend failures are logged
// and treated as misses; the pipeline never fails because the cache is down.
type RedisStore struct {
	client    *goredis.Client
	keyPrefix string
	opTimeout time.Duration
	ttl       time.Duration
	logger    *slog.Logger
}

func NewRedisStore(cfg RedisConfig, logger *slog.Logger) (*RedisStore, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis cache requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = defaultOpTimeout
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		client:    goredis.NewClient(opts),
		keyPrefix: cfg.KeyPrefix,
		opTimeout: cfg.OpTimeout,
		ttl:       cfg.TTL,
		logger:    logger,
	}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (Entry, bool) {
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	payload, err := s.client.Get(opCtx, s.keyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			s.logger.Warn("answer cache read failed", slog.String("error", err.Error()))
		}
		observability.ObserveAnswerCache(false)
		return Entry{}, false
	}

	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		s.logger.Warn("answer cache entry corrupt", slog.String("error", err.Error()))
		observability.ObserveAnswerCache(false)
		return Entry{}, false
	}
	observability.ObserveAnswerCache(true)
	return entry, true
}

func (s *RedisStore) Put(ctx context.Context, key string, entry Entry) {
	payload, err := json.Marshal(entry)
	if err != nil {
		s.logger.Warn("answer cache marshal failed", slog.String("error", err.Error()))
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.client.Set(opCtx, s.keyPrefix+key, payload, s.ttl).Err(); err != nil {
		s.logger.Warn("answer cache write failed", slog.String("error", err.Error()))
	}
}

// Ping reports backend health for the readiness probe.
func (s *RedisStore) Ping(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	return s.client.Ping(opCtx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
