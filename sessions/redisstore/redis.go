// Package redisstore is a Redis-backed sessions.Store. It preserves the
// write-through contract — every mutation reaches Redis before the call
// returns — while letting several processes share durable records. Transport
// bindings remain process-local either way.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ggoodman/mcp-session-gateway/sessions"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

var _ sessions.Store = (*Store)(nil)

// Config for the Redis-backed Store. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: SESSIONS_KEY_PREFIX
	KeyPrefix string `env:"SESSIONS_KEY_PREFIX,default=mcp:sessions:"`
}

// Store stores session records as JSON values with a set index of ids.
type Store struct {
	log       *slog.Logger
	client    *redis.Client
	keyPrefix string
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the slog logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// New connects to Redis and verifies it with a ping.
func New(cfg Config, opts ...Option) (*Store, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "mcp:sessions:"
	}
	s := &Store{log: slog.Default(), client: cl, keyPrefix: prefix}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv(opts ...Option) (*Store, error) {
	var cfg Config
	// Defaults are provided via struct tags.
	_ = envdecode.Decode(&cfg)
	return New(cfg, opts...)
}

// Close closes the Redis client.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) recordKey(id string) string { return s.keyPrefix + "record:" + id }
func (s *Store) indexKey() string           { return s.keyPrefix + "index" }

// Load is a connectivity check; records already live server-side. A failed
// check is logged and the store serves what it can, matching the tolerant
// startup of the file store.
func (s *Store) Load(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.log.WarnContext(ctx, "redisstore.ping.fail", slog.String("err", err.Error()))
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*sessions.SessionRecord, bool) {
	data, err := s.client.Get(ctx, s.recordKey(id)).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.log.WarnContext(ctx, "redisstore.get.fail", slog.String("err", err.Error()))
		}
		return nil, false
	}
	var rec sessions.SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		s.log.WarnContext(ctx, "redisstore.record.corrupt", slog.String("session_id", id), slog.String("err", err.Error()))
		return nil, false
	}
	return &rec, true
}

func (s *Store) Put(ctx context.Context, rec *sessions.SessionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.recordKey(rec.SessionID), data, 0)
	pipe.SAdd(ctx, s.indexKey(), rec.SessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("persist session record: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.recordKey(id))
	pipe.SRem(ctx, s.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session record: %w", err)
	}
	return nil
}

func (s *Store) Size(ctx context.Context) int {
	n, err := s.client.SCard(ctx, s.indexKey()).Result()
	if err != nil {
		s.log.WarnContext(ctx, "redisstore.size.fail", slog.String("err", err.Error()))
		return 0
	}
	return int(n)
}

func (s *Store) All(ctx context.Context) []*sessions.SessionRecord {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		s.log.WarnContext(ctx, "redisstore.index.fail", slog.String("err", err.Error()))
		return nil
	}
	out := make([]*sessions.SessionRecord, 0, len(ids))
	for _, id := range ids {
		if rec, ok := s.Get(ctx, id); ok {
			out = append(out, rec)
		}
	}
	return out
}
