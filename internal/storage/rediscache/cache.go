// Package rediscache keeps the set of known job ids in Redis in front of a
// slower JobStore, so repeat scans skip the database for ids already seen.
package rediscache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobharvest/internal/crawler"
)

// DefaultKey is the prefix of the Redis sets holding known ids.
const DefaultKey = "jobharvest:known_ids"

// KeyFor returns the set name for one backing store. The set is scoped to
// the driver, DSN and table so a cache entry never vouches for an id on
// behalf of a different database. The DSN is hashed to keep credentials
// out of Redis key names.
func KeyFor(prefix, driver, dsn, table string) string {
	if prefix == "" {
		prefix = DefaultKey
	}
	sum := sha256.Sum256([]byte(dsn + "\x00" + table))
	return prefix + ":" + driver + ":" + hex.EncodeToString(sum[:8])
}

type setClient interface {
	SIsMember(ctx context.Context, key string, member any) *redis.BoolCmd
	SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd
}

// Store decorates a crawler.JobStore. Redis failures are logged and the
// call falls through to the wrapped store.
type Store struct {
	crawler.JobStore
	client setClient
	key    string
	logger *zap.Logger
}

// NewClient parses redisURL and verifies connectivity.
func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// Wrap returns inner with a known-id cache in front of it.
func Wrap(inner crawler.JobStore, client setClient, key string, logger *zap.Logger) *Store {
	if key == "" {
		key = DefaultKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		JobStore: inner,
		client:   client,
		key:      key,
		logger:   logger.Named("rediscache"),
	}
}

// Exists answers from the cache when it can and backfills it from the
// wrapped store otherwise. Only ids written through this store's key are
// trusted, see KeyFor.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	known, err := s.client.SIsMember(ctx, s.key, id).Result()
	if err != nil {
		s.logger.Warn("redis lookup failed", zap.String("job_id", id), zap.Error(err))
	} else if known {
		return true, nil
	}

	exists, err := s.JobStore.Exists(ctx, id)
	if err != nil {
		return false, err
	}
	if exists {
		s.remember(ctx, id)
	}
	return exists, nil
}

// Insert writes through to the wrapped store and records the id.
func (s *Store) Insert(ctx context.Context, job crawler.StoredJob) error {
	err := s.JobStore.Insert(ctx, job)
	if err == nil || errors.Is(err, crawler.ErrDuplicate) {
		s.remember(ctx, job.ID)
	}
	return err
}

func (s *Store) remember(ctx context.Context, id string) {
	if err := s.client.SAdd(ctx, s.key, id).Err(); err != nil {
		s.logger.Warn("redis add failed", zap.String("job_id", id), zap.Error(err))
	}
}
