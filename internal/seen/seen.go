// SPDX-License-Identifier: MIT

// Package seen provides the cross-process idempotence record for the enqueue
// step. Membership biases toward safety: a path is "seen" if any backing has a
// live entry, so the cost of an outage is a skipped file, never duplicate work.
package seen

import (
	"context"
	"time"

	"github.com/ctvcoop/archivist/internal/log"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL keeps a path out of the sweep for a week.
const DefaultTTL = 7 * 24 * time.Hour

const keyPrefix = "archivist:seen:"

// Store is the combined seen-set: a Redis primary shared by every process,
// and a best-effort local JSON fallback for outages.
type Store struct {
	redis *redis.Client // may be nil
	local *localFile    // may be nil
	ttl   time.Duration
}

// New builds a Store. Either backing may be nil; a Store with no backing at
// all never reports membership and marks are no-ops.
func New(client *redis.Client, localPath string, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	var local *localFile
	if localPath != "" {
		local = newLocalFile(localPath, ttl)
	}
	return &Store{redis: client, local: local, ttl: ttl}
}

// NewFromURL connects to the seen store by redis URL. Connection failures are
// logged, not fatal: the local fallback keeps sweeps idempotent per host.
func NewFromURL(ctx context.Context, url, localPath string, ttl time.Duration) *Store {
	logger := log.WithComponent("seen")

	var client *redis.Client
	if url != "" {
		opts, err := redis.ParseURL(url)
		if err != nil {
			logger.Warn().Err(err).Msg("invalid seen store URL, using local fallback only")
		} else {
			client = redis.NewClient(opts)
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := client.Ping(pingCtx).Err(); err != nil {
				logger.Warn().Err(err).Msg("seen store unreachable at startup, continuing with local fallback")
			}
		}
	}
	return New(client, localPath, ttl)
}

// Contains reports whether path was marked within the TTL by any backing.
func (s *Store) Contains(ctx context.Context, path string) bool {
	logger := log.WithComponentFromContext(ctx, "seen")

	if s.redis != nil {
		n, err := s.redis.Exists(ctx, keyPrefix+path).Result()
		if err != nil {
			logger.Warn().Err(err).Msg("seen store read failed, falling back to local state")
		} else if n > 0 {
			return true
		}
	}
	if s.local != nil && s.local.contains(path) {
		return true
	}
	return false
}

// Mark records path as enqueued. Best-effort and non-failing: backing errors
// are logged and swallowed.
func (s *Store) Mark(ctx context.Context, path string) {
	logger := log.WithComponentFromContext(ctx, "seen")

	if s.redis != nil {
		if err := s.redis.Set(ctx, keyPrefix+path, time.Now().Unix(), s.ttl).Err(); err != nil {
			logger.Warn().Err(err).Str(log.FieldPath, path).Msg("seen store write failed")
		}
	}
	if s.local != nil {
		if err := s.local.mark(path); err != nil {
			logger.Warn().Err(err).Str(log.FieldPath, path).Msg("local seen state write failed")
		}
	}
}

// PurgeExpired drops expired entries from the local fallback. Redis expires
// its own keys.
func (s *Store) PurgeExpired() {
	if s.local != nil {
		s.local.purgeExpired()
	}
}
