// Package idempotency guarantees a client-keyed operation runs at most once.
// A short-lived Redis lock serialises concurrent attempts and the response
// of the first successful attempt is cached for replay.
package idempotency

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gemxhub/backend/internal/apperror"
	"github.com/gemxhub/backend/internal/config"
	"github.com/gemxhub/backend/pkg/logger"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

//go:embed lua/release_lock.lua
var luaRelease string

// Record is a completed response kept for replay
type Record struct {
	Status      int    `json:"status"`
	Body        string `json:"body"`
	ContentType string `json:"contentType,omitempty"`
	Fingerprint string `json:"fingerprint"`
}

// Successful reports whether the record is worth caching
func (r Record) Successful() bool {
	return r.Status >= 200 && r.Status < 300
}

// Store keeps locks and results in Redis
type Store struct {
	rdb        redis.UniversalClient
	lockTTL    time.Duration
	resultTTL  time.Duration
	retryWait  time.Duration
	scrRelease *redis.Script
}

// NewStore creates a store using the configured lifetimes
func NewStore(rdb redis.UniversalClient, cfg config.IdempotencyConfig) *Store {
	s := &Store{
		rdb:        rdb,
		lockTTL:    cfg.LockTTL,
		resultTTL:  cfg.ResultTTL,
		retryWait:  cfg.RetryWait,
		scrRelease: redis.NewScript(luaRelease),
	}
	if s.lockTTL <= 0 {
		s.lockTTL = 30 * time.Second
	}
	if s.resultTTL <= 0 {
		s.resultTTL = time.Hour
	}
	if s.retryWait <= 0 {
		s.retryWait = time.Second
	}
	return s
}

func lockKey(scope, key string) string   { return fmt.Sprintf("idempotency:lock:%s:%s", scope, key) }
func resultKey(scope, key string) string { return fmt.Sprintf("idempotency:result:%s:%s", scope, key) }

// Get returns the cached result, or nil when there is none
func (s *Store) Get(ctx context.Context, scope, key string) (*Record, error) {
	raw, err := s.rdb.Get(ctx, resultKey(scope, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading idempotency result: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("error decoding idempotency result: %w", err)
	}
	return &rec, nil
}

// Save caches a completed result
func (s *Store) Save(ctx context.Context, scope, key string, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, resultKey(scope, key), raw, s.resultTTL).Err()
}

// Acquire takes the lock with a fresh owner token using SET NX
func (s *Store) Acquire(ctx context.Context, scope, key string) (string, bool, error) {
	token := uuid.NewString()
	ok, err := s.rdb.SetNX(ctx, lockKey(scope, key), token, s.lockTTL).Result()
	if err != nil {
		return "", false, fmt.Errorf("error acquiring idempotency lock: %w", err)
	}
	return token, ok, nil
}

// Release drops the lock if token still owns it
func (s *Store) Release(ctx context.Context, scope, key, token string) error {
	return s.scrRelease.Run(ctx, s.rdb, []string{lockKey(scope, key)}, token).Err()
}

// Do runs fn at most once for (scope, key). The second return value is
// true when the record is a replay of an earlier execution.
func (s *Store) Do(ctx context.Context, scope, key, fingerprint string, fn func() Record) (Record, bool, error) {
	if rec, err := s.Get(ctx, scope, key); err != nil {
		return Record{}, false, apperror.Internal("idempotency store unavailable", err)
	} else if rec != nil {
		return replay(rec, fingerprint)
	}

	token, acquired, err := s.Acquire(ctx, scope, key)
	if err != nil {
		return Record{}, false, apperror.Internal("idempotency store unavailable", err)
	}
	if !acquired {
		return s.waitForResult(ctx, scope, key, fingerprint)
	}
	defer func() {
		// the request context may already be cancelled
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.Release(releaseCtx, scope, key, token); err != nil {
			logger.Log.Warn("failed to release idempotency lock", zap.String("scope", scope), zap.String("key", key), zap.Error(err))
		}
	}()

	// a previous holder may have finished between Get and Acquire
	if rec, err := s.Get(ctx, scope, key); err != nil {
		return Record{}, false, apperror.Internal("idempotency store unavailable", err)
	} else if rec != nil {
		return replay(rec, fingerprint)
	}

	rec := fn()
	rec.Fingerprint = fingerprint
	if rec.Successful() {
		saveCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.Save(saveCtx, scope, key, rec); err != nil {
			logger.Log.Error("failed to cache idempotent result", zap.String("scope", scope), zap.String("key", key), zap.Error(err))
		}
	}
	return rec, false, nil
}

func (s *Store) waitForResult(ctx context.Context, scope, key, fingerprint string) (Record, bool, error) {
	timer := time.NewTimer(s.retryWait)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		return Record{}, false, ctx.Err()
	}

	rec, err := s.Get(ctx, scope, key)
	if err != nil {
		return Record{}, false, apperror.Internal("idempotency store unavailable", err)
	}
	if rec == nil {
		return Record{}, false, apperror.Conflict("request is being processed, retry shortly")
	}
	return replay(rec, fingerprint)
}

func replay(rec *Record, fingerprint string) (Record, bool, error) {
	if rec.Fingerprint != fingerprint {
		return Record{}, false, apperror.Unprocessable("idempotency key reused with different payload")
	}
	return *rec, true, nil
}
