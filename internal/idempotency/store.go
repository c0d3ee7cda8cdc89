// Package idempotency replays the stored response of a transfer submission when a client
// retries with the same Idempotency-Key.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/transfer-core/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrNotFound     = errors.New("idempotency key not found")
	ErrHashMismatch = errors.New("idempotency key body mismatch")
	ErrInProgress   = errors.New("idempotency key in progress")
)

const (
	redisKeyPrefix     = "transfer-core:idempotency"
	defaultTTL         = 24 * time.Hour
	defaultWaitTimeout = 10 * time.Second
	minPollInterval    = 25 * time.Millisecond
	maxPollInterval    = 250 * time.Millisecond
)

// Served-by values reported in the X-Idempotent-Replay header.
const (
	ServedByCache = "redis"
	ServedByStore = "store"
)

// Record is a finished response. It is cached in redis as JSON; ServedBy is set on read.
type Record struct {
	Key         string `json:"key"`
	RequestHash string `json:"hash"`
	Status      int    `json:"status"`
	Body        []byte `json:"body"`
	ContentType string `json:"content_type"`
	ServedBy    string `json:"-"`
}

// Backend exposes the durable reservation table. Both repository stores satisfy it.
type Backend interface {
	Queries() repository.Querier
}

// Store keeps the durable reservation in the backend and caches finished responses in
// redis. A nil redis client leaves the backend as the only source.
type Store struct {
	redis       redis.Cmdable
	backend     Backend
	ttl         time.Duration
	waitTimeout time.Duration
}

func NewStore(redis redis.Cmdable, backend Backend, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{redis: redis, backend: backend, ttl: ttl, waitTimeout: defaultWaitTimeout}
}

// WithWaitTimeout bounds how long WaitForCompletion polls a reservation held by another request.
func (s *Store) WithWaitTimeout(d time.Duration) *Store {
	if d > 0 {
		s.waitTimeout = d
	}
	return s
}

// Lookup returns the finished response for key. ErrInProgress means another request holds
// the reservation. ErrHashMismatch means key was first used with a different request.
func (s *Store) Lookup(ctx context.Context, key, requestHash string) (*Record, error) {
	if rec, ok := s.lookupCache(ctx, key); ok {
		if rec.RequestHash != requestHash {
			return nil, ErrHashMismatch
		}
		return rec, nil
	}

	row, err := s.backend.Queries().GetIdempotencyKey(ctx, key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}
	if row.RequestHash != requestHash {
		return nil, ErrHashMismatch
	}
	if row.InProgress {
		return nil, ErrInProgress
	}
	rec := fromRow(row)
	s.cache(ctx, rec)
	return &rec, nil
}

// Reserve claims key for the caller. It reports false when the key is already reserved.
func (s *Store) Reserve(ctx context.Context, key, requestHash, method, path string) (bool, error) {
	_, err := s.backend.Queries().ReserveIdempotencyKey(ctx, repository.ReserveIdempotencyKeyParams{
		IdempotencyKey: key,
		RequestHash:    requestHash,
		Method:         method,
		Path:           path,
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, pgx.ErrNoRows):
		return false, nil
	default:
		return false, fmt.Errorf("reserve idempotency key: %w", err)
	}
}

// Finalize stores the response for a reserved key and caches it.
func (s *Store) Finalize(ctx context.Context, key, requestHash string, status int, body []byte, contentType string) (*Record, error) {
	row, err := s.backend.Queries().FinalizeIdempotencyKey(ctx, repository.FinalizeIdempotencyKeyParams{
		ResponseStatus: int32(status),
		ResponseBody:   body,
		ContentType:    contentType,
		IdempotencyKey: key,
		RequestHash:    requestHash,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("finalize idempotency key: %w", err)
	}
	rec := fromRow(row)
	s.cache(ctx, rec)
	return &rec, nil
}

// Release drops an unfinished reservation so a retry with the same key runs again.
func (s *Store) Release(ctx context.Context, key, requestHash string) error {
	if _, err := s.backend.Queries().ReleaseIdempotencyKey(ctx, key, requestHash); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// WaitForCompletion polls until the reservation on key finishes, ctx ends or the wait
// timeout passes, whichever comes first.
func (s *Store) WaitForCompletion(ctx context.Context, key, requestHash string) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.waitTimeout)
	defer cancel()

	interval := minPollInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		rec, err := s.Lookup(ctx, key, requestHash)
		if !errors.Is(err, ErrInProgress) {
			return rec, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
		if interval *= 2; interval > maxPollInterval {
			interval = maxPollInterval
		}
		timer.Reset(interval)
	}
}

func (s *Store) lookupCache(ctx context.Context, key string) (*Record, bool) {
	if s.redis == nil {
		return nil, false
	}
	val, err := s.redis.Get(ctx, redisKey(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zap.L().Warn("redis idempotency lookup failed", zap.Error(err), zap.String("key", key))
		}
		return nil, false
	}
	rec := &Record{}
	if err := json.Unmarshal(val, rec); err != nil || rec.Key != key {
		zap.L().Warn("discarding corrupt idempotency cache entry", zap.Error(err), zap.String("key", key))
		_ = s.redis.Del(ctx, redisKey(key)).Err()
		return nil, false
	}
	rec.ServedBy = ServedByCache
	return rec, true
}

func (s *Store) cache(ctx context.Context, rec Record) {
	if s.redis == nil {
		return
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		zap.L().Warn("marshal idempotency cache", zap.Error(err))
		return
	}
	if err := s.redis.Set(ctx, redisKey(rec.Key), payload, s.ttl).Err(); err != nil {
		zap.L().Warn("redis idempotency cache set failed", zap.Error(err), zap.String("key", rec.Key))
	}
}

func fromRow(row repository.IdempotencyKey) Record {
	return Record{
		Key:         row.IdempotencyKey,
		RequestHash: row.RequestHash,
		Status:      int(row.ResponseStatus),
		Body:        row.ResponseBody,
		ContentType: row.ContentType,
		ServedBy:    ServedByStore,
	}
}

func redisKey(key string) string {
	return redisKeyPrefix + ":" + key
}
