package guard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RetryStore persists RetryState per denied view.
type RetryStore interface {
	Mount(ctx context.Context, owner string) (string, error)
	Load(ctx context.Context, viewID, owner string) (RetryState, error)
	Update(ctx context.Context, viewID, owner string, fn func(*RetryState) error) (RetryState, error)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisRetryStore keeps retry state in Redis. Updates run in an optimistic
// WATCH transaction so concurrent presses cannot exceed MaxAttempts.
type RedisRetryStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisRetryStore constructs a RedisRetryStore. ttl bounds how long a
// denied view stays retryable.
func NewRedisRetryStore(client redis.UniversalClient, ttl time.Duration) *RedisRetryStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisRetryStore{client: client, ttl: ttl}
}

// Mount creates the state for a freshly rendered denied view.
func (s *RedisRetryStore) Mount(ctx context.Context, owner string) (string, error) {
	viewID := uuid.NewString()
	data, err := json.Marshal(RetryState{Owner: owner})
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, s.key(viewID), data, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("guard: mount view: %w", err)
	}
	return viewID, nil
}

// Load returns the state of a view owned by owner.
func (s *RedisRetryStore) Load(ctx context.Context, viewID, owner string) (RetryState, error) {
	return s.read(ctx, s.client, viewID, owner)
}

// Update applies fn atomically. When fn fails nothing is written.
func (s *RedisRetryStore) Update(ctx context.Context, viewID, owner string, fn func(*RetryState) error) (RetryState, error) {
	key := s.key(viewID)
	var result RetryState
	for attempt := 0; attempt < 5; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			state, err := s.read(ctx, tx, viewID, owner)
			if err != nil {
				return err
			}
			if err := fn(&state); err != nil {
				return err
			}
			data, err := json.Marshal(state)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, redis.KeepTTL)
				return nil
			})
			if err == nil {
				result = state
			}
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return result, err
	}
	return RetryState{}, fmt.Errorf("guard: update view %s: too much contention", viewID)
}

func (s *RedisRetryStore) read(ctx context.Context, cmd getter, viewID, owner string) (RetryState, error) {
	if _, err := uuid.Parse(viewID); err != nil {
		return RetryState{}, ErrUnknownView
	}
	data, err := cmd.Get(ctx, s.key(viewID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return RetryState{}, ErrUnknownView
		}
		return RetryState{}, fmt.Errorf("guard: load view: %w", err)
	}
	var state RetryState
	if err := json.Unmarshal(data, &state); err != nil {
		return RetryState{}, fmt.Errorf("guard: decode view: %w", err)
	}
	if state.Owner != owner {
		return RetryState{}, ErrUnknownView
	}
	return state, nil
}

func (s *RedisRetryStore) key(viewID string) string {
	return "claimdesk:guard:view:" + viewID
}
