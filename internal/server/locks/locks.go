// Package locks provides advisory, time-boxed locks on annotation
// documents, backed by Redis. Locks are cooperative: they tell a client
// someone else is editing, nothing enforces them.
package locks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fieldsnap/fieldsnap/internal/common"
	"github.com/fieldsnap/fieldsnap/internal/models"
)

const keyPrefix = "lock:annotation:"

// redisClient is the slice of go-redis used by the service. Satisfied by
// *redis.Client; tests substitute a fake.
type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Service grants and inspects annotation locks.
type Service struct {
	client redisClient
	ttl    time.Duration
	now    func() time.Time
}

// New connects to Redis at redisURL and verifies the connection.
func New(ctx context.Context, redisURL string, ttl time.Duration) (*Service, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Service{client: client, ttl: ttl, now: time.Now}, nil
}

// Acquire takes the lock for holder, or returns common.ErrLocked with the
// current holder's lock when someone else has it. Re-acquiring one's own
// live lock succeeds and extends the lease.
func (s *Service) Acquire(ctx context.Context, resourceID, holderID, holderName string) (*models.Lock, error) {
	lock := &models.Lock{
		ResourceID: resourceID,
		HolderID:   holderID,
		HolderName: holderName,
		AcquiredAt: s.now(),
		ExpiresAt:  s.now().Add(s.ttl),
	}
	value, err := json.Marshal(lock)
	if err != nil {
		return nil, fmt.Errorf("failed to encode lock: %w", err)
	}

	ok, err := s.client.SetNX(ctx, keyPrefix+resourceID, value, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if ok {
		return lock, nil
	}

	current, err := s.State(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		// The holder's key expired between SetNX and Get; try once more.
		ok, err := s.client.SetNX(ctx, keyPrefix+resourceID, value, s.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock: %w", err)
		}
		if ok {
			return lock, nil
		}
		return nil, common.ErrLocked
	}

	if current.HolderID == holderID {
		// Same holder: refresh the lease.
		if _, err := s.client.Del(ctx, keyPrefix+resourceID).Result(); err != nil {
			return nil, fmt.Errorf("failed to refresh lock: %w", err)
		}
		ok, err := s.client.SetNX(ctx, keyPrefix+resourceID, value, s.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to refresh lock: %w", err)
		}
		if ok {
			return lock, nil
		}
	}
	return current, common.ErrLocked
}

// Release drops the lock if holder owns it. Releasing a lock held by
// someone else returns common.ErrLocked; releasing an absent lock is a
// no-op.
func (s *Service) Release(ctx context.Context, resourceID, holderID string) error {
	current, err := s.State(ctx, resourceID)
	if err != nil {
		return err
	}
	if current == nil {
		return nil
	}
	if current.HolderID != holderID {
		return common.ErrLocked
	}
	if _, err := s.client.Del(ctx, keyPrefix+resourceID).Result(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// State returns the current lock, or nil when the resource is unlocked.
// Expired-but-present locks are reported as unlocked.
func (s *Service) State(ctx context.Context, resourceID string) (*models.Lock, error) {
	data, err := s.client.Get(ctx, keyPrefix+resourceID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read lock: %w", err)
	}

	lock := &models.Lock{}
	if err := json.Unmarshal(data, lock); err != nil {
		return nil, fmt.Errorf("failed to decode lock: %w", err)
	}
	if lock.Expired(s.now()) {
		return nil, nil
	}
	return lock, nil
}
