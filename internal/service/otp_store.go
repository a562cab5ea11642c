package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Challenge is a pending one-time code for an email address
type Challenge struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the challenge is past its expiry at now
func (c Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// OTPStore holds at most one live challenge per email
type OTPStore interface {
	Put(ctx context.Context, email string, challenge Challenge, ttl time.Duration) error
	Get(ctx context.Context, email string) (Challenge, bool, error)
	Delete(ctx context.Context, email string) error
	SweepExpired(ctx context.Context) (int, error)
}

// MemoryOTPStore keeps challenges in process memory
type MemoryOTPStore struct {
	mu      sync.Mutex
	entries map[string]Challenge
	now     func() time.Time
}

func NewMemoryOTPStore() *MemoryOTPStore {
	return &MemoryOTPStore{
		entries: make(map[string]Challenge),
		now:     time.Now,
	}
}

// Put replaces any prior challenge for email. Expiry is carried by the challenge itself.
func (s *MemoryOTPStore) Put(_ context.Context, email string, challenge Challenge, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[email] = challenge
	return nil
}

func (s *MemoryOTPStore) Get(_ context.Context, email string) (Challenge, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.entries[email]
	return c, ok, nil
}

func (s *MemoryOTPStore) Delete(_ context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, email)
	return nil
}

// SweepExpired removes every challenge past its expiry
func (s *MemoryOTPStore) SweepExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for email, c := range s.entries {
		if c.Expired(now) {
			delete(s.entries, email)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored challenges
func (s *MemoryOTPStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

const otpKeyPrefix = "otp:"

// RedisOTPStore keeps challenges in Redis with a key TTL, so expired
// entries disappear without a sweep.
type RedisOTPStore struct {
	rdb *redis.Client
}

func NewRedisOTPStore(rdb *redis.Client) *RedisOTPStore {
	return &RedisOTPStore{rdb: rdb}
}

func otpKey(email string) string {
	return otpKeyPrefix + strings.ToLower(email)
}

func (s *RedisOTPStore) Put(ctx context.Context, email string, challenge Challenge, ttl time.Duration) error {
	payload, err := json.Marshal(challenge)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, otpKey(email), payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store otp: %w", err)
	}
	return nil
}

func (s *RedisOTPStore) Get(ctx context.Context, email string) (Challenge, bool, error) {
	payload, err := s.rdb.Get(ctx, otpKey(email)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Challenge{}, false, nil
	}
	if err != nil {
		return Challenge{}, false, fmt.Errorf("failed to load otp: %w", err)
	}

	var c Challenge
	if err := json.Unmarshal(payload, &c); err != nil {
		return Challenge{}, false, fmt.Errorf("failed to decode otp: %w", err)
	}
	return c, true, nil
}

func (s *RedisOTPStore) Delete(ctx context.Context, email string) error {
	if err := s.rdb.Del(ctx, otpKey(email)).Err(); err != nil {
		return fmt.Errorf("failed to delete otp: %w", err)
	}
	return nil
}

// SweepExpired is a no-op; Redis expires keys itself
func (s *RedisOTPStore) SweepExpired(_ context.Context) (int, error) {
	return 0, nil
}
