/*
Copyright 2024 Swiftcart Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package lock provides the per-agent mutual exclusion used by the
// assignment scheduler. A held lock on an agent key means that agent has an
// outstanding offer; the TTL guarantees the lock cannot outlive a crashed
// holder by more than the configured window.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Manager is the lock contract the scheduler and timer poller are written
// against. Acquire is an atomic set-if-absent: it returns true only when no
// unexpired lock exists for the key. Release is an unconditional, idempotent
// delete; releasing an absent key is not an error.
type Manager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RedisManager backs locks with Redis SETNX so they are correct across
// multiple dispatch instances sharing one Redis.
type RedisManager struct {
	client redis.UniversalClient
	holder string // identifies this instance in the lock value, for debugging
}

func NewRedisManager(client redis.UniversalClient) *RedisManager {
	return &RedisManager{
		client: client,
		holder: uuid.New().String(),
	}
}

func (m *RedisManager) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return m.client.SetNX(ctx, key, m.holder, ttl).Result()
}

func (m *RedisManager) Release(ctx context.Context, key string) error {
	return m.client.Del(ctx, key).Err()
}

// LocalManager keeps locks in process memory. It is only correct for a
// single dispatch instance; with horizontal scale-out two instances would
// happily hand the same agent two offers.
type LocalManager struct {
	mu    sync.Mutex
	locks map[string]time.Time // key -> expiry
	now   func() time.Time
}

func NewLocalManager() *LocalManager {
	return &LocalManager{
		locks: make(map[string]time.Time),
		now:   time.Now,
	}
}

func (m *LocalManager) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if expiry, held := m.locks[key]; held && expiry.After(now) {
		return false, nil
	}
	m.locks[key] = now.Add(ttl)
	return true, nil
}

func (m *LocalManager) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, key)
	return nil
}
