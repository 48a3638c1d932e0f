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

// Package presence maps agent and user ids to their live connection ids so
// outbound realtime events can be routed to the right socket.
package presence

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "dispatch:presence:"

// Registry tracks which connection, if any, a participant currently owns.
// GetActive returns "" when the participant is offline. RemoveActive only
// clears the entry when connID still owns it, so a stale disconnect from a
// superseded connection cannot knock a fresh one offline.
type Registry interface {
	SetActive(ctx context.Context, participantID, connID string) error
	RemoveActive(ctx context.Context, participantID, connID string) error
	GetActive(ctx context.Context, participantID string) (string, error)
}

// RedisRegistry is the multi-instance-safe implementation.
type RedisRegistry struct {
	client redis.UniversalClient
}

func NewRedisRegistry(client redis.UniversalClient) *RedisRegistry {
	return &RedisRegistry{client: client}
}

func (r *RedisRegistry) SetActive(ctx context.Context, participantID, connID string) error {
	return r.client.Set(ctx, keyPrefix+participantID, connID, 0).Err()
}

// removeScript deletes the presence entry only if it still belongs to the
// given connection.
const removeScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"

func (r *RedisRegistry) RemoveActive(ctx context.Context, participantID, connID string) error {
	return r.client.Eval(ctx, removeScript, []string{keyPrefix + participantID}, connID).Err()
}

func (r *RedisRegistry) GetActive(ctx context.Context, participantID string) (string, error) {
	connID, err := r.client.Get(ctx, keyPrefix+participantID).Result()
	if err == redis.Nil {
		return "", nil
	}
	return connID, err
}

// LocalRegistry keeps presence in process memory. It does not survive a
// restart and is wrong under horizontal scale-out; it exists for
// single-instance deployments and tests.
type LocalRegistry struct {
	mu      sync.RWMutex
	entries map[string]string
}

func NewLocalRegistry() *LocalRegistry {
	return &LocalRegistry{entries: make(map[string]string)}
}

func (r *LocalRegistry) SetActive(_ context.Context, participantID, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[participantID] = connID
	return nil
}

func (r *LocalRegistry) RemoveActive(_ context.Context, participantID, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries[participantID] == connID {
		delete(r.entries, participantID)
	}
	return nil
}

func (r *LocalRegistry) GetActive(_ context.Context, participantID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[participantID], nil
}
