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

// Package locations buffers position pings before they are flushed to the
// durable store, and throttles how often live updates are relayed to the
// counterpart connection.
package locations

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/swiftcart/dispatch/model"
)

const (
	samplePrefix = "dispatch:loc:"
	dirtyKey     = "dispatch:loc:dirty"
	relayPrefix  = "dispatch:relay:"
)

// Cache is the ephemeral location buffer. Upsert stores a short-TTL sample
// and marks the entity dirty; PopDirty hands up to n dirty keys to the flush
// pipeline. Get returns nil for a missing or expired sample — the flush
// pipeline drops those instead of retrying. AllowRelay returns true at most
// once per throttle interval for each (order, participant) pair.
type Cache interface {
	Upsert(ctx context.Context, entityID string, sample model.LocationSample, ttl time.Duration) error
	Get(ctx context.Context, entityID string) (*model.LocationSample, error)
	PopDirty(ctx context.Context, n int) ([]string, error)
	AllowRelay(ctx context.Context, orderID, participantID string, interval time.Duration) (bool, error)
}

// RedisCache is the multi-instance-safe implementation.
type RedisCache struct {
	client redis.UniversalClient
}

func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Upsert(ctx context.Context, entityID string, sample model.LocationSample, ttl time.Duration) error {
	payload, err := json.Marshal(sample)
	if err != nil {
		return err
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, samplePrefix+entityID, payload, ttl)
	pipe.SAdd(ctx, dirtyKey, entityID)
	_, err = pipe.Exec(ctx)
	return err
}

func (c *RedisCache) Get(ctx context.Context, entityID string) (*model.LocationSample, error) {
	raw, err := c.client.Get(ctx, samplePrefix+entityID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var sample model.LocationSample
	if err := json.Unmarshal(raw, &sample); err != nil {
		// Malformed samples are dropped, not retried.
		return nil, nil
	}
	return &sample, nil
}

func (c *RedisCache) PopDirty(ctx context.Context, n int) ([]string, error) {
	keys, err := c.client.SPopN(ctx, dirtyKey, int64(n)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	return keys, err
}

// AllowRelay claims the throttle slot with SET NX PX; the claim expiring is
// what re-opens the slot.
func (c *RedisCache) AllowRelay(ctx context.Context, orderID, participantID string, interval time.Duration) (bool, error) {
	return c.client.SetNX(ctx, relayPrefix+orderID+":"+participantID, 1, interval).Result()
}

// LocalCache is the process-local fallback, single-instance only.
type LocalCache struct {
	mu      sync.Mutex
	samples map[string]localSample
	dirty   map[string]struct{}
	relays  map[string]time.Time
	now     func() time.Time
}

type localSample struct {
	sample model.LocationSample
	expiry time.Time
}

func NewLocalCache() *LocalCache {
	return &LocalCache{
		samples: make(map[string]localSample),
		dirty:   make(map[string]struct{}),
		relays:  make(map[string]time.Time),
		now:     time.Now,
	}
}

func (c *LocalCache) Upsert(_ context.Context, entityID string, sample model.LocationSample, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples[entityID] = localSample{sample: sample, expiry: c.now().Add(ttl)}
	c.dirty[entityID] = struct{}{}
	return nil
}

func (c *LocalCache) Get(_ context.Context, entityID string) (*model.LocationSample, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.samples[entityID]
	if !ok || entry.expiry.Before(c.now()) {
		return nil, nil
	}
	sample := entry.sample
	return &sample, nil
}

func (c *LocalCache) PopDirty(_ context.Context, n int) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, n)
	for key := range c.dirty {
		if len(keys) == n {
			break
		}
		keys = append(keys, key)
		delete(c.dirty, key)
	}
	return keys, nil
}

func (c *LocalCache) AllowRelay(_ context.Context, orderID, participantID string, interval time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := orderID + ":" + participantID
	now := c.now()
	if last, ok := c.relays[key]; ok && now.Sub(last) < interval {
		return false, nil
	}
	c.relays[key] = now
	return true, nil
}
