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

// Package timers holds the due-time-ordered index that drives offer timeout
// reassignment. Instead of in-process delayed callbacks, due orders are
// discovered by polling the shared index, which stays correct when several
// dispatch instances poll concurrently: a short-TTL execution lock plus the
// atomic removal from the index make each due order fire exactly once.
package timers

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/swiftcart/dispatch/internal/lock"
)

const (
	indexKey       = "dispatch:timers:reassign"
	execLockPrefix = "dispatch:lock:timer:"
)

// Index is a due-time-ordered set of order ids. Arm overwrites any existing
// entry for the order; Clear removes it and reports whether it was present.
type Index interface {
	Arm(ctx context.Context, orderID string, due time.Time) error
	Clear(ctx context.Context, orderID string) (bool, error)
	Due(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// RedisIndex stores timers in a ZSET scored by due time in unix
// milliseconds. It is the multi-instance-safe implementation.
type RedisIndex struct {
	client redis.UniversalClient
}

func NewRedisIndex(client redis.UniversalClient) *RedisIndex {
	return &RedisIndex{client: client}
}

func (i *RedisIndex) Arm(ctx context.Context, orderID string, due time.Time) error {
	return i.client.ZAdd(ctx, indexKey, redis.Z{
		Score:  float64(due.UnixMilli()),
		Member: orderID,
	}).Err()
}

func (i *RedisIndex) Clear(ctx context.Context, orderID string) (bool, error) {
	removed, err := i.client.ZRem(ctx, indexKey, orderID).Result()
	return removed > 0, err
}

func (i *RedisIndex) Due(ctx context.Context, now time.Time, limit int) ([]string, error) {
	return i.client.ZRangeByScore(ctx, indexKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
}

// LocalIndex keeps timers in process memory, single-instance only.
type LocalIndex struct {
	mu     sync.Mutex
	timers map[string]time.Time
}

func NewLocalIndex() *LocalIndex {
	return &LocalIndex{timers: make(map[string]time.Time)}
}

func (i *LocalIndex) Arm(_ context.Context, orderID string, due time.Time) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.timers[orderID] = due
	return nil
}

func (i *LocalIndex) Clear(_ context.Context, orderID string) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, present := i.timers[orderID]
	delete(i.timers, orderID)
	return present, nil
}

func (i *LocalIndex) Due(_ context.Context, now time.Time, limit int) ([]string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	var due []string
	for orderID, deadline := range i.timers {
		if len(due) == limit {
			break
		}
		if !deadline.After(now) {
			due = append(due, orderID)
		}
	}
	return due, nil
}

// Handler processes one due order. It must tolerate being invoked for an
// order whose timer was concurrently cleared.
type Handler func(ctx context.Context, orderID string)

// Poller periodically drains due timers from the index and fires the
// handler once per due order.
type Poller struct {
	index    Index
	locks    lock.Manager
	interval time.Duration
	lockTTL  time.Duration
	handler  Handler
}

func NewPoller(index Index, locks lock.Manager, interval, lockTTL time.Duration, handler Handler) *Poller {
	return &Poller{
		index:    index,
		locks:    locks,
		interval: interval,
		lockTTL:  lockTTL,
		handler:  handler,
	}
}

// Start polls until the context is cancelled.
func (p *Poller) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick processes everything currently due. The execution lock keeps
// concurrent pollers from double-firing within one poll window; the Clear
// result guards against an order that was resolved between the Due read and
// the lock acquisition.
func (p *Poller) Tick(ctx context.Context) {
	due, err := p.index.Due(ctx, time.Now(), 100)
	if err != nil {
		logrus.Errorf("timer poll failed: %v", err)
		return
	}

	for _, orderID := range due {
		acquired, err := p.locks.Acquire(ctx, execLockPrefix+orderID, p.lockTTL)
		if err != nil {
			logrus.Errorf("timer exec lock for order %s failed: %v", orderID, err)
			continue
		}
		if !acquired {
			continue
		}

		removed, err := p.index.Clear(ctx, orderID)
		if err != nil {
			logrus.Errorf("timer clear for order %s failed: %v", orderID, err)
			continue
		}
		if !removed {
			// Someone resolved the offer first; firing would be a no-op
			// anyway, skip it entirely.
			continue
		}

		p.handler(ctx, orderID)
	}
}
