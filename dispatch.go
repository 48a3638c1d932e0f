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

package dispatch

import (
	"context"
	"embed"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/swiftcart/dispatch/config"
	"github.com/swiftcart/dispatch/database"
	"github.com/swiftcart/dispatch/internal/cache"
	"github.com/swiftcart/dispatch/internal/lock"
	"github.com/swiftcart/dispatch/internal/locations"
	"github.com/swiftcart/dispatch/internal/presence"
	redis_db "github.com/swiftcart/dispatch/internal/redis-db"
	"github.com/swiftcart/dispatch/internal/timers"
)

var tracer = otel.Tracer("dispatch.core")

const agentLockPrefix = "dispatch:lock:agent:"

//go:embed sql/*.sql
var SQLFiles embed.FS

// Notifier pushes an outbound realtime event to a participant's active
// connection, if any. The websocket hub implements it; a participant with no
// live connection is not an error.
type Notifier interface {
	Notify(ctx context.Context, participantID, event string, data interface{}) error
}

// taskQueue is the async work surface of the service: assignment runs and
// webhook deliveries go through it.
type taskQueue interface {
	EnqueueAssign(ctx context.Context, orderID string) error
	EnqueueWebhook(ctx context.Context, payload []byte) error
}

// Dispatch is the core of the assignment service. All shared coordination
// state (locks, presence, timers, location buffer) sits behind interfaces
// with a Redis-backed and a process-local implementation; config Mode picks
// which one is wired in.
type Dispatch struct {
	datasource database.IDataSource
	redis      redis.UniversalClient
	cache      cache.Cache
	queue      taskQueue
	locks      lock.Manager
	presence   presence.Registry
	locations  locations.Cache
	timers     timers.Index
	notifier   Notifier
}

// NewDispatch initializes the service core from the loaded configuration.
// In "shared" mode coordination state lives in Redis so multiple instances
// stay consistent; in "local" mode it lives in process memory.
func NewDispatch(db database.IDataSource) (*Dispatch, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	d := &Dispatch{
		datasource: db,
		queue:      NewQueue(configuration),
	}

	if configuration.Mode == config.ModeShared {
		redisClient, err := redis_db.NewRedisClient([]string{configuration.Redis.Dns}, configuration.Redis.SkipTLSVerify)
		if err != nil {
			return nil, err
		}
		d.redis = redisClient.Client()
		d.cache = cache.NewCache(d.redis)
		d.locks = lock.NewRedisManager(d.redis)
		d.presence = presence.NewRedisRegistry(d.redis)
		d.locations = locations.NewRedisCache(d.redis)
		d.timers = timers.NewRedisIndex(d.redis)
	} else {
		d.locks = lock.NewLocalManager()
		d.presence = presence.NewLocalRegistry()
		d.locations = locations.NewLocalCache()
		d.timers = timers.NewLocalIndex()
	}

	return d, nil
}

// SetNotifier wires the realtime transport in after construction. The hub
// needs a Dispatch to route inbound events to, so it cannot exist before
// NewDispatch returns.
func (d *Dispatch) SetNotifier(n Notifier) {
	d.notifier = n
}

// Presence exposes the presence registry to the transport layer.
func (d *Dispatch) Presence() presence.Registry {
	return d.presence
}

// Timers exposes the timer index to the worker command, which runs the
// poller against it.
func (d *Dispatch) Timers() timers.Index {
	return d.timers
}

// Locks exposes the lock manager, shared with the timer poller for its
// per-order execution locks.
func (d *Dispatch) Locks() lock.Manager {
	return d.locks
}

func (d *Dispatch) notify(ctx context.Context, participantID, event string, data interface{}) {
	if d.notifier == nil || participantID == "" {
		return
	}
	if err := d.notifier.Notify(ctx, participantID, event, data); err != nil {
		// Delivery is best effort; the participant may simply be offline.
		logrus.Warnf("notify %s of %s failed: %v", participantID, event, err)
	}
}

func agentLockKey(agentID string) string {
	return agentLockPrefix + agentID
}
