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
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/swiftcart/dispatch/config"
	"github.com/swiftcart/dispatch/database"
	"github.com/swiftcart/dispatch/model"
)

// Dirty-key namespaces: agent samples flush into the agent row, order
// samples into the order's live-location columns.
const (
	agentSampleKeyPrefix = "agent:"
	orderSampleKeyPrefix = "order:"
)

// IngestAgentLocation buffers an agent position ping and, when the ping
// names an order, relays it to that order's user subject to the throttle.
func (d *Dispatch) IngestAgentLocation(ctx context.Context, payload model.AgentLocationPayload) error {
	cnf, err := config.Fetch()
	if err != nil {
		return err
	}

	sample := model.LocationSample{Lat: payload.Lat, Lon: payload.Lon, Timestamp: time.Now().UnixMilli()}
	if err := d.locations.Upsert(ctx, agentSampleKeyPrefix+payload.AgentID, sample, cnf.LocationTTL()); err != nil {
		return err
	}

	if payload.OrderID == "" {
		return nil
	}
	return d.relayToCounterpart(ctx, cnf, payload.OrderID, payload.AgentID, model.EventLiveLocationUpdate,
		model.LiveLocationBroadcast{OrderID: payload.OrderID, AgentID: payload.AgentID, Lat: payload.Lat, Lon: payload.Lon},
		func(order *model.Order) string { return order.UserID })
}

// IngestUserLocation buffers a user position ping against the order and
// relays it to the assigned agent subject to the throttle.
func (d *Dispatch) IngestUserLocation(ctx context.Context, payload model.UserLocationPayload) error {
	cnf, err := config.Fetch()
	if err != nil {
		return err
	}

	sample := model.LocationSample{Lat: payload.Lat, Lon: payload.Lon, Timestamp: time.Now().UnixMilli()}
	if err := d.locations.Upsert(ctx, orderSampleKeyPrefix+payload.OrderID, sample, cnf.LocationTTL()); err != nil {
		return err
	}

	return d.relayToCounterpart(ctx, cnf, payload.OrderID, payload.OrderID, model.EventUserLocationBroadcast,
		model.LiveLocationBroadcast{OrderID: payload.OrderID, Lat: payload.Lat, Lon: payload.Lon},
		func(order *model.Order) string { return order.AssignedAgent })
}

// relayToCounterpart pushes a live update to the other side of the order at
// most once per throttle interval for the (order, participant) pair.
func (d *Dispatch) relayToCounterpart(ctx context.Context, cnf *config.Configuration, orderID, participantID, event string, data interface{}, pick func(*model.Order) string) error {
	allowed, err := d.locations.AllowRelay(ctx, orderID, participantID, cnf.RelayThrottle())
	if err != nil {
		return err
	}
	if !allowed {
		return nil
	}

	order, err := d.datasource.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	d.notify(ctx, pick(order), event, data)
	return nil
}

// FlushLocations drains up to one batch of dirty location keys into the
// durable store. Missing or expired samples are dropped. Bulk writes are
// retried briefly with exponential backoff before the keys are abandoned to
// the next ingest cycle.
func (d *Dispatch) FlushLocations(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Flushing Buffered Locations")
	defer span.End()

	cnf, err := config.Fetch()
	if err != nil {
		return err
	}

	keys, err := d.locations.PopDirty(ctx, cnf.Location.FlushBatchSize)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	var agentUpdates []database.AgentLocationUpdate
	var orderUpdates []database.OrderLocationUpdate
	for _, key := range keys {
		sample, err := d.locations.Get(ctx, key)
		if err != nil {
			logrus.Errorf("resolving location sample %s failed: %v", key, err)
			continue
		}
		if sample == nil {
			continue
		}

		switch {
		case strings.HasPrefix(key, agentSampleKeyPrefix):
			agentUpdates = append(agentUpdates, database.AgentLocationUpdate{
				AgentID: strings.TrimPrefix(key, agentSampleKeyPrefix),
				Lat:     sample.Lat,
				Lon:     sample.Lon,
			})
		case strings.HasPrefix(key, orderSampleKeyPrefix):
			orderUpdates = append(orderUpdates, database.OrderLocationUpdate{
				OrderID: strings.TrimPrefix(key, orderSampleKeyPrefix),
				Lat:     sample.Lat,
				Lon:     sample.Lon,
			})
		}
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	return backoff.Retry(func() error {
		if err := d.datasource.BulkUpdateAgentLocations(ctx, agentUpdates); err != nil {
			return err
		}
		return d.datasource.BulkUpdateOrderLocations(ctx, orderUpdates)
	}, policy)
}

// StartLocationFlusher runs FlushLocations on the configured interval until
// the context is cancelled.
func (d *Dispatch) StartLocationFlusher(ctx context.Context) {
	cnf, err := config.Fetch()
	if err != nil {
		logrus.Error(err)
		return
	}

	ticker := time.NewTicker(time.Duration(cnf.Location.FlushIntervalSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.FlushLocations(ctx); err != nil {
				logrus.Errorf("location flush failed: %v", err)
			}
		}
	}
}
