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

package database

import (
	"context"

	"github.com/swiftcart/dispatch/model"
)

// IDataSource is the durable-store contract the dispatch core is written
// against. All writes are field-scoped: each method touches only the
// columns it names, so concurrent writers on different fields do not
// clobber each other.
type IDataSource interface {
	order
	agent
	inventory
}

// OrderLocationUpdate is one row of a bulk live-location flush for orders.
type OrderLocationUpdate struct {
	OrderID string
	Lat     float64
	Lon     float64
}

// AgentLocationUpdate is one row of a bulk position flush for agents.
type AgentLocationUpdate struct {
	AgentID string
	Lat     float64
	Lon     float64
}

// EligibleAgentsQuery shortlists agents who could be offered an order.
// RadiusKM <= 0 disables the radius constraint; Pincode == "" disables
// pincode matching. ExcludeIDs carries the order's attempt history.
type EligibleAgentsQuery struct {
	RefLat     float64
	RefLon     float64
	RadiusKM   float64
	Pincode    string
	ExcludeIDs []string
}

type order interface {
	CreateOrder(ctx context.Context, order *model.Order) error
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
	// UpdateOrderStatus persists a transition and reports false when the
	// order was no longer in the expected state, which callers treat as a
	// lost race rather than a fault.
	UpdateOrderStatus(ctx context.Context, orderID string, from, to model.OrderStatus) (bool, error)
	// ForceOrderStatus bypasses the public transition table for forced
	// reassignment paths; it remains conditional on the current status.
	ForceOrderStatus(ctx context.Context, orderID string, from, to model.OrderStatus) (bool, error)
	AppendAssignmentAttempt(ctx context.Context, orderID, agentID string) error
	ResetAssignmentAttempts(ctx context.Context, orderID string) error
	SetOrderAgent(ctx context.Context, orderID, agentID string) error
	SetInventoryAdjusted(ctx context.Context, orderID string, adjusted bool) error
	UpdateOrderLiveLocation(ctx context.Context, orderID string, lat, lon float64) error
	BulkUpdateOrderLocations(ctx context.Context, updates []OrderLocationUpdate) error
}

type agent interface {
	CreateAgent(ctx context.Context, agent *model.DeliveryAgent) error
	GetAgent(ctx context.Context, agentID string) (*model.DeliveryAgent, error)
	FindEligibleAgents(ctx context.Context, query EligibleAgentsQuery) ([]*model.DeliveryAgent, error)
	SetAgentAvailability(ctx context.Context, agentID string, available bool, activeOrder string) error
	SetAgentOnline(ctx context.Context, agentID string, online bool) error
	IncrementRecentAssignments(ctx context.Context, agentID string) error
	UpdateAcceptanceRate(ctx context.Context, agentID string, rate float64) error
	UpdateAvgDeliveryTime(ctx context.Context, agentID string, avgMs float64) error
	BulkUpdateAgentLocations(ctx context.Context, updates []AgentLocationUpdate) error
}

type inventory interface {
	AdjustInventory(ctx context.Context, items []model.OrderItem) error
	RestockInventory(ctx context.Context, items []model.OrderItem) error
}
