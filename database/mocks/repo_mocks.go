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
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/swiftcart/dispatch/database"
	"github.com/swiftcart/dispatch/model"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Order methods

func (m *MockDataSource) CreateOrder(ctx context.Context, order *model.Order) error {
	args := m.Called(ctx, order)
	return args.Error(0)
}

func (m *MockDataSource) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *MockDataSource) UpdateOrderStatus(ctx context.Context, orderID string, from, to model.OrderStatus) (bool, error) {
	args := m.Called(ctx, orderID, from, to)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) ForceOrderStatus(ctx context.Context, orderID string, from, to model.OrderStatus) (bool, error) {
	args := m.Called(ctx, orderID, from, to)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) AppendAssignmentAttempt(ctx context.Context, orderID, agentID string) error {
	args := m.Called(ctx, orderID, agentID)
	return args.Error(0)
}

func (m *MockDataSource) ResetAssignmentAttempts(ctx context.Context, orderID string) error {
	args := m.Called(ctx, orderID)
	return args.Error(0)
}

func (m *MockDataSource) SetOrderAgent(ctx context.Context, orderID, agentID string) error {
	args := m.Called(ctx, orderID, agentID)
	return args.Error(0)
}

func (m *MockDataSource) SetInventoryAdjusted(ctx context.Context, orderID string, adjusted bool) error {
	args := m.Called(ctx, orderID, adjusted)
	return args.Error(0)
}

func (m *MockDataSource) UpdateOrderLiveLocation(ctx context.Context, orderID string, lat, lon float64) error {
	args := m.Called(ctx, orderID, lat, lon)
	return args.Error(0)
}

func (m *MockDataSource) BulkUpdateOrderLocations(ctx context.Context, updates []database.OrderLocationUpdate) error {
	args := m.Called(ctx, updates)
	return args.Error(0)
}

// Agent methods

func (m *MockDataSource) CreateAgent(ctx context.Context, agent *model.DeliveryAgent) error {
	args := m.Called(ctx, agent)
	return args.Error(0)
}

func (m *MockDataSource) GetAgent(ctx context.Context, agentID string) (*model.DeliveryAgent, error) {
	args := m.Called(ctx, agentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DeliveryAgent), args.Error(1)
}

func (m *MockDataSource) FindEligibleAgents(ctx context.Context, query database.EligibleAgentsQuery) ([]*model.DeliveryAgent, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.DeliveryAgent), args.Error(1)
}

func (m *MockDataSource) SetAgentAvailability(ctx context.Context, agentID string, available bool, activeOrder string) error {
	args := m.Called(ctx, agentID, available, activeOrder)
	return args.Error(0)
}

func (m *MockDataSource) SetAgentOnline(ctx context.Context, agentID string, online bool) error {
	args := m.Called(ctx, agentID, online)
	return args.Error(0)
}

func (m *MockDataSource) IncrementRecentAssignments(ctx context.Context, agentID string) error {
	args := m.Called(ctx, agentID)
	return args.Error(0)
}

func (m *MockDataSource) UpdateAcceptanceRate(ctx context.Context, agentID string, rate float64) error {
	args := m.Called(ctx, agentID, rate)
	return args.Error(0)
}

func (m *MockDataSource) UpdateAvgDeliveryTime(ctx context.Context, agentID string, avgMs float64) error {
	args := m.Called(ctx, agentID, avgMs)
	return args.Error(0)
}

func (m *MockDataSource) BulkUpdateAgentLocations(ctx context.Context, updates []database.AgentLocationUpdate) error {
	args := m.Called(ctx, updates)
	return args.Error(0)
}

// Inventory methods

func (m *MockDataSource) AdjustInventory(ctx context.Context, items []model.OrderItem) error {
	args := m.Called(ctx, items)
	return args.Error(0)
}

func (m *MockDataSource) RestockInventory(ctx context.Context, items []model.OrderItem) error {
	args := m.Called(ctx, items)
	return args.Error(0)
}
