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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/swiftcart/dispatch/database"
	"github.com/swiftcart/dispatch/internal/apierror"
	"github.com/swiftcart/dispatch/model"
)

func TestAcceptOrder_Success(t *testing.T) {
	d, ds, notifier, _ := newTestDispatch()
	ctx := context.Background()

	order := assigningOrder("ord_1", "agt_1")
	agent := &model.DeliveryAgent{AgentID: "agt_1", AcceptanceRate: 0.8}

	// The offer armed a timer and holds the agent's lock.
	assert.NoError(t, d.timers.Arm(ctx, "ord_1", time.Now().Add(30*time.Second)))
	acquired, err := d.locks.Acquire(ctx, agentLockKey("agt_1"), time.Minute)
	assert.NoError(t, err)
	assert.True(t, acquired)

	ds.On("GetOrder", mock.Anything, "ord_1").Return(order, nil)
	ds.On("UpdateOrderStatus", mock.Anything, "ord_1", model.StatusAssigning, model.StatusAccepted).Return(true, nil)
	ds.On("SetOrderAgent", mock.Anything, "ord_1", "agt_1").Return(nil)
	ds.On("SetAgentAvailability", mock.Anything, "agt_1", false, "ord_1").Return(nil)
	ds.On("GetAgent", mock.Anything, "agt_1").Return(agent, nil)
	ds.On("UpdateAcceptanceRate", mock.Anything, "agt_1", mock.MatchedBy(func(rate float64) bool {
		return rate > 0.8 // accept raises the rolling rate
	})).Return(nil)

	assert.NoError(t, d.AcceptOrder(ctx, "ord_1", "agt_1"))

	// Timer cleared and lock released.
	due, err := d.timers.Due(ctx, time.Now().Add(time.Minute), 10)
	assert.NoError(t, err)
	assert.Empty(t, due)
	reacquired, err := d.locks.Acquire(ctx, agentLockKey("agt_1"), time.Second)
	assert.NoError(t, err)
	assert.True(t, reacquired)

	events := notifier.sent()
	assert.Len(t, events, 1)
	assert.Equal(t, "usr_1", events[0].ParticipantID)
	assert.Equal(t, model.EventOrderAccepted, events[0].Event)
}

func TestAcceptOrder_Idempotent(t *testing.T) {
	d, ds, notifier, _ := newTestDispatch()
	ctx := context.Background()

	order := assigningOrder("ord_1", "agt_1")
	order.Status = model.StatusAccepted
	order.AssignedAgent = "agt_1"

	ds.On("GetOrder", mock.Anything, "ord_1").Return(order, nil)

	assert.NoError(t, d.AcceptOrder(ctx, "ord_1", "agt_1"))
	assert.Empty(t, notifier.sent())
	ds.AssertExpectations(t)
}

func TestAcceptOrder_NotCurrentOfferee(t *testing.T) {
	d, ds, notifier, _ := newTestDispatch()
	ctx := context.Background()

	order := assigningOrder("ord_1", "agt_1", "agt_2")

	ds.On("GetOrder", mock.Anything, "ord_1").Return(order, nil)

	err := d.AcceptOrder(ctx, "ord_1", "agt_1")
	assert.Equal(t, apierror.ErrUnauthorized, apierror.Code(err))
	assert.Empty(t, notifier.sent())
	// No mutation was attempted.
	ds.AssertNotCalled(t, "UpdateOrderStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRejectOrder_ExcludesAgentAndReschedules(t *testing.T) {
	d, ds, notifier, _ := newTestDispatch()
	ctx := context.Background()

	order := assigningOrder("ord_1", "agt_1")
	rejecting := &model.DeliveryAgent{AgentID: "agt_1", AcceptanceRate: 1.0}
	next := &model.DeliveryAgent{AgentID: "agt_2", Lat: 0.009, Lon: 0, IsOnline: true, IsAvailable: true, AcceptanceRate: 1}

	acquired, err := d.locks.Acquire(ctx, agentLockKey("agt_1"), time.Minute)
	assert.NoError(t, err)
	assert.True(t, acquired)

	ds.On("GetOrder", mock.Anything, "ord_1").Return(order, nil)
	ds.On("GetAgent", mock.Anything, "agt_1").Return(rejecting, nil)
	ds.On("UpdateAcceptanceRate", mock.Anything, "agt_1", mock.MatchedBy(func(rate float64) bool {
		return rate < 1.0 // reject lowers the rolling rate
	})).Return(nil)
	// The rescheduling run must exclude the rejecting agent.
	ds.On("FindEligibleAgents", mock.Anything, mock.MatchedBy(func(q database.EligibleAgentsQuery) bool {
		for _, id := range q.ExcludeIDs {
			if id == "agt_1" {
				return true
			}
		}
		return false
	})).Return([]*model.DeliveryAgent{next}, nil)
	ds.On("AppendAssignmentAttempt", mock.Anything, "ord_1", "agt_2").Return(nil)
	ds.On("IncrementRecentAssignments", mock.Anything, "agt_2").Return(nil)

	assert.NoError(t, d.RejectOrder(ctx, "ord_1", "agt_1"))

	// agt_1's lock was released, agt_2 now holds one.
	free, err := d.locks.Acquire(ctx, agentLockKey("agt_1"), time.Second)
	assert.NoError(t, err)
	assert.True(t, free)
	held, err := d.locks.Acquire(ctx, agentLockKey("agt_2"), time.Second)
	assert.NoError(t, err)
	assert.False(t, held)

	events := notifier.sent()
	assert.Len(t, events, 1)
	assert.Equal(t, "agt_2", events[0].ParticipantID)
	assert.Equal(t, model.EventNewOrder, events[0].Event)
}

func TestRejectOrder_StaleCaller(t *testing.T) {
	d, ds, _, _ := newTestDispatch()
	ctx := context.Background()

	order := assigningOrder("ord_1", "agt_1", "agt_2")

	ds.On("GetOrder", mock.Anything, "ord_1").Return(order, nil)

	err := d.RejectOrder(ctx, "ord_1", "agt_1")
	assert.Equal(t, apierror.ErrUnauthorized, apierror.Code(err))
	ds.AssertExpectations(t)
}

func TestHandleOfferTimeout_ReassignsToUntriedAgent(t *testing.T) {
	d, ds, notifier, _ := newTestDispatch()
	ctx := context.Background()

	order := assigningOrder("ord_1", "agt_1")
	next := &model.DeliveryAgent{AgentID: "agt_2", Lat: 0.009, Lon: 0, IsOnline: true, IsAvailable: true, AcceptanceRate: 1}

	acquired, err := d.locks.Acquire(ctx, agentLockKey("agt_1"), time.Minute)
	assert.NoError(t, err)
	assert.True(t, acquired)

	ds.On("GetOrder", mock.Anything, "ord_1").Return(order, nil)
	ds.On("FindEligibleAgents", mock.Anything, mock.Anything).Return([]*model.DeliveryAgent{next}, nil)
	ds.On("AppendAssignmentAttempt", mock.Anything, "ord_1", "agt_2").Return(nil)
	ds.On("IncrementRecentAssignments", mock.Anything, "agt_2").Return(nil)

	d.HandleOfferTimeout(ctx, "ord_1")

	// The timed-out agent's lock is gone; the new offeree is notified.
	free, err := d.locks.Acquire(ctx, agentLockKey("agt_1"), time.Second)
	assert.NoError(t, err)
	assert.True(t, free)

	events := notifier.sent()
	assert.Len(t, events, 1)
	assert.Equal(t, "agt_2", events[0].ParticipantID)
}

func TestHandleOfferTimeout_AcceptedOrderUntouched(t *testing.T) {
	d, ds, notifier, _ := newTestDispatch()
	ctx := context.Background()

	order := assigningOrder("ord_1", "agt_1")
	order.Status = model.StatusAccepted
	order.AssignedAgent = "agt_1"

	ds.On("GetOrder", mock.Anything, "ord_1").Return(order, nil)

	d.HandleOfferTimeout(ctx, "ord_1")
	assert.Empty(t, notifier.sent())
	ds.AssertNotCalled(t, "FindEligibleAgents", mock.Anything, mock.Anything)
}

func TestHandleAgentDisconnect_ReassignsActiveOrder(t *testing.T) {
	d, ds, notifier, _ := newTestDispatch()
	ctx := context.Background()

	agent := &model.DeliveryAgent{AgentID: "agt_1", ActiveOrder: "ord_1", IsOnline: true}
	order := assigningOrder("ord_1", "agt_1")
	order.Status = model.StatusAccepted
	order.AssignedAgent = "agt_1"
	next := &model.DeliveryAgent{AgentID: "agt_2", Lat: 0.009, Lon: 0, IsOnline: true, IsAvailable: true, AcceptanceRate: 1}

	ds.On("GetAgent", mock.Anything, "agt_1").Return(agent, nil)
	ds.On("SetAgentOnline", mock.Anything, "agt_1", false).Return(nil)
	ds.On("GetOrder", mock.Anything, "ord_1").Return(order, nil)
	ds.On("SetAgentAvailability", mock.Anything, "agt_1", false, "").Return(nil)
	ds.On("SetOrderAgent", mock.Anything, "ord_1", "").Return(nil)
	ds.On("ForceOrderStatus", mock.Anything, "ord_1", model.StatusAccepted, model.StatusAssigning).Return(true, nil).Run(func(mock.Arguments) {
		order.Status = model.StatusAssigning
	})
	ds.On("FindEligibleAgents", mock.Anything, mock.Anything).Return([]*model.DeliveryAgent{next}, nil)
	ds.On("AppendAssignmentAttempt", mock.Anything, "ord_1", "agt_2").Return(nil)
	ds.On("IncrementRecentAssignments", mock.Anything, "agt_2").Return(nil)

	d.HandleAgentDisconnect(ctx, "agt_1")

	events := notifier.sent()
	assert.Len(t, events, 1)
	assert.Equal(t, "agt_2", events[0].ParticipantID)
	assert.Equal(t, model.EventNewOrder, events[0].Event)
	ds.AssertExpectations(t)
}

func TestHandleAgentDisconnect_NoActiveOrder(t *testing.T) {
	d, ds, notifier, _ := newTestDispatch()
	ctx := context.Background()

	agent := &model.DeliveryAgent{AgentID: "agt_1", IsOnline: true}

	ds.On("GetAgent", mock.Anything, "agt_1").Return(agent, nil)
	ds.On("SetAgentOnline", mock.Anything, "agt_1", false).Return(nil)

	d.HandleAgentDisconnect(ctx, "agt_1")
	assert.Empty(t, notifier.sent())
	ds.AssertExpectations(t)
}
