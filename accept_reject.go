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

	"github.com/sirupsen/logrus"

	"github.com/swiftcart/dispatch/internal/apierror"
	"github.com/swiftcart/dispatch/model"
)

// AcceptOrder resolves an outstanding offer in the agent's favor. Only the
// current offeree (the last assignment attempt) may accept; anyone else gets
// Unauthorized with no state change. Accepting an order this agent already
// holds is idempotent.
func (d *Dispatch) AcceptOrder(ctx context.Context, orderID, agentID string) error {
	ctx, span := tracer.Start(ctx, "Accepting Order")
	defer span.End()

	order, err := d.datasource.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	if order.Status == model.StatusAccepted && order.AssignedAgent == agentID {
		return nil
	}
	if order.LastAttempt() != agentID {
		return apierror.NewAPIError(apierror.ErrUnauthorized, "Agent does not hold the current offer", nil)
	}
	if order.Status != model.StatusAssigning {
		return apierror.NewAPIError(apierror.ErrInvalidTransition,
			"Order is not awaiting acceptance", nil)
	}

	if _, err := d.timers.Clear(ctx, orderID); err != nil {
		logrus.Errorf("clearing timer for order %s failed: %v", orderID, err)
	}

	moved, err := d.datasource.UpdateOrderStatus(ctx, orderID, model.StatusAssigning, model.StatusAccepted)
	if err != nil {
		return err
	}
	if !moved {
		// Lost the race to a concurrent resolution of this offer.
		return apierror.NewAPIError(apierror.ErrUnauthorized, "Offer is no longer open", nil)
	}

	if err := d.datasource.SetOrderAgent(ctx, orderID, agentID); err != nil {
		return err
	}
	if err := d.datasource.SetAgentAvailability(ctx, agentID, false, orderID); err != nil {
		return err
	}
	d.applyAcceptanceSample(ctx, agentID, true)

	if err := d.locks.Release(ctx, agentLockKey(agentID)); err != nil {
		logrus.Errorf("releasing lock for agent %s failed: %v", agentID, err)
	}

	d.notify(ctx, order.UserID, model.EventOrderAccepted, map[string]interface{}{
		"order_id": orderID,
		"agent_id": agentID,
	})
	d.queueWebhook(ctx, "order.accepted", order)
	return nil
}

// RejectOrder resolves an outstanding offer against the agent and
// immediately re-runs the scheduler, without waiting for the offer timeout.
// The rejecting agent stays in assignmentAttempts, so it is not re-offered
// this order until the attempts are explicitly reset.
func (d *Dispatch) RejectOrder(ctx context.Context, orderID, agentID string) error {
	ctx, span := tracer.Start(ctx, "Rejecting Order")
	defer span.End()

	order, err := d.datasource.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	if order.Status != model.StatusAssigning || order.LastAttempt() != agentID {
		return apierror.NewAPIError(apierror.ErrUnauthorized, "Agent does not hold the current offer", nil)
	}

	if _, err := d.timers.Clear(ctx, orderID); err != nil {
		logrus.Errorf("clearing timer for order %s failed: %v", orderID, err)
	}
	if err := d.locks.Release(ctx, agentLockKey(agentID)); err != nil {
		logrus.Errorf("releasing lock for agent %s failed: %v", agentID, err)
	}
	d.applyAcceptanceSample(ctx, agentID, false)

	if _, err := d.ScheduleOrder(ctx, orderID); err != nil {
		if apierror.Code(err) == apierror.ErrUnavailable {
			return nil
		}
		return err
	}
	return nil
}

// HandleOfferTimeout is the timer poller's handler: the offeree never
// responded, so release its lock and, if the order is still open, offer it
// to someone else. Firing for an already resolved order is a no-op.
func (d *Dispatch) HandleOfferTimeout(ctx context.Context, orderID string) {
	ctx, span := tracer.Start(ctx, "Handling Offer Timeout")
	defer span.End()

	order, err := d.datasource.GetOrder(ctx, orderID)
	if err != nil {
		logrus.Errorf("loading order %s for timeout failed: %v", orderID, err)
		return
	}

	if last := order.LastAttempt(); last != "" {
		if err := d.locks.Release(ctx, agentLockKey(last)); err != nil {
			logrus.Errorf("releasing lock for agent %s failed: %v", last, err)
		}
	}

	if order.Status.Terminal() || order.Status == model.StatusAccepted {
		return
	}

	if _, err := d.ScheduleOrder(ctx, orderID); err != nil {
		logrus.Errorf("reassignment of order %s after timeout failed: %v", orderID, err)
	}
}

// HandleAgentDisconnect is invoked after the disconnect grace period with no
// reconnection. The agent is marked offline; an active non-terminal order is
// stripped from it and rescheduled.
func (d *Dispatch) HandleAgentDisconnect(ctx context.Context, agentID string) {
	ctx, span := tracer.Start(ctx, "Handling Agent Disconnect")
	defer span.End()

	agent, err := d.datasource.GetAgent(ctx, agentID)
	if err != nil {
		logrus.Errorf("loading agent %s for disconnect failed: %v", agentID, err)
		return
	}

	if err := d.datasource.SetAgentOnline(ctx, agentID, false); err != nil {
		logrus.Errorf("marking agent %s offline failed: %v", agentID, err)
	}

	if agent.ActiveOrder == "" {
		return
	}

	order, err := d.datasource.GetOrder(ctx, agent.ActiveOrder)
	if err != nil {
		logrus.Errorf("loading active order %s of agent %s failed: %v", agent.ActiveOrder, agentID, err)
		return
	}
	if order.Status.Terminal() {
		return
	}

	if _, err := d.timers.Clear(ctx, order.OrderID); err != nil {
		logrus.Errorf("clearing timer for order %s failed: %v", order.OrderID, err)
	}
	if err := d.locks.Release(ctx, agentLockKey(agentID)); err != nil {
		logrus.Errorf("releasing lock for agent %s failed: %v", agentID, err)
	}
	if err := d.datasource.SetAgentAvailability(ctx, agentID, false, ""); err != nil {
		logrus.Errorf("clearing active order of agent %s failed: %v", agentID, err)
	}
	if err := d.datasource.SetOrderAgent(ctx, order.OrderID, ""); err != nil {
		logrus.Errorf("clearing assigned agent of order %s failed: %v", order.OrderID, err)
	}

	if order.Status != model.StatusAssigning {
		moved, err := d.datasource.ForceOrderStatus(ctx, order.OrderID, order.Status, model.StatusAssigning)
		if err != nil || !moved {
			logrus.Errorf("forcing order %s back to assigning failed: %v", order.OrderID, err)
			return
		}
	}

	if _, err := d.ScheduleOrder(ctx, order.OrderID); err != nil {
		logrus.Errorf("reassignment of order %s after disconnect failed: %v", order.OrderID, err)
	}
}

// applyAcceptanceSample folds one accept/reject outcome into the agent's
// rolling acceptance rate. A failure here must not fail the accept/reject
// itself.
func (d *Dispatch) applyAcceptanceSample(ctx context.Context, agentID string, accepted bool) {
	agent, err := d.datasource.GetAgent(ctx, agentID)
	if err != nil {
		logrus.Errorf("loading agent %s for acceptance update failed: %v", agentID, err)
		return
	}
	agent.ApplyAcceptanceSample(accepted)
	if err := d.datasource.UpdateAcceptanceRate(ctx, agentID, agent.AcceptanceRate); err != nil {
		logrus.Errorf("updating acceptance rate of agent %s failed: %v", agentID, err)
	}
}
