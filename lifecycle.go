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
	"time"

	"github.com/sirupsen/logrus"

	"github.com/swiftcart/dispatch/internal/apierror"
	"github.com/swiftcart/dispatch/model"
)

// deliveryTimeAlpha smooths an agent's rolling average delivery time.
const deliveryTimeAlpha = 0.1

// lookupCacheTTL bounds how stale the read-only order and agent lookups may
// get.
const lookupCacheTTL = 5 * time.Second

func orderLookupKey(orderID string) string {
	return "dispatch:lookup:order:" + orderID
}

func agentLookupKey(agentID string) string {
	return "dispatch:lookup:agent:" + agentID
}

// CreateOrder persists a new PLACED order, decrements inventory for its
// items and queues the first assignment run.
func (d *Dispatch) CreateOrder(ctx context.Context, order *model.Order) (*model.Order, error) {
	ctx, span := tracer.Start(ctx, "Creating Order")
	defer span.End()

	if err := d.datasource.CreateOrder(ctx, order); err != nil {
		return nil, err
	}

	if len(order.Items) > 0 {
		if err := d.datasource.AdjustInventory(ctx, order.Items); err != nil {
			return nil, err
		}
		if err := d.datasource.SetInventoryAdjusted(ctx, order.OrderID, true); err != nil {
			return nil, err
		}
		order.InventoryAdjusted = true
	}

	if err := d.queue.EnqueueAssign(ctx, order.OrderID); err != nil {
		return nil, err
	}
	return order, nil
}

// GetOrder loads one order. This is the read-only lookup path, so it runs
// through the short-TTL cache when one is wired; dispatch-critical reads go
// straight to the store.
func (d *Dispatch) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	if d.cache != nil {
		var cached model.Order
		if err := d.cache.Get(ctx, orderLookupKey(orderID), &cached); err == nil && cached.OrderID != "" {
			return &cached, nil
		}
	}

	order, err := d.datasource.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if d.cache != nil {
		if err := d.cache.Set(ctx, orderLookupKey(orderID), order, lookupCacheTTL); err != nil {
			logrus.Warnf("caching order %s failed: %v", orderID, err)
		}
	}
	return order, nil
}

// CreateAgent registers a new delivery agent.
func (d *Dispatch) CreateAgent(ctx context.Context, agent *model.DeliveryAgent) (*model.DeliveryAgent, error) {
	if err := d.datasource.CreateAgent(ctx, agent); err != nil {
		return nil, err
	}
	return agent, nil
}

// GetAgent loads one agent through the same short-TTL lookup cache as
// GetOrder.
func (d *Dispatch) GetAgent(ctx context.Context, agentID string) (*model.DeliveryAgent, error) {
	if d.cache != nil {
		var cached model.DeliveryAgent
		if err := d.cache.Get(ctx, agentLookupKey(agentID), &cached); err == nil && cached.AgentID != "" {
			return &cached, nil
		}
	}

	agent, err := d.datasource.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if d.cache != nil {
		if err := d.cache.Set(ctx, agentLookupKey(agentID), agent, lookupCacheTTL); err != nil {
			logrus.Warnf("caching agent %s failed: %v", agentID, err)
		}
	}
	return agent, nil
}

// CancelOrder cancels a non-terminal, pre-pickup order on the user's
// behalf: the timer is cleared and any outstanding agent lock released
// before the order settles into CANCELLED. Inventory is restocked when it
// had been adjusted.
func (d *Dispatch) CancelOrder(ctx context.Context, orderID string) error {
	ctx, span := tracer.Start(ctx, "Cancelling Order")
	defer span.End()

	order, err := d.datasource.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if !model.CanTransition(order.Status, model.StatusCancelled) {
		return apierror.NewAPIError(apierror.ErrInvalidTransition,
			"Order can no longer be cancelled", nil)
	}

	if _, err := d.timers.Clear(ctx, orderID); err != nil {
		logrus.Errorf("clearing timer for order %s failed: %v", orderID, err)
	}
	if last := order.LastAttempt(); last != "" {
		if err := d.locks.Release(ctx, agentLockKey(last)); err != nil {
			logrus.Errorf("releasing lock for agent %s failed: %v", last, err)
		}
	}

	moved, err := d.datasource.UpdateOrderStatus(ctx, orderID, order.Status, model.StatusCancelled)
	if err != nil {
		return err
	}
	if !moved {
		return apierror.NewAPIError(apierror.ErrInvalidTransition,
			"Order moved on before the cancellation landed", nil)
	}

	if order.AssignedAgent != "" {
		if err := d.datasource.SetAgentAvailability(ctx, order.AssignedAgent, true, ""); err != nil {
			logrus.Errorf("freeing agent %s failed: %v", order.AssignedAgent, err)
		}
		d.notify(ctx, order.AssignedAgent, model.EventOrderCancelled, model.OrderActionPayload{OrderID: orderID})
	}

	if order.InventoryAdjusted {
		if err := d.datasource.RestockInventory(ctx, order.Items); err != nil {
			logrus.Errorf("restocking inventory for order %s failed: %v", orderID, err)
		} else if err := d.datasource.SetInventoryAdjusted(ctx, orderID, false); err != nil {
			logrus.Errorf("clearing inventory flag for order %s failed: %v", orderID, err)
		}
	}

	d.notify(ctx, order.UserID, model.EventOrderCancelled, model.OrderActionPayload{OrderID: orderID})
	d.queueWebhook(ctx, "order.cancelled", order)
	return nil
}

// RetryAssignment is the manual NO_AGENT_AVAILABLE → ASSIGNING path. The
// attempt history is reset so previously tried agents become eligible
// again.
func (d *Dispatch) RetryAssignment(ctx context.Context, orderID string) (*model.DeliveryAgent, error) {
	order, err := d.datasource.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != model.StatusNoAgentAvailable {
		return nil, apierror.NewAPIError(apierror.ErrInvalidTransition,
			"Order is not awaiting a retry", nil)
	}

	if err := d.datasource.ResetAssignmentAttempts(ctx, orderID); err != nil {
		return nil, err
	}
	return d.ScheduleOrder(ctx, orderID)
}

// PickUpOrder records that the assigned agent collected the order.
func (d *Dispatch) PickUpOrder(ctx context.Context, orderID, agentID string) error {
	order, err := d.requireAssignedAgent(ctx, orderID, agentID)
	if err != nil {
		return err
	}

	moved, err := d.datasource.UpdateOrderStatus(ctx, orderID, model.StatusAccepted, model.StatusPickedUp)
	if err != nil {
		return err
	}
	if !moved {
		return apierror.NewAPIError(apierror.ErrInvalidTransition, "Order is not awaiting pickup", nil)
	}

	d.notify(ctx, order.UserID, model.EventOrderPickedUp, model.OrderActionPayload{OrderID: orderID})
	d.queueWebhook(ctx, "order.picked_up", order)
	return nil
}

// StartDelivery moves a picked-up order out for delivery.
func (d *Dispatch) StartDelivery(ctx context.Context, orderID, agentID string) error {
	order, err := d.requireAssignedAgent(ctx, orderID, agentID)
	if err != nil {
		return err
	}

	moved, err := d.datasource.UpdateOrderStatus(ctx, orderID, model.StatusPickedUp, model.StatusOutForDelivery)
	if err != nil {
		return err
	}
	if !moved {
		return apierror.NewAPIError(apierror.ErrInvalidTransition, "Order has not been picked up", nil)
	}

	d.notify(ctx, order.UserID, model.EventOrderOutForDelivery, model.OrderActionPayload{OrderID: orderID})
	d.queueWebhook(ctx, "order.out_for_delivery", order)
	return nil
}

// DeliverOrder completes the order, frees the agent and folds the delivery
// duration into the agent's rolling average.
func (d *Dispatch) DeliverOrder(ctx context.Context, orderID, agentID string) error {
	ctx, span := tracer.Start(ctx, "Delivering Order")
	defer span.End()

	order, err := d.requireAssignedAgent(ctx, orderID, agentID)
	if err != nil {
		return err
	}

	moved, err := d.datasource.UpdateOrderStatus(ctx, orderID, model.StatusOutForDelivery, model.StatusDelivered)
	if err != nil {
		return err
	}
	if !moved {
		return apierror.NewAPIError(apierror.ErrInvalidTransition, "Order is not out for delivery", nil)
	}

	if err := d.datasource.SetAgentAvailability(ctx, agentID, true, ""); err != nil {
		logrus.Errorf("freeing agent %s failed: %v", agentID, err)
	}
	d.updateDeliveryTime(ctx, agentID, time.Since(order.CreatedAt))

	d.notify(ctx, order.UserID, model.EventOrderDelivered, model.OrderActionPayload{OrderID: orderID})
	d.queueWebhook(ctx, "order.delivered", order)
	return nil
}

// AgentCancelOrder hands an accepted order back for reassignment when the
// agent bails out pre-pickup. The user is told the agent cancelled; a
// reassignment failure leaves the order NO_AGENT_AVAILABLE but does not
// undo the cancellation itself.
func (d *Dispatch) AgentCancelOrder(ctx context.Context, orderID, agentID string) error {
	ctx, span := tracer.Start(ctx, "Agent Cancelling Order")
	defer span.End()

	order, err := d.requireAssignedAgent(ctx, orderID, agentID)
	if err != nil {
		return err
	}
	if order.Status != model.StatusAccepted {
		return apierror.NewAPIError(apierror.ErrInvalidTransition,
			"Order can only be handed back before pickup", nil)
	}

	if _, err := d.timers.Clear(ctx, orderID); err != nil {
		logrus.Errorf("clearing timer for order %s failed: %v", orderID, err)
	}
	if err := d.locks.Release(ctx, agentLockKey(agentID)); err != nil {
		logrus.Errorf("releasing lock for agent %s failed: %v", agentID, err)
	}
	if err := d.datasource.SetAgentAvailability(ctx, agentID, true, ""); err != nil {
		logrus.Errorf("freeing agent %s failed: %v", agentID, err)
	}
	if err := d.datasource.SetOrderAgent(ctx, orderID, ""); err != nil {
		return err
	}

	moved, err := d.datasource.ForceOrderStatus(ctx, orderID, model.StatusAccepted, model.StatusAssigning)
	if err != nil {
		return err
	}
	if !moved {
		return apierror.NewAPIError(apierror.ErrInvalidTransition,
			"Order moved on before the hand-back landed", nil)
	}

	d.notify(ctx, order.UserID, model.EventOrderCancelledByAgent, model.OrderActionPayload{OrderID: orderID})

	if _, err := d.ScheduleOrder(ctx, orderID); err != nil {
		logrus.Errorf("reassignment of order %s after agent cancel failed: %v", orderID, err)
	}
	return nil
}

func (d *Dispatch) requireAssignedAgent(ctx context.Context, orderID, agentID string) (*model.Order, error) {
	order, err := d.datasource.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.AssignedAgent != agentID {
		return nil, apierror.NewAPIError(apierror.ErrUnauthorized, "Order is not assigned to this agent", nil)
	}
	return order, nil
}

func (d *Dispatch) updateDeliveryTime(ctx context.Context, agentID string, elapsed time.Duration) {
	agent, err := d.datasource.GetAgent(ctx, agentID)
	if err != nil {
		logrus.Errorf("loading agent %s for delivery time update failed: %v", agentID, err)
		return
	}

	sample := float64(elapsed.Milliseconds())
	avg := sample
	if agent.AvgDeliveryTimeMs > 0 {
		avg = (1-deliveryTimeAlpha)*agent.AvgDeliveryTimeMs + deliveryTimeAlpha*sample
	}
	if err := d.datasource.UpdateAvgDeliveryTime(ctx, agentID, avg); err != nil {
		logrus.Errorf("updating delivery time of agent %s failed: %v", agentID, err)
	}
}
