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

	"github.com/swiftcart/dispatch/internal/apierror"
	"github.com/swiftcart/dispatch/model"
)

// MarkAgentOnline records the agent's connectivity in the directory. The
// transport calls it when an agent identifies itself on a connection and
// again when the disconnect grace period expires. Coming online with no
// active order also restores availability, so an agent parked by a
// disconnect re-enters the offer pool on reconnect.
func (d *Dispatch) MarkAgentOnline(ctx context.Context, agentID string, online bool) error {
	if err := d.datasource.SetAgentOnline(ctx, agentID, online); err != nil {
		return err
	}
	if !online {
		return nil
	}

	agent, err := d.datasource.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if agent.ActiveOrder != "" || agent.IsAvailable {
		return nil
	}
	return d.datasource.SetAgentAvailability(ctx, agentID, true, "")
}

// RelayMessageToAgent forwards a user's chat message to the agent working
// the order.
func (d *Dispatch) RelayMessageToAgent(ctx context.Context, payload model.ChatPayload) error {
	order, err := d.datasource.GetOrder(ctx, payload.OrderID)
	if err != nil {
		return err
	}
	if order.AssignedAgent == "" {
		return apierror.NewAPIError(apierror.ErrBadRequest, "Order has no assigned agent", nil)
	}
	d.notify(ctx, order.AssignedAgent, model.EventUserMessage, payload)
	return nil
}

// RelayMessageToUser forwards an agent's chat message to the order's user.
func (d *Dispatch) RelayMessageToUser(ctx context.Context, payload model.ChatPayload) error {
	order, err := d.datasource.GetOrder(ctx, payload.OrderID)
	if err != nil {
		return err
	}
	d.notify(ctx, order.UserID, model.EventAgentMessage, payload)
	return nil
}

// RelayRoute forwards the agent's planned route to the order's user.
func (d *Dispatch) RelayRoute(ctx context.Context, payload model.RoutePayload) error {
	order, err := d.datasource.GetOrder(ctx, payload.OrderID)
	if err != nil {
		return err
	}
	d.notify(ctx, order.UserID, model.EventRouteUpdateBroadcast, payload)
	return nil
}
