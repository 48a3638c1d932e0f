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
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/swiftcart/dispatch/config"
	"github.com/swiftcart/dispatch/database"
	"github.com/swiftcart/dispatch/internal/apierror"
	"github.com/swiftcart/dispatch/model"
)

// Scoring weights, lower total wins. Normalization bases are computed per
// call over the current candidate set.
const (
	weightDistance     = 0.5
	weightDeliveryTime = 0.3
	weightAcceptance   = 0.1
	weightFairness     = 0.1
)

type scoredAgent struct {
	agent *model.DeliveryAgent
	score float64
}

// ScheduleOrder finds and locks the best eligible agent for the order,
// records the offer and arms the timeout timer. It returns the offered
// agent, or nil when no agent could be offered, in which case the order is
// left NO_AGENT_AVAILABLE. Orders already ACCEPTED or terminal are left
// untouched.
func (d *Dispatch) ScheduleOrder(ctx context.Context, orderID string) (*model.DeliveryAgent, error) {
	ctx, span := tracer.Start(ctx, "Scheduling Order Assignment")
	defer span.End()

	order, err := d.datasource.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status.Terminal() || order.Status == model.StatusAccepted {
		return nil, nil
	}

	if order.Status != model.StatusAssigning {
		moved, err := d.datasource.UpdateOrderStatus(ctx, orderID, order.Status, model.StatusAssigning)
		if err != nil {
			return nil, err
		}
		if !moved {
			// Someone else drove the order forward between the read and the
			// write; nothing to schedule.
			return nil, nil
		}
		order.Status = model.StatusAssigning
	}

	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	candidates, err := d.findCandidates(ctx, cnf, order)
	if err != nil {
		logrus.Errorf("eligibility query for order %s failed: %v", orderID, err)
		return nil, d.markNoAgentAvailable(ctx, order)
	}

	refLat, refLon := referencePoint(cnf, order)
	scored := scoreAgents(candidates, refLat, refLon, cnf.Assignment.RadiusKM)

	for _, candidate := range scored {
		agent := candidate.agent
		acquired, err := d.locks.Acquire(ctx, agentLockKey(agent.AgentID), cnf.AgentLockTTL())
		if err != nil {
			logrus.Errorf("lock acquisition for agent %s failed: %v", agent.AgentID, err)
			continue
		}
		if !acquired {
			// Another order holds an outstanding offer to this agent.
			continue
		}

		if err := d.recordOffer(ctx, cnf, order, agent); err != nil {
			logrus.Errorf("recording offer of order %s to agent %s failed: %v", orderID, agent.AgentID, err)
			if releaseErr := d.locks.Release(ctx, agentLockKey(agent.AgentID)); releaseErr != nil {
				logrus.Error(releaseErr)
			}
			return nil, d.markNoAgentAvailable(ctx, order)
		}
		return agent, nil
	}

	return nil, d.markNoAgentAvailable(ctx, order)
}

// findCandidates runs the eligibility query against the agent directory,
// first with the configured radius, then without it when the radius comes
// back empty.
func (d *Dispatch) findCandidates(ctx context.Context, cnf *config.Configuration, order *model.Order) ([]*model.DeliveryAgent, error) {
	refLat, refLon := referencePoint(cnf, order)
	query := database.EligibleAgentsQuery{
		RefLat:     refLat,
		RefLon:     refLon,
		RadiusKM:   cnf.Assignment.RadiusKM,
		ExcludeIDs: order.AssignmentAttempts,
	}
	if cnf.Assignment.MatchPincode {
		query.Pincode = order.ShippingAddress.Pincode
	}
	if query.ExcludeIDs == nil {
		query.ExcludeIDs = []string{}
	}

	candidates, err := d.datasource.FindEligibleAgents(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(candidates) > 0 {
		return candidates, nil
	}

	query.RadiusKM = 0
	return d.datasource.FindEligibleAgents(ctx, query)
}

// recordOffer persists the offer after the agent lock is held: append the
// attempt, bump the fairness counter, notify the agent and arm the timeout.
func (d *Dispatch) recordOffer(ctx context.Context, cnf *config.Configuration, order *model.Order, agent *model.DeliveryAgent) error {
	if err := d.datasource.AppendAssignmentAttempt(ctx, order.OrderID, agent.AgentID); err != nil {
		return err
	}
	order.AssignmentAttempts = append(order.AssignmentAttempts, agent.AgentID)

	if err := d.datasource.IncrementRecentAssignments(ctx, agent.AgentID); err != nil {
		return err
	}

	if err := d.timers.Arm(ctx, order.OrderID, time.Now().Add(cnf.OfferTimeout())); err != nil {
		return err
	}

	d.notify(ctx, agent.AgentID, model.EventNewOrder, order)
	d.queueWebhook(ctx, "order.assigned", order)
	return nil
}

// markNoAgentAvailable degrades the order instead of leaving it stuck in
// ASSIGNING, clearing any armed timer.
func (d *Dispatch) markNoAgentAvailable(ctx context.Context, order *model.Order) error {
	if _, err := d.timers.Clear(ctx, order.OrderID); err != nil {
		logrus.Errorf("clearing timer for order %s failed: %v", order.OrderID, err)
	}

	moved, err := d.datasource.UpdateOrderStatus(ctx, order.OrderID, model.StatusAssigning, model.StatusNoAgentAvailable)
	if err != nil {
		return err
	}
	if moved {
		d.notify(ctx, order.UserID, model.EventNoAgentAvailable, model.OrderActionPayload{OrderID: order.OrderID})
		d.queueWebhook(ctx, "order.no_agent_available", order)
	}
	return apierror.NewAPIError(apierror.ErrUnavailable, "No eligible agent available for order "+order.OrderID, nil)
}

func referencePoint(cnf *config.Configuration, order *model.Order) (float64, float64) {
	if cnf.Assignment.StoreLat != 0 || cnf.Assignment.StoreLon != 0 {
		return cnf.Assignment.StoreLat, cnf.Assignment.StoreLon
	}
	return order.ShippingAddress.Lat, order.ShippingAddress.Lon
}

// scoreAgents ranks candidates ascending by weighted score: distance
// (normalized by radius), average delivery time and fairness counter
// (normalized by the max over the candidate set), and inverse acceptance
// rate.
func scoreAgents(candidates []*model.DeliveryAgent, refLat, refLon, radiusKM float64) []scoredAgent {
	if len(candidates) == 0 {
		return nil
	}

	distances := make([]float64, len(candidates))
	maxDistance, maxAvgTime, maxRecent := 0.0, 0.0, 0.0
	for i, agent := range candidates {
		distances[i] = model.HaversineKM(refLat, refLon, agent.Lat, agent.Lon)
		if distances[i] > maxDistance {
			maxDistance = distances[i]
		}
		if agent.AvgDeliveryTimeMs > maxAvgTime {
			maxAvgTime = agent.AvgDeliveryTimeMs
		}
		if float64(agent.RecentAssignments) > maxRecent {
			maxRecent = float64(agent.RecentAssignments)
		}
	}

	distanceBase := radiusKM
	if distanceBase <= 0 {
		distanceBase = maxDistance
	}

	scored := make([]scoredAgent, len(candidates))
	for i, agent := range candidates {
		score := 0.0
		if distanceBase > 0 {
			score += weightDistance * (distances[i] / distanceBase)
		}
		if maxAvgTime > 0 {
			score += weightDeliveryTime * (agent.AvgDeliveryTimeMs / maxAvgTime)
		}
		score += weightAcceptance * (1 - agent.AcceptanceRate)
		if maxRecent > 0 {
			score += weightFairness * (float64(agent.RecentAssignments) / maxRecent)
		}
		scored[i] = scoredAgent{agent: agent, score: score}
	}

	sort.SliceStable(scored, func(a, b int) bool {
		return scored[a].score < scored[b].score
	})
	return scored
}
