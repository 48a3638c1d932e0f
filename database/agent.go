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
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/swiftcart/dispatch/internal/apierror"
	"github.com/swiftcart/dispatch/model"
)

func (d Datasource) CreateAgent(ctx context.Context, agent *model.DeliveryAgent) error {
	if agent.AgentID == "" {
		agent.AgentID = GenerateUUIDWithSuffix("agt")
	}
	if agent.AcceptanceRate == 0 {
		agent.AcceptanceRate = 1
	}
	// A new agent has no active order, so it registers available; it still
	// has to come online before the eligibility query can see it.
	if agent.ActiveOrder == "" {
		agent.IsAvailable = true
	}
	agent.CreatedAt = time.Now()

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO dispatch.delivery_agents (agent_id, lat, lon, pincode, is_online, is_available, acceptance_rate, avg_delivery_time_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, agent.AgentID, agent.Lat, agent.Lon, agent.Pincode, agent.IsOnline, agent.IsAvailable,
		agent.AcceptanceRate, agent.AvgDeliveryTimeMs, agent.CreatedAt)

	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			return apierror.NewAPIError(apierror.ErrBadRequest, "Agent with this ID already exists", err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create agent", err)
	}

	return nil
}

func (d Datasource) GetAgent(ctx context.Context, agentID string) (*model.DeliveryAgent, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT agent_id, lat, lon, pincode, is_online, is_available, active_order,
			acceptance_rate, avg_delivery_time_ms, recent_assignments, created_at
		FROM dispatch.delivery_agents
		WHERE agent_id = $1
	`, agentID)

	agent, err := scanAgent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Agent not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve agent", err)
	}
	return agent, nil
}

// FindEligibleAgents returns online, available agents ordered by distance to
// the reference point. The haversine is computed in SQL so the radius cut
// happens before rows leave the database.
func (d Datasource) FindEligibleAgents(ctx context.Context, query EligibleAgentsQuery) ([]*model.DeliveryAgent, error) {
	sqlQuery := `
		SELECT agent_id, lat, lon, pincode, is_online, is_available, active_order,
			acceptance_rate, avg_delivery_time_ms, recent_assignments, created_at
		FROM dispatch.delivery_agents
		WHERE is_online = TRUE AND is_available = TRUE AND active_order IS NULL
			AND agent_id <> ALL($1)`
	args := []interface{}{pq.Array(query.ExcludeIDs)}

	distanceExpr := fmt.Sprintf(
		"6371 * acos(least(1.0, cos(radians($%d)) * cos(radians(lat)) * cos(radians(lon) - radians($%d)) + sin(radians($%d)) * sin(radians(lat))))",
		len(args)+1, len(args)+2, len(args)+1)
	args = append(args, query.RefLat, query.RefLon)

	if query.RadiusKM > 0 {
		sqlQuery += fmt.Sprintf(" AND %s <= $%d", distanceExpr, len(args)+1)
		args = append(args, query.RadiusKM)
	}
	if query.Pincode != "" {
		sqlQuery += fmt.Sprintf(" AND pincode = $%d", len(args)+1)
		args = append(args, query.Pincode)
	}
	sqlQuery += " ORDER BY " + distanceExpr + " ASC"

	rows, err := d.Conn.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to query eligible agents", err)
	}
	defer rows.Close()

	agents := []*model.DeliveryAgent{}
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan agent data", err)
		}
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over agents", err)
	}

	return agents, nil
}

// SetAgentAvailability flips availability together with the active order
// reference. activeOrder must be "" when available is true.
func (d Datasource) SetAgentAvailability(ctx context.Context, agentID string, available bool, activeOrder string) error {
	var active interface{}
	if activeOrder != "" {
		active = activeOrder
	}
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE dispatch.delivery_agents
		SET is_available = $1, active_order = $2
		WHERE agent_id = $3
	`, available, active, agentID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update agent availability", err)
	}
	return requireOneRow(result, "Agent not found")
}

func (d Datasource) SetAgentOnline(ctx context.Context, agentID string, online bool) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE dispatch.delivery_agents
		SET is_online = $1
		WHERE agent_id = $2
	`, online, agentID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update agent online state", err)
	}
	return requireOneRow(result, "Agent not found")
}

func (d Datasource) IncrementRecentAssignments(ctx context.Context, agentID string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE dispatch.delivery_agents
		SET recent_assignments = recent_assignments + 1
		WHERE agent_id = $1
	`, agentID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to increment recent assignments", err)
	}
	return requireOneRow(result, "Agent not found")
}

func (d Datasource) UpdateAcceptanceRate(ctx context.Context, agentID string, rate float64) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE dispatch.delivery_agents
		SET acceptance_rate = $1
		WHERE agent_id = $2
	`, rate, agentID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update acceptance rate", err)
	}
	return requireOneRow(result, "Agent not found")
}

func (d Datasource) UpdateAvgDeliveryTime(ctx context.Context, agentID string, avgMs float64) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE dispatch.delivery_agents
		SET avg_delivery_time_ms = $1
		WHERE agent_id = $2
	`, avgMs, agentID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update delivery time", err)
	}
	return requireOneRow(result, "Agent not found")
}

// BulkUpdateAgentLocations persists a batch of agent positions in one
// transaction. Unknown agents are skipped, matching BulkUpdateOrderLocations.
func (d Datasource) BulkUpdateAgentLocations(ctx context.Context, updates []AgentLocationUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE dispatch.delivery_agents
		SET lat = $1, lon = $2
		WHERE agent_id = $3
	`)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to prepare location update", err)
	}
	defer stmt.Close()

	for _, update := range updates {
		if _, err := stmt.ExecContext(ctx, update.Lat, update.Lon, update.AgentID); err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to flush agent location", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit location flush", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAgent(row rowScanner) (*model.DeliveryAgent, error) {
	agent := model.DeliveryAgent{}
	var pincode, activeOrder sql.NullString
	err := row.Scan(&agent.AgentID, &agent.Lat, &agent.Lon, &pincode,
		&agent.IsOnline, &agent.IsAvailable, &activeOrder,
		&agent.AcceptanceRate, &agent.AvgDeliveryTimeMs, &agent.RecentAssignments, &agent.CreatedAt)
	if err != nil {
		return nil, err
	}
	agent.Pincode = pincode.String
	agent.ActiveOrder = activeOrder.String
	return &agent, nil
}
