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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/swiftcart/dispatch/internal/apierror"
	"github.com/swiftcart/dispatch/model"
)

var agentColumns = []string{
	"agent_id", "lat", "lon", "pincode", "is_online", "is_available", "active_order",
	"acceptance_rate", "avg_delivery_time_ms", "recent_assignments", "created_at",
}

func TestCreateAgent_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	agent := &model.DeliveryAgent{Lat: 12.9, Lon: 77.5, Pincode: "560001"}

	mock.ExpectExec("INSERT INTO dispatch.delivery_agents").
		WithArgs(sqlmock.AnyArg(), 12.9, 77.5, "560001", false, true, 1.0, 0.0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = ds.CreateAgent(context.Background(), agent)
	assert.NoError(t, err)
	assert.NotEmpty(t, agent.AgentID)
	assert.Equal(t, 1.0, agent.AcceptanceRate)
	// A fresh agent must enter the pool available, otherwise it could never
	// receive a first offer.
	assert.True(t, agent.IsAvailable)
	assert.WithinDuration(t, time.Now(), agent.CreatedAt, time.Second)
}

func TestCreateAgent_UniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("INSERT INTO dispatch.delivery_agents").
		WillReturnError(&pq.Error{Code: "23505", Message: "unique_violation"})

	err = ds.CreateAgent(context.Background(), &model.DeliveryAgent{AgentID: "agt_dup"})
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrBadRequest, apiErr.Code)
}

func TestGetAgent_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	rows := sqlmock.NewRows(agentColumns).
		AddRow("agt_1", 12.9, 77.5, "560001", true, false, "ord_1", 0.8, 1500000.0, 3, time.Now())

	mock.ExpectQuery("SELECT (.+) FROM dispatch.delivery_agents WHERE agent_id =").
		WithArgs("agt_1").
		WillReturnRows(rows)

	agent, err := ds.GetAgent(context.Background(), "agt_1")
	assert.NoError(t, err)
	assert.Equal(t, "ord_1", agent.ActiveOrder)
	assert.False(t, agent.IsAvailable)
	assert.Equal(t, 0.8, agent.AcceptanceRate)
}

func TestGetAgent_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT (.+) FROM dispatch.delivery_agents WHERE agent_id =").
		WithArgs("agt_missing").
		WillReturnError(sql.ErrNoRows)

	_, err = ds.GetAgent(context.Background(), "agt_missing")
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrNotFound, apiErr.Code)
}

func TestFindEligibleAgents_RadiusAndExclusions(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	rows := sqlmock.NewRows(agentColumns).
		AddRow("agt_near", 12.96, 77.58, "", true, true, nil, 1.0, 0.0, 0, time.Now()).
		AddRow("agt_far", 13.05, 77.70, "", true, true, nil, 0.9, 2000000.0, 1, time.Now())

	mock.ExpectQuery("SELECT (.+) FROM dispatch.delivery_agents WHERE is_online = TRUE AND is_available = TRUE AND active_order IS NULL").
		WithArgs(pq.Array([]string{"agt_rejected"}), 12.97, 77.59, 5.0).
		WillReturnRows(rows)

	agents, err := ds.FindEligibleAgents(context.Background(), EligibleAgentsQuery{
		RefLat:     12.97,
		RefLon:     77.59,
		RadiusKM:   5,
		ExcludeIDs: []string{"agt_rejected"},
	})
	assert.NoError(t, err)
	assert.Len(t, agents, 2)
	assert.Equal(t, "agt_near", agents[0].AgentID)
}

func TestFindEligibleAgents_NoRadiusNoPincode(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT (.+) FROM dispatch.delivery_agents WHERE is_online = TRUE AND is_available = TRUE AND active_order IS NULL").
		WithArgs(pq.Array([]string{}), 12.97, 77.59).
		WillReturnRows(sqlmock.NewRows(agentColumns))

	agents, err := ds.FindEligibleAgents(context.Background(), EligibleAgentsQuery{
		RefLat:     12.97,
		RefLon:     77.59,
		ExcludeIDs: []string{},
	})
	assert.NoError(t, err)
	assert.Len(t, agents, 0)
}

func TestSetAgentAvailability_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE dispatch.delivery_agents SET is_available").
		WithArgs(false, "ord_1", "agt_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = ds.SetAgentAvailability(context.Background(), "agt_1", false, "ord_1")
	assert.NoError(t, err)
}

func TestSetAgentAvailability_ClearsActiveOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE dispatch.delivery_agents SET is_available").
		WithArgs(true, nil, "agt_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = ds.SetAgentAvailability(context.Background(), "agt_1", true, "")
	assert.NoError(t, err)
}

func TestIncrementRecentAssignments_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE dispatch.delivery_agents SET recent_assignments").
		WithArgs("agt_missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = ds.IncrementRecentAssignments(context.Background(), "agt_missing")
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrNotFound, apiErr.Code)
}

func TestUpdateAcceptanceRate_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE dispatch.delivery_agents SET acceptance_rate").
		WithArgs(0.91, "agt_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = ds.UpdateAcceptanceRate(context.Background(), "agt_1", 0.91)
	assert.NoError(t, err)
}

func TestBulkUpdateAgentLocations_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("UPDATE dispatch.delivery_agents SET lat")
	prep.ExpectExec().WithArgs(12.9, 77.5, "agt_1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = ds.BulkUpdateAgentLocations(context.Background(), []AgentLocationUpdate{
		{AgentID: "agt_1", Lat: 12.9, Lon: 77.5},
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
