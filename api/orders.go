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
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	model2 "github.com/swiftcart/dispatch/api/model"
)

func (a Api) CreateOrder(c *gin.Context) {
	var newOrder model2.CreateOrder
	if err := c.ShouldBindJSON(&newOrder); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := newOrder.ValidateCreateOrder(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.dispatch.CreateOrder(c.Request.Context(), newOrder.ToOrder())
	if err != nil {
		errorResponse(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetOrder(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.dispatch.GetOrder(c.Request.Context(), id)
	if err != nil {
		errorResponse(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) CancelOrder(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	if err := a.dispatch.CancelOrder(c.Request.Context(), id); err != nil {
		errorResponse(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "order cancelled"})
}

func (a Api) RetryAssignment(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	agent, err := a.dispatch.RetryAssignment(c.Request.Context(), id)
	if err != nil {
		errorResponse(c, err)
		return
	}
	if agent == nil {
		c.JSON(http.StatusOK, gin.H{"message": "assignment retried"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "assignment retried", "agent_id": agent.AgentID})
}

// agentAction binds and validates the shared request body of the agent
// order-action routes.
func (a Api) agentAction(c *gin.Context) (orderID, agentID string, ok bool) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return "", "", false
	}

	var action model2.AgentAction
	if err := c.ShouldBindJSON(&action); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return "", "", false
	}
	if err := action.ValidateAgentAction(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return "", "", false
	}
	return id, action.AgentID, true
}

func (a Api) PickUpOrder(c *gin.Context) {
	orderID, agentID, ok := a.agentAction(c)
	if !ok {
		return
	}

	if err := a.dispatch.PickUpOrder(c.Request.Context(), orderID, agentID); err != nil {
		errorResponse(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "order picked up"})
}

func (a Api) StartDelivery(c *gin.Context) {
	orderID, agentID, ok := a.agentAction(c)
	if !ok {
		return
	}

	if err := a.dispatch.StartDelivery(c.Request.Context(), orderID, agentID); err != nil {
		errorResponse(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "order out for delivery"})
}

func (a Api) DeliverOrder(c *gin.Context) {
	orderID, agentID, ok := a.agentAction(c)
	if !ok {
		return
	}

	if err := a.dispatch.DeliverOrder(c.Request.Context(), orderID, agentID); err != nil {
		errorResponse(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "order delivered"})
}

func (a Api) AgentCancelOrder(c *gin.Context) {
	orderID, agentID, ok := a.agentAction(c)
	if !ok {
		return
	}

	if err := a.dispatch.AgentCancelOrder(c.Request.Context(), orderID, agentID); err != nil {
		errorResponse(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "order handed back for reassignment"})
}
