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
	"github.com/gin-gonic/gin"

	dispatch "github.com/swiftcart/dispatch"
	"github.com/swiftcart/dispatch/api/middleware"
	"github.com/swiftcart/dispatch/config"
	"github.com/swiftcart/dispatch/internal/apierror"
	"github.com/swiftcart/dispatch/ws"
)

type Api struct {
	dispatch *dispatch.Dispatch
	hub      *ws.Hub
	router   *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/orders", a.CreateOrder)
	router.GET("/orders/:id", a.GetOrder)
	router.POST("/orders/:id/cancel", a.CancelOrder)
	router.POST("/orders/:id/retry", a.RetryAssignment)
	router.POST("/orders/:id/pickup", a.PickUpOrder)
	router.POST("/orders/:id/out-for-delivery", a.StartDelivery)
	router.POST("/orders/:id/deliver", a.DeliverOrder)
	router.POST("/orders/:id/agent-cancel", a.AgentCancelOrder)

	router.POST("/agents", a.CreateAgent)
	router.GET("/agents/:id", a.GetAgent)

	router.GET("/ws", a.Connect)
	return a.router
}

func NewAPI(d *dispatch.Dispatch, hub *ws.Hub) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{dispatch: d, hub: hub, router: r}
}

// Connect upgrades the request into a realtime connection on the hub.
func (a Api) Connect(c *gin.Context) {
	a.hub.HandleConnection(c.Writer, c.Request)
}

func errorResponse(c *gin.Context, err error) {
	c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
}
