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
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	dispatch "github.com/swiftcart/dispatch"
	model2 "github.com/swiftcart/dispatch/api/model"
	"github.com/swiftcart/dispatch/config"
	"github.com/swiftcart/dispatch/database/mocks"
	"github.com/swiftcart/dispatch/internal/apierror"
	"github.com/swiftcart/dispatch/model"
	"github.com/swiftcart/dispatch/ws"
)

type TestRequest struct {
	Payload  io.Reader
	Router   *gin.Engine
	Response interface{}
	Method   string
	Route    string
	Header   map[string]string
}

func SetUpTestRequest(s TestRequest) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(s.Method, s.Route, s.Payload)
	for key, value := range s.Header {
		req.Header.Set(key, value)
	}
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	s.Router.ServeHTTP(resp, req)

	if s.Response != nil {
		err := json.NewDecoder(resp.Body).Decode(&s.Response)
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func setupRouter(t *testing.T, cnf *config.Configuration) (*gin.Engine, *mocks.MockDataSource) {
	t.Helper()

	mr := miniredis.RunT(t)
	if cnf == nil {
		cnf = &config.Configuration{}
	}
	cnf.Redis.Dns = mr.Addr()
	config.MockConfig(cnf)

	ds := &mocks.MockDataSource{}
	d, err := dispatch.NewDispatch(ds)
	assert.NoError(t, err)
	hub := ws.NewHub(d)
	return NewAPI(d, hub).Router(), ds
}

func TestCreateOrderAPI(t *testing.T) {
	router, ds := setupRouter(t, nil)

	ds.On("CreateOrder", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		order := args.Get(1).(*model.Order)
		order.OrderID = "ord_1"
		order.Status = model.StatusPlaced
	})
	ds.On("AdjustInventory", mock.Anything, mock.Anything).Return(nil)
	ds.On("SetInventoryAdjusted", mock.Anything, "ord_1", true).Return(nil)

	payload, err := json.Marshal(model2.CreateOrder{
		UserID: "usr_1",
		ShippingAddress: model.Address{
			Lat: 12.97, Lon: 77.59, Pincode: "560001",
		},
		Items: []model2.CreateOrderItem{{ProductID: "prd_1", Quantity: 2}},
	})
	assert.NoError(t, err)

	var created model.Order
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  bytes.NewBuffer(payload),
		Router:   router,
		Response: &created,
		Method:   "POST",
		Route:    "/orders",
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, "ord_1", created.OrderID)
	ds.AssertExpectations(t)
}

func TestCreateOrderAPI_MissingUser(t *testing.T) {
	router, ds := setupRouter(t, nil)

	payload := []byte(`{"items":[{"product_id":"prd_1","quantity":1}]}`)
	resp, err := SetUpTestRequest(TestRequest{
		Payload: bytes.NewBuffer(payload),
		Router:  router,
		Method:  "POST",
		Route:   "/orders",
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	ds.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
}

func TestGetOrderAPI(t *testing.T) {
	router, ds := setupRouter(t, nil)

	order := &model.Order{OrderID: "ord_1", UserID: "usr_1", Status: model.StatusPlaced}
	ds.On("GetOrder", mock.Anything, "ord_1").Return(order, nil)

	var fetched model.Order
	resp, err := SetUpTestRequest(TestRequest{
		Router:   router,
		Response: &fetched,
		Method:   "GET",
		Route:    "/orders/ord_1",
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "ord_1", fetched.OrderID)
}

func TestGetOrderAPI_NotFound(t *testing.T) {
	router, ds := setupRouter(t, nil)

	ds.On("GetOrder", mock.Anything, "ord_missing").
		Return(nil, apierror.NewAPIError(apierror.ErrNotFound, "Order not found", nil))

	resp, err := SetUpTestRequest(TestRequest{
		Router: router,
		Method: "GET",
		Route:  "/orders/ord_missing",
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestCancelOrderAPI_AfterPickup(t *testing.T) {
	router, ds := setupRouter(t, nil)

	order := &model.Order{OrderID: "ord_1", UserID: "usr_1", Status: model.StatusPickedUp, AssignedAgent: "agt_1"}
	ds.On("GetOrder", mock.Anything, "ord_1").Return(order, nil)

	resp, err := SetUpTestRequest(TestRequest{
		Router: router,
		Method: "POST",
		Route:  "/orders/ord_1/cancel",
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.Code)
}

func TestPickUpOrderAPI_MissingAgent(t *testing.T) {
	router, ds := setupRouter(t, nil)

	resp, err := SetUpTestRequest(TestRequest{
		Payload: bytes.NewBufferString(`{}`),
		Router:  router,
		Method:  "POST",
		Route:   "/orders/ord_1/pickup",
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	ds.AssertNotCalled(t, "GetOrder", mock.Anything, mock.Anything)
}

func TestPickUpOrderAPI(t *testing.T) {
	router, ds := setupRouter(t, nil)

	order := &model.Order{OrderID: "ord_1", UserID: "usr_1", Status: model.StatusAccepted, AssignedAgent: "agt_1"}
	ds.On("GetOrder", mock.Anything, "ord_1").Return(order, nil)
	ds.On("UpdateOrderStatus", mock.Anything, "ord_1", model.StatusAccepted, model.StatusPickedUp).Return(true, nil)

	resp, err := SetUpTestRequest(TestRequest{
		Payload: bytes.NewBufferString(`{"agent_id":"agt_1"}`),
		Router:  router,
		Method:  "POST",
		Route:   "/orders/ord_1/pickup",
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	ds.AssertExpectations(t)
}

func TestCreateAgentAPI(t *testing.T) {
	router, ds := setupRouter(t, nil)

	ds.On("CreateAgent", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		agent := args.Get(1).(*model.DeliveryAgent)
		agent.AgentID = "agt_1"
	})

	var created model.DeliveryAgent
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  bytes.NewBufferString(`{"lat":12.97,"lon":77.59,"pincode":"560001"}`),
		Router:   router,
		Response: &created,
		Method:   "POST",
		Route:    "/agents",
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, "agt_1", created.AgentID)
}

func TestSecureModeRequiresKey(t *testing.T) {
	cnf := &config.Configuration{}
	cnf.Server.Secure = true
	cnf.Server.SecretKey = "test-key"
	router, _ := setupRouter(t, cnf)

	resp, err := SetUpTestRequest(TestRequest{
		Router: router,
		Method: "GET",
		Route:  "/orders/ord_1",
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestSecureModeAcceptsKey(t *testing.T) {
	cnf := &config.Configuration{}
	cnf.Server.Secure = true
	cnf.Server.SecretKey = "test-key"
	router, ds := setupRouter(t, cnf)

	order := &model.Order{OrderID: "ord_1", UserID: "usr_1", Status: model.StatusPlaced}
	ds.On("GetOrder", mock.Anything, "ord_1").Return(order, nil)

	resp, err := SetUpTestRequest(TestRequest{
		Router: router,
		Method: "GET",
		Route:  "/orders/ord_1",
		Header: map[string]string{"X-Dispatch-Key": "test-key"},
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
}
