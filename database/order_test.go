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
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/swiftcart/dispatch/internal/apierror"
	"github.com/swiftcart/dispatch/model"
)

func TestCreateOrder_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	order := &model.Order{
		UserID: "usr_1",
		ShippingAddress: model.Address{
			Lat: 12.97, Lon: 77.59, Pincode: "560001",
		},
		Items: []model.OrderItem{
			{ProductID: "prd_1", Quantity: 2, Price: decimal.NewFromInt(150)},
		},
		TotalAmount: decimal.NewFromInt(300),
	}

	mock.ExpectExec("INSERT INTO dispatch.orders").
		WithArgs(sqlmock.AnyArg(), "usr_1", string(model.StatusPlaced), 12.97, 77.59, "560001",
			sqlmock.AnyArg(), "300", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = ds.CreateOrder(context.Background(), order)
	assert.NoError(t, err)
	assert.NotEmpty(t, order.OrderID)
	assert.Equal(t, model.StatusPlaced, order.Status)
	assert.WithinDuration(t, time.Now(), order.CreatedAt, time.Second)
}

func TestCreateOrder_UngeocodedAddressStoresNull(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	order := &model.Order{
		UserID:          "usr_1",
		ShippingAddress: model.Address{Pincode: "560001"},
	}

	mock.ExpectExec("INSERT INTO dispatch.orders").
		WithArgs(sqlmock.AnyArg(), "usr_1", string(model.StatusPlaced), nil, nil, "560001",
			sqlmock.AnyArg(), "0", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = ds.CreateOrder(context.Background(), order)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrder_UniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	order := &model.Order{OrderID: "ord_dup", UserID: "usr_1"}

	mock.ExpectExec("INSERT INTO dispatch.orders").
		WillReturnError(&pq.Error{Code: "23505", Message: "unique_violation"})

	err = ds.CreateOrder(context.Background(), order)
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrBadRequest, apiErr.Code)
}

func TestGetOrder_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	itemsJSON, err := json.Marshal([]model.OrderItem{
		{ProductID: "prd_1", Quantity: 1, Price: decimal.NewFromInt(99)},
	})
	assert.NoError(t, err)
	metaDataJSON, err := json.Marshal(map[string]interface{}{"source": "app"})
	assert.NoError(t, err)

	rows := sqlmock.NewRows([]string{
		"order_id", "user_id", "status", "shipping_lat", "shipping_lon", "shipping_pincode",
		"live_lat", "live_lon", "assigned_agent", "assignment_attempts", "items", "total_amount",
		"inventory_adjusted", "meta_data", "created_at",
	}).AddRow("ord_1", "usr_1", "ASSIGNING", 12.97, 77.59, "560001",
		nil, nil, nil, "{agt_1,agt_2}", itemsJSON, "99",
		true, metaDataJSON, time.Now())

	mock.ExpectQuery("SELECT (.+) FROM dispatch.orders WHERE order_id =").
		WithArgs("ord_1").
		WillReturnRows(rows)

	order, err := ds.GetOrder(context.Background(), "ord_1")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusAssigning, order.Status)
	assert.Equal(t, []string{"agt_1", "agt_2"}, order.AssignmentAttempts)
	assert.Equal(t, "agt_2", order.LastAttempt())
	assert.True(t, order.InventoryAdjusted)
	assert.True(t, order.TotalAmount.Equal(decimal.NewFromInt(99)))
	assert.Len(t, order.Items, 1)
}

func TestGetOrder_PendingShippingCoordinates(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	rows := sqlmock.NewRows([]string{
		"order_id", "user_id", "status", "shipping_lat", "shipping_lon", "shipping_pincode",
		"live_lat", "live_lon", "assigned_agent", "assignment_attempts", "items", "total_amount",
		"inventory_adjusted", "meta_data", "created_at",
	}).AddRow("ord_1", "usr_1", "PLACED", nil, nil, "560001",
		nil, nil, nil, "{}", nil, "0",
		false, nil, time.Now())

	mock.ExpectQuery("SELECT (.+) FROM dispatch.orders WHERE order_id =").
		WithArgs("ord_1").
		WillReturnRows(rows)

	order, err := ds.GetOrder(context.Background(), "ord_1")
	assert.NoError(t, err)
	assert.Zero(t, order.ShippingAddress.Lat)
	assert.Zero(t, order.ShippingAddress.Lon)
	assert.Nil(t, order.LiveLat)
}

func TestGetOrder_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT (.+) FROM dispatch.orders WHERE order_id =").
		WithArgs("ord_missing").
		WillReturnError(sql.ErrNoRows)

	_, err = ds.GetOrder(context.Background(), "ord_missing")
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrNotFound, apiErr.Code)
}

func TestUpdateOrderStatus_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE dispatch.orders SET status").
		WithArgs(string(model.StatusAssigning), "ord_1", string(model.StatusPlaced)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	moved, err := ds.UpdateOrderStatus(context.Background(), "ord_1", model.StatusPlaced, model.StatusAssigning)
	assert.NoError(t, err)
	assert.True(t, moved)
}

func TestUpdateOrderStatus_LostRace(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE dispatch.orders SET status").
		WithArgs(string(model.StatusAccepted), "ord_1", string(model.StatusAssigning)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	moved, err := ds.UpdateOrderStatus(context.Background(), "ord_1", model.StatusAssigning, model.StatusAccepted)
	assert.NoError(t, err)
	assert.False(t, moved)
}

func TestUpdateOrderStatus_InvalidTransition(t *testing.T) {
	db, _, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	_, err = ds.UpdateOrderStatus(context.Background(), "ord_1", model.StatusDelivered, model.StatusAssigning)
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrInvalidTransition, apiErr.Code)
}

func TestAppendAssignmentAttempt_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE dispatch.orders SET assignment_attempts = array_append").
		WithArgs("agt_1", "ord_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = ds.AppendAssignmentAttempt(context.Background(), "ord_1", "agt_1")
	assert.NoError(t, err)
}

func TestResetAssignmentAttempts_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE dispatch.orders SET assignment_attempts").
		WithArgs("ord_missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = ds.ResetAssignmentAttempts(context.Background(), "ord_missing")
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrNotFound, apiErr.Code)
}

func TestSetOrderAgent_ClearsWithEmptyID(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE dispatch.orders SET assigned_agent").
		WithArgs(nil, "ord_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = ds.SetOrderAgent(context.Background(), "ord_1", "")
	assert.NoError(t, err)
}

func TestBulkUpdateOrderLocations_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("UPDATE dispatch.orders SET live_lat")
	prep.ExpectExec().WithArgs(12.9, 77.5, "ord_1").WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs(13.1, 77.6, "ord_2").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err = ds.BulkUpdateOrderLocations(context.Background(), []OrderLocationUpdate{
		{OrderID: "ord_1", Lat: 12.9, Lon: 77.5},
		{OrderID: "ord_2", Lat: 13.1, Lon: 77.6},
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpdateOrderLocations_BackfillsShippingCoordinates(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`(?s)UPDATE dispatch.orders SET live_lat.+shipping_lat = COALESCE\(shipping_lat`)
	prep.ExpectExec().WithArgs(12.9, 77.5, "ord_1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = ds.BulkUpdateOrderLocations(context.Background(), []OrderLocationUpdate{
		{OrderID: "ord_1", Lat: 12.9, Lon: 77.5},
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpdateOrderLocations_Empty(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	err = ds.BulkUpdateOrderLocations(context.Background(), nil)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
