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
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/swiftcart/dispatch/internal/apierror"
	"github.com/swiftcart/dispatch/model"
)

func parseDecimal(value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(value)
}

func (d Datasource) CreateOrder(ctx context.Context, order *model.Order) error {
	metaDataJSON, err := json.Marshal(order.MetaData)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}
	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal order items", err)
	}

	if order.OrderID == "" {
		order.OrderID = GenerateUUIDWithSuffix("ord")
	}
	if order.Status == "" {
		order.Status = model.StatusPlaced
	}
	order.CreatedAt = time.Now()

	// A zero-valued coordinate pair means the address has not been geocoded;
	// it is stored as NULL so the location flush can backfill it from the
	// first live sample.
	var shippingLat, shippingLon interface{}
	if order.ShippingAddress.Lat != 0 || order.ShippingAddress.Lon != 0 {
		shippingLat = order.ShippingAddress.Lat
		shippingLon = order.ShippingAddress.Lon
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO dispatch.orders (order_id, user_id, status, shipping_lat, shipping_lon, shipping_pincode, items, total_amount, meta_data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, order.OrderID, order.UserID, order.Status, shippingLat, shippingLon,
		order.ShippingAddress.Pincode, itemsJSON, order.TotalAmount.String(), metaDataJSON, order.CreatedAt)

	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			return apierror.NewAPIError(apierror.ErrBadRequest, "Order with this ID already exists", err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create order", err)
	}

	return nil
}

func (d Datasource) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT order_id, user_id, status, shipping_lat, shipping_lon, shipping_pincode,
			live_lat, live_lon, assigned_agent, assignment_attempts, items, total_amount,
			inventory_adjusted, meta_data, created_at
		FROM dispatch.orders
		WHERE order_id = $1
	`, orderID)

	order := model.Order{}
	var shippingLat, shippingLon sql.NullFloat64
	var assignedAgent sql.NullString
	var totalAmount string
	var itemsJSON, metaDataJSON []byte
	err := row.Scan(&order.OrderID, &order.UserID, &order.Status,
		&shippingLat, &shippingLon, &order.ShippingAddress.Pincode,
		&order.LiveLat, &order.LiveLon, &assignedAgent,
		pq.Array(&order.AssignmentAttempts), &itemsJSON, &totalAmount,
		&order.InventoryAdjusted, &metaDataJSON, &order.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Order not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve order", err)
	}

	order.ShippingAddress.Lat = shippingLat.Float64
	order.ShippingAddress.Lon = shippingLon.Float64
	order.AssignedAgent = assignedAgent.String
	order.TotalAmount, err = parseDecimal(totalAmount)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to parse order total", err)
	}
	if len(itemsJSON) > 0 {
		if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal order items", err)
		}
	}
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &order.MetaData); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal metadata", err)
		}
	}

	return &order, nil
}

// UpdateOrderStatus moves an order from one status to another as a single
// conditional write. It returns false with no error when the order was not
// in the expected status, leaving whoever won the race untouched.
func (d Datasource) UpdateOrderStatus(ctx context.Context, orderID string, from, to model.OrderStatus) (bool, error) {
	if !model.CanTransition(from, to) {
		return false, apierror.NewAPIError(apierror.ErrInvalidTransition,
			"Order cannot move from "+string(from)+" to "+string(to), nil)
	}

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE dispatch.orders
		SET status = $1
		WHERE order_id = $2 AND status = $3
	`, to, orderID, from)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update order status", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read affected rows", err)
	}
	return affected == 1, nil
}

// ForceOrderStatus is the system-driven variant of UpdateOrderStatus used
// for forced reassignment (agent disconnect, agent-initiated cancellation).
// It skips the public transition table but is still conditional on the
// expected current status.
func (d Datasource) ForceOrderStatus(ctx context.Context, orderID string, from, to model.OrderStatus) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE dispatch.orders
		SET status = $1
		WHERE order_id = $2 AND status = $3
	`, to, orderID, from)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update order status", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read affected rows", err)
	}
	return affected == 1, nil
}

func (d Datasource) AppendAssignmentAttempt(ctx context.Context, orderID, agentID string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE dispatch.orders
		SET assignment_attempts = array_append(assignment_attempts, $1)
		WHERE order_id = $2
	`, agentID, orderID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record assignment attempt", err)
	}
	return requireOneRow(result, "Order not found")
}

// ResetAssignmentAttempts clears the attempt history so a manual retry can
// consider agents that already declined or timed out.
func (d Datasource) ResetAssignmentAttempts(ctx context.Context, orderID string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE dispatch.orders
		SET assignment_attempts = '{}'
		WHERE order_id = $1
	`, orderID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to reset assignment attempts", err)
	}
	return requireOneRow(result, "Order not found")
}

func (d Datasource) SetOrderAgent(ctx context.Context, orderID, agentID string) error {
	var assigned interface{}
	if agentID != "" {
		assigned = agentID
	}
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE dispatch.orders
		SET assigned_agent = $1
		WHERE order_id = $2
	`, assigned, orderID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to set assigned agent", err)
	}
	return requireOneRow(result, "Order not found")
}

// SetInventoryAdjusted records whether stock was decremented for this order,
// which gates restock on cancellation.
func (d Datasource) SetInventoryAdjusted(ctx context.Context, orderID string, adjusted bool) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE dispatch.orders
		SET inventory_adjusted = $1
		WHERE order_id = $2
	`, adjusted, orderID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to flag inventory adjustment", err)
	}
	return requireOneRow(result, "Order not found")
}

func (d Datasource) UpdateOrderLiveLocation(ctx context.Context, orderID string, lat, lon float64) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE dispatch.orders
		SET live_lat = $1, live_lon = $2
		WHERE order_id = $3
	`, lat, lon, orderID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update order live location", err)
	}
	return requireOneRow(result, "Order not found")
}

// BulkUpdateOrderLocations writes a batch of live positions in one
// transaction, backfilling missing shipping coordinates. Rows for orders
// that no longer exist are silently skipped so one stale sample cannot
// poison the whole flush.
func (d Datasource) BulkUpdateOrderLocations(ctx context.Context, updates []OrderLocationUpdate) error {
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
		UPDATE dispatch.orders
		SET live_lat = $1, live_lon = $2,
			shipping_lat = COALESCE(shipping_lat, $1),
			shipping_lon = COALESCE(shipping_lon, $2)
		WHERE order_id = $3
	`)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to prepare location update", err)
	}
	defer stmt.Close()

	for _, update := range updates {
		if _, err := stmt.ExecContext(ctx, update.Lat, update.Lon, update.OrderID); err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to flush order location", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit location flush", err)
	}
	return nil
}

func requireOneRow(result sql.Result, notFoundMsg string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read affected rows", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, notFoundMsg, nil)
	}
	return nil
}
