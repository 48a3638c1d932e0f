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

	"github.com/swiftcart/dispatch/internal/apierror"
	"github.com/swiftcart/dispatch/model"
)

// AdjustInventory decrements stock for each line item inside one
// transaction. The conditional WHERE means a shortfall on any item rolls the
// whole adjustment back with no partial decrements.
func (d Datasource) AdjustInventory(ctx context.Context, items []model.OrderItem) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, item := range items {
		result, err := tx.ExecContext(ctx, `
			UPDATE dispatch.products
			SET stock = stock - $1
			WHERE product_id = $2 AND stock >= $1
		`, item.Quantity, item.ProductID)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to adjust inventory", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read affected rows", err)
		}
		if affected == 0 {
			return apierror.NewAPIError(apierror.ErrBadRequest, "Insufficient stock for product "+item.ProductID, nil)
		}
	}

	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit inventory adjustment", err)
	}
	return nil
}

// RestockInventory returns stock for each line item, used when an order is
// cancelled before pickup.
func (d Datasource) RestockInventory(ctx context.Context, items []model.OrderItem) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, item := range items {
		if _, err := tx.ExecContext(ctx, `
			UPDATE dispatch.products
			SET stock = stock + $1
			WHERE product_id = $2
		`, item.Quantity, item.ProductID); err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to restock inventory", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit restock", err)
	}
	return nil
}
