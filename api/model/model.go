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
package model

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"

	"github.com/swiftcart/dispatch/model"
)

type CreateOrderItem struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

type CreateOrder struct {
	UserID          string                 `json:"user_id"`
	ShippingAddress model.Address          `json:"shipping_address"`
	Items           []CreateOrderItem      `json:"items"`
	MetaData        map[string]interface{} `json:"meta_data"`
}

func (o *CreateOrder) ValidateCreateOrder() error {
	return validation.ValidateStruct(o,
		validation.Field(&o.UserID, validation.Required),
		validation.Field(&o.Items, validation.Each(validation.By(func(value interface{}) error {
			item, _ := value.(CreateOrderItem)
			return validation.ValidateStruct(&item,
				validation.Field(&item.ProductID, validation.Required),
				validation.Field(&item.Quantity, validation.Required, validation.Min(1)),
			)
		}))),
	)
}

func (o *CreateOrder) ToOrder() *model.Order {
	order := &model.Order{
		UserID:          o.UserID,
		ShippingAddress: o.ShippingAddress,
		MetaData:        o.MetaData,
	}
	total := decimal.Zero
	for _, item := range o.Items {
		order.Items = append(order.Items, model.OrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price,
		})
		total = total.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	order.TotalAmount = total
	return order
}

type CreateAgent struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Pincode string  `json:"pincode"`
}

func (a *CreateAgent) ValidateCreateAgent() error {
	return validation.ValidateStruct(a,
		validation.Field(&a.Lat, validation.Min(-90.0), validation.Max(90.0)),
		validation.Field(&a.Lon, validation.Min(-180.0), validation.Max(180.0)),
	)
}

func (a *CreateAgent) ToAgent() *model.DeliveryAgent {
	return &model.DeliveryAgent{
		Lat:     a.Lat,
		Lon:     a.Lon,
		Pincode: a.Pincode,
	}
}

// AgentAction identifies the agent performing a pickup, delivery or
// cancellation on an order route.
type AgentAction struct {
	AgentID string `json:"agent_id"`
}

func (a *AgentAction) ValidateAgentAction() error {
	return validation.ValidateStruct(a,
		validation.Field(&a.AgentID, validation.Required),
	)
}
