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
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order. Transitions are restricted
// to the table in allowedTransitions; everything else is an invalid
// transition and must be rejected before any write is persisted.
type OrderStatus string

const (
	StatusPlaced           OrderStatus = "PLACED"
	StatusAssigning        OrderStatus = "ASSIGNING"
	StatusAccepted         OrderStatus = "ACCEPTED"
	StatusPickedUp         OrderStatus = "PICKED_UP"
	StatusOutForDelivery   OrderStatus = "OUT_FOR_DELIVERY"
	StatusDelivered        OrderStatus = "DELIVERED"
	StatusCancelled        OrderStatus = "CANCELLED"
	StatusNoAgentAvailable OrderStatus = "NO_AGENT_AVAILABLE"
)

// allowedTransitions encodes the order state machine. NO_AGENT_AVAILABLE may
// only go back to ASSIGNING through a manual retry.
var allowedTransitions = map[OrderStatus][]OrderStatus{
	StatusPlaced:           {StatusAssigning, StatusCancelled},
	StatusAssigning:        {StatusAccepted, StatusCancelled, StatusNoAgentAvailable},
	StatusAccepted:         {StatusPickedUp, StatusCancelled},
	StatusPickedUp:         {StatusOutForDelivery},
	StatusOutForDelivery:   {StatusDelivered},
	StatusNoAgentAvailable: {StatusAssigning},
	StatusDelivered:        {},
	StatusCancelled:        {},
}

// CanTransition reports whether moving from one status to another is allowed
// by the order state machine.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status admits no further transitions at all.
func (s OrderStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Address is a geocoded shipping destination.
type Address struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Pincode string  `json:"pincode"`
}

// OrderItem is a line item captured at order time. Quantity and the price
// snapshot drive inventory restock when a pre-pickup order is cancelled.
type OrderItem struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// Order is the dispatch view of a placed order. AssignmentAttempts is
// append-only and never contains the same agent twice in a row; the last
// entry identifies the current offeree while the order is ASSIGNING.
type Order struct {
	OrderID            string                 `json:"order_id"`
	UserID             string                 `json:"user_id"`
	Status             OrderStatus            `json:"status"`
	ShippingAddress    Address                `json:"shipping_address"`
	LiveLat            *float64               `json:"live_lat,omitempty"`
	LiveLon            *float64               `json:"live_lon,omitempty"`
	AssignedAgent      string                 `json:"assigned_agent,omitempty"`
	AssignmentAttempts []string               `json:"assignment_attempts"`
	Items              []OrderItem            `json:"items,omitempty"`
	TotalAmount        decimal.Decimal        `json:"total_amount"`
	InventoryAdjusted  bool                   `json:"inventory_adjusted"`
	MetaData           map[string]interface{} `json:"meta_data,omitempty"`
	CreatedAt          time.Time              `json:"created_at"`
}

// LastAttempt returns the agent id of the current (most recent) offer, or ""
// if the order has never been offered.
func (o *Order) LastAttempt() string {
	if len(o.AssignmentAttempts) == 0 {
		return ""
	}
	return o.AssignmentAttempts[len(o.AssignmentAttempts)-1]
}

// HasAttempted reports whether the agent already appears in the attempt
// history. Attempted agents are excluded from subsequent eligibility queries
// until the history is explicitly reset.
func (o *Order) HasAttempted(agentID string) bool {
	for _, id := range o.AssignmentAttempts {
		if id == agentID {
			return true
		}
	}
	return false
}
