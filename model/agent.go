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
	"math"
	"time"
)

// acceptanceAlpha is the EWMA smoothing factor for an agent's rolling
// acceptance rate. Each accept contributes a sample of 1, each reject a
// sample of 0.
const acceptanceAlpha = 0.1

// DeliveryAgent is a courier who can hold at most one active order.
// ActiveOrder being set implies IsAvailable is false.
type DeliveryAgent struct {
	AgentID           string    `json:"agent_id"`
	Lat               float64   `json:"lat"`
	Lon               float64   `json:"lon"`
	Pincode           string    `json:"pincode,omitempty"`
	IsOnline          bool      `json:"is_online"`
	IsAvailable       bool      `json:"is_available"`
	ActiveOrder       string    `json:"active_order,omitempty"`
	AcceptanceRate    float64   `json:"acceptance_rate"`
	AvgDeliveryTimeMs float64   `json:"avg_delivery_time_ms"`
	RecentAssignments int       `json:"recent_assignments"`
	CreatedAt         time.Time `json:"created_at"`
}

// ApplyAcceptanceSample folds one accept/reject outcome into the rolling
// acceptance rate.
func (a *DeliveryAgent) ApplyAcceptanceSample(accepted bool) {
	sample := 0.0
	if accepted {
		sample = 1.0
	}
	a.AcceptanceRate = (1-acceptanceAlpha)*a.AcceptanceRate + acceptanceAlpha*sample
}

const earthRadiusKM = 6371.0

// HaversineKM returns the great-circle distance between two coordinates in
// kilometers.
func HaversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKM * c
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
