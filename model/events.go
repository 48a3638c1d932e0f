package model

import "encoding/json"

// Inbound realtime events (client → server).
const (
	EventAgentOnline         = "agentOnline"
	EventUserOnline          = "userOnline"
	EventAcceptOrder         = "acceptOrder"
	EventRejectOrder         = "rejectOrder"
	EventAgentLocationUpdate = "agentLocationUpdate"
	EventUserLocationUpdate  = "userLocationUpdate"
	EventMessageAgent        = "messageAgent"
	EventMessageUser         = "messageUser"
	EventRouteUpdate         = "routeUpdate"
)

// Outbound realtime events (server → client).
const (
	EventNewOrder               = "newOrder"
	EventOrderAccepted          = "orderAccepted"
	EventOrderPickedUp          = "orderPickedUp"
	EventOrderOutForDelivery    = "orderOutForDelivery"
	EventOrderDelivered         = "orderDelivered"
	EventPaymentAccepted        = "paymentAccepted"
	EventOrderCancelled         = "orderCancelled"
	EventOrderCancelledByAgent  = "orderCancelledByAgent"
	EventNoAgentAvailable       = "noAgentAvailable"
	EventLiveLocationUpdate     = "liveLocationUpdate"
	EventUserLocationBroadcast  = "userLocationUpdate"
	EventAgentMessage           = "agentMessage"
	EventUserMessage            = "userMessage"
	EventRouteUpdateBroadcast   = "routeUpdate"
)

// Envelope is the wire frame for the realtime channel in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type OnlinePayload struct {
	AgentID string `json:"agent_id,omitempty"`
	UserID  string `json:"user_id,omitempty"`
}

type OrderActionPayload struct {
	OrderID string `json:"order_id"`
}

type AgentLocationPayload struct {
	AgentID string  `json:"agent_id"`
	OrderID string  `json:"order_id,omitempty"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

type UserLocationPayload struct {
	OrderID string  `json:"order_id"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

type ChatPayload struct {
	OrderID string `json:"order_id"`
	Message string `json:"message"`
}

type RoutePayload struct {
	OrderID string          `json:"order_id"`
	Route   json.RawMessage `json:"route"`
}

type LiveLocationBroadcast struct {
	OrderID string  `json:"order_id"`
	AgentID string  `json:"agent_id,omitempty"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// LocationSample is one buffered position ping awaiting flush.
type LocationSample struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Timestamp int64   `json:"timestamp"`
}
