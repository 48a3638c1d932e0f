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

package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/swiftcart/dispatch/internal/apierror"
	"github.com/swiftcart/dispatch/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendBufferSize = 32
)

// Conn is the subset of *websocket.Conn the client uses.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// Client is one websocket connection. It stays anonymous until the first
// agentOnline or userOnline event binds it to a participant.
type Client struct {
	hub    *Hub
	conn   Conn
	connID string
	send   chan []byte

	// mu guards the bound identity and the closed flag. enqueue and close
	// synchronize on it so a late Notify cannot send on a closed channel.
	mu            sync.Mutex
	participantID string
	isAgent       bool
	closed        bool
}

func newClient(h *Hub, conn Conn) *Client {
	return &Client{
		hub:    h,
		conn:   conn,
		connID: newConnID(),
		send:   make(chan []byte, sendBufferSize),
	}
}

func (c *Client) bind(participantID string, isAgent bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.participantID = participantID
	c.isAgent = isAgent
}

func (c *Client) identity() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.participantID, c.isAgent
}

// enqueue hands a frame to the write pump without blocking. A full buffer
// means the peer is not draining; the frame is dropped. A closed client
// drops the frame too.
func (c *Client) enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.send)
	_ = c.conn.Close()
}

func (c *Client) readPump() {
	defer c.hub.drop(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logrus.Warnf("websocket read on %s: %v", c.connID, err)
			}
			return
		}

		var env model.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			logrus.Warnf("malformed frame on %s: %v", c.connID, err)
			continue
		}
		// Each event runs in its own goroutine so a slow handler cannot
		// stall the connection's other in-flight events.
		go c.handleEvent(context.Background(), env)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleEvent routes one inbound event. Errors are logged per-event; the
// connection stays open regardless.
func (c *Client) handleEvent(ctx context.Context, env model.Envelope) {
	if err := c.route(ctx, env); err != nil {
		// A stale accept or reject is expected when another agent got
		// there first; it is not worth a warning.
		if apierror.Code(err) == apierror.ErrUnauthorized {
			logrus.Debugf("event %s on %s ignored: %v", env.Event, c.connID, err)
			return
		}
		logrus.Warnf("event %s on %s failed: %v", env.Event, c.connID, err)
	}
}

func (c *Client) route(ctx context.Context, env model.Envelope) error {
	d := c.hub.dispatch

	switch env.Event {
	case model.EventAgentOnline:
		var p model.OnlinePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return err
		}
		if p.AgentID == "" {
			return errors.New("agent_id is required")
		}
		c.bind(p.AgentID, true)
		if err := d.Presence().SetActive(ctx, p.AgentID, c.connID); err != nil {
			return err
		}
		return d.MarkAgentOnline(ctx, p.AgentID, true)

	case model.EventUserOnline:
		var p model.OnlinePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return err
		}
		if p.UserID == "" {
			return errors.New("user_id is required")
		}
		c.bind(p.UserID, false)
		return d.Presence().SetActive(ctx, p.UserID, c.connID)

	case model.EventAcceptOrder:
		var p model.OrderActionPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return err
		}
		agentID, isAgent := c.identity()
		if !isAgent {
			return errors.New("connection is not an agent")
		}
		return d.AcceptOrder(ctx, p.OrderID, agentID)

	case model.EventRejectOrder:
		var p model.OrderActionPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return err
		}
		agentID, isAgent := c.identity()
		if !isAgent {
			return errors.New("connection is not an agent")
		}
		return d.RejectOrder(ctx, p.OrderID, agentID)

	case model.EventAgentLocationUpdate:
		var p model.AgentLocationPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return err
		}
		if agentID, isAgent := c.identity(); isAgent {
			p.AgentID = agentID
		}
		return d.IngestAgentLocation(ctx, p)

	case model.EventUserLocationUpdate:
		var p model.UserLocationPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return err
		}
		return d.IngestUserLocation(ctx, p)

	case model.EventMessageAgent:
		var p model.ChatPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return err
		}
		return d.RelayMessageToAgent(ctx, p)

	case model.EventMessageUser:
		var p model.ChatPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return err
		}
		return d.RelayMessageToUser(ctx, p)

	case model.EventRouteUpdate:
		var p model.RoutePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return err
		}
		return d.RelayRoute(ctx, p)

	default:
		return errors.New("unknown event " + env.Event)
	}
}
