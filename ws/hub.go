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

// Package ws is the realtime transport: a websocket hub that routes inbound
// events to the dispatch core and delivers outbound events to whichever
// connection a participant currently owns.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	dispatch "github.com/swiftcart/dispatch"
	"github.com/swiftcart/dispatch/config"
	"github.com/swiftcart/dispatch/database"
	"github.com/swiftcart/dispatch/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Hub owns this instance's live connections. It implements the core's
// Notifier, resolving a participant to their active connection through the
// presence registry. When presence points at a connection this instance does
// not hold, the participant is attached to another instance and the event is
// not ours to deliver.
type Hub struct {
	dispatch *dispatch.Dispatch

	mu      sync.RWMutex
	clients map[string]*Client

	// afterFunc schedules the disconnect grace timer. Tests swap it out.
	afterFunc func(d time.Duration, f func()) *time.Timer
}

func NewHub(d *dispatch.Dispatch) *Hub {
	h := &Hub{
		dispatch:  d,
		clients:   make(map[string]*Client),
		afterFunc: time.AfterFunc,
	}
	d.SetNotifier(h)
	return h
}

// HandleConnection upgrades an HTTP request and starts the client pumps. The
// connection is anonymous until it identifies itself with an agentOnline or
// userOnline event.
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.Warnf("websocket upgrade failed: %v", err)
		return
	}

	client := newClient(h, conn)
	h.register(client)
	go client.writePump()
	go client.readPump()
}

// Notify delivers an outbound event to the participant's active connection.
// A participant who is offline, or attached to another instance, is not an
// error.
func (h *Hub) Notify(ctx context.Context, participantID, event string, data interface{}) error {
	connID, err := h.dispatch.Presence().GetActive(ctx, participantID)
	if err != nil {
		return err
	}
	if connID == "" {
		return nil
	}

	h.mu.RLock()
	client := h.clients[connID]
	h.mu.RUnlock()
	if client == nil {
		return nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(model.Envelope{Event: event, Data: raw})
	if err != nil {
		return err
	}
	if !client.enqueue(frame) {
		return errors.New("send buffer full, dropping event")
	}
	return nil
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.connID] = c
	h.mu.Unlock()
}

// drop tears a connection down: it leaves the clients map, its presence
// entry is cleared if it still owns one, and for agents the disconnect
// grace timer starts.
func (h *Hub) drop(c *Client) {
	h.mu.Lock()
	if h.clients[c.connID] == c {
		delete(h.clients, c.connID)
	}
	h.mu.Unlock()
	c.close()

	participantID, isAgent := c.identity()
	if participantID == "" {
		return
	}

	ctx := context.Background()
	if err := h.dispatch.Presence().RemoveActive(ctx, participantID, c.connID); err != nil {
		logrus.Warnf("remove presence for %s failed: %v", participantID, err)
	}
	if isAgent {
		h.scheduleDisconnect(participantID)
	}
}

// scheduleDisconnect arms the grace timer for a departed agent. If the agent
// reconnects before it fires, their fresh presence entry cancels the forced
// reassignment.
func (h *Hub) scheduleDisconnect(agentID string) {
	cnf, err := config.Fetch()
	if err != nil {
		logrus.Errorf("config fetch failed, cannot arm disconnect grace for %s: %v", agentID, err)
		return
	}

	h.afterFunc(cnf.DisconnectGrace(), func() {
		ctx := context.Background()
		connID, err := h.dispatch.Presence().GetActive(ctx, agentID)
		if err != nil {
			logrus.Errorf("presence check for %s failed: %v", agentID, err)
			return
		}
		if connID != "" {
			return
		}
		h.dispatch.HandleAgentDisconnect(ctx, agentID)
	})
}

func newConnID() string {
	return database.GenerateUUIDWithSuffix("conn")
}
