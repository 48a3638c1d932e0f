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

package dispatch

import (
	"context"
	"sync"

	"github.com/swiftcart/dispatch/config"
	"github.com/swiftcart/dispatch/database/mocks"
	"github.com/swiftcart/dispatch/internal/lock"
	"github.com/swiftcart/dispatch/internal/locations"
	"github.com/swiftcart/dispatch/internal/presence"
	"github.com/swiftcart/dispatch/internal/timers"
)

type notifiedEvent struct {
	ParticipantID string
	Event         string
	Data          interface{}
}

// recordingNotifier captures outbound realtime events for assertions.
type recordingNotifier struct {
	mu     sync.Mutex
	events []notifiedEvent
}

func (n *recordingNotifier) Notify(_ context.Context, participantID, event string, data interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, notifiedEvent{ParticipantID: participantID, Event: event, Data: data})
	return nil
}

func (n *recordingNotifier) sent() []notifiedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifiedEvent(nil), n.events...)
}

// recordingQueue captures enqueued work instead of talking to Redis.
type recordingQueue struct {
	mu       sync.Mutex
	assigns  []string
	webhooks [][]byte
}

func (q *recordingQueue) EnqueueAssign(_ context.Context, orderID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.assigns = append(q.assigns, orderID)
	return nil
}

func (q *recordingQueue) EnqueueWebhook(_ context.Context, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.webhooks = append(q.webhooks, payload)
	return nil
}

func (q *recordingQueue) assigned() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.assigns...)
}

// newTestDispatch builds a Dispatch over process-local coordination state, a
// mock datasource and a recording notifier.
func newTestDispatch() (*Dispatch, *mocks.MockDataSource, *recordingNotifier, *recordingQueue) {
	config.MockConfig(&config.Configuration{})

	ds := &mocks.MockDataSource{}
	notifier := &recordingNotifier{}
	queue := &recordingQueue{}
	d := &Dispatch{
		datasource: ds,
		queue:      queue,
		locks:      lock.NewLocalManager(),
		presence:   presence.NewLocalRegistry(),
		locations:  locations.NewLocalCache(),
		timers:     timers.NewLocalIndex(),
		notifier:   notifier,
	}
	return d, ds, notifier, queue
}
