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
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/swiftcart/dispatch/config"
	"github.com/swiftcart/dispatch/internal/request"
	"github.com/swiftcart/dispatch/model"
)

// errTransientWebhook marks a 5xx response so the backoff policy retries it.
var errTransientWebhook = errors.New("webhook endpoint returned a server error")

// NewWebhook is the envelope delivered to the configured webhook endpoint
// for order lifecycle events.
type NewWebhook struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"data"`
}

// queueWebhook enqueues an order lifecycle event for webhook delivery. A
// missing webhook URL or a queue failure never fails the operation that
// produced the event.
func (d *Dispatch) queueWebhook(ctx context.Context, event string, order *model.Order) {
	conf, err := config.Fetch()
	if err != nil {
		logrus.Error(err)
		return
	}
	if conf.Notification.Webhook.Url == "" {
		return
	}

	payload, err := json.Marshal(NewWebhook{Event: event, Payload: order})
	if err != nil {
		logrus.Errorf("marshaling webhook for order %s failed: %v", order.OrderID, err)
		return
	}
	if err := d.queue.EnqueueWebhook(ctx, payload); err != nil {
		logrus.Errorf("enqueuing webhook for order %s failed: %v", order.OrderID, err)
	}
}

// processHTTP posts one webhook notification, retrying transient failures
// with exponential backoff.
func processHTTP(data NewWebhook) error {
	conf, err := config.Fetch()
	if err != nil {
		log.Println("Error fetching config:", err)
		return err
	}

	operation := func() error {
		payload, err := request.ToJsonReq(&data)
		if err != nil {
			return backoff.Permanent(err)
		}

		req, err := http.NewRequest("POST", conf.Notification.Webhook.Url, payload)
		if err != nil {
			return backoff.Permanent(err)
		}
		for key, value := range conf.Notification.Webhook.Headers {
			req.Header.Set(key, value)
		}

		var response map[string]interface{}
		resp, err := request.Call(req, &response)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return errTransientWebhook
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			log.Printf("Webhook rejected with status code: %d\n", resp.StatusCode)
		}
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(backoff.WithInitialInterval(500*time.Millisecond)), 3)
	return backoff.Retry(operation, policy)
}

// ProcessWebhook is the asynq handler for the webhook queue.
func ProcessWebhook(_ context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	var payload NewWebhook
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		log.Printf("Error unmarshaling task payload: %v", err)
		return err
	}
	log.Printf("Processing webhook: %s", payload.Event)
	return processHTTP(payload)
}
