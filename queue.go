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
	"log"

	"github.com/hibiken/asynq"

	"github.com/swiftcart/dispatch/config"
	redis_db "github.com/swiftcart/dispatch/internal/redis-db"
)

// Queue carries assignment runs and webhook deliveries through asynq so a
// burst of order placements cannot stall the API path.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// AssignTaskPayload is the payload of one assignment task.
type AssignTaskPayload struct {
	OrderID string `json:"order_id"`
}

func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// EnqueueAssign queues a scheduler run for the order. The task id is the
// order id, so an order can have at most one pending assignment task.
func (q *Queue) EnqueueAssign(ctx context.Context, orderID string) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(AssignTaskPayload{OrderID: orderID})
	if err != nil {
		return err
	}

	taskOptions := []asynq.Option{
		asynq.TaskID(orderID),
		asynq.Queue(cfg.Queue.AssignQueue),
		asynq.MaxRetry(5),
	}
	task := asynq.NewTask(cfg.Queue.AssignQueue, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued assignment for order: %s", orderID)
	return nil
}

// EnqueueWebhook queues one webhook delivery.
func (q *Queue) EnqueueWebhook(ctx context.Context, payload []byte) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	taskOptions := []asynq.Option{asynq.Queue(cfg.Queue.WebhookQueue), asynq.MaxRetry(5)}
	task := asynq.NewTask(cfg.Queue.WebhookQueue, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	return nil
}
