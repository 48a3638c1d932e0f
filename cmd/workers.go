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

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	dispatch "github.com/swiftcart/dispatch"
	"github.com/swiftcart/dispatch/config"
	"github.com/swiftcart/dispatch/internal/apierror"
	redis_db "github.com/swiftcart/dispatch/internal/redis-db"
	"github.com/swiftcart/dispatch/internal/timers"
)

// processAssignment runs one scheduling pass for the order named in the
// task. Ending at NO_AGENT_AVAILABLE is a final outcome, not a task
// failure, so it does not trigger an asynq retry.
func (d *dispatchInstance) processAssignment(ctx context.Context, t *asynq.Task) error {
	ctx, span := otel.Tracer("dispatch.assign.worker").Start(ctx, "Process Assignment From Redis Queue")
	defer span.End()

	var payload dispatch.AssignTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logrus.Error(err)
		return err
	}

	agent, err := d.dispatch.ScheduleOrder(ctx, payload.OrderID)
	if err != nil {
		if errors.Is(err, apierror.APIError{Code: apierror.ErrUnavailable}) {
			log.Printf(" [*] No agent available for order %s", payload.OrderID)
			return nil
		}
		logrus.Infof("Assignment for order %s pushed back for retry: %v", payload.OrderID, err)
		return err
	}
	if agent != nil {
		log.Printf(" [*] Order %s offered to agent %s", payload.OrderID, agent.AgentID)
	}
	return nil
}

func initializeQueues() map[string]int {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return nil
	}

	queues := make(map[string]int)
	queues[cfg.Queue.AssignQueue] = 3
	queues[cfg.Queue.WebhookQueue] = 1
	return queues
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		asynq.Config{
			Concurrency: 1,
			Queues:      queues,
		},
	), nil
}

func initializeTaskHandlers(d *dispatchInstance, mux *asynq.ServeMux) {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return
	}

	mux.HandleFunc(cfg.Queue.AssignQueue, d.processAssignment)
	mux.HandleFunc(cfg.Queue.WebhookQueue, dispatch.ProcessWebhook)
}

// startBackgroundLoops runs the in-process loops a worker owns alongside the
// queue consumers: the offer-timeout poller and the location flusher.
func startBackgroundLoops(ctx context.Context, d *dispatchInstance) {
	pollInterval := time.Duration(d.cnf.Assignment.TimerPollSec) * time.Second
	lockTTL := time.Duration(d.cnf.Assignment.TimerLockTTLSec) * time.Second

	poller := timers.NewPoller(d.dispatch.Timers(), d.dispatch.Locks(), pollInterval, lockTTL, d.dispatch.HandleOfferTimeout)
	go poller.Start(ctx)
	go d.dispatch.StartLocationFlusher(ctx)
}

// workerCommands defines the "workers" command: asynq consumers for the
// assignment and webhook queues plus the timer and flush loops.
func workerCommands(d *dispatchInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start dispatch workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			phClient, shutdown, err := initializeObservability(ctx, conf)
			if err != nil {
				log.Fatal(err)
			}
			if shutdown != nil {
				defer func() {
					if err := shutdown(ctx); err != nil {
						log.Printf("Error during shutdown: %v", err)
					}
				}()
			}
			if phClient != nil {
				defer phClient.Close()
			}

			queues := initializeQueues()

			srv, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(d, mux)

			startBackgroundLoops(ctx, d)

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
